// Package attachment tracks the lifecycle of media inserted into the document.
package attachment

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the media type of an attachment.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindImage:
		return KindImage, nil
	case KindVideo:
		return KindVideo, nil
	default:
		return "", fmt.Errorf("unknown attachment kind %q", s)
	}
}

// State is a position in the upload lifecycle.
type State int

const (
	StatePending State = iota
	StateUploading
	StateSucceeded
	StateFailed
	StateRemoved
)

var stateNames = map[State]string{
	StatePending:   "pending",
	StateUploading: "uploading",
	StateSucceeded: "succeeded",
	StateFailed:    "failed",
	StateRemoved:   "removed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no upload outcome can follow s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateRemoved
}

// transitions lists the legal successors of each state. A racing user
// deletion may cut an upload short, so Pending and Uploading can go straight
// to Removed.
var transitions = map[State][]State{
	StatePending:   {StateUploading, StateRemoved},
	StateUploading: {StateSucceeded, StateFailed, StateRemoved},
	StateSucceeded: {StateRemoved},
	StateFailed:    {StateRemoved},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Overlay is a visual layer drawn over an attachment element.
type Overlay string

const (
	OverlayDim      Overlay = "dim"
	OverlayProgress Overlay = "progress"
	OverlayPlay     Overlay = "play"
)

// Decoration is an overlay placed at a z-layer. Lower layers draw first.
type Decoration struct {
	Layer   int     `json:"layer"`
	Overlay Overlay `json:"overlay"`
	// Progress is the fraction shown by a progress overlay, 0 to 1.
	Progress float64 `json:"progress,omitempty"`
	// Active marks a progress overlay that is animating.
	Active bool `json:"active,omitempty"`
}

// Placeholder decorations shown while an attachment waits for its upload.
var (
	PendingDecorations = []Decoration{
		{Layer: 0, Overlay: OverlayDim},
		{Layer: 1, Overlay: OverlayProgress, Progress: 0},
	}
	UploadingDecorations = []Decoration{
		{Layer: 0, Overlay: OverlayDim},
		{Layer: 1, Overlay: OverlayProgress, Active: true},
	}
	VideoDecorations = []Decoration{
		{Layer: 0, Overlay: OverlayPlay},
	}
)

// Attachment is the registry's record of one inserted media element.
type Attachment struct {
	ID          string       `json:"id"`
	Kind        Kind         `json:"kind"`
	SourceRef   string       `json:"source_ref"`
	LocalRef    string       `json:"local_ref"`
	State       State        `json:"state"`
	Decorations []Decoration `json:"decorations,omitempty"`
	History     []State      `json:"history"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (a *Attachment) clone() Attachment {
	c := *a
	c.Decorations = append([]Decoration(nil), a.Decorations...)
	c.History = append([]State(nil), a.History...)
	return c
}

// Event describes one state transition.
type Event struct {
	ID        string
	Kind      Kind
	From      State
	To        State
	SourceRef string
	At        time.Time
	// Created is set for the synthetic event emitted when a record is made.
	Created bool
}

// Observer receives every transition. Observers run synchronously after the
// registry lock is released and must not block.
type Observer func(Event)

var (
	// ErrNotFound is returned for an unknown attachment id.
	ErrNotFound = errors.New("attachment: not found")
	// ErrInvalidTransition is returned for a move the state machine forbids.
	ErrInvalidTransition = errors.New("attachment: invalid state transition")
	// ErrEmptySource is returned when a record is created without a reference.
	ErrEmptySource = errors.New("attachment: empty source reference")
)

// TransitionError carries the rejected move.
type TransitionError struct {
	ID   string
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("attachment %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
