package attachment

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry maps attachment ids to their records. Every inserted element has
// exactly one record, and ids are never reused within a registry.
type Registry struct {
	mu        sync.RWMutex
	records   map[string]*Attachment
	observers []Observer
	newID     func() string
	now       func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithIDGenerator overrides id generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) { r.now = fn }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		records: make(map[string]*Attachment),
		newID:   uuid.NewString,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe registers fn for every subsequent transition.
func (r *Registry) Observe(fn Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Create makes a Pending record for a freshly inserted element.
func (r *Registry) Create(kind Kind, localRef string) (Attachment, error) {
	if localRef == "" {
		return Attachment{}, ErrEmptySource
	}

	r.mu.Lock()
	id := r.newID()
	for _, taken := r.records[id]; taken; _, taken = r.records[id] {
		id = r.newID()
	}
	now := r.now()
	a := &Attachment{
		ID:          id,
		Kind:        kind,
		SourceRef:   localRef,
		LocalRef:    localRef,
		State:       StatePending,
		Decorations: append([]Decoration(nil), PendingDecorations...),
		History:     []State{StatePending},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.records[id] = a
	out := a.clone()
	observers := r.observers
	r.mu.Unlock()

	notify(observers, Event{
		ID: id, Kind: kind, From: StatePending, To: StatePending,
		SourceRef: localRef, At: now, Created: true,
	})
	return out, nil
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (Attachment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.records[id]
	if !ok {
		return Attachment{}, false
	}
	return a.clone(), true
}

// List returns copies of all records ordered by creation time.
func (r *Registry) List() []Attachment {
	r.mu.RLock()
	out := make([]Attachment, 0, len(r.records))
	for _, a := range r.records {
		out = append(out, a.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// InFlight counts records still waiting for an upload outcome.
func (r *Registry) InFlight() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.records {
		if !a.State.Terminal() {
			n++
		}
	}
	return n
}

// BeginUpload moves id from Pending to Uploading with an active progress
// overlay.
func (r *Registry) BeginUpload(id string) (Attachment, error) {
	return r.transition(id, StateUploading, func(a *Attachment) {
		a.Decorations = append([]Decoration(nil), UploadingDecorations...)
	})
}

// Succeed moves id to Succeeded with its remote reference. Decorations are
// cleared; a video keeps only its play overlay.
func (r *Registry) Succeed(id, remoteRef string) (Attachment, error) {
	return r.transition(id, StateSucceeded, func(a *Attachment) {
		a.SourceRef = remoteRef
		a.Decorations = nil
		if a.Kind == KindVideo {
			a.Decorations = append([]Decoration(nil), VideoDecorations...)
		}
	})
}

// Fail moves id to Failed and clears its decorations.
func (r *Registry) Fail(id string) (Attachment, error) {
	return r.transition(id, StateFailed, func(a *Attachment) {
		a.Decorations = nil
	})
}

// Remove marks id as deleted by the user. The returned record carries the
// last known source reference.
func (r *Registry) Remove(id string) (Attachment, error) {
	return r.transition(id, StateRemoved, func(a *Attachment) {
		a.Decorations = nil
	})
}

// Discard drops every record, as when the document is thrown away.
func (r *Registry) Discard() []Attachment {
	r.mu.Lock()
	dropped := make([]Attachment, 0, len(r.records))
	for _, a := range r.records {
		dropped = append(dropped, a.clone())
	}
	r.records = make(map[string]*Attachment)
	r.mu.Unlock()
	return dropped
}

func (r *Registry) transition(id string, to State, mutate func(*Attachment)) (Attachment, error) {
	r.mu.Lock()
	a, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return Attachment{}, ErrNotFound
	}
	from := a.State
	if !CanTransition(from, to) {
		r.mu.Unlock()
		return a.clone(), &TransitionError{ID: id, From: from, To: to}
	}

	a.State = to
	a.History = append(a.History, to)
	a.UpdatedAt = r.now()
	if mutate != nil {
		mutate(a)
	}
	out := a.clone()
	observers := r.observers
	r.mu.Unlock()

	notify(observers, Event{
		ID: id, Kind: out.Kind, From: from, To: to,
		SourceRef: out.SourceRef, At: out.UpdatedAt,
	})
	return out, nil
}

func notify(observers []Observer, ev Event) {
	for _, fn := range observers {
		fn(ev)
	}
}
