// Package editor defines the contract with the rich-text editing widget.
//
// The widget itself lives outside this module. Everything the bridge needs
// from it goes through Surface, and everything it reports comes back as an
// Event on the surface's event port.
package editor

import (
	"errors"

	"inkbridge/internal/attachment"
	"inkbridge/internal/launch"
)

// Element attribute names written on media placeholders.
const (
	AttrID        = "id"
	AttrUploading = "uploading"
	AttrSource    = "src"
	AttrIsVideo   = "is-video"
)

// Attrs is a set of element attributes.
type Attrs map[string]string

// Clone returns a copy of a.
func (a Attrs) Clone() Attrs {
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Match selects elements by attribute equality. Updates never address an
// element by position, so edits elsewhere in the document cannot redirect them.
type Match struct {
	Key   string
	Value string
}

// ByID matches the element carrying the given attachment id.
func ByID(id string) Match {
	return Match{Key: AttrID, Value: id}
}

// Matches reports whether attrs satisfies m.
func (m Match) Matches(attrs Attrs) bool {
	v, ok := attrs[m.Key]
	return ok && v == m.Value
}

// Anchor positions an overlay relative to its element.
type Anchor string

const (
	AnchorFill   Anchor = "fill"
	AnchorCenter Anchor = "center"
)

// Placeholder describes the thumbnail inserted before an upload finishes.
type Placeholder struct {
	Kind      attachment.Kind
	Thumbnail string
}

// Handle identifies an inserted element within one surface.
type Handle int

// EventType enumerates surface notifications.
type EventType int

const (
	EventTextChanged EventType = iota + 1
	EventDeleted
	EventSelectionChanged
)

func (t EventType) String() string {
	switch t {
	case EventTextChanged:
		return "text-changed"
	case EventDeleted:
		return "deleted"
	case EventSelectionChanged:
		return "selection-changed"
	default:
		return "unknown"
	}
}

// Event is emitted by the surface on user activity.
type Event struct {
	Type EventType
	// Attrs holds the attributes of a deleted element.
	Attrs Attrs
	// Selection is the active formatting at the caret for selection changes.
	Selection []launch.ToolbarOption
}

// Settings are applied to the surface when a launch begins.
type Settings struct {
	Title        string
	Placeholder  string
	Theme        launch.Theme
	Colors       launch.Colors
	AuthHeaders  map[string]string
	CharLimit    int
	Toolbar      []launch.ToolbarOption
	AcceptedExts []string
}

// SettingsFromConfig maps a launch configuration onto surface settings.
func SettingsFromConfig(cfg launch.Config) Settings {
	return Settings{
		Title:        cfg.Title,
		Placeholder:  cfg.Placeholder,
		Theme:        cfg.Theme,
		Colors:       cfg.Colors,
		AuthHeaders:  cfg.AuthHeaders,
		CharLimit:    cfg.CharacterLimit,
		Toolbar:      cfg.Toolbar,
		AcceptedExts: cfg.AcceptedExtensions,
	}
}

// ErrNoMatch is returned when no element satisfies a Match.
var ErrNoMatch = errors.New("editor: no element matches")

// Surface is the editing widget. Implementations are not required to be safe
// for concurrent use; callers drive them from a single editing goroutine.
type Surface interface {
	Configure(Settings) error
	Parse(content string) error
	Serialize() string

	InsertMedia(p Placeholder, attrs Attrs) (Handle, error)
	UpdateAttributes(m Match, set Attrs, remove ...string) error
	RemoveElement(m Match) error

	SetOverlay(m Match, layer int, o attachment.Overlay, anchor Anchor) error
	ClearOverlays(m Match) error

	Refresh()

	// Events is the surface's event port.
	Events() <-chan Event
}
