package editor

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"

	"inkbridge/internal/attachment"
	"inkbridge/internal/launch"
)

// Memory is a headless Surface. It keeps the document as a sequence of raw
// markup runs and media elements, which is enough to drive the bridge from
// tests and from the command-line harness.
type Memory struct {
	mu       sync.Mutex
	nodes    []*node
	next     Handle
	settings Settings
	refresh  int

	// evMu guards the event port separately so a full port never blocks
	// document access.
	evMu      sync.RWMutex
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	closed    bool
}

type node struct {
	handle   Handle
	text     string
	media    bool
	kind     attachment.Kind
	thumb    string
	attrs    Attrs
	overlays map[int]overlay
}

type overlay struct {
	overlay attachment.Overlay
	anchor  Anchor
}

// LayeredOverlay is a snapshot of one overlay for inspection.
type LayeredOverlay struct {
	Layer   int
	Overlay attachment.Overlay
	Anchor  Anchor
}

var _ Surface = (*Memory)(nil)

// NewMemory creates an empty surface whose event port buffers up to size
// events.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 64
	}
	return &Memory{events: make(chan Event, size), done: make(chan struct{})}
}

// Configure stores the launch settings.
func (m *Memory) Configure(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	return nil
}

// Settings returns the last applied settings.
func (m *Memory) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// Parse replaces the document with content held as a single markup run.
func (m *Memory) Parse(content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = nil
	if content != "" {
		m.nodes = append(m.nodes, &node{handle: m.nextHandle(), text: content})
	}
	return nil
}

// Serialize renders the document. Media still uploading is written as an
// image placeholder; a finished video is written in the widget's short form.
func (m *Memory) Serialize() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	for _, n := range m.nodes {
		if !n.media {
			b.WriteString(n.text)
			continue
		}
		_, uploading := n.attrs[AttrUploading]
		if n.kind == attachment.KindVideo && !uploading {
			fmt.Fprintf(&b, `<video src="%s"/>`, html.EscapeString(n.attrs[AttrSource]))
			continue
		}
		b.WriteString("<img")
		keys := make([]string, 0, len(n.attrs))
		for k := range n.attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, ` %s="%s"`, k, html.EscapeString(n.attrs[k]))
		}
		b.WriteString("/>")
	}
	return b.String()
}

// InsertMedia appends a media element carrying attrs.
func (m *Memory) InsertMedia(p Placeholder, attrs Attrs) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := &node{
		handle:   m.nextHandle(),
		media:    true,
		kind:     p.Kind,
		thumb:    p.Thumbnail,
		attrs:    attrs.Clone(),
		overlays: make(map[int]overlay),
	}
	m.nodes = append(m.nodes, n)
	return n.handle, nil
}

// UpdateAttributes sets and removes attributes on the matching element.
func (m *Memory) UpdateAttributes(match Match, set Attrs, remove ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.find(match)
	if n == nil {
		return ErrNoMatch
	}
	for _, k := range remove {
		delete(n.attrs, k)
	}
	for k, v := range set {
		n.attrs[k] = v
	}
	return nil
}

// RemoveElement deletes the matching element without emitting a deletion
// event; only user deletions are reported.
func (m *Memory) RemoveElement(match Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.nodes {
		if n.media && match.Matches(n.attrs) {
			m.nodes = append(m.nodes[:i], m.nodes[i+1:]...)
			return nil
		}
	}
	return ErrNoMatch
}

// SetOverlay places o at layer on the matching element.
func (m *Memory) SetOverlay(match Match, layer int, o attachment.Overlay, anchor Anchor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.find(match)
	if n == nil {
		return ErrNoMatch
	}
	n.overlays[layer] = overlay{overlay: o, anchor: anchor}
	return nil
}

// ClearOverlays removes every overlay from the matching element.
func (m *Memory) ClearOverlays(match Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.find(match)
	if n == nil {
		return ErrNoMatch
	}
	n.overlays = make(map[int]overlay)
	return nil
}

// Refresh counts forced redraws.
func (m *Memory) Refresh() {
	m.mu.Lock()
	m.refresh++
	m.mu.Unlock()
}

// Refreshes returns how many times Refresh was called.
func (m *Memory) Refreshes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refresh
}

// Events returns the event port.
func (m *Memory) Events() <-chan Event {
	return m.events
}

// Close shuts the event port.
func (m *Memory) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.evMu.Lock()
		m.closed = true
		close(m.events)
		m.evMu.Unlock()
	})
}

// Attributes returns a copy of the matching element's attributes.
func (m *Memory) Attributes(match Match) (Attrs, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.find(match)
	if n == nil {
		return nil, false
	}
	return n.attrs.Clone(), true
}

// Overlays returns the matching element's overlays ordered by layer.
func (m *Memory) Overlays(match Match) []LayeredOverlay {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.find(match)
	if n == nil {
		return nil
	}
	out := make([]LayeredOverlay, 0, len(n.overlays))
	for layer, o := range n.overlays {
		out = append(out, LayeredOverlay{Layer: layer, Overlay: o.overlay, Anchor: o.anchor})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Layer < out[j].Layer })
	return out
}

// MediaCount returns the number of media elements in the document.
func (m *Memory) MediaCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := 0
	for _, n := range m.nodes {
		if n.media {
			c++
		}
	}
	return c
}

// Type appends markup as if the user typed it and reports a text change.
func (m *Memory) Type(markup string) {
	m.mu.Lock()
	if k := len(m.nodes); k > 0 && !m.nodes[k-1].media {
		m.nodes[k-1].text += markup
	} else {
		m.nodes = append(m.nodes, &node{handle: m.nextHandle(), text: markup})
	}
	m.mu.Unlock()
	m.emit(Event{Type: EventTextChanged})
}

// DeleteByUser removes the matching element as a user edit would and reports
// both the deletion and the resulting text change.
func (m *Memory) DeleteByUser(match Match) error {
	m.mu.Lock()
	var removed *node
	for i, n := range m.nodes {
		if n.media && match.Matches(n.attrs) {
			removed = n
			m.nodes = append(m.nodes[:i], m.nodes[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	if removed == nil {
		return ErrNoMatch
	}
	m.emit(Event{Type: EventDeleted, Attrs: removed.attrs.Clone()})
	m.emit(Event{Type: EventTextChanged})
	return nil
}

// Select reports a caret move with the given active formatting.
func (m *Memory) Select(active ...string) {
	sel := make([]launch.ToolbarOption, 0, len(active))
	for _, a := range active {
		sel = append(sel, launch.ToolbarOption(a))
	}
	m.emit(Event{Type: EventSelectionChanged, Selection: sel})
}

func (m *Memory) emit(ev Event) {
	m.evMu.RLock()
	defer m.evMu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

func (m *Memory) find(match Match) *node {
	for _, n := range m.nodes {
		if n.media && match.Matches(n.attrs) {
			return n
		}
	}
	return nil
}

func (m *Memory) nextHandle() Handle {
	m.next++
	return m.next
}
