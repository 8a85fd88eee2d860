package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkbridge/internal/attachment"
)

func TestMemorySerialize(t *testing.T) {
	m := NewMemory(8)
	require.NoError(t, m.Parse("<p>intro</p>"))

	_, err := m.InsertMedia(Placeholder{Kind: attachment.KindImage}, Attrs{
		AttrID: "a1", AttrUploading: "true", AttrSource: "/tmp/a.jpg",
	})
	require.NoError(t, err)
	_, err = m.InsertMedia(Placeholder{Kind: attachment.KindVideo}, Attrs{
		AttrID: "v1", AttrUploading: "true", AttrSource: "/tmp/v.mov", AttrIsVideo: "true",
	})
	require.NoError(t, err)

	assert.Equal(t,
		`<p>intro</p><img id="a1" src="/tmp/a.jpg" uploading="true"/>`+
			`<img id="v1" is-video="true" src="/tmp/v.mov" uploading="true"/>`,
		m.Serialize())

	require.NoError(t, m.UpdateAttributes(ByID("v1"), Attrs{AttrSource: "https://cdn/v.mov"}, AttrUploading, AttrIsVideo))
	assert.Contains(t, m.Serialize(), `<video src="https://cdn/v.mov"/>`)
}

func TestMemoryMatchByID(t *testing.T) {
	m := NewMemory(8)
	_, _ = m.InsertMedia(Placeholder{Kind: attachment.KindImage}, Attrs{AttrID: "a"})
	_, _ = m.InsertMedia(Placeholder{Kind: attachment.KindImage}, Attrs{AttrID: "b"})

	require.NoError(t, m.SetOverlay(ByID("b"), 1, attachment.OverlayProgress, AnchorCenter))
	require.NoError(t, m.SetOverlay(ByID("b"), 0, attachment.OverlayDim, AnchorFill))
	assert.Empty(t, m.Overlays(ByID("a")))
	assert.Equal(t, []LayeredOverlay{
		{Layer: 0, Overlay: attachment.OverlayDim, Anchor: AnchorFill},
		{Layer: 1, Overlay: attachment.OverlayProgress, Anchor: AnchorCenter},
	}, m.Overlays(ByID("b")))

	// Removing an earlier element must not redirect updates meant for b.
	require.NoError(t, m.RemoveElement(ByID("a")))
	require.NoError(t, m.ClearOverlays(ByID("b")))
	assert.Empty(t, m.Overlays(ByID("b")))
	assert.Equal(t, 1, m.MediaCount())

	assert.ErrorIs(t, m.UpdateAttributes(ByID("a"), Attrs{"x": "y"}), ErrNoMatch)
	assert.ErrorIs(t, m.RemoveElement(ByID("a")), ErrNoMatch)
}

func TestMemoryEvents(t *testing.T) {
	m := NewMemory(8)
	_, _ = m.InsertMedia(Placeholder{Kind: attachment.KindImage}, Attrs{AttrID: "a", AttrSource: "/a"})

	m.Type("hello")
	require.NoError(t, m.DeleteByUser(ByID("a")))
	m.Select("bold")

	ev := <-m.Events()
	assert.Equal(t, EventTextChanged, ev.Type)
	ev = <-m.Events()
	assert.Equal(t, EventDeleted, ev.Type)
	assert.Equal(t, "/a", ev.Attrs[AttrSource])
	ev = <-m.Events()
	assert.Equal(t, EventTextChanged, ev.Type)
	ev = <-m.Events()
	assert.Equal(t, EventSelectionChanged, ev.Type)
	assert.Len(t, ev.Selection, 1)

	assert.ErrorIs(t, m.DeleteByUser(ByID("a")), ErrNoMatch)

	m.Close()
	m.Type("after close")
	_, ok := <-m.Events()
	assert.False(t, ok)
}

func TestMatch(t *testing.T) {
	assert.True(t, ByID("x").Matches(Attrs{AttrID: "x"}))
	assert.False(t, ByID("x").Matches(Attrs{AttrID: "y"}))
	assert.False(t, ByID("").Matches(Attrs{}))
}
