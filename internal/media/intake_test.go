package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkbridge/internal/attachment"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0600))
	return p
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		path string
		want attachment.Kind
		err  bool
	}{
		{"/tmp/a.jpg", attachment.KindImage, false},
		{"/tmp/A.PNG", attachment.KindImage, false},
		{"/tmp/clip.mov", attachment.KindVideo, false},
		{"/tmp/clip.webm", attachment.KindVideo, false},
		{"/tmp/notes.txt", "", true},
		{"/tmp/noext", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := KindOf(tt.path)
			if tt.err {
				assert.ErrorIs(t, err, ErrUnsupportedType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImportCopiesByContent(t *testing.T) {
	src := t.TempDir()
	in, err := NewIntake(filepath.Join(t.TempDir(), "work"), 0)
	require.NoError(t, err)

	a := writeFile(t, src, "a.jpg", []byte("jpeg bytes"))
	b := writeFile(t, src, "b.jpg", []byte("jpeg bytes"))

	itemA, err := in.Import(context.Background(), a, nil)
	require.NoError(t, err)
	assert.Equal(t, attachment.KindImage, itemA.Kind)
	assert.EqualValues(t, 10, itemA.Size)
	assert.Len(t, itemA.Hash, 64)
	assert.Equal(t, in.Dir(), filepath.Dir(itemA.Path))
	assert.Equal(t, ".jpg", filepath.Ext(itemA.Path))

	data, err := os.ReadFile(itemA.Path)
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))

	itemB, err := in.Import(context.Background(), b, nil)
	require.NoError(t, err)
	assert.Equal(t, itemA.Path, itemB.Path)

	entries, err := os.ReadDir(in.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not linger")
}

func TestImportRejects(t *testing.T) {
	src := t.TempDir()
	in, err := NewIntake(t.TempDir(), 8)
	require.NoError(t, err)

	big := writeFile(t, src, "big.png", []byte("more than eight bytes"))
	empty := writeFile(t, src, "empty.png", nil)
	clip := writeFile(t, src, "clip.mp4", []byte("mp4"))
	text := writeFile(t, src, "notes.txt", []byte("hi"))

	_, err = in.Import(context.Background(), big, nil)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = in.Import(context.Background(), empty, nil)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = in.Import(context.Background(), clip, []string{"jpg", ".PNG"})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = in.Import(context.Background(), text, nil)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = in.Import(context.Background(), filepath.Join(src, "missing.png"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)

	entries, err := os.ReadDir(in.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestImportAcceptedExtensionsNormalised(t *testing.T) {
	in, err := NewIntake(t.TempDir(), 0)
	require.NoError(t, err)
	p := writeFile(t, t.TempDir(), "x.PNG", []byte("png"))

	item, err := in.Import(context.Background(), p, []string{" .png "})
	require.NoError(t, err)
	assert.Equal(t, attachment.KindImage, item.Kind)
}

func TestRemove(t *testing.T) {
	in, err := NewIntake(t.TempDir(), 0)
	require.NoError(t, err)
	p := writeFile(t, t.TempDir(), "x.png", []byte("png"))
	item, err := in.Import(context.Background(), p, nil)
	require.NoError(t, err)

	require.NoError(t, in.Remove(item.Path))
	_, err = os.Stat(item.Path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, in.Remove(item.Path))

	assert.Error(t, in.Remove(p))
	assert.Error(t, in.Remove(filepath.Join(in.Dir(), "..", "escape.png")))
}

func TestImportHonoursContext(t *testing.T) {
	in, err := NewIntake(t.TempDir(), 0)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = in.Import(ctx, "/tmp/a.png", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
