package hostapi

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkbridge/internal/bridge"
	"inkbridge/internal/launch"
)

func pair(t *testing.T, editorMux, hostMux *bridge.Mux) (*bridge.Peer, *bridge.Peer) {
	t.Helper()
	a, b := bridge.Pipe()
	editor := bridge.NewPeer(a, editorMux)
	host := bridge.NewPeer(b, hostMux)
	editor.Start()
	host.Start()
	t.Cleanup(func() {
		editor.Close()
		host.Close()
	})
	return editor, host
}

func TestFileSelected(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"remote reference", "https://cdn/a.jpg", "https://cdn/a.jpg"},
		{"declined", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			var gotVideo bool
			hostMux := bridge.NewMux()
			HostHandlers{
				FileSelected: func(_ context.Context, p string, v bool) (string, error) {
					gotPath, gotVideo = p, v
					return tt.reply, nil
				},
			}.Register(hostMux)
			editor, _ := pair(t, nil, hostMux)

			ref, err := NewHostClient(editor).FileSelected(context.Background(), "/tmp/a.jpg", true)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ref)
			assert.Equal(t, "/tmp/a.jpg", gotPath)
			assert.True(t, gotVideo)
		})
	}
}

func TestFileSelectedWithoutHost(t *testing.T) {
	editor, _ := pair(t, nil, bridge.NewMux())

	_, err := NewHostClient(editor).FileSelected(context.Background(), "/tmp/a.jpg", false)
	assert.ErrorIs(t, err, bridge.ErrNoHandler)
}

func TestFileSelectedRejectsEmptyPath(t *testing.T) {
	hostMux := bridge.NewMux()
	HostHandlers{
		FileSelected: func(context.Context, string, bool) (string, error) { return "x", nil },
	}.Register(hostMux)
	editor, _ := pair(t, nil, hostMux)

	_, err := NewHostClient(editor).FileSelected(context.Background(), "", false)
	assert.ErrorIs(t, err, bridge.ErrBadRequest)
}

func TestEventsReachHost(t *testing.T) {
	var (
		mu      sync.Mutex
		deleted []string
		content []string
	)
	hostMux := bridge.NewMux()
	HostHandlers{
		FileDeleted: func(_ context.Context, ref string) {
			mu.Lock()
			deleted = append(deleted, ref)
			mu.Unlock()
		},
		ContentChanged: func(_ context.Context, c string) {
			mu.Lock()
			content = append(content, c)
			mu.Unlock()
		},
	}.Register(hostMux)
	editor, _ := pair(t, nil, hostMux)

	hc := NewHostClient(editor)
	require.NoError(t, hc.FileDeleted(context.Background(), "https://cdn/a.jpg"))
	require.NoError(t, hc.ContentChanged(context.Background(), "<p>hi</p>"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(deleted) == 1 && len(content) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"https://cdn/a.jpg"}, deleted)
	assert.Equal(t, []string{"<p>hi</p>"}, content)
}

func TestLaunch(t *testing.T) {
	editorMux := bridge.NewMux()
	editorMux.Handle(Launch, func(_ context.Context, args []json.RawMessage) (any, error) {
		if len(args) != 1 {
			return nil, bridge.Errorf(bridge.CodeBadRequest, "want one argument")
		}
		req, err := launch.DecodeRequest(args[0])
		if err != nil {
			return nil, err
		}
		return launch.Result{Content: req.Content + "!"}, nil
	})
	_, host := pair(t, editorMux, nil)

	res, err := NewEditorClient(host).Launch(context.Background(), launch.Request{
		Content: "<p>draft</p>",
		Config:  launch.Config{Title: "Notes"},
	})
	require.NoError(t, err)
	assert.Equal(t, "<p>draft</p>!", res.Content)
	assert.False(t, res.Cancelled)
}
