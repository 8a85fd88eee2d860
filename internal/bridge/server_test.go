package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWebsocketServer(t *testing.T, cfg ServerConfig, mux *Mux) (*Server, string) {
	t.Helper()
	srv := NewServer(cfg, mux)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestWebsocketCallFromHost(t *testing.T) {
	srv, url := startWebsocketServer(t, ServerConfig{Token: "tok"}, NewMux())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	link, err := DialWebsocket(ctx, url, "editor", "tok")
	require.NoError(t, err)

	editorMux := NewMux()
	editorMux.Handle("greet", func(_ context.Context, args []json.RawMessage) (any, error) {
		var name string
		if err := DecodeArgs(args, &name); err != nil {
			return nil, err
		}
		return "hi " + name, nil
	})
	editor := NewPeer(link, editorMux)
	editor.Start()
	defer editor.Close()

	_, err = srv.WaitConnected(ctx)
	require.NoError(t, err)

	var got string
	require.NoError(t, srv.Call(ctx, "greet", &got, "host"))
	assert.Equal(t, "hi host", got)
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	srv, url := startWebsocketServer(t, ServerConfig{Token: "tok"}, NewMux())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := DialWebsocket(ctx, url, "editor", "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshake)
	assert.Contains(t, err.Error(), CodeUnauthorized)
	assert.False(t, srv.Connected())
}

func TestWebsocketRejectsVersionMismatch(t *testing.T) {
	_, url := startWebsocketServer(t, ServerConfig{}, NewMux())

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"kind": "hello", "version": 99}))
	var welcome Envelope
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, KindWelcome, welcome.Kind)
	require.NotNil(t, welcome.Error)
	assert.Equal(t, CodeVersion, welcome.Error.Code)
}

func TestWebsocketRejectsForeignOrigin(t *testing.T) {
	_, url := startWebsocketServer(t, ServerConfig{}, NewMux())

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}

func TestServerWithoutPeer(t *testing.T) {
	srv := NewServer(ServerConfig{}, NewMux())
	defer srv.Close()

	assert.False(t, srv.Connected())
	assert.ErrorIs(t, srv.Call(context.Background(), "x", nil), ErrDisconnected)
	assert.ErrorIs(t, srv.Notify(context.Background(), "x"), ErrDisconnected)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := srv.WaitConnected(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewPeerReplacesPrevious(t *testing.T) {
	srv := NewServer(ServerConfig{}, NewMux())
	defer srv.Close()

	dial := func() *Peer {
		a, b := Pipe()
		errc := make(chan error, 1)
		go func() { errc <- srv.Accept(b) }()
		require.NoError(t, ClientHandshake(a, "editor", ""))
		require.NoError(t, <-errc)
		p := NewPeer(a, nil)
		p.Start()
		return p
	}

	first := dial()
	firstServerSide := srv.Current()
	require.NotNil(t, firstServerSide)

	second := dial()
	defer second.Close()

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("first peer not disconnected")
	}
	assert.NotSame(t, firstServerSide, srv.Current())
	assert.True(t, srv.Connected())

	require.NoError(t, second.Close())
	require.Eventually(t, func() bool { return !srv.Connected() }, time.Second, 5*time.Millisecond)
}
