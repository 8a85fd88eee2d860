package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// connectedPeers returns two started peers joined by a Pipe.
func connectedPeers(t *testing.T, editorMux, hostMux *Mux) (*Peer, *Peer) {
	t.Helper()
	a, b := Pipe()
	editor := NewPeer(a, editorMux, WithName("editor"))
	host := NewPeer(b, hostMux, WithName("host"))
	editor.Start()
	host.Start()
	t.Cleanup(func() {
		editor.Close()
		host.Close()
	})
	return editor, host
}

func TestCallRoundTrip(t *testing.T) {
	hostMux := NewMux()
	hostMux.Handle("echo", func(_ context.Context, args []json.RawMessage) (any, error) {
		var s string
		var n int
		if err := DecodeArgs(args, &s, &n); err != nil {
			return nil, err
		}
		return map[string]any{"s": s, "n": n}, nil
	})
	editor, _ := connectedPeers(t, nil, hostMux)

	var out struct {
		S string `json:"s"`
		N int    `json:"n"`
	}
	err := editor.Call(context.Background(), "echo", &out, "hello", 7)
	require.NoError(t, err)
	assert.Equal(t, "hello", out.S)
	assert.Equal(t, 7, out.N)
}

func TestCallBothDirections(t *testing.T) {
	editorMux := NewMux()
	editorMux.Handle("ping", func(context.Context, []json.RawMessage) (any, error) {
		return "editor-pong", nil
	})
	hostMux := NewMux()
	hostMux.Handle("ping", func(context.Context, []json.RawMessage) (any, error) {
		return "host-pong", nil
	})
	editor, host := connectedPeers(t, editorMux, hostMux)

	var got string
	require.NoError(t, editor.Call(context.Background(), "ping", &got))
	assert.Equal(t, "host-pong", got)
	require.NoError(t, host.Call(context.Background(), "ping", &got))
	assert.Equal(t, "editor-pong", got)
}

func TestCallNoHandler(t *testing.T) {
	editor, _ := connectedPeers(t, nil, NewMux())

	err := editor.Call(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoHandler)

	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, CodeNoHandler, re.Code)
	assert.Equal(t, "missing", re.Channel)
}

func TestCallRemoteError(t *testing.T) {
	hostMux := NewMux()
	hostMux.Handle("busy", func(context.Context, []json.RawMessage) (any, error) {
		return nil, Errorf(CodeBusy, "already editing").WithDetails(map[string]int{"active": 1})
	})
	hostMux.Handle("fails", func(context.Context, []json.RawMessage) (any, error) {
		return nil, errors.New("disk full")
	})
	editor, _ := connectedPeers(t, nil, hostMux)

	err := editor.Call(context.Background(), "busy", nil)
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, CodeBusy, re.Code)
	assert.Equal(t, "already editing", re.Message)
	assert.JSONEq(t, `{"active":1}`, string(re.Details))

	err = editor.Call(context.Background(), "fails", nil)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, CodeInternal, re.Code)
	assert.Contains(t, re.Message, "disk full")
}

func TestCallBadArguments(t *testing.T) {
	hostMux := NewMux()
	hostMux.Handle("typed", func(_ context.Context, args []json.RawMessage) (any, error) {
		var n int
		if err := DecodeArgs(args, &n); err != nil {
			return nil, err
		}
		return n, nil
	})
	editor, _ := connectedPeers(t, nil, hostMux)

	err := editor.Call(context.Background(), "typed", nil, "not a number")
	assert.ErrorIs(t, err, ErrBadRequest)

	err = editor.Call(context.Background(), "typed", nil, 1, 2)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestNullResultLeavesZeroValue(t *testing.T) {
	hostMux := NewMux()
	hostMux.Handle("nothing", func(context.Context, []json.RawMessage) (any, error) {
		return nil, nil
	})
	editor, _ := connectedPeers(t, nil, hostMux)

	got := "unchanged"
	require.NoError(t, editor.Call(context.Background(), "nothing", &got))
	assert.Equal(t, "unchanged", got)
}

func TestAsyncReplyAfterHandlerReturns(t *testing.T) {
	var (
		mu    sync.Mutex
		saved Reply
	)
	hostMux := NewMux()
	hostMux.HandleAsync("later", func(_ context.Context, _ []json.RawMessage, reply Reply) {
		mu.Lock()
		saved = reply
		mu.Unlock()
	})
	editor, _ := connectedPeers(t, nil, hostMux)

	result := make(chan string, 1)
	go func() {
		var s string
		if err := editor.Call(context.Background(), "later", &s); err != nil {
			result <- "error: " + err.Error()
			return
		}
		result <- s
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return saved != nil
	}, time.Second, 5*time.Millisecond)

	select {
	case <-result:
		t.Fatal("call completed before reply")
	case <-time.After(20 * time.Millisecond):
	}

	mu.Lock()
	saved("done", nil)
	saved("ignored", nil)
	mu.Unlock()

	select {
	case got := <-result:
		assert.Equal(t, "done", got)
	case <-time.After(time.Second):
		t.Fatal("call never completed")
	}
}

func TestEventsDeliveredInOrderPerChannel(t *testing.T) {
	var (
		mu  sync.Mutex
		got []int
	)
	hostMux := NewMux()
	hostMux.HandleEvent("seq", func(_ context.Context, args []json.RawMessage) {
		var n int
		_ = DecodeArgs(args, &n)
		// Slow handler: later events must still wait their turn.
		time.Sleep(time.Millisecond)
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
	})
	editor, _ := connectedPeers(t, nil, hostMux)

	const count = 30
	for i := 0; i < count; i++ {
		require.NoError(t, editor.Notify(context.Background(), "seq", i))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == count
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, n := range got {
		assert.Equal(t, i, n)
	}
}

func TestEventWithoutHandlerIsDropped(t *testing.T) {
	hostMux := NewMux()
	hostMux.Handle("ping", func(context.Context, []json.RawMessage) (any, error) {
		return "pong", nil
	})
	editor, _ := connectedPeers(t, nil, hostMux)

	require.NoError(t, editor.Notify(context.Background(), "nobody-listens", 1))

	var got string
	require.NoError(t, editor.Call(context.Background(), "ping", &got))
	assert.Equal(t, "pong", got)
}

func TestDisconnectFailsPendingCalls(t *testing.T) {
	hostMux := NewMux()
	entered := make(chan struct{}, 2)
	hostMux.HandleAsync("never", func(context.Context, []json.RawMessage, Reply) {
		entered <- struct{}{}
	})
	editor, host := connectedPeers(t, nil, hostMux)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- editor.Call(context.Background(), "never", nil)
		}()
	}
	<-entered
	<-entered

	require.NoError(t, host.Close())

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrDisconnected)
		case <-time.After(time.Second):
			t.Fatal("pending call not resolved")
		}
	}

	select {
	case <-editor.Done():
	case <-time.After(time.Second):
		t.Fatal("editor peer did not observe disconnect")
	}
	assert.ErrorIs(t, editor.Err(), ErrDisconnected)
	assert.ErrorIs(t, editor.Call(context.Background(), "never", nil), ErrDisconnected)
	assert.ErrorIs(t, editor.Notify(context.Background(), "never"), ErrDisconnected)
}

func TestCallHonoursContext(t *testing.T) {
	hostMux := NewMux()
	hostMux.HandleAsync("never", func(context.Context, []json.RawMessage, Reply) {})
	editor, _ := connectedPeers(t, nil, hostMux)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := editor.Call(ctx, "never", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	editor.mu.Lock()
	pending := len(editor.pending)
	editor.mu.Unlock()
	assert.Zero(t, pending)
}

func TestHandlerContextCancelledOnDisconnect(t *testing.T) {
	hostMux := NewMux()
	cancelled := make(chan struct{})
	hostMux.HandleEvent("watch", func(ctx context.Context, _ []json.RawMessage) {
		<-ctx.Done()
		close(cancelled)
	})
	editor, host := connectedPeers(t, nil, hostMux)

	require.NoError(t, editor.Notify(context.Background(), "watch"))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, editor.Close())

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("handler context not cancelled")
	}
	<-host.Done()
}

func TestCloseBeforeStart(t *testing.T) {
	a, _ := Pipe()
	p := NewPeer(a, nil)
	require.NoError(t, p.Close())

	select {
	case <-p.Done():
	default:
		t.Fatal("done not closed")
	}
	assert.ErrorIs(t, p.Call(context.Background(), "x", nil), ErrDisconnected)
}

func TestChannelNamespacing(t *testing.T) {
	assert.Equal(t, "inkbridge.v1/launch", Channel("launch"))
}

func TestKindWireNames(t *testing.T) {
	b, err := json.Marshal(&Envelope{Kind: KindEvent, Channel: "c"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"event","channel":"c"}`, string(b))

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"response","id":4}`), &env))
	assert.Equal(t, KindResponse, env.Kind)
	assert.EqualValues(t, 4, env.ID)

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"bogus"}`), &env))
}
