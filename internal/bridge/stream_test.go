package bridge

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Magic:     ProtocolMagic,
		Version:   ProtocolVersion,
		Flags:     FlagJSON,
		Kind:      KindRequest,
		RequestID: 42,
		Length:    128,
	}
	var buf bytes.Buffer
	require.NoError(t, h.Write(&buf))
	assert.Equal(t, HeaderSize, buf.Len())

	got, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, h, *got)
}

func TestReadHeaderRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]byte)
	}{
		{"bad magic", func(b []byte) { binary.BigEndian.PutUint32(b[0:4], 0xDEADBEEF) }},
		{"future version", func(b []byte) { b[4] = ProtocolVersion + 1 }},
		{"oversized", func(b []byte) { binary.BigEndian.PutUint32(b[12:16], MaxPayloadSize+1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Header{Magic: ProtocolMagic, Version: ProtocolVersion, Kind: KindEvent}
			var buf bytes.Buffer
			require.NoError(t, h.Write(&buf))
			raw := buf.Bytes()
			tt.mutate(raw)

			_, err := ReadHeader(bytes.NewReader(raw))
			assert.ErrorIs(t, err, ErrFrame)
		})
	}
}

func TestStreamLinkCarriesEnvelopes(t *testing.T) {
	c1, c2 := net.Pipe()
	a, b := NewStreamLink(c1), NewStreamLink(c2)
	defer a.Close()
	defer b.Close()

	sent := &Envelope{
		Kind:    KindRequest,
		ID:      9,
		Channel: Channel("fileSelected"),
		Args:    []json.RawMessage{json.RawMessage(`"/tmp/a.png"`), json.RawMessage(`false`)},
	}
	go func() { _ = a.WriteEnvelope(sent) }()

	got, err := b.ReadEnvelope()
	require.NoError(t, err)
	assert.Equal(t, sent.Kind, got.Kind)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, sent.Channel, got.Channel)
	require.Len(t, got.Args, 2)
	assert.JSONEq(t, `"/tmp/a.png"`, string(got.Args[0]))
}

func TestStreamLinkRejectsMismatchedHeader(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	b := NewStreamLink(c2)
	defer b.Close()

	payload, err := json.Marshal(&Envelope{Kind: KindEvent, Channel: "x"})
	require.NoError(t, err)
	h := Header{
		Magic:   ProtocolMagic,
		Version: ProtocolVersion,
		Kind:    KindRequest,
		Length:  uint32(len(payload)),
	}
	go func() {
		var buf bytes.Buffer
		_ = h.Write(&buf)
		buf.Write(payload)
		_, _ = c1.Write(buf.Bytes())
	}()

	_, err = b.ReadEnvelope()
	assert.ErrorIs(t, err, ErrFrame)
}

func TestUnixSocketServer(t *testing.T) {
	dir, err := os.MkdirTemp("", "inkb")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "bridge.sock")

	l, err := ListenUnix(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	hostMux := NewMux()
	hostMux.Handle(Channel("fileSelected"), func(_ context.Context, args []json.RawMessage) (any, error) {
		var p string
		var video bool
		if err := DecodeArgs(args, &p, &video); err != nil {
			return nil, err
		}
		return "https://cdn.example/" + filepath.Base(p), nil
	})
	srv := NewServer(ServerConfig{Token: "s3cret", VerifyPeer: true}, hostMux)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, l) }()
	t.Cleanup(func() {
		cancel()
		<-served
		srv.Close()
	})

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()

	_, err = DialUnix(dialCtx, path, "editor", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshake)

	link, err := DialUnix(dialCtx, path, "editor", "s3cret")
	require.NoError(t, err)
	editor := NewPeer(link, nil)
	editor.Start()
	defer editor.Close()

	var ref string
	require.NoError(t, editor.Call(dialCtx, Channel("fileSelected"), &ref, "/tmp/cat.png", false))
	assert.Equal(t, "https://cdn.example/cat.png", ref)

	_, err = srv.WaitConnected(dialCtx)
	require.NoError(t, err)
	assert.True(t, srv.Connected())
}

func TestListenUnixRefusesNonSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))

	_, err := ListenUnix(path)
	assert.Error(t, err)
}
