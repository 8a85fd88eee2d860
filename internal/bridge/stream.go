package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
)

// HeaderSize is the size of a stream frame header in bytes.
const HeaderSize = 16

// MaxPayloadSize bounds a single frame.
const MaxPayloadSize = 16 * 1024 * 1024

// Frame flags.
const (
	FlagJSON uint8 = 0x04
)

// Header is the fixed-size frame header written before every envelope on a
// stream link.
type Header struct {
	Magic     uint32 // Protocol magic number
	Version   uint8  // Protocol version
	Flags     uint8  // Frame flags
	Kind      Kind   // Envelope kind
	RequestID uint32 // Correlation id
	Length    uint32 // Payload length, header excluded
}

// Write encodes h to w.
func (h *Header) Write(w io.Writer) error {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Kind))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf[:])
	return err
}

// ReadHeader decodes and checks a header from r.
func ReadHeader(r io.Reader) (*Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Kind:      Kind(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("%w: bad magic 0x%08x", ErrFrame, h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFrame, h.Version)
	}
	if h.Length > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload too large: %d bytes", ErrFrame, h.Length)
	}
	return h, nil
}

// StreamLink frames envelopes over a byte stream such as a unix socket.
type StreamLink struct {
	conn    net.Conn
	r       *bufio.Reader
	writeMu sync.Mutex
}

// NewStreamLink wraps conn.
func NewStreamLink(conn net.Conn) *StreamLink {
	return &StreamLink{conn: conn, r: bufio.NewReader(conn)}
}

// Conn returns the underlying connection.
func (s *StreamLink) Conn() net.Conn {
	return s.conn
}

// ReadEnvelope reads one frame.
func (s *StreamLink) ReadEnvelope() (*Envelope, error) {
	h, err := ReadHeader(s.r)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(s.r, payload); err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(payload)
	if err != nil {
		return nil, err
	}
	if env.Kind != h.Kind || env.ID != h.RequestID {
		return nil, fmt.Errorf("%w: header does not match payload", ErrFrame)
	}
	return env, nil
}

// WriteEnvelope writes one frame.
func (s *StreamLink) WriteEnvelope(env *Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: payload too large: %d bytes", ErrFrame, len(payload))
	}
	h := Header{
		Magic:     ProtocolMagic,
		Version:   ProtocolVersion,
		Flags:     FlagJSON,
		Kind:      env.Kind,
		RequestID: env.ID,
		Length:    uint32(len(payload)),
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	// One write per frame keeps frames whole if the peer reads concurrently.
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(payload))
	if err := h.Write(&buf); err != nil {
		return err
	}
	buf.Write(payload)
	_, err = s.conn.Write(buf.Bytes())
	return err
}

// Close closes the connection.
func (s *StreamLink) Close() error {
	return s.conn.Close()
}

// ListenUnix listens on a unix socket readable only by the current user,
// replacing a stale socket file left by a previous run.
func ListenUnix(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := cleanupSocket(path); err != nil {
		return nil, err
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		l.Close()
		return nil, fmt.Errorf("set socket permissions: %w", err)
	}
	return l, nil
}

func cleanupSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("path exists but is not a socket: %s", path)
	}
	return os.Remove(path)
}

// DialUnix connects to a unix socket and completes the client handshake.
func DialUnix(ctx context.Context, path, client, token string) (*StreamLink, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	link := NewStreamLink(conn)
	if err := ClientHandshake(link, client, token); err != nil {
		link.Close()
		return nil, err
	}
	return link, nil
}
