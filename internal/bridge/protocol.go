// Package bridge carries named request/reply calls and one-way events between
// the editor and its host across a process boundary.
//
// The protocol is:
//   - request/reply with an explicit correlation id per call
//   - one-way events that expect no reply
//   - channels named "<namespace>/<operation>" so incompatible revisions can
//     coexist
//   - JSON envelopes over any Link: in-memory pipe, framed stream or websocket
package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Protocol identification.
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x494E4B42 // "INKB"
	Namespace       = "inkbridge.v1"
)

// Channel returns the namespaced channel name for an operation.
func Channel(operation string) string {
	return Namespace + "/" + operation
}

// Kind identifies the role of an envelope.
type Kind uint16

const (
	KindRequest  Kind = 0x0001
	KindResponse Kind = 0x0002
	KindEvent    Kind = 0x0003
	KindHello    Kind = 0x0010
	KindWelcome  Kind = 0x0011
)

var kindNames = map[Kind]string{
	KindRequest:  "request",
	KindResponse: "response",
	KindEvent:    "event",
	KindHello:    "hello",
	KindWelcome:  "welcome",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(0x%04x)", uint16(k))
}

// MarshalText renders the kind by name on the wire.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown envelope kind 0x%04x", uint16(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	name := strings.ToLower(string(b))
	for kind, n := range kindNames {
		if n == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown envelope kind %q", b)
}

// Envelope is the unit exchanged over a Link.
type Envelope struct {
	Kind    Kind              `json:"kind"`
	ID      uint32            `json:"id,omitempty"`
	Channel string            `json:"channel,omitempty"`
	Args    []json.RawMessage `json:"args,omitempty"`
	Result  json.RawMessage   `json:"result,omitempty"`
	Error   *ErrorEnvelope    `json:"error,omitempty"`

	// Handshake fields.
	Version int    `json:"version,omitempty"`
	Client  string `json:"client,omitempty"`
	Token   string `json:"token,omitempty"`
}

// ErrorEnvelope is the structured failure carried by a response.
type ErrorEnvelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Error codes.
const (
	CodeNoHandler    = "no-handler"
	CodeBadRequest   = "bad-request"
	CodeInternal     = "internal"
	CodeBusy         = "busy"
	CodeUnauthorized = "unauthorized"
	CodeVersion      = "version-mismatch"
)

// encodeArgs marshals call arguments in order.
func encodeArgs(args []any) ([]json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

// DecodeArgs unmarshals positional arguments into dst. Missing trailing
// arguments leave their destinations untouched.
func DecodeArgs(args []json.RawMessage, dst ...any) error {
	if len(args) > len(dst) {
		return fmt.Errorf("%w: expected at most %d arguments, got %d", ErrBadRequest, len(dst), len(args))
	}
	for i, raw := range args {
		if err := json.Unmarshal(raw, dst[i]); err != nil {
			return fmt.Errorf("%w: argument %d: %v", ErrBadRequest, i, err)
		}
	}
	return nil
}
