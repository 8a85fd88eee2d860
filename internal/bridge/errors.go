package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrDisconnected resolves every call outstanding when a link goes away.
	ErrDisconnected = errors.New("bridge: disconnected")
	// ErrNoHandler is matched by a RemoteError whose code is no-handler.
	ErrNoHandler = errors.New("bridge: no handler registered for channel")
	// ErrBadRequest marks malformed call arguments.
	ErrBadRequest = errors.New("bridge: bad request")
	// ErrHandshake is returned when a link fails version or token checks.
	ErrHandshake = errors.New("bridge: handshake failed")
	// ErrFrame is returned for a corrupt frame on a stream link.
	ErrFrame = errors.New("bridge: invalid frame")
)

// RemoteError is a structured failure returned by the other side.
type RemoteError struct {
	Channel string
	Code    string
	Message string
	Details json.RawMessage
}

func (e *RemoteError) Error() string {
	if e.Channel == "" {
		return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: remote error %s: %s", e.Channel, e.Code, e.Message)
}

// Unwrap maps well-known codes onto sentinel errors.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeNoHandler:
		return ErrNoHandler
	case CodeBadRequest:
		return ErrBadRequest
	default:
		return nil
	}
}

// Errorf builds a RemoteError a handler can return to choose its code.
func Errorf(code, format string, args ...any) *RemoteError {
	return &RemoteError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches marshalled details to e.
func (e *RemoteError) WithDetails(v any) *RemoteError {
	b, err := json.Marshal(v)
	if err == nil {
		e.Details = b
	}
	return e
}

// toEnvelope converts a handler error to its wire form.
func toEnvelope(err error) *ErrorEnvelope {
	var re *RemoteError
	if errors.As(err, &re) {
		return &ErrorEnvelope{Code: re.Code, Message: re.Message, Details: re.Details}
	}
	if errors.Is(err, ErrBadRequest) {
		return &ErrorEnvelope{Code: CodeBadRequest, Message: err.Error()}
	}
	return &ErrorEnvelope{Code: CodeInternal, Message: err.Error()}
}

func fromEnvelope(channel string, e *ErrorEnvelope) *RemoteError {
	return &RemoteError{Channel: channel, Code: e.Code, Message: e.Message, Details: e.Details}
}
