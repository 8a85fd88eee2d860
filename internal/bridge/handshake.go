package bridge

import (
	"crypto/subtle"
	"fmt"
)

// Credentials identify the process behind a unix socket peer.
type Credentials struct {
	PID int
	UID int
	GID int
}

// ClientHandshake announces the protocol version and waits for the welcome.
func ClientHandshake(link Link, client, token string) error {
	if err := link.WriteEnvelope(&Envelope{
		Kind:    KindHello,
		Version: ProtocolVersion,
		Client:  client,
		Token:   token,
	}); err != nil {
		return fmt.Errorf("%w: write hello: %v", ErrHandshake, err)
	}
	env, err := link.ReadEnvelope()
	if err != nil {
		return fmt.Errorf("%w: read welcome: %v", ErrHandshake, err)
	}
	if env.Error != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, fromEnvelope("", env.Error))
	}
	if env.Kind != KindWelcome {
		return fmt.Errorf("%w: expected welcome, got %s", ErrHandshake, env.Kind)
	}
	if env.Version != ProtocolVersion {
		return fmt.Errorf("%w: server speaks version %d, want %d", ErrHandshake, env.Version, ProtocolVersion)
	}
	return nil
}

// ServerHandshake reads the client's hello, checks version and token, and
// answers with a welcome or a structured refusal. It returns the client name.
func ServerHandshake(link Link, token string) (string, error) {
	env, err := link.ReadEnvelope()
	if err != nil {
		return "", fmt.Errorf("%w: read hello: %v", ErrHandshake, err)
	}
	if env.Kind != KindHello {
		return "", refuse(link, CodeBadRequest, fmt.Sprintf("expected hello, got %s", env.Kind))
	}
	if env.Version != ProtocolVersion {
		return "", refuse(link, CodeVersion, fmt.Sprintf("client speaks version %d, want %d", env.Version, ProtocolVersion))
	}
	if token != "" && subtle.ConstantTimeCompare([]byte(env.Token), []byte(token)) != 1 {
		return "", refuse(link, CodeUnauthorized, "bad token")
	}
	if err := link.WriteEnvelope(&Envelope{Kind: KindWelcome, Version: ProtocolVersion}); err != nil {
		return "", fmt.Errorf("%w: write welcome: %v", ErrHandshake, err)
	}
	return env.Client, nil
}

func refuse(link Link, code, msg string) error {
	_ = link.WriteEnvelope(&Envelope{
		Kind:    KindWelcome,
		Version: ProtocolVersion,
		Error:   &ErrorEnvelope{Code: code, Message: msg},
	})
	return fmt.Errorf("%w: %s", ErrHandshake, msg)
}
