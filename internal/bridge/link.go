package bridge

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Link moves envelopes between two endpoints. ReadEnvelope is called from a
// single goroutine; WriteEnvelope must be safe for concurrent use. Once the
// link is closed ReadEnvelope returns io.EOF or another error.
type Link interface {
	ReadEnvelope() (*Envelope, error)
	WriteEnvelope(*Envelope) error
	Close() error
}

// Pipe returns two connected in-memory links. Envelopes are JSON encoded on
// write and decoded on read so both ends see exactly what a real wire would
// carry.
func Pipe() (Link, Link) {
	shared := &pipeState{done: make(chan struct{})}
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	return &pipeLink{state: shared, in: ba, out: ab},
		&pipeLink{state: shared, in: ab, out: ba}
}

type pipeState struct {
	once sync.Once
	done chan struct{}
}

type pipeLink struct {
	state *pipeState
	in    <-chan []byte
	out   chan<- []byte
}

func (p *pipeLink) ReadEnvelope() (*Envelope, error) {
	select {
	case b := <-p.in:
		return decodeEnvelope(b)
	case <-p.state.done:
		// Drain what was written before the close.
		select {
		case b := <-p.in:
			return decodeEnvelope(b)
		default:
			return nil, io.EOF
		}
	}
}

func (p *pipeLink) WriteEnvelope(env *Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	select {
	case <-p.state.done:
		return ErrDisconnected
	default:
	}
	select {
	case p.out <- b:
		return nil
	case <-p.state.done:
		return ErrDisconnected
	}
}

func (p *pipeLink) Close() error {
	p.state.once.Do(func() { close(p.state.done) })
	return nil
}

func decodeEnvelope(b []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFrame, err)
	}
	return &env, nil
}
