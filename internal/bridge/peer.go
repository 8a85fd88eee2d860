package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"inkbridge/internal/metrics"
)

// Caller issues calls and events to the other side.
type Caller interface {
	Call(ctx context.Context, channel string, result any, args ...any) error
	Notify(ctx context.Context, channel string, args ...any) error
}

// Handler answers a request synchronously.
type Handler func(ctx context.Context, args []json.RawMessage) (any, error)

// Reply completes a request. Only the first call has any effect.
type Reply func(result any, err error)

// AsyncHandler answers a request by calling reply exactly once, possibly
// after it returns. Requests on one channel are handed to the handler in
// arrival order.
type AsyncHandler func(ctx context.Context, args []json.RawMessage, reply Reply)

// EventHandler consumes a one-way event.
type EventHandler func(ctx context.Context, args []json.RawMessage)

// Mux routes inbound requests and events to handlers by channel. One Mux can
// serve several successive peers.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]AsyncHandler
	events   map[string]EventHandler
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{
		handlers: make(map[string]AsyncHandler),
		events:   make(map[string]EventHandler),
	}
}

// Handle registers a synchronous request handler.
func (m *Mux) Handle(channel string, h Handler) {
	m.HandleAsync(channel, func(ctx context.Context, args []json.RawMessage, reply Reply) {
		reply(h(ctx, args))
	})
}

// HandleAsync registers a request handler that may reply later.
func (m *Mux) HandleAsync(channel string, h AsyncHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[channel] = h
}

// HandleEvent registers an event handler.
func (m *Mux) HandleEvent(channel string, h EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[channel] = h
}

func (m *Mux) handler(channel string) AsyncHandler {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handlers[channel]
}

func (m *Mux) eventHandler(channel string) EventHandler {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.events[channel]
}

// PeerOption configures a Peer.
type PeerOption func(*Peer)

// WithLogger sets the peer logger.
func WithLogger(l *slog.Logger) PeerOption {
	return func(p *Peer) { p.logger = l }
}

// WithMetrics records call outcomes.
func WithMetrics(m *metrics.Metrics) PeerOption {
	return func(p *Peer) { p.metrics = m }
}

// WithName labels the peer in logs.
func WithName(name string) PeerOption {
	return func(p *Peer) { p.name = name }
}

// Peer is one end of a live link.
type Peer struct {
	link    Link
	mux     *Mux
	logger  *slog.Logger
	metrics *metrics.Metrics
	name    string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[uint32]chan *Envelope
	nextID  uint32
	queues  map[string]*serialQueue
	closed  bool
	err     error

	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

var _ Caller = (*Peer)(nil)

// NewPeer wraps link. Inbound traffic is not read until Start.
func NewPeer(link Link, mux *Mux, opts ...PeerOption) *Peer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		link:    link,
		mux:     mux,
		logger:  slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[uint32]chan *Envelope),
		queues:  make(map[string]*serialQueue),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "bridge"))
	if p.name != "" {
		p.logger = p.logger.With(slog.String("peer", p.name))
	}
	return p
}

// Start begins reading from the link.
func (p *Peer) Start() {
	p.startOnce.Do(func() { go p.readLoop() })
}

// Done is closed once the peer has disconnected.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Err returns the reason the peer disconnected, or nil while connected.
func (p *Peer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close tears down the link. Outstanding calls fail with ErrDisconnected.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.link.Close()
		p.shutdown(ErrDisconnected)
		// A peer that was never started has no read loop to close done.
		p.startOnce.Do(func() { close(p.done) })
	})
	return err
}

// Call sends a request and waits for its single reply. The reply payload is
// decoded into result when result is non-nil.
func (p *Peer) Call(ctx context.Context, channel string, result any, args ...any) error {
	start := time.Now()
	err := p.call(ctx, channel, result, args)
	p.metrics.BridgeCall(channel, callOutcome(err), time.Since(start))
	return err
}

func (p *Peer) call(ctx context.Context, channel string, result any, args []any) error {
	encoded, err := encodeArgs(args)
	if err != nil {
		return err
	}

	ch := make(chan *Envelope, 1)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrDisconnected
	}
	p.nextID++
	if p.nextID == 0 {
		p.nextID = 1
	}
	id := p.nextID
	p.pending[id] = ch
	p.mu.Unlock()

	if err := p.link.WriteEnvelope(&Envelope{Kind: KindRequest, ID: id, Channel: channel, Args: encoded}); err != nil {
		p.forget(id)
		if errors.Is(err, ErrDisconnected) || isClosedErr(err) {
			return ErrDisconnected
		}
		return fmt.Errorf("send %s: %w", channel, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrDisconnected
		}
		if resp.Error != nil {
			return fromEnvelope(channel, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", channel, err)
			}
		}
		return nil
	case <-ctx.Done():
		p.forget(id)
		return ctx.Err()
	}
}

// Notify sends a one-way event.
func (p *Peer) Notify(_ context.Context, channel string, args ...any) error {
	encoded, err := encodeArgs(args)
	if err != nil {
		return err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrDisconnected
	}
	if err := p.link.WriteEnvelope(&Envelope{Kind: KindEvent, Channel: channel, Args: encoded}); err != nil {
		if errors.Is(err, ErrDisconnected) || isClosedErr(err) {
			return ErrDisconnected
		}
		return fmt.Errorf("send %s: %w", channel, err)
	}
	p.metrics.BridgeEvent(channel, "out")
	return nil
}

func (p *Peer) forget(id uint32) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *Peer) readLoop() {
	var readErr error
	for {
		env, err := p.link.ReadEnvelope()
		if err != nil {
			readErr = err
			break
		}
		p.handleEnvelope(env)
	}

	if readErr != nil && !errors.Is(readErr, io.EOF) && !isClosedErr(readErr) {
		p.logger.Warn("bridge link failed", slog.String("error", readErr.Error()))
	}
	_ = p.link.Close()
	p.shutdown(ErrDisconnected)
	close(p.done)
}

// shutdown fails every pending call and stops dispatch.
func (p *Peer) shutdown(reason error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.err = reason
	pending := p.pending
	p.pending = make(map[uint32]chan *Envelope)
	p.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	p.cancel()
}

func (p *Peer) handleEnvelope(env *Envelope) {
	switch env.Kind {
	case KindResponse:
		p.mu.Lock()
		ch, ok := p.pending[env.ID]
		delete(p.pending, env.ID)
		p.mu.Unlock()
		if !ok {
			p.logger.Debug("reply for unknown call", slog.Uint64("id", uint64(env.ID)))
			return
		}
		ch <- env

	case KindRequest, KindEvent:
		p.enqueue(env)

	default:
		p.logger.Warn("unexpected envelope", slog.String("kind", env.Kind.String()))
	}
}

func (p *Peer) enqueue(env *Envelope) {
	p.mu.Lock()
	q, ok := p.queues[env.Channel]
	if !ok {
		q = &serialQueue{}
		p.queues[env.Channel] = q
	}
	p.mu.Unlock()
	q.push(env, p.dispatch)
}

func (p *Peer) dispatch(env *Envelope) {
	if env.Kind == KindEvent {
		p.metrics.BridgeEvent(env.Channel, "in")
		h := p.mux.eventHandler(env.Channel)
		if h == nil {
			p.logger.Debug("event dropped, no handler", slog.String("channel", env.Channel))
			return
		}
		h(p.ctx, env.Args)
		return
	}

	reply := p.replier(env)
	h := p.mux.handler(env.Channel)
	if h == nil {
		reply(nil, Errorf(CodeNoHandler, "no handler for %s", env.Channel))
		return
	}
	h(p.ctx, env.Args, reply)
}

func (p *Peer) replier(req *Envelope) Reply {
	var once sync.Once
	return func(result any, err error) {
		once.Do(func() {
			resp := &Envelope{Kind: KindResponse, ID: req.ID, Channel: req.Channel}
			if err != nil {
				resp.Error = toEnvelope(err)
			} else if result != nil {
				b, mErr := json.Marshal(result)
				if mErr != nil {
					resp.Error = &ErrorEnvelope{Code: CodeInternal, Message: "encode result: " + mErr.Error()}
				} else {
					resp.Result = b
				}
			}
			if wErr := p.link.WriteEnvelope(resp); wErr != nil {
				p.logger.Debug("reply not delivered",
					slog.String("channel", req.Channel),
					slog.String("error", wErr.Error()))
			}
		})
	}
}

// serialQueue runs items one at a time in push order on a goroutine that
// lives only while the queue is non-empty.
type serialQueue struct {
	mu      sync.Mutex
	items   []*Envelope
	running bool
}

func (q *serialQueue) push(env *Envelope, run func(*Envelope)) {
	q.mu.Lock()
	q.items = append(q.items, env)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	go func() {
		for {
			q.mu.Lock()
			if len(q.items) == 0 {
				q.running = false
				q.mu.Unlock()
				return
			}
			next := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			run(next)
		}
	}()
}

func callOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrDisconnected):
		return metrics.OutcomeDisconnected
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeError
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
