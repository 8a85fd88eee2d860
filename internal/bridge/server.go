package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"inkbridge/internal/metrics"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Token, when set, must be presented in the client hello.
	Token string
	// VerifyPeer rejects unix socket peers owned by another user.
	VerifyPeer bool
	// AllowedOrigins lists websocket origins accepted besides same-host.
	AllowedOrigins []string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Server accepts the host side of the bridge. It holds at most one live
// peer; a new connection replaces the previous one.
type Server struct {
	cfg      ServerConfig
	mux      *Mux
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	current *Peer
	closed  bool
	changed chan struct{}

	wg sync.WaitGroup
}

var _ Caller = (*Server)(nil)

// NewServer creates a server that dispatches inbound traffic through mux.
func NewServer(cfg ServerConfig, mux *Mux) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		mux:     mux,
		logger:  logger.With(slog.String("component", "bridge-server")),
		changed: make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return strings.Contains(origin, "://"+strings.TrimSpace(r.Host))
}

// ServeHTTP upgrades the request to a websocket link.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	link := NewWebsocketLink(conn)
	if err := s.accept(link, func() { _ = conn.SetReadDeadline(time.Time{}) }); err != nil {
		s.logger.Warn("websocket peer rejected", slog.String("error", err.Error()))
		_ = link.Close()
	}
}

// Serve accepts framed stream connections from l until ctx is done or l is
// closed.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", slog.String("error", err.Error()))
			continue
		}

		if s.cfg.VerifyPeer {
			if err := VerifySameUser(conn); err != nil {
				s.logger.Warn("stream peer rejected", slog.String("error", err.Error()))
				_ = conn.Close()
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
			link := NewStreamLink(conn)
			if err := s.accept(link, func() { _ = conn.SetReadDeadline(time.Time{}) }); err != nil {
				s.logger.Warn("stream peer rejected", slog.String("error", err.Error()))
				_ = link.Close()
			}
		}()
	}
}

// Accept completes the server handshake on link and makes it the current
// peer. It is exported for in-process links such as Pipe.
func (s *Server) Accept(link Link) error {
	return s.accept(link, nil)
}

func (s *Server) accept(link Link, afterHandshake func()) error {
	client, err := ServerHandshake(link, s.cfg.Token)
	if err != nil {
		return err
	}
	if afterHandshake != nil {
		afterHandshake()
	}

	peer := NewPeer(link, s.mux,
		WithLogger(s.logger),
		WithMetrics(s.cfg.Metrics),
		WithName(client))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = peer.Close()
		return ErrDisconnected
	}
	prev := s.current
	s.current = peer
	s.signalLocked()
	s.mu.Unlock()

	if prev != nil {
		s.logger.Info("bridge peer replaced")
		_ = prev.Close()
	}
	peer.Start()
	s.cfg.Metrics.SetConnected(true)
	s.logger.Info("bridge peer connected", slog.String("client", client))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-peer.Done()
		s.mu.Lock()
		if s.current == peer {
			s.current = nil
			s.signalLocked()
			s.cfg.Metrics.SetConnected(false)
			s.logger.Info("bridge peer disconnected", slog.String("client", client))
		}
		s.mu.Unlock()
	}()
	return nil
}

func (s *Server) signalLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Current returns the live peer, or nil.
func (s *Server) Current() *Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Connected reports whether a peer is live.
func (s *Server) Connected() bool {
	return s.Current() != nil
}

// WaitConnected blocks until a peer is live or ctx is done.
func (s *Server) WaitConnected(ctx context.Context) (*Peer, error) {
	for {
		s.mu.RLock()
		peer, changed := s.current, s.changed
		s.mu.RUnlock()
		if peer != nil {
			return peer, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Call forwards to the current peer.
func (s *Server) Call(ctx context.Context, channel string, result any, args ...any) error {
	peer := s.Current()
	if peer == nil {
		s.cfg.Metrics.BridgeCall(channel, metrics.OutcomeDisconnected, 0)
		return ErrDisconnected
	}
	return peer.Call(ctx, channel, result, args...)
}

// Notify forwards to the current peer.
func (s *Server) Notify(ctx context.Context, channel string, args ...any) error {
	peer := s.Current()
	if peer == nil {
		return ErrDisconnected
	}
	return peer.Notify(ctx, channel, args...)
}

// Close disconnects the current peer and refuses new ones.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	peer := s.current
	s.current = nil
	s.signalLocked()
	s.mu.Unlock()

	var err error
	if peer != nil {
		if cErr := peer.Close(); cErr != nil {
			err = fmt.Errorf("close peer: %w", cErr)
		}
	}
	s.wg.Wait()
	s.cfg.Metrics.SetConnected(false)
	return err
}
