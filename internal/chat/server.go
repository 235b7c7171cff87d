package chat

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ledzpl/tcpchat/internal/config"
	"github.com/ledzpl/tcpchat/internal/metrics"
	"github.com/ledzpl/tcpchat/pkg/lineserver"
)

var errServerFull = errors.New("session limit reached")

// Server ties the listener lifecycle to the registry and router.
type Server struct {
	registry *Registry
	router   *Router
	opts     Options
	logger   zerolog.Logger

	lines *lineserver.Server

	// sessions derive from base; cancelling it closes every live session,
	// whichever transport it arrived on.
	base     context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	closed   bool
	active   int
	sessions sync.WaitGroup

	shutdownOnce sync.Once
}

// OptionsFromConfig maps file/env configuration onto session options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		MaxLineBytes:     cfg.MaxLineBytes,
		WriteTimeout:     cfg.WriteTimeout.Duration,
		HandshakeTimeout: cfg.HandshakeTimeout.Duration,
		MaxSessions:      cfg.MaxSessions,
		RatePerSecond:    cfg.RateLimit.PerSecond,
		RateBurst:        cfg.RateLimit.Burst,
	}
}

// NewServer prepares a server for addr. Nothing is bound until Listen.
func NewServer(addr string, opts Options, logger zerolog.Logger) *Server {
	registry := NewRegistry()
	base, cancel := context.WithCancel(context.Background())
	return &Server{
		registry: registry,
		router:   NewRouter(registry, logger),
		opts:     opts,
		logger:   logger,
		lines:    lineserver.New(addr, logger),
		base:     base,
		cancel:   cancel,
	}
}

// Registry returns the registry of joined members.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Router returns the router sessions deliver through.
func (s *Server) Router() *Router {
	return s.router
}

// Listen binds the TCP listener. A bind failure is fatal to startup.
func (s *Server) Listen() (net.Addr, error) {
	return s.lines.Listen()
}

// Serve accepts connections until ctx is cancelled or Shutdown is called.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	err := s.lines.Serve(s.base, func(_ context.Context, conn net.Conn) {
		s.ServeConn(conn, "tcp")
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) {
		return lineserver.ErrServerClosed
	}
	return err
}

// Start binds and serves in one call.
func (s *Server) Start(ctx context.Context) error {
	if _, err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// ServeConn runs a session on conn and blocks until it is closed. With
// MaxSessions set, a session holds its slot from here until it closes, so
// connections still at the name prompt count against the limit.
func (s *Server) ServeConn(conn Conn, transport string) {
	if err := s.acquire(); err != nil {
		if errors.Is(err, errServerFull) {
			s.reject(conn, transport)
			return
		}
		_ = conn.Close()
		return
	}
	defer s.release()

	metrics.SessionOpened(transport)
	sess := newSession(s.router, conn, s.opts, s.logger.With().Str("transport", transport).Logger())
	sess.logger.Info().Msg("connection accepted")
	sess.run(s.base)
}

// Snapshot lists registered members in join order.
func (s *Server) Snapshot() []Member {
	return s.registry.Snapshot()
}

// Shutdown closes every live session, clears the registry and closes the
// listener. Errors from already broken sockets are ignored. Idempotent.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.lines.StopAccepting()

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		members := s.registry.Clear()
		for _, m := range members {
			_ = m.Peer.Close()
		}
		s.cancel()
		s.lines.Shutdown()
		metrics.SessionsReset()

		s.logger.Info().Int("sessions", len(members)).Msg("server shut down")
	})
}

// Wait blocks until every session started by ServeConn has returned.
func (s *Server) Wait() {
	s.sessions.Wait()
}

func (s *Server) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lineserver.ErrServerClosed
	}
	if limit := s.opts.MaxSessions; limit > 0 && s.active >= limit {
		return errServerFull
	}
	s.active++
	s.sessions.Add(1)
	return nil
}

func (s *Server) release() {
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	s.sessions.Done()
}

// reject tells conn the server is full and closes it without a handshake.
func (s *Server) reject(conn Conn, transport string) {
	peer := newPeer(conn, s.opts.WriteTimeout)
	if err := peer.WriteString(serverFullMsg); err != nil {
		s.logger.Debug().Err(err).Msg("server full notice not delivered")
	}
	_ = peer.Close()
	s.logger.Warn().Str("transport", transport).Str("addr", peer.Addr).
		Int("max_sessions", s.opts.MaxSessions).Msg("session rejected: server full")
}
