package lineserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("lineserver: server closed")

// ConnHandler handles one accepted TCP connection. It owns conn until it returns.
type ConnHandler func(ctx context.Context, conn net.Conn)

// Server wraps the TCP listener lifecycle: bind, accept, per-connection
// goroutines and a best-effort Shutdown that closes everything still open.
type Server struct {
	Addr string

	logger zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool

	handlers     sync.WaitGroup
	shutdownOnce sync.Once
}

// New returns a server for addr. Nothing is bound until Listen.
func New(addr string, logger zerolog.Logger) *Server {
	return &Server{
		Addr:   addr,
		logger: logger,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Listen binds the listening socket. Bind errors are returned to the caller.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrServerClosed
	}
	if s.listener != nil {
		return s.listener.Addr(), nil
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return nil, fmt.Errorf("lineserver: listen %q: %w", s.Addr, err)
	}
	s.listener = ln
	return ln.Addr(), nil
}

// ListenAndServe binds and then runs the accept loop until ctx is cancelled or
// Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context, handler ConnHandler) error {
	if _, err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx, handler)
}

// Serve runs the accept loop on a listener prepared by Listen.
func (s *Server) Serve(ctx context.Context, handler ConnHandler) error {
	if handler == nil {
		return errors.New("lineserver: connection handler required")
	}

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("lineserver: Serve called before Listen")
	}

	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if s.isClosed() {
				return ErrServerClosed
			}
			s.logger.Warn().Err(err).Msg("accept error")
			continue
		}

		if !s.track(conn) {
			_ = conn.Close()
			return ErrServerClosed
		}

		go func() {
			defer s.handlers.Done()
			defer s.untrack(conn)
			defer conn.Close()
			handler(ctx, conn)
		}()
	}
}

// StopAccepting closes the listening socket but leaves live connections alone.
func (s *Server) StopAccepting() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug().Err(err).Msg("listener close error")
		}
	}
}

// Shutdown closes the listener and every tracked connection, then waits for
// the handlers to return. Close errors are ignored. It is safe to call more
// than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.StopAccepting()

		s.mu.Lock()
		conns := make([]net.Conn, 0, len(s.conns))
		for c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()

		for _, c := range conns {
			_ = c.Close()
		}
		s.logger.Info().Int("connections", len(conns)).Msg("listener shut down")
	})
	s.handlers.Wait()
}

// ActiveConns returns the number of accepted connections not yet released.
func (s *Server) ActiveConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	// Add under mu so it is ordered before the Wait in Shutdown.
	s.handlers.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
