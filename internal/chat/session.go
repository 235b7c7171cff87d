package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ledzpl/tcpchat/internal/metrics"
)

// State is a session's position in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateHandshake
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshake:
		return "handshake"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var errQuit = errors.New("client quit")

// Options tune per-session behaviour.
type Options struct {
	// MaxLineBytes bounds one inbound line; 0 means 4096.
	MaxLineBytes int

	// WriteTimeout bounds every outbound write. Broadcasts write to peers in
	// turn on the sender's goroutine, so with 0 (no deadline) a peer that
	// stops reading stalls its senders indefinitely. config.Validate refuses
	// 0; only tests with in-memory conns should leave it unset.
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration

	// MaxSessions caps connections from accept to close; 0 is unlimited.
	MaxSessions int

	RatePerSecond float64
	RateBurst     int
}

type session struct {
	router *Router
	opts   Options
	logger zerolog.Logger

	peer    *Peer
	scanner *bufio.Scanner
	limiter *rate.Limiter

	name       string
	registered bool
	state      atomic.Int32

	cleanup sync.Once
}

func newSession(router *Router, conn Conn, opts Options, logger zerolog.Logger) *session {
	peer := newPeer(conn, opts.WriteTimeout)

	maxLine := opts.MaxLineBytes
	if maxLine <= 0 {
		maxLine = 4096
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(maxLine, 4096)), maxLine)

	s := &session{
		router:  router,
		opts:    opts,
		logger:  logger.With().Str("peer", peer.ID).Str("addr", peer.Addr).Logger(),
		peer:    peer,
		scanner: scanner,
	}
	if opts.RatePerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), max(opts.RateBurst, 1))
	}
	return s
}

func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) setState(st State) {
	s.state.Store(int32(st))
}

// run drives the session until the peer leaves or ctx is cancelled.
func (s *session) run(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { _ = s.peer.Close() })
	defer stop()
	defer s.close()

	if err := s.handshake(); err != nil {
		s.logClose(err)
		return
	}
	s.logClose(s.readLoop())
}

func (s *session) handshake() error {
	s.setState(StateHandshake)

	if err := s.peer.WriteString(namePrompt); err != nil {
		return fmt.Errorf("send prompt: %w", err)
	}

	if t := s.opts.HandshakeTimeout; t > 0 {
		if err := s.peer.conn.SetReadDeadline(time.Now().Add(t)); err != nil {
			return fmt.Errorf("set handshake deadline: %w", err)
		}
	}
	line, err := s.readLine()
	if err != nil {
		return fmt.Errorf("read name: %w", err)
	}
	if s.opts.HandshakeTimeout > 0 {
		if err := s.peer.conn.SetReadDeadline(time.Time{}); err != nil {
			return fmt.Errorf("clear handshake deadline: %w", err)
		}
	}

	s.name = strings.TrimSpace(line)
	if s.name == "" {
		s.name = placeholderName(s.peer.Addr)
	}

	s.router.Registry().Join(s.peer, s.name)
	s.registered = true
	s.setState(StateActive)
	metrics.SessionJoined()
	s.logger = s.logger.With().Str("name", s.name).Logger()
	s.logger.Info().Msg("session joined")

	s.router.Broadcast(joinNotice(s.name), s.peer)
	metrics.MessageRouted(metrics.KindSystem)

	if err := s.peer.WriteString(welcomeNotice); err != nil {
		return fmt.Errorf("send welcome: %w", err)
	}
	return nil
}

func (s *session) readLoop() error {
	for {
		line, err := s.readLine()
		if err != nil {
			return err
		}
		if err := s.dispatch(ParseCommand(line)); err != nil {
			return err
		}
	}
}

// dispatch applies one parsed line. A returned error ends the session.
func (s *session) dispatch(cmd Command) error {
	switch cmd.Kind {
	case CommandEmpty:
		return nil
	case CommandQuit:
		return errQuit
	}

	if s.limiter != nil && !s.limiter.Allow() {
		metrics.LineRateLimited()
		s.logger.Debug().Str("kind", cmd.Kind.String()).Msg("line rate limited")
		return s.peer.WriteString(rateLimitedMsg)
	}

	switch cmd.Kind {
	case CommandMalformedWhisper:
		return s.peer.WriteString(whisperUsage)
	case CommandWhisper:
		return s.router.Whisper(s.peer, s.name, cmd.Target, cmd.Text)
	default:
		s.router.Broadcast(chatLine(s.name, cmd.Text), s.peer)
		metrics.MessageRouted(metrics.KindBroadcast)
		return nil
	}
}

// readLine returns the next newline-terminated line with invalid UTF-8
// replaced by U+FFFD.
func (s *session) readLine() (string, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.ToValidUTF8(s.scanner.Text(), "\uFFFD"), nil
}

func (s *session) close() {
	s.cleanup.Do(func() {
		s.setState(StateClosing)
		if s.registered {
			s.router.Remove(s.peer)
		} else {
			_ = s.peer.Close()
		}
		s.setState(StateClosed)
	})
}

func (s *session) logClose(err error) {
	switch {
	case err == nil, errors.Is(err, errQuit):
		s.logger.Debug().Msg("session quit")
	case isExpectedCloseError(err):
		s.logger.Debug().Err(err).Msg("session disconnected")
	default:
		s.logger.Warn().Err(err).Msg("session ended with error")
	}
}

func isExpectedCloseError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
