// Package client is the terminal side of the chat protocol: it answers the
// name prompt, relays input lines and prints whatever the server sends.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ledzpl/tcpchat/internal/chat"
)

// DisconnectNotice is printed once the server side of the connection is gone.
const DisconnectNotice = "\n[INFO] 서버와의 연결이 종료되었습니다.\n"

const (
	quitLine   = "/quit"
	closeGrace = 2 * time.Second
)

// Client is an interactive chat client. In supplies typed lines and Out
// receives everything the server sends.
type Client struct {
	Addr string
	Name string

	In  io.Reader
	Out io.Writer

	DialTimeout time.Duration

	logger zerolog.Logger
}

// New returns a client for addr that joins as name.
func New(addr, name string, in io.Reader, out io.Writer, logger zerolog.Logger) *Client {
	return &Client{
		Addr:        addr,
		Name:        name,
		In:          in,
		Out:         out,
		DialTimeout: 5 * time.Second,
		logger:      logger,
	}
}

// Run connects, completes the handshake and relays traffic until the input
// ends, a quit line is typed, the server disconnects or ctx is cancelled. On
// cancellation a quit line is sent before closing.
func (c *Client) Run(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", c.Addr, err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	if err := c.awaitPrompt(reader); err != nil {
		return fmt.Errorf("client: await prompt: %w", err)
	}
	if _, err := io.WriteString(conn, c.Name+"\n"); err != nil {
		return fmt.Errorf("client: send name: %w", err)
	}
	c.logger.Debug().Str("addr", c.Addr).Str("name", c.Name).Msg("handshake sent")

	received := make(chan struct{})
	go func() {
		defer close(received)
		c.receiveLoop(reader)
	}()

	stop := make(chan struct{})
	defer close(stop)
	lines := make(chan string)
	go c.inputLoop(lines, stop)

	err = c.sendLoop(ctx, conn, lines, received)

	// Let the server see our FIN and close first so nothing in flight is reset.
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}
	select {
	case <-received:
	case <-time.After(closeGrace):
	}
	_ = conn.Close()
	<-received
	return err
}

func (c *Client) sendLoop(ctx context.Context, conn net.Conn, lines <-chan string, received <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			c.sendQuit(conn)
			return nil
		case <-received:
			return nil
		case line, ok := <-lines:
			if !ok {
				c.sendQuit(conn)
				return nil
			}
			if line == "" {
				continue
			}
			if _, err := io.WriteString(conn, line+"\n"); err != nil {
				return fmt.Errorf("client: send: %w", err)
			}
			if chat.IsQuit(line) {
				return nil
			}
		}
	}
}

// sendQuit is best-effort; the connection may already be gone.
func (c *Client) sendQuit(conn net.Conn) {
	if _, err := io.WriteString(conn, quitLine+"\n"); err != nil {
		c.logger.Debug().Err(err).Msg("quit not delivered")
	}
}

// awaitPrompt consumes the server's name prompt, which has no trailing
// newline. A newline-terminated reply is a notice (e.g. server full) and is
// shown to the user.
func (c *Client) awaitPrompt(r *bufio.Reader) error {
	buf := make([]byte, 1024)
	n, err := r.Read(buf)
	if err != nil {
		return err
	}
	if n == 0 {
		return io.ErrUnexpectedEOF
	}
	if data := string(buf[:n]); strings.HasSuffix(data, "\n") {
		_, _ = io.WriteString(c.Out, strings.ToValidUTF8(data, "\uFFFD"))
	}
	return nil
}

func (c *Client) receiveLoop(r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			_, _ = io.WriteString(c.Out, strings.ToValidUTF8(line, "\uFFFD"))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug().Err(err).Msg("receive ended")
			}
			break
		}
	}
	_, _ = io.WriteString(c.Out, DisconnectNotice)
}

func (c *Client) inputLoop(lines chan<- string, stop <-chan struct{}) {
	defer close(lines)
	scanner := bufio.NewScanner(c.In)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-stop:
			return
		}
	}
}
