package chat

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledzpl/tcpchat/internal/logging"
)

// recordingConn is an in-memory Conn that captures everything written to it.
type recordingConn struct {
	mu       sync.Mutex
	out      strings.Builder
	in       io.Reader
	writeErr error
	closed   bool
	port     int
}

func (c *recordingConn) Read(p []byte) (int, error) {
	if c.in == nil {
		return 0, io.EOF
	}
	return c.in.Read(p)
}

func (c *recordingConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.out.Write(p)
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: c.port}
}

func (c *recordingConn) SetReadDeadline(time.Time) error  { return nil }
func (c *recordingConn) SetWriteDeadline(time.Time) error { return nil }

func (c *recordingConn) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

func (c *recordingConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *recordingConn) Fail() {
	c.mu.Lock()
	c.writeErr = errors.New("broken pipe")
	c.mu.Unlock()
}

func newTestPeer(t *testing.T) (*Peer, *recordingConn) {
	t.Helper()
	conn := &recordingConn{port: 40000 + int(time.Now().UnixNano()%1000)}
	return newPeer(conn, 0), conn
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	return NewRouter(NewRegistry(), logging.ForTest(t))
}

// testClient speaks the line protocol over a real TCP connection.
type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dialClient(t *testing.T, addr net.Addr, name string) *testClient {
	t.Helper()
	c := dialRaw(t, addr)
	c.expectPrompt()
	c.send(name)
	c.expectLine(welcomeNotice)
	return c
}

func dialRaw(t *testing.T, addr net.Addr) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (c *testClient) expectPrompt() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, len(namePrompt))
	_, err := io.ReadFull(c.reader, buf)
	require.NoError(c.t, err)
	require.Equal(c.t, namePrompt, string(buf))
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := io.WriteString(c.conn, line+"\n")
	require.NoError(c.t, err)
}

func (c *testClient) sendRaw(data string) {
	c.t.Helper()
	_, err := io.WriteString(c.conn, data)
	require.NoError(c.t, err)
}

func (c *testClient) readLine() (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return "", err
	}
	return c.reader.ReadString('\n')
}

func (c *testClient) expectLine(want string) {
	c.t.Helper()
	got, err := c.readLine()
	require.NoError(c.t, err)
	require.Equal(c.t, want, got)
}

// expectSilence asserts nothing arrives within a short window.
func (c *testClient) expectSilence() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	line, err := c.reader.ReadString('\n')
	require.Error(c.t, err, "unexpected line %q", line)
	var netErr net.Error
	require.True(c.t, errors.As(err, &netErr) && netErr.Timeout(), "expected timeout, got %v", err)
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	for {
		_, err := c.readLine()
		if err != nil {
			var netErr net.Error
			require.False(c.t, errors.As(err, &netErr) && netErr.Timeout(), "connection still open")
			return
		}
	}
}
