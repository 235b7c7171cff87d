package gateway

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn presents a WebSocket as a newline-delimited byte stream so the chat
// session handler can run over it unchanged. Each inbound text frame is one
// line; each outbound write becomes one text frame.
type wsConn struct {
	ws *websocket.Conn

	frame          io.Reader
	pendingNewline bool
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if c.pendingNewline {
		c.pendingNewline = false
		p[0] = '\n'
		return 1, nil
	}

	for {
		if c.frame == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				return 0, normalizeReadError(err)
			}
			if mt != websocket.TextMessage {
				continue
			}
			c.frame = r
		}

		n, err := c.frame.Read(p)
		if errors.Is(err, io.EOF) {
			c.frame = nil
			if n < len(p) {
				p[n] = '\n'
				return n + 1, nil
			}
			c.pendingNewline = true
			return n, nil
		}
		if err != nil {
			return n, normalizeReadError(err)
		}
		if n > 0 {
			return n, nil
		}
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.ws.Close()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

// normalizeReadError maps orderly WebSocket closes onto io.EOF.
func normalizeReadError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	return err
}
