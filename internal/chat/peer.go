package chat

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conn is the transport a session runs over. *net.TCPConn satisfies it, as
// does the WebSocket bridge in the gateway package.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Peer is the registry handle for one accepted connection. The owning session
// reads from it; any goroutine may write to it.
type Peer struct {
	ID   string
	Addr string

	conn         Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newPeer(conn Conn, writeTimeout time.Duration) *Peer {
	addr := ""
	if ra := conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	return &Peer{
		ID:           uuid.NewString(),
		Addr:         addr,
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// WriteString writes one outbound message. Writes are serialized per peer so
// lines from concurrent senders never interleave.
func (p *Peer) WriteString(s string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writeTimeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(p.conn, s)
	return err
}

// Close closes the underlying connection; later calls return the first result.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.conn.Close()
	})
	return p.closeErr
}
