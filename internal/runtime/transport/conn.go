package transport

import (
	"net"
	"sync"

	"github.com/drblury/tcpflow/internal/runtime/frame"
)

// Conn is one accepted client connection. Writes are serialised so chunks
// of two replies never interleave.
type Conn struct {
	net.Conn

	id        uint64
	chunkSize int

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newConn(id uint64, c net.Conn, chunkSize int) *Conn {
	return &Conn{Conn: c, id: id, chunkSize: chunkSize}
}

func (c *Conn) ID() uint64 { return c.id }

// ClientIP is the host part of the remote address.
func (c *Conn) ClientIP() string {
	addr := c.RemoteAddr()
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// Send writes an encoded packet, split into chunks of at most the
// configured maximum package length.
func (c *Conn) Send(packet []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := frame.WriteChunked(c.Conn, packet, c.chunkSize)
	return err
}

// Close is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}
