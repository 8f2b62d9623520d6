package transport

import (
	"net"
	"sync"

	"github.com/rudransh-shrivastava/peer-chat/internal/protocol"
)

// Conn is one peer socket. Send may be called from any goroutine; Receive
// must only be called from the single reader goroutine that owns the Conn.
type Conn struct {
	conn   net.Conn
	codec  protocol.Codec
	reader *protocol.Reader

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewConn(c net.Conn, codec protocol.Codec, maxFrame int) *Conn {
	return &Conn{
		conn:   c,
		codec:  codec,
		reader: protocol.NewReader(c, codec, maxFrame),
	}
}

// Send encodes f and writes it with a single blocking write.
func (c *Conn) Send(f protocol.Frame) error {
	data, err := c.codec.Encode(f)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.conn.Write(data)
	return err
}

func (c *Conn) Receive() (protocol.Frame, error) {
	return c.reader.ReadFrame()
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Conn) LocalAddr() string {
	return c.conn.LocalAddr().String()
}

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
