package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rudransh-shrivastava/peer-chat/internal/protocol"
)

var ErrClosed = errors.New("transport closed")

type Config struct {
	Addr  string
	Codec protocol.Codec
	// DialTimeout bounds outbound connects. Zero waits for the OS.
	DialTimeout time.Duration
	// MaxFrameBytes caps a buffered, unterminated frame. Zero is unlimited.
	MaxFrameBytes int
}

// Transport owns one listening TCP socket and dials outbound connections
// that speak the same codec.
type Transport struct {
	config   Config
	listener net.Listener
	dialer   net.Dialer
}

func NewTransport(cfg Config) (*Transport, error) {
	if cfg.Codec == nil {
		cfg.Codec = protocol.NewDelimitedCodec()
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	return &Transport{
		config:   cfg,
		listener: ln,
		dialer:   net.Dialer{Timeout: cfg.DialTimeout},
	}, nil
}

func (t *Transport) LocalAddr() net.Addr {
	return t.listener.Addr()
}

func (t *Transport) Codec() protocol.Codec {
	return t.config.Codec
}

// Accept blocks until a peer connects or the transport is closed.
func (t *Transport) Accept() (*Conn, error) {
	c, err := t.listener.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return NewConn(c, t.config.Codec, t.config.MaxFrameBytes), nil
}

func (t *Transport) Dial(ctx context.Context, addr string) (*Conn, error) {
	c, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewConn(c, t.config.Codec, t.config.MaxFrameBytes), nil
}

func (t *Transport) Close() error {
	err := t.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
