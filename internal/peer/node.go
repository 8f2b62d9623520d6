// Package peer ties the listener, the outbound dialer and the session
// manager together behind the API a chat front end calls.
package peer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rudransh-shrivastava/peer-chat/internal/directory"
	"github.com/rudransh-shrivastava/peer-chat/internal/protocol"
	"github.com/rudransh-shrivastava/peer-chat/internal/session"
	"github.com/rudransh-shrivastava/peer-chat/internal/transport"
	"github.com/sirupsen/logrus"
)

var (
	ErrPeerNotFound     = errors.New("peer not found")
	ErrPeerOffline      = errors.New("peer offline")
	ErrDirectoryOffline = errors.New("directory offline")
)

type Node struct {
	config    Config
	logger    *logrus.Logger
	transport *transport.Transport
	sessions  *session.Manager

	dial   func(ctx context.Context, addr string) (*transport.Conn, error)
	accept func() (*transport.Conn, error)
}

// New binds the listening socket. Accepting starts with Start.
func New(cfg Config) (*Node, error) {
	if err := protocol.ValidateUsername(cfg.Username); err != nil {
		return nil, err
	}
	if cfg.Directory == nil {
		return nil, errors.New("peer: nil directory")
	}
	if cfg.Codec == nil {
		cfg.Codec = protocol.NewDelimitedCodec()
	}
	if cfg.STUNServer == "" {
		cfg.STUNServer = DefaultSTUNServer
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	tr, err := transport.NewTransport(transport.Config{
		Addr:          cfg.Addr,
		Codec:         cfg.Codec,
		DialTimeout:   cfg.DialTimeout,
		MaxFrameBytes: cfg.MaxFrameBytes,
	})
	if err != nil {
		return nil, err
	}

	mgr, err := session.NewManager(session.Config{
		LocalUser:       cfg.Username,
		Logger:          logger,
		DuplicatePolicy: cfg.DuplicatePolicy,
		EventBuffer:     cfg.EventBuffer,
	})
	if err != nil {
		_ = tr.Close()
		return nil, err
	}

	return &Node{
		config:    cfg,
		logger:    logger,
		transport: tr,
		sessions:  mgr,
		dial:      tr.Dial,
		accept:    tr.Accept,
	}, nil
}

func (n *Node) Username() string {
	return n.config.Username
}

func (n *Node) Addr() string {
	return n.transport.LocalAddr().String()
}

func (n *Node) Register(ctx context.Context) (directory.RegisterResult, error) {
	rec, err := n.AdvertisedRecord(ctx)
	if err != nil {
		return 0, err
	}

	res, err := n.config.Directory.Register(ctx, rec)
	if err != nil {
		if errors.Is(err, directory.ErrInvalidRecord) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", ErrDirectoryOffline, err)
	}

	n.logger.WithFields(logrus.Fields{
		"peer":   rec.Username,
		"remote": rec.HostPort(),
		"result": res.String(),
	}).Info("Registered with directory")
	return res, nil
}

func (n *Node) Peers(ctx context.Context) ([]string, error) {
	names, err := n.config.Directory.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryOffline, err)
	}
	return names, nil
}

func (n *Node) Accept(peer string) error {
	return n.sessions.Accept(peer)
}

func (n *Node) Reject(peer string) error {
	return n.sessions.Reject(peer)
}

func (n *Node) SendMessage(peer, text string) error {
	return n.sessions.SendMessage(peer, text)
}

func (n *Node) SendFile(peer, filename string, payload []byte) error {
	return n.sessions.SendFile(peer, filename, payload)
}

func (n *Node) Close(peer string) error {
	return n.sessions.Close(peer)
}

func (n *Node) Events() <-chan session.Event {
	return n.sessions.Events()
}

func (n *Node) State(peer string) session.State {
	return n.sessions.State(peer)
}

func (n *Node) Sessions() []session.Info {
	return n.sessions.Sessions()
}

// Shutdown stops accepting, closes every session and closes Events.
func (n *Node) Shutdown() error {
	n.logger.Info("Shutting down peer node")
	err := n.transport.Close()
	n.sessions.Shutdown()
	return err
}
