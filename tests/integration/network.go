// Package integration runs rendezvous servers and peer nodes together on
// loopback sockets.
package integration

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-chat/internal/db"
	"github.com/rudransh-shrivastava/peer-chat/internal/directory"
	"github.com/rudransh-shrivastava/peer-chat/internal/logger"
	"github.com/rudransh-shrivastava/peer-chat/internal/peer"
	"github.com/rudransh-shrivastava/peer-chat/internal/protocol"
	"github.com/rudransh-shrivastava/peer-chat/internal/session"
	"github.com/rudransh-shrivastava/peer-chat/internal/store"
)

const eventTimeout = 5 * time.Second

// Network is a rendezvous server backed by a SQLite file plus the peers
// started against it.
type Network struct {
	t      *testing.T
	ctx    context.Context
	cancel context.CancelFunc
	dsn    string

	server     *directory.Server
	serverDone chan error
	registry   *store.SQLStore

	mu    sync.Mutex
	peers []*runningPeer
}

type runningPeer struct {
	node *peer.Node
	stop context.CancelFunc
	done chan error
}

func NewNetwork(t *testing.T) *Network {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	n := &Network{
		t:      t,
		ctx:    ctx,
		cancel: cancel,
		dsn:    filepath.Join(t.TempDir(), "rendezvous.sqlite3"),
	}
	n.startServer("127.0.0.1:0")
	t.Cleanup(n.Close)
	return n
}

func (n *Network) startServer(addr string) {
	n.t.Helper()

	gdb, err := db.Open(n.dsn)
	if err != nil {
		n.t.Fatalf("Failed to open database: %v", err)
	}
	n.registry = store.NewSQLStore(gdb)

	srv, err := directory.NewServer(directory.Config{
		Addr:     addr,
		Logger:   logger.Discard(),
		Registry: n.registry,
	})
	if err != nil {
		n.t.Fatalf("Failed to create rendezvous server: %v", err)
	}

	n.server = srv
	n.serverDone = make(chan error, 1)
	go func() { n.serverDone <- srv.Start(n.ctx) }()
}

func (n *Network) stopServer() {
	_ = n.server.Shutdown()
	if err := <-n.serverDone; err != nil {
		n.t.Errorf("Rendezvous server error: %v", err)
	}
	_ = n.registry.Close()
}

// RestartServer stops the rendezvous server and starts a new one on the
// same address over the same database file.
func (n *Network) RestartServer() {
	n.t.Helper()
	addr := n.server.Addr()
	n.stopServer()
	n.startServer(addr)
}

func (n *Network) DirectoryURL() string {
	return "http://" + n.server.Addr()
}

func (n *Network) Directory() *directory.Client {
	return directory.NewClient(n.DirectoryURL(), nil)
}

func (n *Network) Context() context.Context {
	return n.ctx
}

// NewPeer starts a listening node and registers it.
func (n *Network) NewPeer(username, wire string) *peer.Node {
	n.t.Helper()

	codec, err := protocol.NewCodec(wire)
	if err != nil {
		n.t.Fatalf("Invalid wire format: %v", err)
	}

	node, err := peer.New(peer.Config{
		Username:  username,
		Addr:      "127.0.0.1:0",
		Directory: n.Directory(),
		Codec:     codec,
		Logger:    logger.Discard(),
	})
	if err != nil {
		n.t.Fatalf("Failed to create peer %s: %v", username, err)
	}

	ctx, stop := context.WithCancel(n.ctx)
	rp := &runningPeer{node: node, stop: stop, done: make(chan error, 1)}
	go func() { rp.done <- node.Start(ctx) }()

	if _, err := node.Register(n.ctx); err != nil {
		n.t.Fatalf("Failed to register %s: %v", username, err)
	}

	n.mu.Lock()
	n.peers = append(n.peers, rp)
	n.mu.Unlock()
	return node
}

// StopPeer shuts a node down and waits for its listener to exit.
func (n *Network) StopPeer(node *peer.Node) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, rp := range n.peers {
		if rp.node != node {
			continue
		}
		rp.stop()
		<-rp.done
		_ = rp.node.Shutdown()
		n.peers = append(n.peers[:i], n.peers[i+1:]...)
		return
	}
}

func (n *Network) Close() {
	n.mu.Lock()
	peers := n.peers
	n.peers = nil
	n.mu.Unlock()

	for _, rp := range peers {
		rp.stop()
		<-rp.done
		_ = rp.node.Shutdown()
	}
	n.stopServer()
	n.cancel()
}

// WaitEvent returns the next event of node and fails unless it has type want.
func WaitEvent(t *testing.T, node *peer.Node, want session.EventType) session.Event {
	t.Helper()
	select {
	case ev, ok := <-node.Events():
		if !ok {
			t.Fatalf("%s: event channel closed", node.Username())
		}
		if ev.Type != want {
			t.Fatalf("%s: expected %s event, got %s from %s", node.Username(), want, ev.Type, ev.Peer)
		}
		return ev
	case <-time.After(eventTimeout):
		t.Fatalf("%s: timeout waiting for %s event", node.Username(), want)
	}
	return session.Event{}
}
