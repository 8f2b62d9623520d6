package integration

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-chat/internal/directory"
	"github.com/rudransh-shrivastava/peer-chat/internal/peer"
	"github.com/rudransh-shrivastava/peer-chat/internal/protocol"
	"github.com/rudransh-shrivastava/peer-chat/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAndAccept(t *testing.T, net *Network, from, to *peer.Node) {
	t.Helper()

	if _, err := from.Open(net.Context(), to.Username()); err != nil {
		t.Fatalf("%s failed to open %s: %v", from.Username(), to.Username(), err)
	}
	ev := WaitEvent(t, to, session.EventInboundRequest)
	if ev.Peer != from.Username() {
		t.Fatalf("expected request from %s, got %s", from.Username(), ev.Peer)
	}
	if err := to.Accept(from.Username()); err != nil {
		t.Fatalf("%s failed to accept: %v", to.Username(), err)
	}
	WaitEvent(t, from, session.EventAccepted)
}

func TestOneListenerManySessions(t *testing.T) {
	net := NewNetwork(t)

	alice := net.NewPeer("alice", protocol.WireDelimited)
	bob := net.NewPeer("bob", protocol.WireDelimited)
	carol := net.NewPeer("carol", protocol.WireDelimited)

	openAndAccept(t, net, alice, bob)
	openAndAccept(t, net, carol, bob)

	require.NoError(t, alice.SendMessage("bob", "from alice"))
	ev := WaitEvent(t, bob, session.EventMessage)
	assert.Equal(t, "alice", ev.Peer)
	assert.Equal(t, "from alice", ev.Text)

	require.NoError(t, carol.SendMessage("bob", "from carol"))
	ev = WaitEvent(t, bob, session.EventMessage)
	assert.Equal(t, "carol", ev.Peer)
	assert.Equal(t, "from carol", ev.Text)

	require.NoError(t, bob.SendMessage("carol", "only for carol"))
	ev = WaitEvent(t, carol, session.EventMessage)
	assert.Equal(t, "only for carol", ev.Text)

	require.NoError(t, bob.Close("carol"))
	WaitEvent(t, carol, session.EventClosed)
	assert.Equal(t, session.Closed, bob.State("carol"))
	assert.Equal(t, session.Active, bob.State("alice"))

	payload := []byte("binary\x00payload")
	require.NoError(t, bob.SendFile("alice", "data.bin", payload))
	ev = WaitEvent(t, alice, session.EventFile)
	assert.Equal(t, "data.bin", ev.Filename)
	assert.Equal(t, payload, ev.Payload)
}

func TestFramedWireCarriesTerminator(t *testing.T) {
	net := NewNetwork(t)

	alice := net.NewPeer("alice", protocol.WireFramed)
	bob := net.NewPeer("bob", protocol.WireFramed)
	openAndAccept(t, net, alice, bob)

	text := "a literal " + protocol.Terminator + " inside"
	require.NoError(t, alice.SendMessage("bob", text))
	ev := WaitEvent(t, bob, session.EventMessage)
	assert.Equal(t, text, ev.Text)
}

func TestPeerMovesToNewAddress(t *testing.T) {
	net := NewNetwork(t)

	bob := net.NewPeer("bob", protocol.WireDelimited)
	first := net.NewPeer("alice", protocol.WireDelimited)
	net.StopPeer(first)

	_, err := bob.Open(net.Context(), "alice")
	assert.ErrorIs(t, err, peer.ErrPeerOffline)

	second := net.NewPeer("alice", protocol.WireDelimited)

	openAndAccept(t, net, bob, second)
	require.NoError(t, bob.SendMessage("alice", "found you"))
	assert.Equal(t, "found you", WaitEvent(t, second, session.EventMessage).Text)
}

func TestRegistrationsSurviveServerRestart(t *testing.T) {
	net := NewNetwork(t)

	alice := net.NewPeer("alice", protocol.WireDelimited)
	bob := net.NewPeer("bob", protocol.WireDelimited)

	net.RestartServer()

	names, err := bob.Peers(net.Context())
	require.NoError(t, err)
	slices.Sort(names)
	assert.Equal(t, []string{"alice", "bob"}, names)

	openAndAccept(t, net, bob, alice)
}

func TestUnknownPeerAndDirectoryOutage(t *testing.T) {
	net := NewNetwork(t)
	alice := net.NewPeer("alice", protocol.WireDelimited)

	_, err := alice.Open(net.Context(), "nobody")
	assert.ErrorIs(t, err, peer.ErrPeerNotFound)
	assert.Equal(t, session.Idle, alice.State("nobody"))

	net.stopServer()
	_, err = alice.Open(net.Context(), "bob")
	assert.ErrorIs(t, err, peer.ErrDirectoryOffline)

	// Close still expects a live server.
	net.startServer("127.0.0.1:0")
}

func TestWatchSeesRegistrations(t *testing.T) {
	net := NewNetwork(t)

	ctx, cancel := context.WithTimeout(net.Context(), 5*time.Second)
	defer cancel()

	seen := make(chan []string, 8)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- net.Directory().Watch(ctx, func(peers []string) { seen <- peers })
	}()

	select {
	case initial := <-seen:
		assert.Empty(t, initial)
	case <-ctx.Done():
		t.Fatal("no initial peer list")
	}

	net.NewPeer("alice", protocol.WireDelimited)

	select {
	case peers := <-seen:
		assert.Equal(t, []string{"alice"}, peers)
	case <-ctx.Done():
		t.Fatal("registration was not pushed to the watcher")
	}

	cancel()
	err := <-watchErr
	if err != nil && !errors.Is(err, directory.ErrServiceUnavailable) {
		t.Errorf("unexpected watch error: %v", err)
	}
}
