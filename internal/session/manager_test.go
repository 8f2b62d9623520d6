package session

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rudransh-shrivastava/peer-chat/internal/logger"
	"github.com/rudransh-shrivastava/peer-chat/internal/protocol"
	"github.com/rudransh-shrivastava/peer-chat/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipe is a loopback TCP connection. local is handed to the manager; the
// test plays the remote peer through remote (framed) or raw (bytes).
type pipe struct {
	local  *transport.Conn
	remote *transport.Conn
	raw    net.Conn
}

func newPipe(t *testing.T) *pipe {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer func() { _ = ln.Close() }()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	_ = raw.SetDeadline(time.Now().Add(10 * time.Second))

	local, ok := <-accepted
	if !ok {
		t.Fatal("Accept failed")
	}

	codec := protocol.NewDelimitedCodec()
	p := &pipe{
		local:  transport.NewConn(local, codec, 0),
		remote: transport.NewConn(raw, codec, 0),
		raw:    raw,
	}
	t.Cleanup(func() {
		_ = p.local.Close()
		_ = p.remote.Close()
	})
	return p
}

func (p *pipe) send(t *testing.T, f protocol.Frame) {
	t.Helper()
	if err := p.remote.Send(f); err != nil {
		t.Fatalf("Remote send %s failed: %v", f.Type(), err)
	}
}

func (p *pipe) expectFrame(t *testing.T, want protocol.Frame) {
	t.Helper()
	got, err := p.remote.Receive()
	if err != nil {
		t.Fatalf("Remote receive failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Frame mismatch (-want +got):\n%s", diff)
	}
}

func (p *pipe) expectEOF(t *testing.T) {
	t.Helper()
	f, err := p.remote.Receive()
	if !errors.Is(err, io.EOF) {
		t.Errorf("Expected EOF, got frame=%v err=%v", f, err)
	}
}

func newTestManager(t *testing.T, policy DuplicatePolicy) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		LocalUser:       "alice",
		Logger:          logger.Discard(),
		DuplicatePolicy: policy,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(m.Shutdown)
	return m
}

func nextEvent(t *testing.T, m *Manager) Event {
	t.Helper()
	select {
	case ev, ok := <-m.Events():
		if !ok {
			t.Fatal("Event channel closed")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for event")
	}
	return Event{}
}

func drainEvents(t *testing.T, m *Manager) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-m.Events():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("Event channel not closed")
		}
	}
}

func expectEvent(t *testing.T, m *Manager, want Event) Event {
	t.Helper()
	got := nextEvent(t, m)
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Event{}, "SessionID")); diff != "" {
		t.Errorf("Event mismatch (-want +got):\n%s", diff)
	}
	return got
}

// activeInbound drives an inbound session for bob up to Active.
func activeInbound(t *testing.T, m *Manager) *pipe {
	t.Helper()
	p := newPipe(t)
	require.NoError(t, m.Serve(p.local))

	p.send(t, protocol.ConnectRequest{Username: "bob"})
	expectEvent(t, m, Event{Type: EventInboundRequest, Peer: "bob"})
	require.NoError(t, m.Accept("bob"))
	p.expectFrame(t, protocol.Accepted{Username: "alice"})
	return p
}

func TestNewManagerValidatesLocalUser(t *testing.T) {
	_, err := NewManager(Config{LocalUser: "a,b"})
	assert.ErrorIs(t, err, protocol.ErrInvalidUsername)
}

func TestManagerInboundFlow(t *testing.T) {
	m := newTestManager(t, RejectDuplicate)
	p := newPipe(t)

	if err := m.Serve(p.local); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}

	p.send(t, protocol.ConnectRequest{Username: "bob"})
	req := expectEvent(t, m, Event{Type: EventInboundRequest, Peer: "bob"})
	assert.Equal(t, PendingLocalDecision, m.State("bob"))

	info, ok := m.Session("bob")
	require.True(t, ok)
	assert.Equal(t, req.SessionID, info.ID)
	assert.Equal(t, Inbound, info.Direction)

	require.NoError(t, m.Accept("bob"))
	p.expectFrame(t, protocol.Accepted{Username: "alice"})
	assert.Equal(t, Active, m.State("bob"))

	p.send(t, protocol.ChatMessage{Username: "bob", Text: "hello"})
	expectEvent(t, m, Event{Type: EventMessage, Peer: "bob", Text: "hello"})

	p.send(t, protocol.FileTransfer{Username: "bob", Filename: "a.txt", Payload: []byte("contents")})
	expectEvent(t, m, Event{Type: EventFile, Peer: "bob", Filename: "a.txt", Payload: []byte("contents")})

	require.NoError(t, m.SendMessage("bob", "hi bob"))
	p.expectFrame(t, protocol.ChatMessage{Username: "alice", Text: "hi bob"})

	require.NoError(t, m.SendFile("bob", "b.bin", []byte{1, 2, 3}))
	p.expectFrame(t, protocol.FileTransfer{Username: "alice", Filename: "b.bin", Payload: []byte{1, 2, 3}})

	p.send(t, protocol.Closed{Username: "bob"})
	expectEvent(t, m, Event{Type: EventClosed, Peer: "bob"})
	assert.Equal(t, Closed, m.State("bob"))
	p.expectEOF(t)
}

func TestManagerOutboundFlow(t *testing.T) {
	m := newTestManager(t, RejectDuplicate)
	p := newPipe(t)

	info, err := m.StartOutbound("bob", p.local)
	if err != nil {
		t.Fatalf("StartOutbound failed: %v", err)
	}
	assert.Equal(t, Outbound, info.Direction)
	assert.Equal(t, AwaitingPeerAccept, info.State)

	p.expectFrame(t, protocol.ConnectRequest{Username: "alice"})
	assert.Equal(t, AwaitingPeerAccept, m.State("bob"))

	err = m.SendMessage("bob", "too early")
	assert.ErrorIs(t, err, ErrInvalidState)

	p.send(t, protocol.Accepted{Username: "bob"})
	expectEvent(t, m, Event{Type: EventAccepted, Peer: "bob"})
	assert.Equal(t, Active, m.State("bob"))

	require.NoError(t, m.Close("bob"))
	p.expectFrame(t, protocol.Closed{Username: "alice"})
	p.expectEOF(t)
	assert.Equal(t, Closed, m.State("bob"))

	require.NoError(t, m.Close("bob"), "closing twice is a no-op")
}

func TestManagerRejectSendsNothing(t *testing.T) {
	m := newTestManager(t, RejectDuplicate)
	p := newPipe(t)
	require.NoError(t, m.Serve(p.local))

	p.send(t, protocol.ConnectRequest{Username: "bob"})
	expectEvent(t, m, Event{Type: EventInboundRequest, Peer: "bob"})

	require.NoError(t, m.Reject("bob"))
	p.expectEOF(t)
	assert.Equal(t, Closed, m.State("bob"))

	assert.ErrorIs(t, m.Accept("bob"), ErrInvalidState)
}

func TestManagerMalformedFrameLeavesStateUnchanged(t *testing.T) {
	m := newTestManager(t, RejectDuplicate)
	p := activeInbound(t, m)

	if _, err := p.raw.Write([]byte("<bob,dance<EOF>>garbage<EOF>>")); err != nil {
		t.Fatalf("Raw write failed: %v", err)
	}
	p.send(t, protocol.ChatMessage{Username: "bob", Text: "still here"})

	expectEvent(t, m, Event{Type: EventMessage, Peer: "bob", Text: "still here"})
	assert.Equal(t, Active, m.State("bob"))
}

func TestManagerProtocolViolationsAreDropped(t *testing.T) {
	m := newTestManager(t, RejectDuplicate)
	p := newPipe(t)
	require.NoError(t, m.Serve(p.local))

	p.send(t, protocol.ChatMessage{Username: "bob", Text: "before connect"})
	p.send(t, protocol.Closed{Username: "nobody"})
	p.send(t, protocol.ConnectRequest{Username: "bob"})
	expectEvent(t, m, Event{Type: EventInboundRequest, Peer: "bob"})

	p.send(t, protocol.ChatMessage{Username: "bob", Text: "before accept"})
	p.send(t, protocol.FileTransfer{Username: "bob", Filename: "early.txt", Payload: []byte("x")})
	p.send(t, protocol.Accepted{Username: "bob"})
	p.send(t, protocol.ConnectRequest{Username: "carol"})
	assert.Equal(t, PendingLocalDecision, m.State("bob"))

	p.send(t, protocol.Closed{Username: "bob"})
	expectEvent(t, m, Event{Type: EventClosed, Peer: "bob"})
	assert.Equal(t, Idle, m.State("carol"))
}

func TestManagerViolationsInActiveState(t *testing.T) {
	m := newTestManager(t, RejectDuplicate)
	p := activeInbound(t, m)

	p.send(t, protocol.Accepted{Username: "bob"})
	p.send(t, protocol.ConnectRequest{Username: "bob"})
	p.send(t, protocol.ConnectRequest{Username: "carol"})
	p.send(t, protocol.ChatMessage{Username: "bob", Text: "after violations"})

	expectEvent(t, m, Event{Type: EventMessage, Peer: "bob", Text: "after violations"})
	assert.Equal(t, Active, m.State("bob"))
	assert.Equal(t, Idle, m.State("carol"))
}

func TestManagerDuplicateConnectRejected(t *testing.T) {
	m := newTestManager(t, RejectDuplicate)
	activeInbound(t, m)
	original, _ := m.Session("bob")

	second := newPipe(t)
	require.NoError(t, m.Serve(second.local))
	second.send(t, protocol.ConnectRequest{Username: "bob"})
	second.send(t, protocol.ConnectRequest{Username: "dave"})

	expectEvent(t, m, Event{Type: EventInboundRequest, Peer: "dave"})

	current, _ := m.Session("bob")
	assert.Equal(t, original.ID, current.ID)
	assert.Equal(t, Active, current.State)
}

func TestManagerReplaceOnReconnect(t *testing.T) {
	m := newTestManager(t, ReplaceOnReconnect)
	first := activeInbound(t, m)
	original, _ := m.Session("bob")

	second := newPipe(t)
	require.NoError(t, m.Serve(second.local))
	second.send(t, protocol.ConnectRequest{Username: "bob"})

	closed := expectEvent(t, m, Event{Type: EventClosed, Peer: "bob"})
	assert.Equal(t, original.ID, closed.SessionID)

	req := expectEvent(t, m, Event{Type: EventInboundRequest, Peer: "bob"})
	assert.NotEqual(t, original.ID, req.SessionID)
	assert.Equal(t, PendingLocalDecision, m.State("bob"))

	first.expectEOF(t)
}

func TestManagerEOFIsImplicitClose(t *testing.T) {
	m := newTestManager(t, RejectDuplicate)
	p := activeInbound(t, m)

	_ = p.raw.Close()

	expectEvent(t, m, Event{Type: EventClosed, Peer: "bob"})
	assert.Equal(t, Closed, m.State("bob"))

	err := m.SendMessage("bob", "anyone?")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestManagerAcceptOnSeparateConnection(t *testing.T) {
	m := newTestManager(t, RejectDuplicate)
	out := newPipe(t)

	_, err := m.StartOutbound("bob", out.local)
	require.NoError(t, err)
	out.expectFrame(t, protocol.ConnectRequest{Username: "alice"})

	back := newPipe(t)
	require.NoError(t, m.Serve(back.local))
	back.send(t, protocol.Accepted{Username: "bob"})

	expectEvent(t, m, Event{Type: EventAccepted, Peer: "bob"})
	assert.Equal(t, Active, m.State("bob"))

	back.send(t, protocol.ChatMessage{Username: "bob", Text: "via second socket"})
	expectEvent(t, m, Event{Type: EventMessage, Peer: "bob", Text: "via second socket"})

	require.NoError(t, m.SendMessage("bob", "reply"))
	out.expectFrame(t, protocol.ChatMessage{Username: "alice", Text: "reply"})
}

func TestManagerStartOutboundExistingSession(t *testing.T) {
	m := newTestManager(t, RejectDuplicate)
	activeInbound(t, m)

	p := newPipe(t)
	_, err := m.StartOutbound("bob", p.local)
	assert.ErrorIs(t, err, ErrSessionExists)
	p.expectEOF(t)
}

func TestManagerLocalOperationErrors(t *testing.T) {
	m := newTestManager(t, RejectDuplicate)

	assert.ErrorIs(t, m.Accept("ghost"), ErrNoSession)
	assert.ErrorIs(t, m.Reject("ghost"), ErrNoSession)
	assert.ErrorIs(t, m.SendMessage("ghost", "x"), ErrNoSession)
	assert.ErrorIs(t, m.Close("ghost"), ErrNoSession)
	assert.ErrorIs(t, m.SendFile("ghost", "", nil), protocol.ErrInvalidFilename)

	activeInbound(t, m)
	assert.ErrorIs(t, m.Accept("bob"), ErrInvalidState)
	assert.ErrorIs(t, m.Reject("bob"), ErrInvalidState)
}

func TestManagerShutdown(t *testing.T) {
	m := newTestManager(t, RejectDuplicate)
	p := activeInbound(t, m)

	m.Shutdown()

	p.expectFrame(t, protocol.Closed{Username: "alice"})
	p.expectEOF(t)
	drainEvents(t, m)

	late := newPipe(t)
	assert.ErrorIs(t, m.Serve(late.local), ErrManagerClosed)
	_, err := m.StartOutbound("carol", late.local)
	assert.ErrorIs(t, err, ErrManagerClosed)
	assert.ErrorIs(t, m.SendMessage("bob", "x"), ErrManagerClosed)
	assert.Len(t, m.Sessions(), 1)
}

func TestParseDuplicatePolicy(t *testing.T) {
	p, err := ParseDuplicatePolicy("")
	require.NoError(t, err)
	assert.Equal(t, RejectDuplicate, p)

	p, err = ParseDuplicatePolicy("replace")
	require.NoError(t, err)
	assert.Equal(t, ReplaceOnReconnect, p)
	assert.Equal(t, "replace", p.String())

	_, err = ParseDuplicatePolicy("merge")
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "PENDING_LOCAL_DECISION", PendingLocalDecision.String())
	assert.Equal(t, "INBOUND", Inbound.String())
	assert.Equal(t, "file", EventFile.String())
}
