// Package session runs the per-peer connection state machine and reports
// what happens on each session through a typed event channel.
package session

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-chat/internal/protocol"
	"github.com/sirupsen/logrus"
)

var (
	ErrSessionExists     = errors.New("session already exists")
	ErrNoSession         = errors.New("no session for peer")
	ErrInvalidState      = errors.New("operation not valid in session state")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrManagerClosed     = errors.New("session manager closed")
)

const defaultEventBuffer = 64

// Conn is a framed, bidirectional peer connection.
type Conn interface {
	Send(f protocol.Frame) error
	Receive() (protocol.Frame, error)
	Close() error
	RemoteAddr() string
}

type Config struct {
	LocalUser       string
	Logger          *logrus.Logger
	DuplicatePolicy DuplicatePolicy
	EventBuffer     int
}

type session struct {
	id        string
	peer      string
	direction Direction
	conn      Conn
	state     State
	createdAt time.Time

	// sendMu orders a state check with the write that depends on it.
	sendMu sync.Mutex
}

func newSession(peer string, dir Direction, conn Conn, state State) *session {
	return &session{
		id:        uuid.NewString(),
		peer:      peer,
		direction: dir,
		conn:      conn,
		state:     state,
		createdAt: time.Now(),
	}
}

func (s *session) info() Info {
	return Info{
		ID:         s.id,
		Peer:       s.peer,
		Direction:  s.direction,
		State:      s.state,
		RemoteAddr: s.conn.RemoteAddr(),
		CreatedAt:  s.createdAt,
	}
}

// Manager holds at most one session per peer username. Frames are routed by
// the username they carry, so a peer may answer on a different connection
// than the one that carried the handshake.
type Manager struct {
	config Config
	logger *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*session
	conns    map[Conn]*session
	closed   bool

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewManager(cfg Config) (*Manager, error) {
	if err := protocol.ValidateUsername(cfg.LocalUser); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = defaultEventBuffer
	}

	return &Manager{
		config:   cfg,
		logger:   logger,
		sessions: make(map[string]*session),
		conns:    make(map[Conn]*session),
		events:   make(chan Event, buf),
		done:     make(chan struct{}),
	}, nil
}

func (m *Manager) LocalUser() string {
	return m.config.LocalUser
}

// Events is closed after Shutdown once every reader has stopped.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// StartOutbound takes ownership of conn, sends the handshake and starts
// reading. On error conn is closed and no session remains.
func (m *Manager) StartOutbound(peer string, conn Conn) (Info, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return Info{}, ErrManagerClosed
	}
	if existing, ok := m.sessions[peer]; ok && existing.state != Closed {
		state := existing.state
		m.mu.Unlock()
		_ = conn.Close()
		return Info{}, fmt.Errorf("%w: %s is %s", ErrSessionExists, peer, state)
	}

	s := newSession(peer, Outbound, conn, AwaitingPeerAccept)
	m.sessions[peer] = s
	m.conns[conn] = s
	info := s.info()
	m.wg.Add(1)
	m.mu.Unlock()

	go m.readLoop(conn)

	if err := conn.Send(protocol.ConnectRequest{Username: m.config.LocalUser}); err != nil {
		m.mu.Lock()
		m.closeLocked(s)
		m.mu.Unlock()
		_ = conn.Close()
		return Info{}, fmt.Errorf("sending handshake to %s: %w", peer, err)
	}

	m.logger.WithFields(logrus.Fields{
		"peer":    peer,
		"session": info.ID,
		"remote":  info.RemoteAddr,
	}).Info("Handshake sent")
	return info, nil
}

// Serve takes ownership of an accepted connection and reads it until EOF.
func (m *Manager) Serve(conn Conn) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrManagerClosed
	}
	m.conns[conn] = nil
	m.wg.Add(1)
	m.mu.Unlock()

	go m.readLoop(conn)
	return nil
}

func (m *Manager) Accept(peer string) error {
	s, err := m.get(peer)
	if err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	m.mu.Lock()
	if m.sessions[peer] != s || s.state != PendingLocalDecision {
		state := s.state
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot accept %s in %s", ErrInvalidState, peer, state)
	}
	s.state = Active
	m.mu.Unlock()

	if err := s.conn.Send(protocol.Accepted{Username: m.config.LocalUser}); err != nil {
		_ = s.conn.Close()
		return fmt.Errorf("sending accept to %s: %w", peer, err)
	}

	m.logger.WithFields(logrus.Fields{"peer": peer, "session": s.id}).Info("Session accepted")
	return nil
}

// Reject closes a pending inbound session without sending anything.
func (m *Manager) Reject(peer string) error {
	s, err := m.get(peer)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.sessions[peer] != s || s.state != PendingLocalDecision {
		state := s.state
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot reject %s in %s", ErrInvalidState, peer, state)
	}
	m.closeLocked(s)
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{"peer": peer, "session": s.id}).Info("Session rejected")
	return s.conn.Close()
}

func (m *Manager) SendMessage(peer, text string) error {
	return m.sendActive(peer, protocol.ChatMessage{Username: m.config.LocalUser, Text: text})
}

func (m *Manager) SendFile(peer, filename string, payload []byte) error {
	if err := protocol.ValidateFilename(filename); err != nil {
		return err
	}
	return m.sendActive(peer, protocol.FileTransfer{
		Username: m.config.LocalUser,
		Filename: filename,
		Payload:  payload,
	})
}

// Close ends the session from any state, telling the peer when possible.
// Closing a closed session is a no-op.
func (m *Manager) Close(peer string) error {
	s, err := m.get(peer)
	if err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	m.mu.Lock()
	if m.sessions[peer] != s || s.state == Closed {
		m.mu.Unlock()
		return nil
	}
	m.closeLocked(s)
	m.mu.Unlock()

	if err := s.conn.Send(protocol.Closed{Username: m.config.LocalUser}); err != nil {
		m.logger.WithFields(logrus.Fields{"peer": peer, "error": err}).Debug("Closed frame not delivered")
	}

	m.logger.WithFields(logrus.Fields{"peer": peer, "session": s.id}).Info("Session closed locally")
	_ = s.conn.Close()
	return nil
}

// State reports Idle when no session for peer was ever started.
func (m *Manager) State(peer string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[peer]; ok {
		return s.state
	}
	return Idle
}

func (m *Manager) Session(peer string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[peer]
	if !ok {
		return Info{}, false
	}
	return s.info(), true
}

func (m *Manager) Sessions() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// Shutdown closes every connection, waits for the readers to stop and then
// closes the event channel.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true

	var notify []Conn
	for _, s := range m.sessions {
		if s.state == Active || s.state == AwaitingPeerAccept {
			notify = append(notify, s.conn)
		}
		s.state = Closed
	}

	conns := make([]Conn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	close(m.done)

	for _, c := range notify {
		_ = c.Send(protocol.Closed{Username: m.config.LocalUser})
	}
	for _, c := range conns {
		_ = c.Close()
	}

	m.wg.Wait()
	close(m.events)
}

func (m *Manager) get(peer string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	s, ok := m.sessions[peer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, peer)
	}
	return s, nil
}

func (m *Manager) sendActive(peer string, f protocol.Frame) error {
	s, err := m.get(peer)
	if err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	m.mu.Lock()
	state := s.state
	current := m.sessions[peer] == s
	m.mu.Unlock()

	if !current || state != Active {
		return fmt.Errorf("%w: cannot send %s to %s in %s", ErrInvalidState, f.Type(), peer, state)
	}

	if err := s.conn.Send(f); err != nil {
		_ = s.conn.Close()
		return fmt.Errorf("sending %s to %s: %w", f.Type(), peer, err)
	}
	return nil
}

// closeLocked moves s to its terminal state. The closed session stays in the
// table until a new session for the same peer replaces it. The caller closes
// the connection after releasing mu.
func (m *Manager) closeLocked(s *session) {
	s.state = Closed
}

func (m *Manager) emit(ev Event) {
	select {
	case <-m.done:
		return
	default:
	}

	select {
	case m.events <- ev:
	case <-m.done:
	}
}

func (m *Manager) readLoop(conn Conn) {
	defer m.wg.Done()

	log := m.logger.WithField("remote", conn.RemoteAddr())
	for {
		f, err := conn.Receive()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				log.WithField("error", err).Warn("Dropped malformed frame")
				continue
			}
			if !errors.Is(err, io.EOF) {
				log.WithField("error", err).Debug("Connection read ended")
			}
			m.connGone(conn)
			return
		}

		log.WithFields(logrus.Fields{"peer": f.Peer(), "frame": f.Type().String()}).Debug("Received frame")
		m.dispatch(conn, f)
	}
}

// connGone is the implicit Closed transition for the session a connection
// owned.
func (m *Manager) connGone(conn Conn) {
	m.mu.Lock()
	s := m.conns[conn]
	delete(m.conns, conn)

	var ev *Event
	if s != nil && s.state != Closed {
		m.closeLocked(s)
		ev = &Event{Type: EventClosed, Peer: s.peer, SessionID: s.id}
	}
	m.mu.Unlock()

	_ = conn.Close()

	if ev != nil {
		m.logger.WithFields(logrus.Fields{"peer": s.peer, "session": s.id}).Info("Peer connection ended")
		m.emit(*ev)
	}
}

type outcome struct {
	events []Event
	close  []Conn
}

func (m *Manager) dispatch(conn Conn, f protocol.Frame) {
	m.mu.Lock()
	s := m.sessions[f.Peer()]
	prev := Idle
	if s != nil {
		prev = s.state
	}
	out, err := m.applyLocked(conn, s, f)
	m.mu.Unlock()

	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"peer":   f.Peer(),
			"frame":  f.Type().String(),
			"state":  prev.String(),
			"remote": conn.RemoteAddr(),
			"error":  err,
		}).Warn("Dropped frame")
		return
	}

	for _, c := range out.close {
		_ = c.Close()
	}
	for _, ev := range out.events {
		m.emit(ev)
	}
}

func (m *Manager) applyLocked(conn Conn, s *session, f protocol.Frame) (outcome, error) {
	var out outcome

	switch fr := f.(type) {
	case protocol.ConnectRequest:
		if owner := m.conns[conn]; owner != nil {
			return out, fmt.Errorf("%w: connection already carries session for %s", ErrProtocolViolation, owner.peer)
		}
		if s != nil && s.state != Closed {
			if m.config.DuplicatePolicy != ReplaceOnReconnect {
				return out, fmt.Errorf("%w: duplicate connect request", ErrProtocolViolation)
			}
			m.closeLocked(s)
			out.close = append(out.close, s.conn)
			out.events = append(out.events, Event{Type: EventClosed, Peer: s.peer, SessionID: s.id})
		}

		ns := newSession(fr.Username, Inbound, conn, PendingLocalDecision)
		m.sessions[ns.peer] = ns
		m.conns[conn] = ns
		out.events = append(out.events, Event{Type: EventInboundRequest, Peer: ns.peer, SessionID: ns.id})

	case protocol.Accepted:
		if s == nil || s.state != AwaitingPeerAccept {
			return out, fmt.Errorf("%w: unexpected accept", ErrProtocolViolation)
		}
		s.state = Active
		out.events = append(out.events, Event{Type: EventAccepted, Peer: s.peer, SessionID: s.id})

	case protocol.ChatMessage:
		if s == nil || s.state != Active {
			return out, fmt.Errorf("%w: message outside active session", ErrProtocolViolation)
		}
		out.events = append(out.events, Event{Type: EventMessage, Peer: s.peer, SessionID: s.id, Text: fr.Text})

	case protocol.FileTransfer:
		if s == nil || s.state != Active {
			return out, fmt.Errorf("%w: file outside active session", ErrProtocolViolation)
		}
		out.events = append(out.events, Event{
			Type:      EventFile,
			Peer:      s.peer,
			SessionID: s.id,
			Filename:  fr.Filename,
			Payload:   fr.Payload,
		})

	case protocol.Closed:
		if s == nil || s.state == Closed {
			return out, fmt.Errorf("%w: close for unknown session", ErrProtocolViolation)
		}
		m.closeLocked(s)
		out.close = append(out.close, s.conn)
		out.events = append(out.events, Event{Type: EventClosed, Peer: s.peer, SessionID: s.id})

	default:
		return out, fmt.Errorf("%w: unsupported frame %T", ErrProtocolViolation, f)
	}

	return out, nil
}
