package session

import (
	"fmt"
	"time"
)

type State int

const (
	Idle State = iota
	AwaitingPeerAccept
	PendingLocalDecision
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case AwaitingPeerAccept:
		return "AWAITING_PEER_ACCEPT"
	case PendingLocalDecision:
		return "PENDING_LOCAL_DECISION"
	case Active:
		return "ACTIVE"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

type Direction int

const (
	Inbound Direction = iota + 1
	Outbound
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "INBOUND"
	case Outbound:
		return "OUTBOUND"
	default:
		return "UNKNOWN"
	}
}

// DuplicatePolicy decides what a ConnectRequest does when a session for the
// same username already exists.
type DuplicatePolicy int

const (
	// RejectDuplicate drops the request and keeps the existing session.
	RejectDuplicate DuplicatePolicy = iota
	// ReplaceOnReconnect closes the existing session and starts a new one.
	ReplaceOnReconnect
)

func (p DuplicatePolicy) String() string {
	switch p {
	case RejectDuplicate:
		return "reject"
	case ReplaceOnReconnect:
		return "replace"
	default:
		return "unknown"
	}
}

func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch s {
	case "", "reject":
		return RejectDuplicate, nil
	case "replace":
		return ReplaceOnReconnect, nil
	default:
		return 0, fmt.Errorf("unknown duplicate connect policy %q", s)
	}
}

// Info is a point-in-time copy of a session.
type Info struct {
	ID         string
	Peer       string
	Direction  Direction
	State      State
	RemoteAddr string
	CreatedAt  time.Time
}
