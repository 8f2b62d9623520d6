package session

type EventType int

const (
	EventInboundRequest EventType = iota + 1
	EventAccepted
	EventMessage
	EventFile
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventInboundRequest:
		return "inbound-request"
	case EventAccepted:
		return "accepted"
	case EventMessage:
		return "message"
	case EventFile:
		return "file"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is what the session layer reports to its collaborator. Text is set
// for EventMessage; Filename and Payload for EventFile.
type Event struct {
	Type      EventType
	Peer      string
	SessionID string
	Text      string
	Filename  string
	Payload   []byte
}
