package protocol

const (
	Terminator = "<EOF>>"
	Separator  = "<SEP>"

	frameOpen = '<'

	keywordConnected = "connected"
	keywordAccepted  = "accepted"
	keywordClosed    = "closed"
	keywordMsg       = "msg,"
	keywordFilename  = "filename"
	keywordData      = "data"

	lengthPrefixSize = 4
)

type FrameType uint16

const (
	FrameConnect  FrameType = 0x0001
	FrameAccepted FrameType = 0x0002
	FrameChat     FrameType = 0x0010
	FrameFile     FrameType = 0x0020
	FrameClosed   FrameType = 0x00FF
)

func (t FrameType) String() string {
	switch t {
	case FrameConnect:
		return "CONNECT"
	case FrameAccepted:
		return "ACCEPTED"
	case FrameChat:
		return "CHAT"
	case FrameFile:
		return "FILE"
	case FrameClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Wire names accepted by NewCodec.
const (
	WireDelimited = "delimited"
	WireFramed    = "framed"
)
