package peer

import (
	"time"

	"github.com/rudransh-shrivastava/peer-chat/internal/directory"
	"github.com/rudransh-shrivastava/peer-chat/internal/protocol"
	"github.com/rudransh-shrivastava/peer-chat/internal/session"
	"github.com/sirupsen/logrus"
)

// AdvertiseSTUN asks a STUN server for the host to register.
const AdvertiseSTUN = "stun"

const DefaultSTUNServer = "stun.l.google.com:19302"

type Config struct {
	Username string
	// Addr is the local listen address, for example "127.0.0.1:0".
	Addr string
	// AdvertiseHost is registered with the directory. Empty uses the
	// listener's host; AdvertiseSTUN discovers the public address.
	AdvertiseHost string
	STUNServer    string

	Directory directory.Registry
	Codec     protocol.Codec

	DialTimeout     time.Duration
	MaxFrameBytes   int
	DuplicatePolicy session.DuplicatePolicy
	EventBuffer     int

	Logger *logrus.Logger
}
