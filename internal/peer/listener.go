package peer

import (
	"context"
	"errors"
	"time"

	"github.com/rudransh-shrivastava/peer-chat/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Start accepts inbound connections until ctx is cancelled or the node is
// shut down. Every connection gets its own reader goroutine.
func (n *Node) Start(ctx context.Context) error {
	n.logger.WithFields(logrus.Fields{
		"peer": n.config.Username,
		"addr": n.Addr(),
		"wire": n.config.Codec.Name(),
	}).Info("Peer listener started")

	stop := context.AfterFunc(ctx, func() { _ = n.transport.Close() })
	defer stop()

	var delay time.Duration
	for {
		conn, err := n.accept()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return ctx.Err()
			}

			delay = nextAcceptDelay(delay)
			n.logger.WithFields(logrus.Fields{"error": err, "retry_in": delay}).Error("Failed to accept connection")

			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
			continue
		}
		delay = 0

		n.logger.WithField("remote", conn.RemoteAddr()).Debug("Peer connected")
		if err := n.sessions.Serve(conn); err != nil {
			return ctx.Err()
		}
	}
}

// nextAcceptDelay doubles the wait after consecutive accept failures.
func nextAcceptDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptDelay
	}
	return min(prev*2, maxAcceptDelay)
}
