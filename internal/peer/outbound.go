package peer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rudransh-shrivastava/peer-chat/internal/directory"
	"github.com/rudransh-shrivastava/peer-chat/internal/session"
	"github.com/sirupsen/logrus"
)

// Open looks username up in the directory, dials it and sends the
// handshake. It fails with ErrPeerNotFound before any socket is opened when
// the directory has no record, and with ErrPeerOffline when the dial or the
// handshake write fails. Nothing is retried.
func (n *Node) Open(ctx context.Context, username string) (session.Info, error) {
	if username == n.config.Username {
		return session.Info{}, fmt.Errorf("cannot open a session with yourself")
	}
	if st := n.sessions.State(username); st != session.Idle && st != session.Closed {
		return session.Info{}, fmt.Errorf("%w: %s is %s", session.ErrSessionExists, username, st)
	}

	log := n.logger.WithField("peer", username)

	rec, err := n.config.Directory.Lookup(ctx, username)
	switch {
	case errors.Is(err, directory.ErrNotFound):
		log.Info("Peer not registered")
		return session.Info{}, fmt.Errorf("%w: %s", ErrPeerNotFound, username)
	case err != nil:
		log.WithField("error", err).Warn("Directory lookup failed")
		return session.Info{}, fmt.Errorf("%w: %v", ErrDirectoryOffline, err)
	}

	addr := rec.HostPort()
	conn, err := n.dial(ctx, addr)
	if err != nil {
		log.WithFields(logrus.Fields{"remote": addr, "error": err}).Info("Peer unreachable")
		return session.Info{}, fmt.Errorf("%w: %s at %s: %v", ErrPeerOffline, username, addr, err)
	}

	info, err := n.sessions.StartOutbound(username, conn)
	if err != nil {
		if errors.Is(err, session.ErrSessionExists) || errors.Is(err, session.ErrManagerClosed) {
			return session.Info{}, err
		}
		return session.Info{}, fmt.Errorf("%w: %v", ErrPeerOffline, err)
	}
	return info, nil
}
