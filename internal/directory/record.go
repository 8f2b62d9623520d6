// Package directory is the rendezvous registry that maps a username to the
// address its peer listener can be reached on.
package directory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/rudransh-shrivastava/peer-chat/internal/protocol"
)

var (
	ErrNotFound           = errors.New("peer not found")
	ErrServiceUnavailable = errors.New("directory service unavailable")
	ErrInvalidRecord      = errors.New("invalid peer record")
)

type PeerRecord struct {
	Username string `json:"username"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
}

func (r PeerRecord) Validate() error {
	if err := protocol.ValidateUsername(r.Username); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if r.Address == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidRecord)
	}
	if r.Port <= 0 || r.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidRecord, r.Port)
	}
	return nil
}

// HostPort joins the address and port into a dialable string.
func (r PeerRecord) HostPort() string {
	return net.JoinHostPort(r.Address, strconv.Itoa(r.Port))
}

type RegisterResult int

const (
	Created RegisterResult = iota + 1
	Updated
)

func (r RegisterResult) String() string {
	switch r {
	case Created:
		return "CREATED"
	case Updated:
		return "UPDATED"
	default:
		return "UNKNOWN"
	}
}

// Registry is the backing store of the directory. Register must be atomic
// per username and the last write for a username wins.
type Registry interface {
	Register(ctx context.Context, rec PeerRecord) (RegisterResult, error)
	Lookup(ctx context.Context, username string) (PeerRecord, error)
	List(ctx context.Context) ([]string, error)
}
