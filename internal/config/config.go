// Package config loads the YAML configuration of both binaries. Missing
// keys keep their defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rudransh-shrivastava/peer-chat/internal/logger"
	"github.com/rudransh-shrivastava/peer-chat/internal/protocol"
	"github.com/rudransh-shrivastava/peer-chat/internal/session"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDirectoryURL   = "http://localhost:8111"
	DefaultRendezvousAddr = ":8111"
	DefaultSTUNServer     = "stun.l.google.com:19302"

	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

type Peer struct {
	Username           string        `yaml:"username"`
	Listen             string        `yaml:"listen"`
	Advertise          string        `yaml:"advertise"`
	STUNServer         string        `yaml:"stun_server"`
	Directory          string        `yaml:"directory"`
	Wire               string        `yaml:"wire"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	MaxFrameBytes      int           `yaml:"max_frame_bytes"`
	OnDuplicateConnect string        `yaml:"on_duplicate_connect"`
	DownloadDir        string        `yaml:"download_dir"`
	EventBuffer        int           `yaml:"event_buffer"`
	LogLevel           string        `yaml:"log_level"`
}

func DefaultPeer() Peer {
	return Peer{
		Listen:             ":0",
		STUNServer:         DefaultSTUNServer,
		Directory:          DefaultDirectoryURL,
		Wire:               protocol.WireDelimited,
		OnDuplicateConnect: session.RejectDuplicate.String(),
		DownloadDir:        ".",
		EventBuffer:        64,
		LogLevel:           "info",
	}
}

// LoadPeer reads path over the defaults. An empty path returns the defaults.
func LoadPeer(path string) (Peer, error) {
	cfg := DefaultPeer()
	if err := load(path, &cfg); err != nil {
		return Peer{}, err
	}
	return cfg, nil
}

func (c Peer) Validate() error {
	var errs []error

	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	} else if err := protocol.ValidateUsername(c.Username); err != nil {
		errs = append(errs, err)
	}
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.Directory == "" {
		errs = append(errs, errors.New("directory url is required"))
	}
	if _, err := protocol.NewCodec(c.Wire); err != nil {
		errs = append(errs, err)
	}
	if _, err := session.ParseDuplicatePolicy(c.OnDuplicateConnect); err != nil {
		errs = append(errs, err)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("dial_timeout must not be negative"))
	}
	if c.MaxFrameBytes < 0 {
		errs = append(errs, fmt.Errorf("max_frame_bytes must not be negative"))
	}

	return errors.Join(errs...)
}

type Rendezvous struct {
	Addr     string `yaml:"addr"`
	Store    string `yaml:"store"`
	DSN      string `yaml:"dsn"`
	LogLevel string `yaml:"log_level"`
}

func DefaultRendezvous() Rendezvous {
	return Rendezvous{
		Addr:     DefaultRendezvousAddr,
		Store:    StoreMemory,
		DSN:      "rendezvous.sqlite3",
		LogLevel: "info",
	}
}

func LoadRendezvous(path string) (Rendezvous, error) {
	cfg := DefaultRendezvous()
	if err := load(path, &cfg); err != nil {
		return Rendezvous{}, err
	}
	return cfg, nil
}

func (c Rendezvous) Validate() error {
	var errs []error

	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.DSN == "" {
			errs = append(errs, errors.New("dsn is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func load(path string, out any) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
