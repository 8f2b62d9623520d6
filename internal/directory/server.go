package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	maxRegisterBody   = 4 * 1024
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

type Config struct {
	Addr     string
	Logger   *logrus.Logger
	Registry Registry
}

type Server struct {
	config   Config
	logger   *logrus.Logger
	listener net.Listener
	http     *http.Server
	hub      *watchHub

	closeOnce sync.Once
	closed    chan struct{}
}

// NewServer binds the listening socket. Serving starts with Start.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("directory: nil registry")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	s := &Server{
		config:   cfg,
		logger:   logger,
		listener: ln,
		hub:      newWatchHub(logger),
		closed:   make(chan struct{}),
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Handler returns the HTTP routes of the directory service.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+routeRegister, s.handleRegister)
	mux.HandleFunc("GET "+routePeers, s.handlePeers)
	mux.HandleFunc("GET "+routePeerInfo, s.handlePeerInfo)
	mux.HandleFunc("GET "+routeWatch, s.handleWatch)
	mux.HandleFunc("GET "+routeHealth, func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusOK, "ok")
	})
	return mux
}

// Start serves until ctx is cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("addr", s.Addr()).Info("Directory server started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.http.Serve(s.listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return s.Shutdown()
		case <-s.closed:
			return nil
		}
	})

	return g.Wait()
}

func (s *Server) Shutdown() error {
	var err error
	s.closeOnce.Do(func() {
		s.logger.Info("Shutting down directory server")
		close(s.closed)
		s.hub.closeAll()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = s.http.Shutdown(ctx)
		_ = s.listener.Close()
	})
	return err
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegisterBody))
	if err := dec.Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	rec := req.record()
	if err := rec.Validate(); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.config.Registry.Register(r.Context(), rec)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"peer": rec.Username, "error": err}).Error("Failed to register peer")
		writeMessage(w, http.StatusServiceUnavailable, "Directory store unavailable")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"peer":   rec.Username,
		"remote": rec.HostPort(),
		"result": res.String(),
	}).Info("Peer registered")

	status := http.StatusOK
	if res == Created {
		status = http.StatusCreated
	}
	writeMessage(w, status, "Peer registered successfully")

	s.broadcastPeers(r.Context())
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	names, err := s.sortedPeers(r.Context())
	if err != nil {
		s.logger.WithField("error", err).Error("Failed to list peers")
		writeMessage(w, http.StatusServiceUnavailable, "Directory store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, peersResponse{Peers: names})
}

func (s *Server) handlePeerInfo(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		writeMessage(w, http.StatusBadRequest, "Missing username")
		return
	}

	rec, err := s.config.Registry.Lookup(r.Context(), username)
	switch {
	case errors.Is(err, ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Peer not found")
		return
	case err != nil:
		s.logger.WithFields(logrus.Fields{"peer": username, "error": err}).Error("Failed to look up peer")
		writeMessage(w, http.StatusServiceUnavailable, "Directory store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	names, err := s.sortedPeers(r.Context())
	if err != nil {
		writeMessage(w, http.StatusServiceUnavailable, "Directory store unavailable")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithField("error", err).Debug("Watch upgrade failed")
		return
	}

	s.hub.serve(conn, names)
}

func (s *Server) broadcastPeers(ctx context.Context) {
	if s.hub.size() == 0 {
		return
	}
	names, err := s.sortedPeers(ctx)
	if err != nil {
		s.logger.WithField("error", err).Warn("Skipping watch broadcast")
		return
	}
	s.hub.broadcast(names)
}

func (s *Server) sortedPeers(ctx context.Context) ([]string, error) {
	names, err := s.config.Registry.List(ctx)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	sort.Strings(names)
	return names, nil
}
