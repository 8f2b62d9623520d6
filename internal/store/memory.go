// Package store provides the backing registries for the directory service.
package store

import (
	"context"
	"sync"

	"github.com/rudransh-shrivastava/peer-chat/internal/directory"
)

type MemoryStore struct {
	mu    sync.Mutex
	peers map[string]directory.PeerRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		peers: make(map[string]directory.PeerRecord),
	}
}

func (s *MemoryStore) Register(_ context.Context, rec directory.PeerRecord) (directory.RegisterResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.peers[rec.Username]
	s.peers[rec.Username] = rec
	if exists {
		return directory.Updated, nil
	}
	return directory.Created, nil
}

func (s *MemoryStore) Lookup(_ context.Context, username string) (directory.PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.peers[username]
	if !ok {
		return directory.PeerRecord{}, directory.ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.peers))
	for name := range s.peers {
		names = append(names, name)
	}
	return names, nil
}
