package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rudransh-shrivastava/peer-chat/internal/db"
	"github.com/rudransh-shrivastava/peer-chat/internal/directory"
	"gorm.io/gorm"
)

type SQLStore struct {
	mu sync.Mutex
	db *gorm.DB
}

func NewSQLStore(gdb *gorm.DB) *SQLStore {
	return &SQLStore{db: gdb}
}

func (s *SQLStore) Register(ctx context.Context, rec directory.PeerRecord) (directory.RegisterResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := directory.Created
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing db.Peer
		err := tx.Where("username = ?", rec.Username).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&db.Peer{
				Username: rec.Username,
				Address:  rec.Address,
				Port:     rec.Port,
			}).Error
		case err != nil:
			return err
		}

		result = directory.Updated
		return tx.Model(&existing).Updates(map[string]any{
			"address": rec.Address,
			"port":    rec.Port,
		}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("registering %q: %w", rec.Username, err)
	}
	return result, nil
}

func (s *SQLStore) Lookup(ctx context.Context, username string) (directory.PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var peer db.Peer
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&peer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return directory.PeerRecord{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.PeerRecord{}, fmt.Errorf("looking up %q: %w", username, err)
	}

	return directory.PeerRecord{
		Username: peer.Username,
		Address:  peer.Address,
		Port:     peer.Port,
	}, nil
}

func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	if err := s.db.WithContext(ctx).Model(&db.Peer{}).Pluck("username", &names).Error; err != nil {
		return nil, fmt.Errorf("listing peers: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var (
	_ directory.Registry = (*MemoryStore)(nil)
	_ directory.Registry = (*SQLStore)(nil)
)
