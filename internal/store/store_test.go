package store_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/rudransh-shrivastava/peer-chat/internal/db"
	"github.com/rudransh-shrivastava/peer-chat/internal/directory"
	"github.com/rudransh-shrivastava/peer-chat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLStore(t *testing.T) *store.SQLStore {
	t.Helper()
	gdb, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	s := store.NewSQLStore(gdb)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func registries(t *testing.T) map[string]directory.Registry {
	t.Helper()
	return map[string]directory.Registry{
		"memory": store.NewMemoryStore(),
		"sql":    setupSQLStore(t),
	}
}

func TestRegistry_RegisterThenLookup(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			res, err := reg.Register(ctx, directory.PeerRecord{Username: "alice", Address: "127.0.0.1", Port: 40000})
			if err != nil {
				t.Fatalf("Register failed: %v", err)
			}
			if res != directory.Created {
				t.Errorf("expected Created, got %v", res)
			}

			rec, err := reg.Lookup(ctx, "alice")
			if err != nil {
				t.Fatalf("Lookup failed: %v", err)
			}
			assert.Equal(t, directory.PeerRecord{Username: "alice", Address: "127.0.0.1", Port: 40000}, rec)

			res, err = reg.Register(ctx, directory.PeerRecord{Username: "alice", Address: "10.0.0.2", Port: 40002})
			if err != nil {
				t.Fatalf("second Register failed: %v", err)
			}
			if res != directory.Updated {
				t.Errorf("expected Updated, got %v", res)
			}

			rec, err = reg.Lookup(ctx, "alice")
			if err != nil {
				t.Fatalf("Lookup after update failed: %v", err)
			}
			assert.Equal(t, directory.PeerRecord{Username: "alice", Address: "10.0.0.2", Port: 40002}, rec)
		})
	}
}

func TestRegistry_LookupNotFound(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Lookup(context.Background(), "nonexistent")
			if !errors.Is(err, directory.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestRegistry_List(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			names, err := reg.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, names)

			for i, u := range []string{"carol", "alice", "bob", "alice"} {
				_, err := reg.Register(ctx, directory.PeerRecord{Username: u, Address: "127.0.0.1", Port: 41000 + i})
				require.NoError(t, err)
			}

			names, err = reg.List(ctx)
			require.NoError(t, err)
			sort.Strings(names)
			assert.Equal(t, []string{"alice", "bob", "carol"}, names)
		})
	}
}

func TestRegistry_ConcurrentRegisterCreatesOnce(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			const workers = 16
			results := make(chan directory.RegisterResult, workers)

			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					res, err := reg.Register(ctx, directory.PeerRecord{Username: "dave", Address: "127.0.0.1", Port: 42000 + i})
					if err != nil {
						t.Errorf("Register failed: %v", err)
						return
					}
					results <- res
				}(i)
			}
			wg.Wait()
			close(results)

			created := 0
			for res := range results {
				if res == directory.Created {
					created++
				}
			}
			assert.Equal(t, 1, created)
		})
	}
}

func TestSQLStore_ClosedDatabase(t *testing.T) {
	s := setupSQLStore(t)
	require.NoError(t, s.Close())

	_, err := s.Lookup(context.Background(), "alice")
	require.Error(t, err)
	assert.NotErrorIs(t, err, directory.ErrNotFound)

	_, err = s.Register(context.Background(), directory.PeerRecord{Username: "alice", Address: "127.0.0.1", Port: 1})
	assert.Error(t, err)
}
