package peer

import (
	"context"
	"errors"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-chat/internal/logger"
	"github.com/rudransh-shrivastava/peer-chat/internal/store"
	"github.com/rudransh-shrivastava/peer-chat/internal/transport"
	"github.com/stretchr/testify/assert"
)

func TestNextAcceptDelay(t *testing.T) {
	var got []time.Duration
	var d time.Duration
	for range 10 {
		d = nextAcceptDelay(d)
		got = append(got, d)
	}

	assert.Equal(t, minAcceptDelay, got[0])
	assert.Equal(t, 2*minAcceptDelay, got[1])
	assert.Equal(t, maxAcceptDelay, got[len(got)-1])
}

func TestStartBacksOffOnAcceptErrors(t *testing.T) {
	n, err := New(Config{
		Username:  "A",
		Addr:      "127.0.0.1:0",
		Directory: store.NewMemoryStore(),
		Logger:    logger.Discard(),
	})
	if err != nil {
		t.Fatalf("Failed to create node: %v", err)
	}
	defer n.Shutdown()

	var calls atomic.Int32
	n.accept = func() (*transport.Conn, error) {
		calls.Add(1)
		return nil, syscall.EMFILE
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = n.Start(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected Start to stop with the context, got %v", err)
	}

	// 5+10+20+40+80ms of backoff fit in the window.
	got := calls.Load()
	assert.GreaterOrEqual(t, got, int32(2))
	assert.LessOrEqual(t, got, int32(10), "accept retried without backing off")
}
