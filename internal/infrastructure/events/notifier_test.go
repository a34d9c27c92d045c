package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestAsyncNotifierDeliversToAllHandlers(t *testing.T) {
	notifier := NewAsyncNotifier(zaptest.NewLogger(t), 16)
	defer notifier.Close()

	var mu sync.Mutex
	received := make(map[string][]EventType)

	for _, name := range []string{"first", "second"} {
		name := name
		notifier.Subscribe(func(ctx context.Context, event Event) {
			mu.Lock()
			received[name] = append(received[name], event.Type)
			mu.Unlock()
		})
	}

	notifier.Notify(context.Background(), NewEvent(EventGapDetected, "item-1", nil))
	notifier.Notify(context.Background(), NewEvent(EventRetentionDue, "item-2", nil))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received["first"]) == 2 && len(received["second"]) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{EventGapDetected, EventRetentionDue}, received["first"])
}

func TestAsyncNotifierNeverBlocks(t *testing.T) {
	// zap.NewNop rather than zaptest: the dispatch goroutine may still be
	// draining (and logging) after this test returns, and logging to a
	// zaptest logger after test completion panics.
	notifier := NewAsyncNotifier(zap.NewNop(), 1)
	defer notifier.Close()

	// Stall the dispatcher so the buffer fills
	blocker := make(chan struct{})
	notifier.Subscribe(func(ctx context.Context, event Event) {
		<-blocker
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			notifier.Notify(context.Background(), NewEvent(EventIntegrityFailure, "item", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a full buffer")
	}
	close(blocker)
}

func TestNewEvent(t *testing.T) {
	event := NewEvent(EventLegalHoldBlockedDisposal, "item-9",
		map[string]string{"hold_id": "h-1"})

	assert.Equal(t, EventLegalHoldBlockedDisposal, event.Type)
	assert.Equal(t, "item-9", event.EvidenceID)
	assert.Equal(t, "h-1", event.Detail["hold_id"])
	assert.False(t, event.OccurredAt.IsZero())
	assert.NotEqual(t, "", event.ID.String())
}
