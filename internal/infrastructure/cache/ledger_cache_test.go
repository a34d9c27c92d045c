package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/ledger"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/values"
)

func newTestCache(t *testing.T) (*LedgerCache, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewLedgerCache(client, zaptest.NewLogger(t)), srv
}

func TestLedgerCacheTailRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)

	_, ok := cache.GetTail(ctx, "evidence-1")
	assert.False(t, ok)

	tail := ledger.Tail{
		Partition:   "evidence-1",
		SequenceNum: 42,
		EntryHash:   values.MustComputeHashValue([]byte("entry 42")),
	}
	cache.SetTail(ctx, tail)

	got, ok := cache.GetTail(ctx, "evidence-1")
	require.True(t, ok)
	assert.Equal(t, tail.SequenceNum, got.SequenceNum)
	assert.True(t, tail.EntryHash.Equal(got.EntryHash))
}

func TestLedgerCacheTailNeverRegresses(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)

	newer := ledger.Tail{
		Partition:   "evidence-1",
		SequenceNum: 50,
		EntryHash:   values.MustComputeHashValue([]byte("entry 50")),
	}
	cache.SetTail(ctx, newer)

	stale := ledger.Tail{
		Partition:   "evidence-1",
		SequenceNum: 49,
		EntryHash:   values.MustComputeHashValue([]byte("entry 49")),
	}
	cache.SetTail(ctx, stale)

	got, ok := cache.GetTail(ctx, "evidence-1")
	require.True(t, ok)
	assert.Equal(t, uint64(50), got.SequenceNum)
}

func TestLedgerCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)

	cache.SetTail(ctx, ledger.Tail{
		Partition:   "evidence-1",
		SequenceNum: 1,
		EntryHash:   values.MustComputeHashValue([]byte("x")),
	})
	cache.InvalidateTail(ctx, "evidence-1")

	_, ok := cache.GetTail(ctx, "evidence-1")
	assert.False(t, ok)
}

func TestLedgerCacheCorruptEntryEvicted(t *testing.T) {
	ctx := context.Background()
	cache, srv := newTestCache(t)

	require.NoError(t, srv.Set(tailKeyPrefix+"evidence-1", "not json"))

	_, ok := cache.GetTail(ctx, "evidence-1")
	assert.False(t, ok)
	assert.False(t, srv.Exists(tailKeyPrefix+"evidence-1"))
}

func TestLedgerCacheCheckpoint(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)

	assert.Nil(t, cache.GetCheckpoint(ctx, "evidence-1"))

	checkpoint, err := ledger.NewVerificationCheckpoint("evidence-1", 10,
		values.MustComputeHashValue([]byte("entry 10")))
	require.NoError(t, err)

	cache.SetCheckpoint(ctx, checkpoint)

	got := cache.GetCheckpoint(ctx, "evidence-1")
	require.NotNil(t, got)
	assert.Equal(t, uint64(10), got.SequenceNum)
	assert.True(t, checkpoint.EntryHash.Equal(got.EntryHash))

	cache.InvalidateCheckpoint(ctx, "evidence-1")
	assert.Nil(t, cache.GetCheckpoint(ctx, "evidence-1"))
}

func TestLedgerCacheRedisDown(t *testing.T) {
	ctx := context.Background()
	cache, srv := newTestCache(t)
	srv.Close()

	// All operations degrade silently
	_, ok := cache.GetTail(ctx, "evidence-1")
	assert.False(t, ok)
	cache.SetTail(ctx, ledger.Tail{
		Partition:   "evidence-1",
		SequenceNum: 1,
		EntryHash:   values.MustComputeHashValue([]byte("x")),
	})
	require.Error(t, cache.Ping(ctx))
}
