// Package cache accelerates hot ledger reads with Redis. The cache is an
// optimization only: the database row is always authoritative, and every
// cached value is re-checked against it on the write path.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/ledger"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/values"
)

const (
	tailKeyPrefix       = "ledger:tail:"
	checkpointKeyPrefix = "ledger:checkpoint:"

	defaultTTL = 10 * time.Minute
)

type cachedTail struct {
	Partition   string `json:"partition"`
	SequenceNum uint64 `json:"sequence_num"`
	EntryHash   string `json:"entry_hash"`
}

// LedgerCache caches partition tails and verification checkpoints.
// Misses and Redis failures degrade to the repository; they are logged and
// never surfaced to callers.
type LedgerCache struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewLedgerCache creates a cache over the given Redis client
func NewLedgerCache(client *redis.Client, logger *zap.Logger) *LedgerCache {
	return &LedgerCache{
		client: client,
		logger: logger,
		ttl:    defaultTTL,
	}
}

// GetTail returns the cached tail for a partition; ok is false on miss
func (c *LedgerCache) GetTail(ctx context.Context, partition string) (ledger.Tail, bool) {
	data, err := c.client.Get(ctx, tailKeyPrefix+partition).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("tail cache read failed",
				zap.String("partition", partition), zap.Error(err))
		}
		return ledger.Tail{}, false
	}

	var cached cachedTail
	if err := json.Unmarshal(data, &cached); err != nil {
		c.logger.Warn("tail cache entry corrupt, evicting",
			zap.String("partition", partition), zap.Error(err))
		c.client.Del(ctx, tailKeyPrefix+partition)
		return ledger.Tail{}, false
	}

	hash, err := values.NewHashValue(cached.EntryHash)
	if err != nil {
		c.client.Del(ctx, tailKeyPrefix+partition)
		return ledger.Tail{}, false
	}

	return ledger.Tail{
		Partition:   cached.Partition,
		SequenceNum: cached.SequenceNum,
		EntryHash:   hash,
	}, true
}

// SetTail caches a partition tail, advancing only forward. A stale writer
// cannot roll the cached tail back behind a newer one.
func (c *LedgerCache) SetTail(ctx context.Context, tail ledger.Tail) {
	if tail.EntryHash.IsEmpty() {
		return
	}

	if current, ok := c.GetTail(ctx, tail.Partition); ok && current.SequenceNum >= tail.SequenceNum {
		return
	}

	data, err := json.Marshal(cachedTail{
		Partition:   tail.Partition,
		SequenceNum: tail.SequenceNum,
		EntryHash:   tail.EntryHash.String(),
	})
	if err != nil {
		return
	}

	if err := c.client.Set(ctx, tailKeyPrefix+tail.Partition, data, c.ttl).Err(); err != nil {
		c.logger.Warn("tail cache write failed",
			zap.String("partition", tail.Partition), zap.Error(err))
	}
}

// InvalidateTail evicts a partition's cached tail
func (c *LedgerCache) InvalidateTail(ctx context.Context, partition string) {
	if err := c.client.Del(ctx, tailKeyPrefix+partition).Err(); err != nil {
		c.logger.Warn("tail cache eviction failed",
			zap.String("partition", partition), zap.Error(err))
	}
}

// GetCheckpoint returns the cached verification checkpoint; nil on miss
func (c *LedgerCache) GetCheckpoint(ctx context.Context, partition string) *ledger.VerificationCheckpoint {
	data, err := c.client.Get(ctx, checkpointKeyPrefix+partition).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("checkpoint cache read failed",
				zap.String("partition", partition), zap.Error(err))
		}
		return nil
	}

	var checkpoint ledger.VerificationCheckpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		c.client.Del(ctx, checkpointKeyPrefix+partition)
		return nil
	}
	return &checkpoint
}

// SetCheckpoint caches a verification checkpoint
func (c *LedgerCache) SetCheckpoint(ctx context.Context, checkpoint *ledger.VerificationCheckpoint) {
	if checkpoint == nil {
		return
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return
	}

	key := checkpointKeyPrefix + checkpoint.Partition
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("checkpoint cache write failed",
			zap.String("partition", checkpoint.Partition), zap.Error(err))
	}
}

// InvalidateCheckpoint evicts a partition's cached checkpoint
func (c *LedgerCache) InvalidateCheckpoint(ctx context.Context, partition string) {
	if err := c.client.Del(ctx, checkpointKeyPrefix+partition).Err(); err != nil {
		c.logger.Warn("checkpoint cache eviction failed",
			zap.String("partition", partition), zap.Error(err))
	}
}

// Ping verifies connectivity at startup
func (c *LedgerCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
