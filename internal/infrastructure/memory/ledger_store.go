// Package memory provides mutex-guarded in-memory repositories. They back
// unit tests and single-node deployments; the database package provides the
// durable equivalents.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/ledger"
)

// LedgerStore implements ledger.EntryRepository and
// ledger.CheckpointRepository. Appends enforce uniqueness on
// (partition, sequence_number) so concurrent writers race exactly like they
// do against the database unique constraint.
type LedgerStore struct {
	mu          sync.RWMutex
	partitions  map[string]map[uint64]*ledger.Entry
	tails       map[string]ledger.Tail
	byID        map[uuid.UUID]*ledger.Entry
	checkpoints map[string]*ledger.VerificationCheckpoint
}

// NewLedgerStore creates an empty in-memory ledger store
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		partitions:  make(map[string]map[uint64]*ledger.Entry),
		tails:       make(map[string]ledger.Tail),
		byID:        make(map[uuid.UUID]*ledger.Entry),
		checkpoints: make(map[string]*ledger.VerificationCheckpoint),
	}
}

// Insert persists a sealed entry, rejecting duplicate chain slots
func (s *LedgerStore) Insert(ctx context.Context, entry *ledger.Entry) error {
	if entry == nil {
		return errors.NewValidationError("NIL_ENTRY", "entry cannot be nil")
	}
	if !entry.IsSealed() {
		return errors.NewValidationError("ENTRY_NOT_SEALED",
			"only sealed entries can be persisted")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.partitions[entry.Partition]
	if !ok {
		part = make(map[uint64]*ledger.Entry)
		s.partitions[entry.Partition] = part
	}

	if _, taken := part[entry.SequenceNum]; taken {
		return errors.NewConflictError(fmt.Sprintf(
			"sequence %d already committed in partition %s",
			entry.SequenceNum, entry.Partition))
	}

	stored := entry.Clone()
	stored.MarkRehydrated()
	part[entry.SequenceNum] = stored
	s.byID[entry.ID] = stored

	tail := s.tails[entry.Partition]
	if entry.SequenceNum > tail.SequenceNum {
		s.tails[entry.Partition] = ledger.Tail{
			Partition:   entry.Partition,
			SequenceNum: entry.SequenceNum,
			EntryHash:   entry.EntryHash,
		}
	}

	return nil
}

// GetTail returns the partition tail
func (s *LedgerStore) GetTail(ctx context.Context, partition string) (ledger.Tail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tail, ok := s.tails[partition]; ok {
		return tail, nil
	}
	return ledger.EmptyTail(partition), nil
}

// GetByID retrieves an entry by identifier
func (s *LedgerStore) GetByID(ctx context.Context, id uuid.UUID) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.byID[id]
	if !ok {
		return nil, errors.ErrEntryNotFound
	}
	return cloneSealed(entry), nil
}

// GetBySequence retrieves an entry by partition and sequence
func (s *LedgerStore) GetBySequence(ctx context.Context, partition string, seq uint64) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.partitions[partition][seq]
	if !ok {
		return nil, errors.ErrEntryNotFound
	}
	return cloneSealed(entry), nil
}

// GetRange retrieves entries in [start, end] ascending
func (s *LedgerStore) GetRange(ctx context.Context, partition string, start, end uint64, limit int) ([]*ledger.Entry, error) {
	if start == 0 || end < start {
		return nil, errors.NewValidationError("INVALID_RANGE",
			"range start must be positive and not exceed the end")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	part := s.partitions[partition]
	out := make([]*ledger.Entry, 0)
	for seq := start; seq <= end; seq++ {
		if entry, ok := part[seq]; ok {
			out = append(out, cloneSealed(entry))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// GetByEntity retrieves all entries referencing one entity in sequence order
func (s *LedgerStore) GetByEntity(ctx context.Context, entityType ledger.EntityType, entityID string) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ledger.Entry, 0)
	for _, part := range s.partitions {
		for _, entry := range part {
			if entry.EntityType == entityType && entry.EntityID == entityID {
				out = append(out, cloneSealed(entry))
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Partition != out[j].Partition {
			return out[i].Partition < out[j].Partition
		}
		return out[i].SequenceNum < out[j].SequenceNum
	})
	return out, nil
}

// Count returns the number of entries in a partition
func (s *LedgerStore) Count(ctx context.Context, partition string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.partitions[partition])), nil
}

// ListPartitions returns the known partition names sorted
func (s *LedgerStore) ListPartitions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Save upserts a verification checkpoint
func (s *LedgerStore) Save(ctx context.Context, checkpoint *ledger.VerificationCheckpoint) error {
	if checkpoint == nil {
		return errors.NewValidationError("NIL_CHECKPOINT", "checkpoint cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *checkpoint
	s.checkpoints[checkpoint.Partition] = &cp
	return nil
}

// Get returns a partition's checkpoint, or nil when none exists
func (s *LedgerStore) Get(ctx context.Context, partition string) (*ledger.VerificationCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[partition]
	if !ok {
		return nil, nil
	}
	out := *cp
	return &out, nil
}

// Clear removes a partition's checkpoint
func (s *LedgerStore) Clear(ctx context.Context, partition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, partition)
	return nil
}

func cloneSealed(entry *ledger.Entry) *ledger.Entry {
	clone := entry.Clone()
	clone.MarkRehydrated()
	return clone
}
