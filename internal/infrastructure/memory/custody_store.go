package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/custody"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
)

// CustodyStore implements custody.EntryRepository
type CustodyStore struct {
	mu      sync.RWMutex
	chains  map[uuid.UUID]map[uint64]*custody.Entry
	byID    map[uuid.UUID]*custody.Entry
}

// NewCustodyStore creates an empty in-memory custody store
func NewCustodyStore() *CustodyStore {
	return &CustodyStore{
		chains: make(map[uuid.UUID]map[uint64]*custody.Entry),
		byID:   make(map[uuid.UUID]*custody.Entry),
	}
}

// Append persists an entry, rejecting duplicate (evidence, sequence) slots
func (s *CustodyStore) Append(ctx context.Context, entry *custody.Entry) error {
	if entry == nil {
		return errors.NewValidationError("NIL_ENTRY", "entry cannot be nil")
	}
	if entry.SequenceNum == 0 {
		return errors.NewValidationError("ZERO_SEQUENCE",
			"custody sequence starts at 1")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chain, ok := s.chains[entry.EvidenceID]
	if !ok {
		chain = make(map[uint64]*custody.Entry)
		s.chains[entry.EvidenceID] = chain
	}

	if _, taken := chain[entry.SequenceNum]; taken {
		return errors.NewConflictError(fmt.Sprintf(
			"custody sequence %d already recorded for evidence %s",
			entry.SequenceNum, entry.EvidenceID))
	}

	stored := *entry
	chain[entry.SequenceNum] = &stored
	s.byID[entry.ID] = &stored
	return nil
}

// GetByEvidence returns the full chain in ascending sequence order
func (s *CustodyStore) GetByEvidence(ctx context.Context, evidenceID uuid.UUID) ([]*custody.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[evidenceID]
	out := make([]*custody.Entry, 0, len(chain))
	for _, entry := range chain {
		e := *entry
		out = append(out, &e)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].SequenceNum < out[j].SequenceNum
	})
	return out, nil
}

// GetLatest returns the highest-sequence entry, or nil for an empty chain
func (s *CustodyStore) GetLatest(ctx context.Context, evidenceID uuid.UUID) (*custody.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *custody.Entry
	for _, entry := range s.chains[evidenceID] {
		if latest == nil || entry.SequenceNum > latest.SequenceNum {
			latest = entry
		}
	}
	if latest == nil {
		return nil, nil
	}
	e := *latest
	return &e, nil
}

// GetByID retrieves an entry by identifier
func (s *CustodyStore) GetByID(ctx context.Context, id uuid.UUID) (*custody.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.byID[id]
	if !ok {
		return nil, errors.NewNotFoundError("custody entry")
	}
	e := *entry
	return &e, nil
}

// CountByEvidence returns the chain length for an evidence item
func (s *CustodyStore) CountByEvidence(ctx context.Context, evidenceID uuid.UUID) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.chains[evidenceID])), nil
}
