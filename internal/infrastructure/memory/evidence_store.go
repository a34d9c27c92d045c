package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/evidence"
)

// EvidenceStore implements evidence.Repository
type EvidenceStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*evidence.Item
}

// NewEvidenceStore creates an empty in-memory evidence store
func NewEvidenceStore() *EvidenceStore {
	return &EvidenceStore{items: make(map[uuid.UUID]*evidence.Item)}
}

// Save inserts or updates an item
func (s *EvidenceStore) Save(ctx context.Context, item *evidence.Item) error {
	if item == nil {
		return errors.NewValidationError("NIL_ITEM", "item cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *item
	s.items[item.ID] = &stored
	return nil
}

// GetByID retrieves an item by identifier
func (s *EvidenceStore) GetByID(ctx context.Context, id uuid.UUID) (*evidence.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, errors.ErrEvidenceNotFound
	}
	out := *item
	return &out, nil
}

// ListByCase returns all items for a case
func (s *EvidenceStore) ListByCase(ctx context.Context, caseID string) ([]*evidence.Item, error) {
	return s.filter(func(item *evidence.Item) bool {
		return item.CaseID == caseID
	}), nil
}

// ListByDisposition returns items in the given lifecycle disposition
func (s *EvidenceStore) ListByDisposition(ctx context.Context, disposition evidence.Disposition) ([]*evidence.Item, error) {
	return s.filter(func(item *evidence.Item) bool {
		return item.Disposition == disposition
	}), nil
}

// ListByPolicy returns items bound to a retention policy
func (s *EvidenceStore) ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*evidence.Item, error) {
	return s.filter(func(item *evidence.Item) bool {
		return item.RetentionPolicyID == policyID
	}), nil
}

// ListRetained returns every item that still holds a payload
func (s *EvidenceStore) ListRetained(ctx context.Context) ([]*evidence.Item, error) {
	return s.filter(func(item *evidence.Item) bool {
		return item.Disposition != evidence.DispositionDisposed
	}), nil
}

func (s *EvidenceStore) filter(keep func(*evidence.Item) bool) []*evidence.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*evidence.Item, 0)
	for _, item := range s.items {
		if keep(item) {
			copied := *item
			out = append(out, &copied)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
