package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/retention"
)

// PolicyStore implements retention.PolicyRepository
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[uuid.UUID]*retention.Policy
}

// NewPolicyStore creates an empty in-memory policy store
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{policies: make(map[uuid.UUID]*retention.Policy)}
}

// Save inserts or updates a policy
func (s *PolicyStore) Save(ctx context.Context, policy *retention.Policy) error {
	if policy == nil {
		return errors.NewValidationError("NIL_POLICY", "policy cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *policy
	s.policies[policy.ID] = &stored
	return nil
}

// GetByID retrieves a policy by identifier
func (s *PolicyStore) GetByID(ctx context.Context, id uuid.UUID) (*retention.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy, ok := s.policies[id]
	if !ok {
		return nil, errors.ErrPolicyNotFound
	}
	out := *policy
	return &out, nil
}

// GetByCategory returns the policy for a category, or nil when none exists
func (s *PolicyStore) GetByCategory(ctx context.Context, category string) (*retention.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, policy := range s.policies {
		if policy.Category == category {
			out := *policy
			return &out, nil
		}
	}
	return nil, nil
}

// List returns all policies sorted by name
func (s *PolicyStore) List(ctx context.Context) ([]*retention.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*retention.Policy, 0, len(s.policies))
	for _, policy := range s.policies {
		copied := *policy
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// HoldStore implements retention.HoldRepository
type HoldStore struct {
	mu    sync.RWMutex
	holds map[uuid.UUID]*retention.LegalHold
}

// NewHoldStore creates an empty in-memory hold store
func NewHoldStore() *HoldStore {
	return &HoldStore{holds: make(map[uuid.UUID]*retention.LegalHold)}
}

// Save inserts or updates a hold
func (s *HoldStore) Save(ctx context.Context, hold *retention.LegalHold) error {
	if hold == nil {
		return errors.NewValidationError("NIL_HOLD", "hold cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *hold
	s.holds[hold.ID] = &stored
	return nil
}

// GetByID retrieves a hold by identifier
func (s *HoldStore) GetByID(ctx context.Context, id uuid.UUID) (*retention.LegalHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hold, ok := s.holds[id]
	if !ok {
		return nil, errors.ErrHoldNotFound
	}
	out := *hold
	return &out, nil
}

// GetActiveByEvidence returns the active holds on an evidence item
func (s *HoldStore) GetActiveByEvidence(ctx context.Context, evidenceID uuid.UUID) ([]*retention.LegalHold, error) {
	return s.filter(func(h *retention.LegalHold) bool {
		return h.EvidenceID == evidenceID && h.Active()
	}), nil
}

// ListActive returns every active hold
func (s *HoldStore) ListActive(ctx context.Context) ([]*retention.LegalHold, error) {
	return s.filter(func(h *retention.LegalHold) bool { return h.Active() }), nil
}

// ListByEvidence returns all holds on an item, released included
func (s *HoldStore) ListByEvidence(ctx context.Context, evidenceID uuid.UUID) ([]*retention.LegalHold, error) {
	return s.filter(func(h *retention.LegalHold) bool {
		return h.EvidenceID == evidenceID
	}), nil
}

func (s *HoldStore) filter(keep func(*retention.LegalHold) bool) []*retention.LegalHold {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*retention.LegalHold, 0)
	for _, hold := range s.holds {
		if keep(hold) {
			copied := *hold
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PlacedAt.Before(out[j].PlacedAt)
	})
	return out
}

// ArchiveStore implements retention.ArchiveRepository
type ArchiveStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*retention.ArchiveRecord
}

// NewArchiveStore creates an empty in-memory archive store
func NewArchiveStore() *ArchiveStore {
	return &ArchiveStore{records: make(map[uuid.UUID]*retention.ArchiveRecord)}
}

// Save inserts or updates an archive record
func (s *ArchiveStore) Save(ctx context.Context, record *retention.ArchiveRecord) error {
	if record == nil {
		return errors.NewValidationError("NIL_RECORD", "archive record cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *record
	s.records[record.ID] = &stored
	return nil
}

// GetByID retrieves an archive record by identifier
func (s *ArchiveStore) GetByID(ctx context.Context, id uuid.UUID) (*retention.ArchiveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, errors.ErrArchiveNotFound
	}
	out := *record
	return &out, nil
}

// GetSealedByEvidence returns the sealed record for an item, or nil
func (s *ArchiveStore) GetSealedByEvidence(ctx context.Context, evidenceID uuid.UUID) (*retention.ArchiveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, record := range s.records {
		if record.EvidenceID == evidenceID && record.Sealed() {
			out := *record
			return &out, nil
		}
	}
	return nil, nil
}

// ListByEvidence returns all archive records for an item
func (s *ArchiveStore) ListByEvidence(ctx context.Context, evidenceID uuid.UUID) ([]*retention.ArchiveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*retention.ArchiveRecord, 0)
	for _, record := range s.records {
		if record.EvidenceID == evidenceID {
			copied := *record
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ArchivedAt.Before(out[j].ArchivedAt)
	})
	return out, nil
}
