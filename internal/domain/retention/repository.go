package retention

import (
	"context"

	"github.com/google/uuid"
)

// PolicyRepository persists retention policies
type PolicyRepository interface {
	// Save inserts or updates a policy
	Save(ctx context.Context, policy *Policy) error

	// GetByID retrieves a policy by its identifier
	GetByID(ctx context.Context, id uuid.UUID) (*Policy, error)

	// GetByCategory returns the policy bound to an evidence category, or nil
	// when the category has no policy.
	GetByCategory(ctx context.Context, category string) (*Policy, error)

	// List returns all policies
	List(ctx context.Context) ([]*Policy, error)
}

// HoldRepository persists legal holds. Released holds are kept for the
// audit trail.
type HoldRepository interface {
	// Save inserts or updates a hold
	Save(ctx context.Context, hold *LegalHold) error

	// GetByID retrieves a hold by its identifier
	GetByID(ctx context.Context, id uuid.UUID) (*LegalHold, error)

	// GetActiveByEvidence returns the active holds on an evidence item
	GetActiveByEvidence(ctx context.Context, evidenceID uuid.UUID) ([]*LegalHold, error)

	// ListActive returns every active hold
	ListActive(ctx context.Context) ([]*LegalHold, error)

	// ListByEvidence returns all holds on an item, released included
	ListByEvidence(ctx context.Context, evidenceID uuid.UUID) ([]*LegalHold, error)
}

// ArchiveRepository persists archive records
type ArchiveRepository interface {
	// Save inserts or updates an archive record
	Save(ctx context.Context, record *ArchiveRecord) error

	// GetByID retrieves a record by its identifier
	GetByID(ctx context.Context, id uuid.UUID) (*ArchiveRecord, error)

	// GetSealedByEvidence returns the sealed record for an evidence item, or
	// nil when none exists.
	GetSealedByEvidence(ctx context.Context, evidenceID uuid.UUID) (*ArchiveRecord, error)

	// ListByEvidence returns all records for an item
	ListByEvidence(ctx context.Context, evidenceID uuid.UUID) ([]*ArchiveRecord, error)
}
