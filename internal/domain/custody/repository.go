package custody

import (
	"context"

	"github.com/google/uuid"
)

// EntryRepository persists custody entries. Entries are append-only per
// evidence item with a dense sequence starting at 1; corrections append
// compensating entries rather than mutating history.
type EntryRepository interface {
	// Append persists an entry at the next sequence for its evidence item.
	// Returns a conflict AppError when the (evidence_id, sequence_num) slot
	// is already taken by a concurrent writer.
	Append(ctx context.Context, entry *Entry) error

	// GetByEvidence returns all entries for an evidence item in ascending
	// sequence order.
	GetByEvidence(ctx context.Context, evidenceID uuid.UUID) ([]*Entry, error)

	// GetLatest returns the highest-sequence entry for an evidence item, or
	// nil when no custody has been recorded.
	GetLatest(ctx context.Context, evidenceID uuid.UUID) (*Entry, error)

	// GetByID retrieves an entry by its unique identifier
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)

	// CountByEvidence returns the number of entries for an evidence item
	CountByEvidence(ctx context.Context, evidenceID uuid.UUID) (uint64, error)
}
