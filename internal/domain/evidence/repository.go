package evidence

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists evidence items
type Repository interface {
	// Save inserts or updates an item
	Save(ctx context.Context, item *Item) error

	// GetByID retrieves an item by its identifier
	GetByID(ctx context.Context, id uuid.UUID) (*Item, error)

	// ListByCase returns all items for a case
	ListByCase(ctx context.Context, caseID string) ([]*Item, error)

	// ListByDisposition returns items in the given lifecycle disposition
	ListByDisposition(ctx context.Context, disposition Disposition) ([]*Item, error)

	// ListByPolicy returns items bound to a retention policy
	ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*Item, error)

	// ListRetained returns items that still hold a payload, meaning every
	// item not yet disposed. The retention engine scans these.
	ListRetained(ctx context.Context) ([]*Item, error)
}
