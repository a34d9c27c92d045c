package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/evidence"
)

// EvidenceRepository implements evidence.Repository on PostgreSQL
type EvidenceRepository struct {
	db *pgxpool.Pool
}

// NewEvidenceRepository creates the evidence item repository
func NewEvidenceRepository(db *pgxpool.Pool) *EvidenceRepository {
	return &EvidenceRepository{db: db}
}

const evidenceColumns = `
	id, case_id, category, storage_ref, content_digest,
	retention_policy_id, disposition, seized_at, created_at, updated_at`

// Save inserts or updates an item
func (r *EvidenceRepository) Save(ctx context.Context, item *evidence.Item) error {
	if item == nil {
		return errors.NewValidationError("NIL_ITEM", "item cannot be nil")
	}

	query := `
		INSERT INTO evidence_items (` + evidenceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			storage_ref = EXCLUDED.storage_ref,
			retention_policy_id = EXCLUDED.retention_policy_id,
			disposition = EXCLUDED.disposition,
			seized_at = EXCLUDED.seized_at,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		item.ID, item.CaseID, item.Category, item.StorageRef, item.ContentDigest,
		nullableUUID(item.RetentionPolicyID), item.Disposition,
		nullableTime(item.SeizedAt), item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return storageError("saving evidence item", err)
	}
	return nil
}

// GetByID retrieves an item by its identifier
func (r *EvidenceRepository) GetByID(ctx context.Context, id uuid.UUID) (*evidence.Item, error) {
	query := `SELECT ` + evidenceColumns + ` FROM evidence_items WHERE id = $1`
	item, err := scanItem(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, errors.ErrEvidenceNotFound
		}
		return nil, storageError("loading evidence item", err)
	}
	return item, nil
}

// ListByCase returns all items for a case
func (r *EvidenceRepository) ListByCase(ctx context.Context, caseID string) ([]*evidence.Item, error) {
	return r.list(ctx, `SELECT `+evidenceColumns+`
		FROM evidence_items WHERE case_id = $1 ORDER BY created_at ASC`, caseID)
}

// ListByDisposition returns items in the given lifecycle disposition
func (r *EvidenceRepository) ListByDisposition(ctx context.Context, disposition evidence.Disposition) ([]*evidence.Item, error) {
	return r.list(ctx, `SELECT `+evidenceColumns+`
		FROM evidence_items WHERE disposition = $1 ORDER BY created_at ASC`, disposition)
}

// ListByPolicy returns items bound to a retention policy
func (r *EvidenceRepository) ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*evidence.Item, error) {
	return r.list(ctx, `SELECT `+evidenceColumns+`
		FROM evidence_items WHERE retention_policy_id = $1 ORDER BY created_at ASC`, policyID)
}

// ListRetained returns every item not yet disposed
func (r *EvidenceRepository) ListRetained(ctx context.Context) ([]*evidence.Item, error) {
	return r.list(ctx, `SELECT `+evidenceColumns+`
		FROM evidence_items WHERE disposition <> $1 ORDER BY created_at ASC`,
		evidence.DispositionDisposed)
}

func (r *EvidenceRepository) list(ctx context.Context, query string, args ...any) ([]*evidence.Item, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError("listing evidence items", err)
	}
	defer rows.Close()

	items := make([]*evidence.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, storageError("scanning evidence item", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(row pgx.Row) (*evidence.Item, error) {
	var item evidence.Item
	var policyID *uuid.UUID
	var seizedAt *time.Time

	err := row.Scan(
		&item.ID, &item.CaseID, &item.Category, &item.StorageRef, &item.ContentDigest,
		&policyID, &item.Disposition, &seizedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if policyID != nil {
		item.RetentionPolicyID = *policyID
	}
	if seizedAt != nil {
		item.SeizedAt = *seizedAt
	}
	return &item, nil
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
