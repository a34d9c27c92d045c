package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/retention"
)

// PolicyRepository implements retention.PolicyRepository on PostgreSQL
type PolicyRepository struct {
	db *pgxpool.Pool
}

// NewPolicyRepository creates the retention policy repository
func NewPolicyRepository(db *pgxpool.Pool) *PolicyRepository {
	return &PolicyRepository{db: db}
}

const policyColumns = `
	id, name, category, period, anchor, action, created_at, updated_at`

// Save inserts or updates a policy
func (r *PolicyRepository) Save(ctx context.Context, policy *retention.Policy) error {
	query := `
		INSERT INTO retention_policies (` + policyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			period = EXCLUDED.period,
			anchor = EXCLUDED.anchor,
			action = EXCLUDED.action,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		policy.ID, policy.Name, policy.Category, policy.Period,
		policy.Anchor, policy.Action, policy.CreatedAt, policy.UpdatedAt)
	if err != nil {
		return storageError("saving retention policy", err)
	}
	return nil
}

// GetByID retrieves a policy by its identifier
func (r *PolicyRepository) GetByID(ctx context.Context, id uuid.UUID) (*retention.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM retention_policies WHERE id = $1`
	policy, err := scanPolicy(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, errors.ErrPolicyNotFound
		}
		return nil, storageError("loading retention policy", err)
	}
	return policy, nil
}

// GetByCategory returns the policy for a category, or nil when none exists
func (r *PolicyRepository) GetByCategory(ctx context.Context, category string) (*retention.Policy, error) {
	query := `SELECT ` + policyColumns + `
		FROM retention_policies WHERE category = $1 LIMIT 1`
	policy, err := scanPolicy(r.db.QueryRow(ctx, query, category))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, storageError("loading retention policy", err)
	}
	return policy, nil
}

// List returns all policies
func (r *PolicyRepository) List(ctx context.Context) ([]*retention.Policy, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+policyColumns+` FROM retention_policies ORDER BY name ASC`)
	if err != nil {
		return nil, storageError("listing retention policies", err)
	}
	defer rows.Close()

	policies := make([]*retention.Policy, 0)
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, storageError("scanning retention policy", err)
		}
		policies = append(policies, policy)
	}
	return policies, rows.Err()
}

func scanPolicy(row pgx.Row) (*retention.Policy, error) {
	var policy retention.Policy
	err := row.Scan(
		&policy.ID, &policy.Name, &policy.Category, &policy.Period,
		&policy.Anchor, &policy.Action, &policy.CreatedAt, &policy.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

// HoldRepository implements retention.HoldRepository on PostgreSQL. Released
// holds stay on record; activity is a null released_at.
type HoldRepository struct {
	db *pgxpool.Pool
}

// NewHoldRepository creates the legal hold repository
func NewHoldRepository(db *pgxpool.Pool) *HoldRepository {
	return &HoldRepository{db: db}
}

const holdColumns = `
	id, evidence_id, case_ref, reason, placed_by, placed_at,
	released_by, released_at`

// Save inserts or updates a hold
func (r *HoldRepository) Save(ctx context.Context, hold *retention.LegalHold) error {
	query := `
		INSERT INTO legal_holds (` + holdColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			released_by = EXCLUDED.released_by,
			released_at = EXCLUDED.released_at`

	_, err := r.db.Exec(ctx, query,
		hold.ID, hold.EvidenceID, hold.CaseRef, hold.Reason,
		hold.PlacedBy, hold.PlacedAt, hold.ReleasedBy, hold.ReleasedAt)
	if err != nil {
		return storageError("saving legal hold", err)
	}
	return nil
}

// GetByID retrieves a hold by its identifier
func (r *HoldRepository) GetByID(ctx context.Context, id uuid.UUID) (*retention.LegalHold, error) {
	query := `SELECT ` + holdColumns + ` FROM legal_holds WHERE id = $1`
	hold, err := scanHold(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, errors.ErrHoldNotFound
		}
		return nil, storageError("loading legal hold", err)
	}
	return hold, nil
}

// GetActiveByEvidence returns the active holds on an evidence item
func (r *HoldRepository) GetActiveByEvidence(ctx context.Context, evidenceID uuid.UUID) ([]*retention.LegalHold, error) {
	return r.list(ctx, `SELECT `+holdColumns+`
		FROM legal_holds
		WHERE evidence_id = $1 AND released_at IS NULL
		ORDER BY placed_at ASC`, evidenceID)
}

// ListActive returns every active hold
func (r *HoldRepository) ListActive(ctx context.Context) ([]*retention.LegalHold, error) {
	return r.list(ctx, `SELECT `+holdColumns+`
		FROM legal_holds WHERE released_at IS NULL ORDER BY placed_at ASC`)
}

// ListByEvidence returns all holds on an item, released included
func (r *HoldRepository) ListByEvidence(ctx context.Context, evidenceID uuid.UUID) ([]*retention.LegalHold, error) {
	return r.list(ctx, `SELECT `+holdColumns+`
		FROM legal_holds WHERE evidence_id = $1 ORDER BY placed_at ASC`, evidenceID)
}

func (r *HoldRepository) list(ctx context.Context, query string, args ...any) ([]*retention.LegalHold, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError("listing legal holds", err)
	}
	defer rows.Close()

	holds := make([]*retention.LegalHold, 0)
	for rows.Next() {
		hold, err := scanHold(rows)
		if err != nil {
			return nil, storageError("scanning legal hold", err)
		}
		holds = append(holds, hold)
	}
	return holds, rows.Err()
}

func scanHold(row pgx.Row) (*retention.LegalHold, error) {
	var hold retention.LegalHold
	var releasedBy *string

	err := row.Scan(
		&hold.ID, &hold.EvidenceID, &hold.CaseRef, &hold.Reason,
		&hold.PlacedBy, &hold.PlacedAt, &releasedBy, &hold.ReleasedAt)
	if err != nil {
		return nil, err
	}

	if releasedBy != nil {
		hold.ReleasedBy = *releasedBy
	}
	return &hold, nil
}

// ArchiveRepository implements retention.ArchiveRepository on PostgreSQL
type ArchiveRepository struct {
	db *pgxpool.Pool
}

// NewArchiveRepository creates the archive record repository
func NewArchiveRepository(db *pgxpool.Pool) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

const archiveColumns = `
	id, evidence_id, archive_ref, original_ref, content_digest,
	size_bytes, archived_by, archived_at, restored_at, disposed_at`

// Save inserts or updates an archive record
func (r *ArchiveRepository) Save(ctx context.Context, record *retention.ArchiveRecord) error {
	query := `
		INSERT INTO archive_records (` + archiveColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			restored_at = EXCLUDED.restored_at,
			disposed_at = EXCLUDED.disposed_at`

	_, err := r.db.Exec(ctx, query,
		record.ID, record.EvidenceID, record.ArchiveRef, record.OriginalRef,
		record.ContentDigest, record.SizeBytes, record.ArchivedBy, record.ArchivedAt,
		record.RestoredAt, record.DisposedAt)
	if err != nil {
		return storageError("saving archive record", err)
	}
	return nil
}

// GetByID retrieves a record by its identifier
func (r *ArchiveRepository) GetByID(ctx context.Context, id uuid.UUID) (*retention.ArchiveRecord, error) {
	query := `SELECT ` + archiveColumns + ` FROM archive_records WHERE id = $1`
	record, err := scanArchive(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, errors.ErrArchiveNotFound
		}
		return nil, storageError("loading archive record", err)
	}
	return record, nil
}

// GetSealedByEvidence returns the sealed record for an item, or nil
func (r *ArchiveRepository) GetSealedByEvidence(ctx context.Context, evidenceID uuid.UUID) (*retention.ArchiveRecord, error) {
	query := `SELECT ` + archiveColumns + `
		FROM archive_records
		WHERE evidence_id = $1 AND restored_at IS NULL AND disposed_at IS NULL
		ORDER BY archived_at DESC
		LIMIT 1`

	record, err := scanArchive(r.db.QueryRow(ctx, query, evidenceID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, storageError("loading archive record", err)
	}
	return record, nil
}

// ListByEvidence returns all records for an item
func (r *ArchiveRepository) ListByEvidence(ctx context.Context, evidenceID uuid.UUID) ([]*retention.ArchiveRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT `+archiveColumns+`
		FROM archive_records WHERE evidence_id = $1 ORDER BY archived_at ASC`, evidenceID)
	if err != nil {
		return nil, storageError("listing archive records", err)
	}
	defer rows.Close()

	records := make([]*retention.ArchiveRecord, 0)
	for rows.Next() {
		record, err := scanArchive(rows)
		if err != nil {
			return nil, storageError("scanning archive record", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanArchive(row pgx.Row) (*retention.ArchiveRecord, error) {
	var record retention.ArchiveRecord
	err := row.Scan(
		&record.ID, &record.EvidenceID, &record.ArchiveRef, &record.OriginalRef,
		&record.ContentDigest, &record.SizeBytes, &record.ArchivedBy, &record.ArchivedAt,
		&record.RestoredAt, &record.DisposedAt)
	if err != nil {
		return nil, err
	}
	return &record, nil
}
