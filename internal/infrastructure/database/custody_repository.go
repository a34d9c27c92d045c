package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/custody"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
)

// CustodyRepository implements custody.EntryRepository on PostgreSQL. The
// unique (evidence_id, sequence_num) index keeps each chain dense under
// concurrent writers.
type CustodyRepository struct {
	db *pgxpool.Pool
}

// NewCustodyRepository creates the custody entry repository
func NewCustodyRepository(db *pgxpool.Pool) *CustodyRepository {
	return &CustodyRepository{db: db}
}

const custodyColumns = `
	id, evidence_id, sequence_num, action,
	from_custodian, to_custodian, from_location, to_location,
	occurred_at, recorder_id, note, corrects_sequence,
	ledger_partition, ledger_sequence`

// Append persists an entry at the next sequence for its evidence item
func (r *CustodyRepository) Append(ctx context.Context, entry *custody.Entry) error {
	if entry == nil {
		return errors.NewValidationError("NIL_ENTRY", "entry cannot be nil")
	}

	query := `
		INSERT INTO custody_entries (` + custodyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.Exec(ctx, query,
		entry.ID, entry.EvidenceID, entry.SequenceNum, entry.Action,
		entry.FromCustodian, entry.ToCustodian, entry.FromLocation, entry.ToLocation,
		entry.Timestamp, entry.RecorderID, entry.Note, entry.CorrectsSequence,
		entry.LedgerRef.Partition, entry.LedgerRef.SequenceNum,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewConflictError(fmt.Sprintf(
				"custody sequence %d for evidence %s is already taken",
				entry.SequenceNum, entry.EvidenceID))
		}
		return storageError("appending custody entry", err)
	}
	return nil
}

// GetByEvidence returns all entries for an evidence item in sequence order
func (r *CustodyRepository) GetByEvidence(ctx context.Context, evidenceID uuid.UUID) ([]*custody.Entry, error) {
	query := `SELECT ` + custodyColumns + `
		FROM custody_entries
		WHERE evidence_id = $1
		ORDER BY sequence_num ASC`

	rows, err := r.db.Query(ctx, query, evidenceID)
	if err != nil {
		return nil, storageError("loading custody chain", err)
	}
	defer rows.Close()

	entries := make([]*custody.Entry, 0)
	for rows.Next() {
		entry, err := scanCustodyEntry(rows)
		if err != nil {
			return nil, storageError("scanning custody entry", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetLatest returns the highest-sequence entry, or nil without custody
func (r *CustodyRepository) GetLatest(ctx context.Context, evidenceID uuid.UUID) (*custody.Entry, error) {
	query := `SELECT ` + custodyColumns + `
		FROM custody_entries
		WHERE evidence_id = $1
		ORDER BY sequence_num DESC
		LIMIT 1`

	entry, err := scanCustodyEntry(r.db.QueryRow(ctx, query, evidenceID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, storageError("loading latest custody entry", err)
	}
	return entry, nil
}

// GetByID retrieves an entry by its identifier
func (r *CustodyRepository) GetByID(ctx context.Context, id uuid.UUID) (*custody.Entry, error) {
	query := `SELECT ` + custodyColumns + ` FROM custody_entries WHERE id = $1`
	entry, err := scanCustodyEntry(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, errors.NewNotFoundError("custody entry")
		}
		return nil, storageError("loading custody entry", err)
	}
	return entry, nil
}

// CountByEvidence returns the number of entries for an evidence item
func (r *CustodyRepository) CountByEvidence(ctx context.Context, evidenceID uuid.UUID) (uint64, error) {
	var count uint64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM custody_entries WHERE evidence_id = $1`, evidenceID).Scan(&count)
	if err != nil {
		return 0, storageError("counting custody entries", err)
	}
	return count, nil
}

func scanCustodyEntry(row pgx.Row) (*custody.Entry, error) {
	var entry custody.Entry
	err := row.Scan(
		&entry.ID, &entry.EvidenceID, &entry.SequenceNum, &entry.Action,
		&entry.FromCustodian, &entry.ToCustodian, &entry.FromLocation, &entry.ToLocation,
		&entry.Timestamp, &entry.RecorderID, &entry.Note, &entry.CorrectsSequence,
		&entry.LedgerRef.Partition, &entry.LedgerRef.SequenceNum,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
