package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/ledger"
)

// LedgerRepository implements ledger.EntryRepository on PostgreSQL. The
// unique (partition, sequence_num) index is the CAS the writer retries
// against; rows are never updated or deleted.
type LedgerRepository struct {
	db *pgxpool.Pool
}

// NewLedgerRepository creates the ledger entry repository
func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerColumns = `
	id, partition, sequence_num, recorded_at, timestamp_nano,
	actor_id, actor_type, action, entity_type, entity_id,
	corrects_sequence, metadata, payload_digest, prev_hash, entry_hash`

// Insert persists a sealed entry, surfacing slot conflicts for retry
func (r *LedgerRepository) Insert(ctx context.Context, entry *ledger.Entry) error {
	if entry == nil {
		return errors.NewValidationError("NIL_ENTRY", "entry cannot be nil")
	}
	if !entry.IsSealed() {
		return errors.NewValidationError("ENTRY_NOT_SEALED",
			"only sealed entries can be persisted")
	}

	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return errors.NewInternalError("encoding entry metadata failed").WithCause(err)
	}

	query := `
		INSERT INTO ledger_entries (` + ledgerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = r.db.Exec(ctx, query,
		entry.ID, entry.Partition, entry.SequenceNum, entry.Timestamp, entry.TimestampNano,
		entry.ActorID, entry.ActorType, entry.Action, entry.EntityType, entry.EntityID,
		entry.CorrectsSequence, metadata, entry.PayloadDigest, entry.PrevHash, entry.EntryHash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewConflictError(fmt.Sprintf(
				"sequence %d in partition %s is already taken",
				entry.SequenceNum, entry.Partition))
		}
		return storageError("inserting ledger entry", err)
	}
	return nil
}

// GetTail returns the highest committed sequence and its hash
func (r *LedgerRepository) GetTail(ctx context.Context, partition string) (ledger.Tail, error) {
	query := `
		SELECT sequence_num, entry_hash
		FROM ledger_entries
		WHERE partition = $1
		ORDER BY sequence_num DESC
		LIMIT 1`

	tail := ledger.Tail{Partition: partition}
	err := r.db.QueryRow(ctx, query, partition).Scan(&tail.SequenceNum, &tail.EntryHash)
	if err != nil {
		if isNoRows(err) {
			return ledger.EmptyTail(partition), nil
		}
		return ledger.Tail{}, storageError("loading partition tail", err)
	}
	return tail, nil
}

// GetByID retrieves an entry by its identifier
func (r *LedgerRepository) GetByID(ctx context.Context, id uuid.UUID) (*ledger.Entry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE id = $1`
	entry, err := scanEntry(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, errors.ErrEntryNotFound
		}
		return nil, storageError("loading ledger entry", err)
	}
	return entry, nil
}

// GetBySequence retrieves an entry by chain slot
func (r *LedgerRepository) GetBySequence(ctx context.Context, partition string, seq uint64) (*ledger.Entry, error) {
	query := `SELECT ` + ledgerColumns + `
		FROM ledger_entries WHERE partition = $1 AND sequence_num = $2`
	entry, err := scanEntry(r.db.QueryRow(ctx, query, partition, seq))
	if err != nil {
		if isNoRows(err) {
			return nil, errors.ErrEntryNotFound
		}
		return nil, storageError("loading ledger entry", err)
	}
	return entry, nil
}

// GetRange retrieves entries with start <= sequence <= end in ascending order
func (r *LedgerRepository) GetRange(ctx context.Context, partition string, start, end uint64, limit int) ([]*ledger.Entry, error) {
	query := `SELECT ` + ledgerColumns + `
		FROM ledger_entries
		WHERE partition = $1 AND sequence_num BETWEEN $2 AND $3
		ORDER BY sequence_num ASC`
	args := []any{partition, start, end}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError("loading ledger range", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// GetByEntity retrieves the subsequence referencing one entity
func (r *LedgerRepository) GetByEntity(ctx context.Context, entityType ledger.EntityType, entityID string) ([]*ledger.Entry, error) {
	query := `SELECT ` + ledgerColumns + `
		FROM ledger_entries
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY partition ASC, sequence_num ASC`

	rows, err := r.db.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, storageError("loading entity entries", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Count returns the number of entries in a partition
func (r *LedgerRepository) Count(ctx context.Context, partition string) (uint64, error) {
	var count uint64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE partition = $1`, partition).Scan(&count)
	if err != nil {
		return 0, storageError("counting ledger entries", err)
	}
	return count, nil
}

// ListPartitions returns the known partition names
func (r *LedgerRepository) ListPartitions(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT partition FROM ledger_entries ORDER BY partition`)
	if err != nil {
		return nil, storageError("listing partitions", err)
	}
	defer rows.Close()

	var partitions []string
	for rows.Next() {
		var partition string
		if err := rows.Scan(&partition); err != nil {
			return nil, storageError("scanning partition name", err)
		}
		partitions = append(partitions, partition)
	}
	return partitions, rows.Err()
}

func scanEntry(row pgx.Row) (*ledger.Entry, error) {
	var entry ledger.Entry
	var metadata []byte

	err := row.Scan(
		&entry.ID, &entry.Partition, &entry.SequenceNum, &entry.Timestamp, &entry.TimestampNano,
		&entry.ActorID, &entry.ActorType, &entry.Action, &entry.EntityType, &entry.EntityID,
		&entry.CorrectsSequence, &metadata, &entry.PayloadDigest, &entry.PrevHash, &entry.EntryHash,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, err
		}
	}

	entry.MarkRehydrated()
	return &entry, nil
}

func scanEntries(rows pgx.Rows) ([]*ledger.Entry, error) {
	entries := make([]*ledger.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, storageError("scanning ledger entry", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CheckpointRepository implements ledger.CheckpointRepository on PostgreSQL
type CheckpointRepository struct {
	db *pgxpool.Pool
}

// NewCheckpointRepository creates the checkpoint repository
func NewCheckpointRepository(db *pgxpool.Pool) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Save upserts the checkpoint for its partition
func (r *CheckpointRepository) Save(ctx context.Context, checkpoint *ledger.VerificationCheckpoint) error {
	query := `
		INSERT INTO verification_checkpoints (partition, sequence_num, entry_hash, verified_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (partition) DO UPDATE SET
			sequence_num = EXCLUDED.sequence_num,
			entry_hash = EXCLUDED.entry_hash,
			verified_at = EXCLUDED.verified_at`

	_, err := r.db.Exec(ctx, query,
		checkpoint.Partition, checkpoint.SequenceNum, checkpoint.EntryHash, checkpoint.VerifiedAt)
	if err != nil {
		return storageError("saving verification checkpoint", err)
	}
	return nil
}

// Get returns the checkpoint for a partition, or nil when none exists
func (r *CheckpointRepository) Get(ctx context.Context, partition string) (*ledger.VerificationCheckpoint, error) {
	query := `
		SELECT partition, sequence_num, entry_hash, verified_at
		FROM verification_checkpoints
		WHERE partition = $1`

	var checkpoint ledger.VerificationCheckpoint
	err := r.db.QueryRow(ctx, query, partition).Scan(
		&checkpoint.Partition, &checkpoint.SequenceNum,
		&checkpoint.EntryHash, &checkpoint.VerifiedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, storageError("loading verification checkpoint", err)
	}
	return &checkpoint, nil
}

// Clear removes a partition's checkpoint
func (r *CheckpointRepository) Clear(ctx context.Context, partition string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM verification_checkpoints WHERE partition = $1`, partition)
	if err != nil {
		return storageError("clearing verification checkpoint", err)
	}
	return nil
}
