package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/values"
)

// Tail is the current head of a partition's chain: the highest committed
// sequence and its hash. An empty partition has sequence 0 and the zero hash.
type Tail struct {
	Partition   string
	SequenceNum uint64
	EntryHash   values.HashValue
}

// EmptyTail returns the tail of a partition with no entries: sequence 0
// anchored at the zero hash.
func EmptyTail(partition string) Tail {
	return Tail{
		Partition:   partition,
		SequenceNum: 0,
		EntryHash:   values.ZeroHash(),
	}
}

// EntryRepository persists sealed ledger entries. Implementations must
// enforce uniqueness on (partition, sequence_number); a duplicate insert is
// the losing side of a concurrent append and surfaces as a conflict error so
// the writer can retry against the new tail. Entries are never updated or
// deleted.
type EntryRepository interface {
	// Insert durably persists a sealed entry. Returns a conflict AppError
	// when the (partition, sequence_number) slot is already taken and a
	// storage-unavailable AppError when the store cannot commit.
	Insert(ctx context.Context, entry *Entry) error

	// GetTail returns the partition tail. An empty partition yields
	// sequence 0 and the zero hash.
	GetTail(ctx context.Context, partition string) (Tail, error)

	// GetByID retrieves an entry by its unique identifier
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)

	// GetBySequence retrieves an entry by partition and sequence number
	GetBySequence(ctx context.Context, partition string, seq uint64) (*Entry, error)

	// GetRange retrieves entries with start <= sequence <= end in ascending
	// order, at most limit rows (limit <= 0 means no cap). Missing sequences
	// simply do not appear; gap detection is the verifier's job.
	GetRange(ctx context.Context, partition string, start, end uint64, limit int) ([]*Entry, error)

	// GetByEntity retrieves the subsequence referencing one entity in
	// ascending sequence order, for standalone integrity proofs.
	GetByEntity(ctx context.Context, entityType EntityType, entityID string) ([]*Entry, error)

	// Count returns the number of entries in a partition
	Count(ctx context.Context, partition string) (uint64, error)

	// ListPartitions returns the known partition names
	ListPartitions(ctx context.Context) ([]string, error)
}

// CheckpointRepository persists verification checkpoints keyed by partition.
type CheckpointRepository interface {
	// Save upserts the checkpoint for its partition
	Save(ctx context.Context, checkpoint *VerificationCheckpoint) error

	// Get returns the checkpoint for a partition, or nil when none exists
	Get(ctx context.Context, partition string) (*VerificationCheckpoint, error)

	// Clear removes a partition's checkpoint, forcing the next verification
	// to restart from the chain head. Used after an integrity failure.
	Clear(ctx context.Context, partition string) error
}
