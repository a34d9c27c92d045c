package ledger

import (
	"time"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/values"
)

// VerificationCheckpoint records the last verified position of a partition so
// repeat verification resumes instead of restarting from sequence 1.
type VerificationCheckpoint struct {
	Partition   string           `json:"partition"`
	SequenceNum uint64           `json:"sequence_num"`
	EntryHash   values.HashValue `json:"entry_hash"`
	VerifiedAt  time.Time        `json:"verified_at"`
}

// NewVerificationCheckpoint creates a checkpoint with validation
func NewVerificationCheckpoint(partition string, sequenceNum uint64, entryHash values.HashValue) (*VerificationCheckpoint, error) {
	if partition == "" {
		return nil, errors.NewValidationError("MISSING_PARTITION",
			"checkpoint partition is required")
	}

	if sequenceNum == 0 {
		return nil, errors.NewValidationError("ZERO_SEQUENCE",
			"checkpoint sequence cannot be zero")
	}

	if entryHash.IsEmpty() {
		return nil, errors.NewValidationError("EMPTY_HASH",
			"checkpoint hash is required")
	}

	return &VerificationCheckpoint{
		Partition:   partition,
		SequenceNum: sequenceNum,
		EntryHash:   entryHash,
		VerifiedAt:  time.Now().UTC(),
	}, nil
}
