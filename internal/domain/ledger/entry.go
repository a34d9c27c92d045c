package ledger

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/values"
)

// Action identifies what a ledger entry records. The set is open: custody
// transitions, retention decisions and integrity events all append entries
// with their own action names.
type Action string

const (
	ActionCustodyTransition    Action = "custody.transition"
	ActionRetentionSuppressed  Action = "retention.suppressed"
	ActionRetentionDue         Action = "retention.due"
	ActionEvidenceArchived     Action = "evidence.archived"
	ActionEvidenceRestored     Action = "evidence.restored"
	ActionEvidenceDisposed     Action = "evidence.disposed"
	ActionIntegrityFailure     Action = "integrity.failure"
	ActionLegalHoldPlaced      Action = "legal_hold.placed"
	ActionLegalHoldReleased    Action = "legal_hold.released"
	ActionCorrection           Action = "ledger.correction"
)

// EntityType identifies what kind of entity an entry refers to
type EntityType string

const (
	EntityTypeEvidence  EntityType = "evidence"
	EntityTypeCase      EntityType = "case"
	EntityTypeLedger    EntityType = "ledger"
	EntityTypeLegalHold EntityType = "legal_hold"
)

// DefaultPartition receives entries that are not evidence-scoped
const DefaultPartition = "global"

// Entry represents an immutable, hash-chained audit ledger entry.
// Once hashed it is sealed; corrections are compensating entries that
// reference the original, never edits.
type Entry struct {
	// Immutable identifiers (set once, never modified)
	ID            uuid.UUID `json:"id"`
	Partition     string    `json:"partition"`
	SequenceNum   uint64    `json:"sequence_num"`
	Timestamp     time.Time `json:"timestamp"`
	TimestampNano int64     `json:"timestamp_nano"`

	// Actor information (who performed the action)
	ActorID   string `json:"actor_id"`
	ActorType string `json:"actor_type"` // user, system, scheduler

	// Target information (what was acted upon)
	Action     Action     `json:"action"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`

	// Compensating entries reference the sequence they correct
	CorrectsSequence uint64 `json:"corrects_sequence,omitempty"`

	// Additional context; hashed indirectly through the payload digest
	Metadata map[string]string `json:"metadata,omitempty"`

	// Cryptographic integrity
	PayloadDigest values.HashValue `json:"payload_digest"`
	PrevHash      values.HashValue `json:"prev_hash"`
	EntryHash     values.HashValue `json:"entry_hash"`

	// Immutability marker - set after hash calculation
	sealed bool `json:"-"`
}

// NewEntry creates a new ledger entry with validation. The payload is never
// stored on the entry; only its digest participates in the chain.
func NewEntry(partition, actorID, actorType string, action Action, entityType EntityType, entityID string, payload []byte) (*Entry, error) {
	if partition == "" {
		partition = DefaultPartition
	}

	if actorID == "" {
		return nil, errors.NewUnauthorizedError("a verified actor identity is required to append")
	}

	if action == "" {
		return nil, errors.NewValidationError("MISSING_ACTION", "action is required")
	}

	if entityType == "" {
		return nil, errors.NewValidationError("MISSING_ENTITY_TYPE", "entity type is required")
	}

	if entityID == "" {
		return nil, errors.NewValidationError("MISSING_ENTITY_ID", "entity ID is required")
	}

	digest, err := values.ComputeHashValue(payload)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_PAYLOAD",
			"payload must not be empty").WithCause(err)
	}

	now := time.Now().UTC()

	return &Entry{
		ID:            uuid.New(),
		Partition:     partition,
		Timestamp:     now,
		TimestampNano: now.UnixNano(),
		ActorID:       actorID,
		ActorType:     actorType,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		PayloadDigest: digest,
		Metadata:      make(map[string]string),
		sealed:        false,
	}, nil
}

// ComputeEntryHash derives the chain hash for the given link fields.
// entry_hash = SHA-256(prev_hash | sequence_no | timestamp_nano | payload_digest)
func ComputeEntryHash(prevHash values.HashValue, sequenceNum uint64, timestampNano int64, payloadDigest values.HashValue) values.HashValue {
	material := fmt.Sprintf("%s|%d|%d|%s",
		prevHash.String(), sequenceNum, timestampNano, payloadDigest.String())
	sum := sha256.Sum256([]byte(material))
	hash, _ := values.NewHashValueFromBytes(sum[:])
	return hash
}

// Seal assigns the sequence number and chain position and computes the entry
// hash. After sealing the entry is immutable.
func (e *Entry) Seal(sequenceNum uint64, prevHash values.HashValue) error {
	if e.sealed {
		return errors.NewBusinessError("ENTRY_SEALED",
			"cannot re-seal an immutable ledger entry")
	}

	if sequenceNum == 0 {
		return errors.NewValidationError("ZERO_SEQUENCE",
			"sequence number cannot be zero")
	}

	if prevHash.IsEmpty() {
		return errors.NewValidationError("EMPTY_PREV_HASH",
			"previous hash is required; use the zero hash for the first entry")
	}

	e.SequenceNum = sequenceNum
	e.PrevHash = prevHash
	e.EntryHash = ComputeEntryHash(prevHash, sequenceNum, e.TimestampNano, e.PayloadDigest)
	e.sealed = true

	return nil
}

// IsSealed returns whether the entry has been made immutable
func (e *Entry) IsSealed() bool {
	return e.sealed
}

// Validate performs structural validation of the entry
func (e *Entry) Validate() error {
	if e.ActorID == "" {
		return errors.NewValidationError("MISSING_ACTOR_ID", "actor ID is required")
	}

	if e.Action == "" {
		return errors.NewValidationError("MISSING_ACTION", "action is required")
	}

	if e.EntityID == "" {
		return errors.NewValidationError("MISSING_ENTITY_ID", "entity ID is required")
	}

	if e.Partition == "" {
		return errors.NewValidationError("MISSING_PARTITION", "partition is required")
	}

	if e.PayloadDigest.IsEmpty() {
		return errors.NewValidationError("MISSING_DIGEST", "payload digest is required")
	}

	if e.sealed && e.EntryHash.IsEmpty() {
		return errors.NewValidationError("MISSING_HASH",
			"sealed entry must carry its chain hash")
	}

	return nil
}

// VerifyHash recomputes the chain hash from the persisted link fields and
// compares it to the stored hash.
func (e *Entry) VerifyHash() bool {
	if e.EntryHash.IsEmpty() || e.PrevHash.IsEmpty() {
		return false
	}
	expected := ComputeEntryHash(e.PrevHash, e.SequenceNum, e.TimestampNano, e.PayloadDigest)
	return expected.Equal(e.EntryHash)
}

// MarkRehydrated seals an entry loaded from storage without recomputing its
// hash. Repositories call this after scanning persisted rows.
func (e *Entry) MarkRehydrated() {
	e.sealed = true
}

// Clone creates a deep copy of the entry. The clone is mutable until re-sealed.
func (e *Entry) Clone() *Entry {
	clone := &Entry{
		ID:               e.ID,
		Partition:        e.Partition,
		SequenceNum:      e.SequenceNum,
		Timestamp:        e.Timestamp,
		TimestampNano:    e.TimestampNano,
		ActorID:          e.ActorID,
		ActorType:        e.ActorType,
		Action:           e.Action,
		EntityType:       e.EntityType,
		EntityID:         e.EntityID,
		CorrectsSequence: e.CorrectsSequence,
		PayloadDigest:    e.PayloadDigest,
		PrevHash:         e.PrevHash,
		EntryHash:        e.EntryHash,
		sealed:           false,
	}

	if e.Metadata != nil {
		clone.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}

	return clone
}
