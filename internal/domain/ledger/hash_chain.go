package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/values"
)

// ChainVerifier provides hash chain integrity verification over a slice of
// entries already loaded from storage. Range iteration, snapshotting and
// checkpointing live in the verification service; this type is pure.
type ChainVerifier interface {
	// VerifySequential verifies a sequence of entries maintains chain integrity.
	// prevHash anchors the first entry; pass the zero hash when the slice
	// starts at sequence 1, or the checkpointed hash when resuming.
	VerifySequential(entries []*Entry, prevHash values.HashValue) (*ChainVerificationResult, error)

	// VerifyEntry verifies a single entry against the expected previous hash
	VerifyEntry(entry *Entry, expectedPrevHash values.HashValue) (bool, error)
}

// HashChainVerifier implements ChainVerifier
type HashChainVerifier struct {
	allowEmptyChain    bool
	validateTimestamps bool
}

// NewHashChainVerifier creates a verifier with default settings
func NewHashChainVerifier() *HashChainVerifier {
	return &HashChainVerifier{
		allowEmptyChain:    true,
		validateTimestamps: false,
	}
}

// NewHashChainVerifierWithOptions creates a verifier with custom options
func NewHashChainVerifierWithOptions(allowEmpty, validateTime bool) *HashChainVerifier {
	return &HashChainVerifier{
		allowEmptyChain:    allowEmpty,
		validateTimestamps: validateTime,
	}
}

// ChainVerificationResult contains the results of hash chain verification
type ChainVerificationResult struct {
	IsValid             bool          `json:"is_valid"`
	EntriesVerified     int           `json:"entries_verified"`
	ChainBreaks         []*ChainBreak `json:"chain_breaks,omitempty"`
	FirstBrokenSequence uint64        `json:"first_broken_sequence,omitempty"`
	LastGoodHash        values.HashValue `json:"last_good_hash"`
	LastGoodSequence    uint64        `json:"last_good_sequence"`
	StartSequence       uint64        `json:"start_sequence,omitempty"`
	EndSequence         uint64        `json:"end_sequence,omitempty"`
	VerificationTime    time.Duration `json:"verification_time"`
	ErrorsEncountered   []string      `json:"errors_encountered,omitempty"`
}

// ChainBreak represents a detected break in the hash chain
type ChainBreak struct {
	EntryID      string    `json:"entry_id,omitempty"`
	SequenceNum  uint64    `json:"sequence_num"`
	BreakType    BreakType `json:"break_type"`
	Description  string    `json:"description"`
	MissingFrom  uint64    `json:"missing_from,omitempty"`
	MissingTo    uint64    `json:"missing_to,omitempty"`
	ExpectedHash string    `json:"expected_hash,omitempty"`
	ActualHash   string    `json:"actual_hash,omitempty"`
}

// BreakType categorizes the type of chain break. A missing sequence is
// reported distinctly from tampering.
type BreakType string

const (
	BreakTypeHashMismatch BreakType = "HASH_MISMATCH"
	BreakTypeSequenceGap  BreakType = "SEQUENCE_GAP"
)

// String returns the string representation of the break type
func (bt BreakType) String() string {
	return string(bt)
}

// VerifySequential verifies hash chain integrity for a sequence of entries
func (v *HashChainVerifier) VerifySequential(entries []*Entry, prevHash values.HashValue) (*ChainVerificationResult, error) {
	startTime := time.Now()

	result := &ChainVerificationResult{
		IsValid:           true,
		ChainBreaks:       make([]*ChainBreak, 0),
		ErrorsEncountered: make([]string, 0),
		LastGoodHash:      prevHash,
	}

	if len(entries) == 0 {
		if !v.allowEmptyChain {
			return nil, errors.NewValidationError("EMPTY_CHAIN",
				"empty entry chain not allowed")
		}
		result.VerificationTime = time.Since(startTime)
		return result, nil
	}

	if prevHash.IsEmpty() {
		return nil, errors.NewValidationError("EMPTY_PREV_HASH",
			"anchor hash is required; use the zero hash for a chain head")
	}

	sorted := make([]*Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SequenceNum < sorted[j].SequenceNum
	})
	entries = sorted

	result.StartSequence = entries[0].SequenceNum
	result.EndSequence = entries[len(entries)-1].SequenceNum

	expectedPrev := prevHash
	expectedSeq := entries[0].SequenceNum
	var previousTimestamp time.Time

	for i, entry := range entries {
		result.EntriesVerified++

		if err := entry.Validate(); err != nil {
			result.IsValid = false
			result.ErrorsEncountered = append(result.ErrorsEncountered,
				fmt.Sprintf("entry %s validation failed: %v", entry.ID, err))
			continue
		}

		// A missing sequence number is a gap, not tampering
		if entry.SequenceNum != expectedSeq {
			result.IsValid = false
			result.recordBreak(&ChainBreak{
				SequenceNum: expectedSeq,
				BreakType:   BreakTypeSequenceGap,
				MissingFrom: expectedSeq,
				MissingTo:   entry.SequenceNum - 1,
				Description: fmt.Sprintf("sequences %d-%d are missing",
					expectedSeq, entry.SequenceNum-1),
			})
			// Re-anchor after the gap so later tampering is still localized
			expectedPrev = entry.PrevHash
			expectedSeq = entry.SequenceNum
		}

		if v.validateTimestamps && i > 0 && entry.Timestamp.Before(previousTimestamp) {
			result.ErrorsEncountered = append(result.ErrorsEncountered,
				fmt.Sprintf("entry %d timestamp precedes its predecessor", entry.SequenceNum))
		}

		valid, err := v.VerifyEntry(entry, expectedPrev)
		if err != nil {
			result.IsValid = false
			result.ErrorsEncountered = append(result.ErrorsEncountered,
				fmt.Sprintf("hash verification error for sequence %d: %v", entry.SequenceNum, err))
			continue
		}

		if !valid {
			result.IsValid = false
			result.recordBreak(&ChainBreak{
				EntryID:      entry.ID.String(),
				SequenceNum:  entry.SequenceNum,
				BreakType:    BreakTypeHashMismatch,
				ExpectedHash: ComputeEntryHash(expectedPrev, entry.SequenceNum, entry.TimestampNano, entry.PayloadDigest).String(),
				ActualHash:   entry.EntryHash.String(),
				Description:  fmt.Sprintf("hash mismatch at sequence %d", entry.SequenceNum),
			})
		} else {
			result.LastGoodHash = entry.EntryHash
			result.LastGoodSequence = entry.SequenceNum
		}

		expectedPrev = entry.EntryHash
		expectedSeq = entry.SequenceNum + 1
		previousTimestamp = entry.Timestamp
	}

	result.VerificationTime = time.Since(startTime)
	return result, nil
}

// VerifyEntry verifies a single entry's chain link
func (v *HashChainVerifier) VerifyEntry(entry *Entry, expectedPrevHash values.HashValue) (bool, error) {
	if entry == nil {
		return false, errors.NewValidationError("NIL_ENTRY", "entry cannot be nil")
	}

	if entry.EntryHash.IsEmpty() {
		return false, errors.NewValidationError("ENTRY_NOT_SEALED",
			"entry must be sealed with a computed hash")
	}

	if !entry.PrevHash.Equal(expectedPrevHash) {
		return false, nil
	}

	expected := ComputeEntryHash(expectedPrevHash, entry.SequenceNum,
		entry.TimestampNano, entry.PayloadDigest)
	return expected.Equal(entry.EntryHash), nil
}

func (r *ChainVerificationResult) recordBreak(b *ChainBreak) {
	r.ChainBreaks = append(r.ChainBreaks, b)
	if r.FirstBrokenSequence == 0 || b.SequenceNum < r.FirstBrokenSequence {
		r.FirstBrokenSequence = b.SequenceNum
	}
}

// FirstBreak returns the earliest break, or nil for a clean chain
func (r *ChainVerificationResult) FirstBreak() *ChainBreak {
	if len(r.ChainBreaks) == 0 {
		return nil
	}
	first := r.ChainBreaks[0]
	for _, b := range r.ChainBreaks[1:] {
		if b.SequenceNum < first.SequenceNum {
			first = b
		}
	}
	return first
}

// VerifyChainIntegrity is a convenience function for verifying a chain that
// starts at its partition head.
func VerifyChainIntegrity(entries []*Entry) (*ChainVerificationResult, error) {
	verifier := NewHashChainVerifier()
	return verifier.VerifySequential(entries, values.ZeroHash())
}
