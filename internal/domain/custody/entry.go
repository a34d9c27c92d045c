package custody

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
)

// Action is a custody event recorded against an evidence item
type Action string

const (
	ActionSeized         Action = "SEIZED"
	ActionTransferred    Action = "TRANSFERRED"
	ActionAnalyzed       Action = "ANALYZED"
	ActionPresentedCourt Action = "PRESENTED_COURT"
	ActionReturned       Action = "RETURNED"
	ActionDisposed       Action = "DISPOSED"
)

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}

// IsValid checks whether the action is a known custody action
func (a Action) IsValid() bool {
	switch a {
	case ActionSeized, ActionTransferred, ActionAnalyzed,
		ActionPresentedCourt, ActionReturned, ActionDisposed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the action ends the custody chain. Returning
// evidence to its owner and disposing of it both close the chain.
func (a Action) IsTerminal() bool {
	return a == ActionReturned || a == ActionDisposed
}

// LedgerRef locates the audit ledger entry paired with a custody entry.
// Custody is a projection over the tamper-evident ledger, not a separate
// unaudited table.
type LedgerRef struct {
	Partition   string `json:"partition"`
	SequenceNum uint64 `json:"sequence_num"`
}

// Entry records a single link in an evidence item's chain of custody.
// Entries are append-only; corrections are compensating entries that
// reference the original sequence.
type Entry struct {
	ID          uuid.UUID `json:"id"`
	EvidenceID  uuid.UUID `json:"evidence_id"`
	SequenceNum uint64    `json:"sequence_num"`
	Action      Action    `json:"action"`

	FromCustodian string `json:"from_custodian,omitempty"`
	ToCustodian   string `json:"to_custodian,omitempty"`
	FromLocation  string `json:"from_location,omitempty"`
	ToLocation    string `json:"to_location,omitempty"`

	Timestamp  time.Time `json:"timestamp"`
	RecorderID string    `json:"recorder_id"`

	// Note documents handoff context; its presence exempts a long gap from
	// the temporal-anomaly finding.
	Note string `json:"note,omitempty"`

	// CorrectsSequence references the entry this one compensates for
	CorrectsSequence uint64 `json:"corrects_sequence,omitempty"`

	LedgerRef LedgerRef `json:"ledger_ref"`
}

// NewEntry creates a custody entry with validation. Sequence assignment and
// the ledger pairing happen in the custody service.
func NewEntry(evidenceID uuid.UUID, action Action, recorderID string) (*Entry, error) {
	if evidenceID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_EVIDENCE_ID",
			"evidence ID is required")
	}

	if !action.IsValid() {
		return nil, errors.NewValidationError("INVALID_ACTION",
			"unknown custody action: "+string(action))
	}

	if recorderID == "" {
		return nil, errors.NewUnauthorizedError(
			"a verified recorder identity is required for custody entries")
	}

	return &Entry{
		ID:         uuid.New(),
		EvidenceID: evidenceID,
		Action:     action,
		Timestamp:  time.Now().UTC(),
		RecorderID: recorderID,
	}, nil
}

// Validate performs structural validation of the entry
func (e *Entry) Validate() error {
	if e.EvidenceID == uuid.Nil {
		return errors.NewValidationError("MISSING_EVIDENCE_ID", "evidence ID is required")
	}

	if !e.Action.IsValid() {
		return errors.NewValidationError("INVALID_ACTION",
			"unknown custody action: "+string(e.Action))
	}

	if e.RecorderID == "" {
		return errors.NewValidationError("MISSING_RECORDER", "recorder ID is required")
	}

	// Non-terminal actions must name who receives the evidence
	if !e.Action.IsTerminal() && e.ToCustodian == "" {
		return errors.NewInvalidTransitionError(
			"to_custodian is required for non-terminal custody actions")
	}

	return nil
}

// PayloadBytes returns the canonical JSON payload digested into the paired
// ledger entry.
func (e *Entry) PayloadBytes() ([]byte, error) {
	payload := struct {
		EvidenceID    string `json:"evidence_id"`
		SequenceNum   uint64 `json:"sequence_num"`
		Action        string `json:"action"`
		FromCustodian string `json:"from_custodian,omitempty"`
		ToCustodian   string `json:"to_custodian,omitempty"`
		FromLocation  string `json:"from_location,omitempty"`
		ToLocation    string `json:"to_location,omitempty"`
		Timestamp     int64  `json:"timestamp"`
		RecorderID    string `json:"recorder_id"`
		Note          string `json:"note,omitempty"`
	}{
		EvidenceID:    e.EvidenceID.String(),
		SequenceNum:   e.SequenceNum,
		Action:        string(e.Action),
		FromCustodian: e.FromCustodian,
		ToCustodian:   e.ToCustodian,
		FromLocation:  e.FromLocation,
		ToLocation:    e.ToLocation,
		Timestamp:     e.Timestamp.UnixNano(),
		RecorderID:    e.RecorderID,
		Note:          e.Note,
	}
	return json.Marshal(payload)
}
