package retention

import (
	"time"

	"github.com/google/uuid"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
)

// LegalHold suspends all disposal for an evidence item while litigation or
// an investigation is pending. A hold with no release time is active and
// overrides every retention policy.
type LegalHold struct {
	ID         uuid.UUID `json:"id"`
	EvidenceID uuid.UUID `json:"evidence_id"`
	CaseRef    string    `json:"case_ref"`
	Reason     string    `json:"reason"`
	PlacedBy   string    `json:"placed_by"`
	PlacedAt   time.Time `json:"placed_at"`

	ReleasedBy string     `json:"released_by,omitempty"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// NewLegalHold places a hold on an evidence item
func NewLegalHold(evidenceID uuid.UUID, caseRef, reason, placedBy string) (*LegalHold, error) {
	if evidenceID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_EVIDENCE_ID",
			"evidence ID is required")
	}

	if caseRef == "" {
		return nil, errors.NewValidationError("MISSING_CASE_REF",
			"a hold must reference its case or matter")
	}

	if reason == "" {
		return nil, errors.NewValidationError("MISSING_REASON",
			"a hold must state its reason")
	}

	if placedBy == "" {
		return nil, errors.NewUnauthorizedError(
			"a verified actor identity is required to place a hold")
	}

	return &LegalHold{
		ID:         uuid.New(),
		EvidenceID: evidenceID,
		CaseRef:    caseRef,
		Reason:     reason,
		PlacedBy:   placedBy,
		PlacedAt:   time.Now().UTC(),
	}, nil
}

// Active reports whether the hold still suppresses disposal
func (h *LegalHold) Active() bool {
	return h.ReleasedAt == nil
}

// Release ends the hold. Releasing twice is an error; the release is part
// of the audit trail and must not be rewritten.
func (h *LegalHold) Release(releasedBy string) error {
	if releasedBy == "" {
		return errors.NewUnauthorizedError(
			"a verified actor identity is required to release a hold")
	}

	if !h.Active() {
		return errors.NewValidationError("HOLD_ALREADY_RELEASED",
			"hold has already been released")
	}

	now := time.Now().UTC()
	h.ReleasedBy = releasedBy
	h.ReleasedAt = &now
	return nil
}
