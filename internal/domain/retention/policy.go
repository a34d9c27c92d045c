package retention

import (
	"time"

	"github.com/google/uuid"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/evidence"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/values"
)

// DisposalAction is what a policy does to an item when its period elapses
type DisposalAction string

const (
	// DisposalNone means the item stays where it is. Permanent policies and
	// items under hold always evaluate to this.
	DisposalNone    DisposalAction = "NONE"
	DisposalArchive DisposalAction = "ARCHIVE"
	DisposalDelete  DisposalAction = "DELETE"
)

// String returns the string representation of the disposal action
func (a DisposalAction) String() string {
	return string(a)
}

// IsValid checks whether the action is known
func (a DisposalAction) IsValid() bool {
	switch a {
	case DisposalNone, DisposalArchive, DisposalDelete:
		return true
	default:
		return false
	}
}

// Policy defines how long evidence in a category is retained and what
// happens when the period elapses.
type Policy struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Category string    `json:"category"`

	Period values.RetentionPeriod `json:"period"`
	Anchor evidence.AnchorPoint   `json:"anchor"`
	Action DisposalAction         `json:"action"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPolicy creates a retention policy with validation
func NewPolicy(name, category string, period values.RetentionPeriod, anchor evidence.AnchorPoint, action DisposalAction) (*Policy, error) {
	if name == "" {
		return nil, errors.NewValidationError("MISSING_NAME", "policy name is required")
	}

	if category == "" {
		return nil, errors.NewValidationError("MISSING_CATEGORY",
			"policy category is required")
	}

	if !anchor.IsValid() {
		return nil, errors.NewValidationError("INVALID_ANCHOR",
			"unknown retention anchor: "+string(anchor))
	}

	if !action.IsValid() || action == DisposalNone {
		return nil, errors.NewValidationError("INVALID_ACTION",
			"policy action must be ARCHIVE or DELETE")
	}

	if period.NeverExpires() && action == DisposalDelete {
		return nil, errors.NewValidationError("CONTRADICTORY_POLICY",
			"a non-expiring policy cannot mandate deletion")
	}

	now := time.Now().UTC()
	return &Policy{
		ID:        uuid.New(),
		Name:      name,
		Category:  category,
		Period:    period,
		Anchor:    anchor,
		Action:    action,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Decision is the outcome of evaluating one item against its policy
type Decision struct {
	EvidenceID uuid.UUID      `json:"evidence_id"`
	PolicyID   uuid.UUID      `json:"policy_id"`
	Action     DisposalAction `json:"action"`
	DueAt      time.Time      `json:"due_at,omitempty"`
	// Suppressed is set when a legal hold forced the action to NONE
	Suppressed bool      `json:"suppressed,omitempty"`
	HoldID     uuid.UUID `json:"hold_id,omitempty"`
	Reason     string    `json:"reason"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Evaluate computes the disposal decision for an item anchored at the given
// time. Holds are applied by the engine before this decision is acted on.
func (p *Policy) Evaluate(itemID uuid.UUID, anchor time.Time, now time.Time) Decision {
	decision := Decision{
		EvidenceID:  itemID,
		PolicyID:    p.ID,
		EvaluatedAt: now,
	}

	due, expires := p.Period.DueAt(anchor)
	if !expires {
		decision.Action = DisposalNone
		decision.Reason = "retention period never expires"
		return decision
	}

	decision.DueAt = due
	if now.Before(due) {
		decision.Action = DisposalNone
		decision.Reason = "retention period has not elapsed"
		return decision
	}

	decision.Action = p.Action
	decision.Reason = "retention period elapsed"
	return decision
}
