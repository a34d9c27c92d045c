package evidence

import (
	"time"

	"github.com/google/uuid"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/values"
)

// Disposition tracks where an item's payload lives in its lifecycle
type Disposition string

const (
	DispositionActive   Disposition = "ACTIVE"
	DispositionArchived Disposition = "ARCHIVED"
	DispositionDisposed Disposition = "DISPOSED"
)

// String returns the string representation of the disposition
func (d Disposition) String() string {
	return string(d)
}

// IsValid checks whether the disposition is known
func (d Disposition) IsValid() bool {
	switch d {
	case DispositionActive, DispositionArchived, DispositionDisposed:
		return true
	default:
		return false
	}
}

// Item is a piece of evidence under management: its payload reference,
// content digest, retention binding and lifecycle disposition. Custody
// history lives in the custody domain; audit history in the ledger.
type Item struct {
	ID       uuid.UUID `json:"id"`
	CaseID   string    `json:"case_id"`
	Category string    `json:"category"`

	// StorageRef locates the payload in blob storage while ACTIVE, or the
	// archive record while ARCHIVED. Empty after disposal.
	StorageRef    string           `json:"storage_ref,omitempty"`
	ContentDigest values.HashValue `json:"content_digest"`

	RetentionPolicyID uuid.UUID   `json:"retention_policy_id,omitempty"`
	Disposition       Disposition `json:"disposition"`

	SeizedAt  time.Time `json:"seized_at,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewItem registers an evidence item with validation
func NewItem(caseID, category, storageRef string, contentDigest values.HashValue) (*Item, error) {
	if caseID == "" {
		return nil, errors.NewValidationError("MISSING_CASE_ID", "case ID is required")
	}

	if category == "" {
		return nil, errors.NewValidationError("MISSING_CATEGORY", "evidence category is required")
	}

	if storageRef == "" {
		return nil, errors.NewValidationError("MISSING_STORAGE_REF",
			"a payload storage reference is required")
	}

	if contentDigest.IsEmpty() {
		return nil, errors.NewValidationError("MISSING_DIGEST",
			"a content digest is required for integrity verification")
	}

	now := time.Now().UTC()
	return &Item{
		ID:            uuid.New(),
		CaseID:        caseID,
		Category:      category,
		StorageRef:    storageRef,
		ContentDigest: contentDigest,
		Disposition:   DispositionActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// MarkSeized records the seizure time used as a retention anchor
func (i *Item) MarkSeized(at time.Time) {
	i.SeizedAt = at.UTC()
	i.UpdatedAt = time.Now().UTC()
}

// BindPolicy attaches a retention policy to the item
func (i *Item) BindPolicy(policyID uuid.UUID) error {
	if policyID == uuid.Nil {
		return errors.NewValidationError("MISSING_POLICY_ID", "policy ID is required")
	}
	i.RetentionPolicyID = policyID
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkArchived moves the item to its archive reference
func (i *Item) MarkArchived(archiveRef string) error {
	if i.Disposition == DispositionDisposed {
		return errors.NewInvalidTransitionError("disposed evidence cannot be archived")
	}
	if archiveRef == "" {
		return errors.NewValidationError("MISSING_ARCHIVE_REF", "archive reference is required")
	}
	i.Disposition = DispositionArchived
	i.StorageRef = archiveRef
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkRestored returns an archived item to active storage
func (i *Item) MarkRestored(storageRef string) error {
	if i.Disposition != DispositionArchived {
		return errors.NewInvalidTransitionError("only archived evidence can be restored")
	}
	if storageRef == "" {
		return errors.NewValidationError("MISSING_STORAGE_REF", "storage reference is required")
	}
	i.Disposition = DispositionActive
	i.StorageRef = storageRef
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkDisposed records irreversible payload destruction
func (i *Item) MarkDisposed() error {
	if i.Disposition == DispositionDisposed {
		return errors.NewInvalidTransitionError("evidence is already disposed")
	}
	i.Disposition = DispositionDisposed
	i.StorageRef = ""
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// RetentionAnchor resolves the timestamp a retention period counts from
func (i *Item) RetentionAnchor(anchor AnchorPoint) (time.Time, error) {
	switch anchor {
	case AnchorCreated:
		return i.CreatedAt, nil
	case AnchorSeized:
		if i.SeizedAt.IsZero() {
			return time.Time{}, errors.NewValidationError("NO_SEIZURE_TIME",
				"item has no recorded seizure time")
		}
		return i.SeizedAt, nil
	default:
		return time.Time{}, errors.NewValidationError("UNKNOWN_ANCHOR",
			"unknown retention anchor: "+string(anchor))
	}
}

// AnchorPoint names the event a retention period is measured from.
// AnchorLastTransition is resolved by the retention engine, which can see
// the custody chain.
type AnchorPoint string

const (
	AnchorCreated        AnchorPoint = "CREATED"
	AnchorSeized         AnchorPoint = "SEIZED"
	AnchorLastTransition AnchorPoint = "LAST_TRANSITION"
)

// IsValid checks whether the anchor point is known
func (a AnchorPoint) IsValid() bool {
	switch a {
	case AnchorCreated, AnchorSeized, AnchorLastTransition:
		return true
	default:
		return false
	}
}
