package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
)

// PeriodKind distinguishes fixed retention durations from the sentinel
// periods that never expire.
type PeriodKind string

const (
	PeriodKindFixed     PeriodKind = "fixed"
	PeriodKindPermanent PeriodKind = "permanent"
	PeriodKindLegalHold PeriodKind = "legal_hold"
)

// RetentionPeriod represents how long evidence is held before it becomes
// eligible for archival or deletion. Permanent and legal-hold sentinel
// periods never produce a due date.
type RetentionPeriod struct {
	kind     PeriodKind
	duration time.Duration
}

// NewRetentionPeriod creates a fixed retention period with validation
func NewRetentionPeriod(duration time.Duration) (RetentionPeriod, error) {
	if duration <= 0 {
		return RetentionPeriod{}, errors.NewValidationError("INVALID_RETENTION_DURATION",
			"retention period must be positive")
	}

	return RetentionPeriod{
		kind:     PeriodKindFixed,
		duration: duration,
	}, nil
}

// MustNewRetentionPeriod creates a fixed RetentionPeriod and panics on error
// (for constants/tests)
func MustNewRetentionPeriod(duration time.Duration) RetentionPeriod {
	rp, err := NewRetentionPeriod(duration)
	if err != nil {
		panic(err)
	}
	return rp
}

// PermanentRetention returns the sentinel period that never expires
func PermanentRetention() RetentionPeriod {
	return RetentionPeriod{kind: PeriodKindPermanent}
}

// LegalHoldRetention returns the sentinel period for items retained solely
// because of an open hold
func LegalHoldRetention() RetentionPeriod {
	return RetentionPeriod{kind: PeriodKindLegalHold}
}

// NewRetentionPeriodFromString creates RetentionPeriod from string representation
func NewRetentionPeriodFromString(value string) (RetentionPeriod, error) {
	if value == "" {
		return RetentionPeriod{}, errors.NewValidationError("EMPTY_RETENTION",
			"retention period string cannot be empty")
	}

	value = strings.TrimSpace(strings.ToLower(value))

	switch value {
	case "permanent", "forever":
		return PermanentRetention(), nil
	case "legal_hold", "legal-hold":
		return LegalHoldRetention(), nil
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return NewRetentionPeriod(duration)
	}

	// Accept year counts like "7y" for policy files
	if strings.HasSuffix(value, "y") {
		var years int
		if _, err := fmt.Sscanf(value, "%dy", &years); err == nil && years > 0 {
			return NewRetentionPeriod(time.Duration(years) * 365 * 24 * time.Hour)
		}
	}

	return RetentionPeriod{}, errors.NewValidationError("INVALID_RETENTION_FORMAT",
		"retention period must be a duration, year count, or sentinel")
}

// Kind returns the period kind
func (rp RetentionPeriod) Kind() PeriodKind {
	return rp.kind
}

// Duration returns the fixed duration; zero for sentinel periods
func (rp RetentionPeriod) Duration() time.Duration {
	return rp.duration
}

// IsZero checks if the period is uninitialized
func (rp RetentionPeriod) IsZero() bool {
	return rp.kind == ""
}

// NeverExpires reports whether the period is a sentinel that produces no due date
func (rp RetentionPeriod) NeverExpires() bool {
	return rp.kind == PeriodKindPermanent || rp.kind == PeriodKindLegalHold
}

// Equal checks if two RetentionPeriod values are equal
func (rp RetentionPeriod) Equal(other RetentionPeriod) bool {
	return rp.kind == other.kind && rp.duration == other.duration
}

// DueAt calculates when data anchored at the given time becomes due.
// The second return is false for sentinel periods.
func (rp RetentionPeriod) DueAt(anchor time.Time) (time.Time, bool) {
	if rp.NeverExpires() || rp.IsZero() {
		return time.Time{}, false
	}
	return anchor.Add(rp.duration), true
}

// IsExpired checks if data anchored at the given time has passed its due date
func (rp RetentionPeriod) IsExpired(anchor time.Time, now time.Time) bool {
	due, ok := rp.DueAt(anchor)
	if !ok {
		return false
	}
	return now.After(due)
}

// String returns a human-readable representation
func (rp RetentionPeriod) String() string {
	switch rp.kind {
	case PeriodKindPermanent:
		return "permanent"
	case PeriodKindLegalHold:
		return "legal_hold"
	case PeriodKindFixed:
		return rp.duration.String()
	default:
		return "<invalid>"
	}
}

// MarshalJSON implements JSON marshaling
func (rp RetentionPeriod) MarshalJSON() ([]byte, error) {
	data := struct {
		Kind     PeriodKind `json:"kind"`
		Duration string     `json:"duration,omitempty"`
	}{
		Kind: rp.kind,
	}
	if rp.kind == PeriodKindFixed {
		data.Duration = rp.duration.String()
	}
	return json.Marshal(data)
}

// UnmarshalJSON implements JSON unmarshaling
func (rp *RetentionPeriod) UnmarshalJSON(data []byte) error {
	var temp struct {
		Kind     PeriodKind `json:"kind"`
		Duration string     `json:"duration"`
	}

	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	switch temp.Kind {
	case PeriodKindPermanent:
		*rp = PermanentRetention()
		return nil
	case PeriodKindLegalHold:
		*rp = LegalHoldRetention()
		return nil
	case PeriodKindFixed:
		duration, err := time.ParseDuration(temp.Duration)
		if err != nil {
			return fmt.Errorf("invalid duration format: %w", err)
		}
		period, err := NewRetentionPeriod(duration)
		if err != nil {
			return err
		}
		*rp = period
		return nil
	}

	return errors.NewValidationError("INVALID_RETENTION_KIND",
		fmt.Sprintf("unknown retention period kind: %s", temp.Kind))
}

// Value implements driver.Valuer for database storage. Fixed periods are
// stored as their duration string, sentinels as their kind.
func (rp RetentionPeriod) Value() (driver.Value, error) {
	if rp.IsZero() {
		return nil, nil
	}
	if rp.kind == PeriodKindFixed {
		return rp.duration.String(), nil
	}
	return string(rp.kind), nil
}

// Scan implements sql.Scanner for database retrieval
func (rp *RetentionPeriod) Scan(value interface{}) error {
	if value == nil {
		*rp = RetentionPeriod{}
		return nil
	}

	var str string
	switch v := value.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return fmt.Errorf("cannot scan %T into RetentionPeriod", value)
	}

	period, err := NewRetentionPeriodFromString(str)
	if err != nil {
		return err
	}

	*rp = period
	return nil
}
