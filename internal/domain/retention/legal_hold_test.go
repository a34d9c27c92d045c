package retention

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
)

func TestNewLegalHold(t *testing.T) {
	evidenceID := uuid.New()

	t.Run("valid hold", func(t *testing.T) {
		hold, err := NewLegalHold(evidenceID, "case-2026-0142", "pending appeal", "counsel-7")
		require.NoError(t, err)
		assert.True(t, hold.Active())
		assert.Nil(t, hold.ReleasedAt)
	})

	t.Run("missing case reference rejected", func(t *testing.T) {
		_, err := NewLegalHold(evidenceID, "", "pending appeal", "counsel-7")
		require.Error(t, err)
	})

	t.Run("missing reason rejected", func(t *testing.T) {
		_, err := NewLegalHold(evidenceID, "case-2026-0142", "", "counsel-7")
		require.Error(t, err)
	})

	t.Run("anonymous placement rejected", func(t *testing.T) {
		_, err := NewLegalHold(evidenceID, "case-2026-0142", "pending appeal", "")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, "UNAUTHENTICATED"))
	})
}

func TestLegalHoldRelease(t *testing.T) {
	hold, err := NewLegalHold(uuid.New(), "case-2026-0142", "pending appeal", "counsel-7")
	require.NoError(t, err)

	require.NoError(t, hold.Release("counsel-9"))
	assert.False(t, hold.Active())
	assert.Equal(t, "counsel-9", hold.ReleasedBy)
	require.NotNil(t, hold.ReleasedAt)

	// Double release is rejected and the original release stands
	err = hold.Release("someone-else")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "HOLD_ALREADY_RELEASED"))
	assert.Equal(t, "counsel-9", hold.ReleasedBy)

	// Anonymous release is rejected
	active, err := NewLegalHold(uuid.New(), "case-1", "reason", "counsel-7")
	require.NoError(t, err)
	require.Error(t, active.Release(""))
	assert.True(t, active.Active())
}
