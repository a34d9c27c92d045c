package evidence

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/values"
)

func newTestItem(t *testing.T) *Item {
	t.Helper()
	digest := values.MustComputeHashValue([]byte("evidence payload"))
	item, err := NewItem("case-2026-0142", "digital", "blob://evidence/1", digest)
	require.NoError(t, err)
	return item
}

func TestNewItem(t *testing.T) {
	digest := values.MustComputeHashValue([]byte("payload"))

	t.Run("valid item starts active", func(t *testing.T) {
		item, err := NewItem("case-1", "digital", "blob://x", digest)
		require.NoError(t, err)
		assert.Equal(t, DispositionActive, item.Disposition)
		assert.True(t, item.SeizedAt.IsZero())
	})

	tests := []struct {
		name       string
		caseID     string
		category   string
		storageRef string
		digest     values.HashValue
	}{
		{"missing case", "", "digital", "blob://x", digest},
		{"missing category", "case-1", "", "blob://x", digest},
		{"missing storage ref", "case-1", "digital", "", digest},
		{"missing digest", "case-1", "digital", "blob://x", values.HashValue{}},
	}
	for _, tt := range tests {
		t.Run(tt.name+" rejected", func(t *testing.T) {
			_, err := NewItem(tt.caseID, tt.category, tt.storageRef, tt.digest)
			require.Error(t, err)
		})
	}
}

func TestItemLifecycle(t *testing.T) {
	t.Run("archive and restore", func(t *testing.T) {
		item := newTestItem(t)
		originalRef := item.StorageRef

		require.NoError(t, item.MarkArchived("archive://sealed/1"))
		assert.Equal(t, DispositionArchived, item.Disposition)
		assert.Equal(t, "archive://sealed/1", item.StorageRef)

		require.NoError(t, item.MarkRestored(originalRef))
		assert.Equal(t, DispositionActive, item.Disposition)
		assert.Equal(t, originalRef, item.StorageRef)
	})

	t.Run("restore requires archived state", func(t *testing.T) {
		item := newTestItem(t)
		require.Error(t, item.MarkRestored("blob://x"))
	})

	t.Run("disposal clears the storage reference", func(t *testing.T) {
		item := newTestItem(t)
		require.NoError(t, item.MarkDisposed())
		assert.Equal(t, DispositionDisposed, item.Disposition)
		assert.Empty(t, item.StorageRef)

		require.Error(t, item.MarkDisposed())
		require.Error(t, item.MarkArchived("archive://late"))
	})
}

func TestItemRetentionAnchor(t *testing.T) {
	item := newTestItem(t)

	created, err := item.RetentionAnchor(AnchorCreated)
	require.NoError(t, err)
	assert.Equal(t, item.CreatedAt, created)

	// Seizure anchor requires a recorded seizure
	_, err = item.RetentionAnchor(AnchorSeized)
	require.Error(t, err)

	seizedAt := time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)
	item.MarkSeized(seizedAt)

	got, err := item.RetentionAnchor(AnchorSeized)
	require.NoError(t, err)
	assert.Equal(t, seizedAt, got)
}

func TestItemBindPolicy(t *testing.T) {
	item := newTestItem(t)

	require.Error(t, item.BindPolicy(uuid.Nil))

	policyID := uuid.New()
	require.NoError(t, item.BindPolicy(policyID))
	assert.Equal(t, policyID, item.RetentionPolicyID)
}
