package retention

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/evidence"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/ledger"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/values"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/memory"
	custodysvc "github.com/custodialabs/evidence-custody-backend/internal/service/custody"
	ledgersvc "github.com/custodialabs/evidence-custody-backend/internal/service/ledger"
	"github.com/custodialabs/evidence-custody-backend/internal/testutil"
)

func newHoldFixture(t *testing.T) (*HoldService, *memory.EvidenceStore, *memory.LedgerStore) {
	t.Helper()
	items := memory.NewEvidenceStore()
	holds := memory.NewHoldStore()
	ledgerStore := memory.NewLedgerStore()
	writer := ledgersvc.NewWriter(ledgerStore, nil, testutil.DiscardLogger())
	return NewHoldService(holds, items, writer, testutil.DiscardLogger()), items, ledgerStore
}

func TestHoldPlaceAndRelease(t *testing.T) {
	ctx := context.Background()
	service, items, ledgerStore := newHoldFixture(t)

	item, err := evidence.NewItem("case-2026-0142", "digital", "evidence/x",
		values.MustComputeHashValue([]byte("payload")))
	require.NoError(t, err)
	require.NoError(t, items.Save(ctx, item))

	hold, err := service.Place(ctx, item.ID, "case-2026-0142", "pending appeal", "counsel-7")
	require.NoError(t, err)
	assert.True(t, hold.Active())

	active, err := service.ActiveHolds(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, hold.ID, active[0].ID)

	released, err := service.Release(ctx, hold.ID, "counsel-7")
	require.NoError(t, err)
	assert.False(t, released.Active())
	require.NotNil(t, released.ReleasedAt)

	active, err = service.ActiveHolds(ctx, item.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	// Both operations landed in the item's audit partition
	entries, err := ledgerStore.GetByEntity(ctx, ledger.EntityTypeEvidence, item.ID.String())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.ActionLegalHoldPlaced, entries[0].Action)
	assert.Equal(t, ledger.ActionLegalHoldReleased, entries[1].Action)
	assert.Equal(t, custodysvc.PartitionFor(item.ID), entries[0].Partition)

	// A second release is rejected
	_, err = service.Release(ctx, hold.ID, "counsel-7")
	require.Error(t, err)
}

func TestHoldPlaceUnknownEvidence(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newHoldFixture(t)

	_, err := service.Place(ctx, uuid.New(), "case-2026-0142", "pending appeal", "counsel-7")
	require.Error(t, err)
}
