package custody

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/custody"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/evidence"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/ledger"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/retention"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/values"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/events"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/locks"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/memory"
	ledgersvc "github.com/custodialabs/evidence-custody-backend/internal/service/ledger"
	"github.com/custodialabs/evidence-custody-backend/internal/testutil"
)

type fixture struct {
	service     *Service
	items       *memory.EvidenceStore
	custodyRepo *memory.CustodyStore
	holds       *memory.HoldStore
	ledgerStore *memory.LedgerStore
	notifier    *testutil.CaptureNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	items := memory.NewEvidenceStore()
	custodyRepo := memory.NewCustodyStore()
	holds := memory.NewHoldStore()
	ledgerStore := memory.NewLedgerStore()
	notifier := testutil.NewCaptureNotifier()

	writer := ledgersvc.NewWriter(ledgerStore, nil, testutil.DiscardLogger())
	service := NewService(custodyRepo, items, holds, custody.NewRuleRegistry(),
		custody.NewGapDetector(), writer, locks.NewRegistry(), notifier,
		testutil.DiscardLogger())

	return &fixture{
		service:     service,
		items:       items,
		custodyRepo: custodyRepo,
		holds:       holds,
		ledgerStore: ledgerStore,
		notifier:    notifier,
	}
}

func (f *fixture) registerItem(t *testing.T) *evidence.Item {
	t.Helper()
	item, err := evidence.NewItem("case-2026-0142", "digital", "blob://item",
		values.MustComputeHashValue([]byte("payload")))
	require.NoError(t, err)
	require.NoError(t, f.items.Save(context.Background(), item))
	return item
}

func (f *fixture) seize(t *testing.T, itemID uuid.UUID) {
	t.Helper()
	_, err := f.service.Transition(context.Background(), TransitionRequest{
		EvidenceID:  itemID,
		Action:      custody.ActionSeized,
		ToCustodian: "officer-a",
		ToLocation:  "scene-4",
		RecorderID:  "officer-a",
	})
	require.NoError(t, err)
}

func TestTransitionLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	item := f.registerItem(t)

	f.seize(t, item.ID)

	state, err := f.service.State(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, custody.StateSeized, state)

	// Seizure stamps the retention anchor on the item
	stored, err := f.items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, stored.SeizedAt.IsZero())

	result, err := f.service.Transition(ctx, TransitionRequest{
		EvidenceID:    item.ID,
		Action:        custody.ActionTransferred,
		FromCustodian: "officer-a",
		ToCustodian:   "lab-tech-b",
		FromLocation:  "scene-4",
		ToLocation:    "lab-2",
		RecorderID:    "officer-a",
	})
	require.NoError(t, err)
	assert.Equal(t, custody.StateInCustody, result.State)
	assert.Equal(t, uint64(2), result.Entry.SequenceNum)
	assert.True(t, result.GapReport.Clean())

	_, err = f.service.Transition(ctx, TransitionRequest{
		EvidenceID:    item.ID,
		Action:        custody.ActionReturned,
		FromCustodian: "lab-tech-b",
		RecorderID:    "lab-tech-b",
		Note:          "returned to owner after case closure",
	})
	require.NoError(t, err)

	state, err = f.service.State(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, custody.StateReturned, state)
}

func TestTransitionPairsLedgerEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	item := f.registerItem(t)
	f.seize(t, item.ID)

	chain, _, err := f.service.Chain(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, chain, 1)

	ref := chain[0].LedgerRef
	assert.Equal(t, PartitionFor(item.ID), ref.Partition)

	entry, err := f.ledgerStore.GetBySequence(ctx, ref.Partition, ref.SequenceNum)
	require.NoError(t, err)
	assert.Equal(t, ledger.ActionCustodyTransition, entry.Action)
	assert.Equal(t, item.ID.String(), entry.EntityID)
	assert.True(t, entry.VerifyHash())

	// The ledger payload digest matches the custody entry bytes
	payload, err := chain[0].PayloadBytes()
	require.NoError(t, err)
	ok, err := entry.PayloadDigest.Verify(payload)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTransitionRejectsInvalidSequence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	item := f.registerItem(t)

	// Transfer before seizure
	_, err := f.service.Transition(ctx, TransitionRequest{
		EvidenceID:  item.ID,
		Action:      custody.ActionTransferred,
		ToCustodian: "lab-tech-b",
		RecorderID:  "officer-a",
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "INVALID_TRANSITION"))

	f.seize(t, item.ID)

	// Double seizure
	_, err = f.service.Transition(ctx, TransitionRequest{
		EvidenceID:  item.ID,
		Action:      custody.ActionSeized,
		ToCustodian: "officer-b",
		RecorderID:  "officer-b",
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "INVALID_TRANSITION"))

	// Nothing was recorded for the rejected attempts
	count, err := f.custodyRepo.CountByEvidence(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestTransitionRequiresRecorder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	item := f.registerItem(t)

	_, err := f.service.Transition(ctx, TransitionRequest{
		EvidenceID:  item.ID,
		Action:      custody.ActionSeized,
		ToCustodian: "officer-a",
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "UNAUTHENTICATED"))
}

func TestTransitionHoldBlocksDisposal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	item := f.registerItem(t)
	f.seize(t, item.ID)

	hold, err := retention.NewLegalHold(item.ID, "case-2026-0142", "pending appeal", "counsel-7")
	require.NoError(t, err)
	require.NoError(t, f.holds.Save(ctx, hold))

	_, err = f.service.Transition(ctx, TransitionRequest{
		EvidenceID: item.ID,
		Action:     custody.ActionDisposed,
		RecorderID: "clerk-1",
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "LEGAL_HOLD_VIOLATION"))

	blocked := f.notifier.OfType(events.EventLegalHoldBlockedDisposal)
	require.Len(t, blocked, 1)
	assert.Equal(t, item.ID.String(), blocked[0].EvidenceID)

	// Released hold no longer blocks
	require.NoError(t, hold.Release("counsel-7"))
	require.NoError(t, f.holds.Save(ctx, hold))

	_, err = f.service.Transition(ctx, TransitionRequest{
		EvidenceID: item.ID,
		Action:     custody.ActionDisposed,
		RecorderID: "clerk-1",
	})
	require.NoError(t, err)
}

func TestTransitionGapFindingsSoftFlag(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	item := f.registerItem(t)
	f.seize(t, item.ID)

	// A handoff released by someone who never held the evidence
	result, err := f.service.Transition(ctx, TransitionRequest{
		EvidenceID:    item.ID,
		Action:        custody.ActionTransferred,
		FromCustodian: "stranger-x",
		ToCustodian:   "lab-tech-b",
		RecorderID:    "stranger-x",
	})
	require.NoError(t, err)
	assert.False(t, result.GapReport.Clean())

	flagged := f.notifier.OfType(events.EventGapDetected)
	require.Len(t, flagged, 1)
	assert.Equal(t, string(custody.FindingContinuityBreak), flagged[0].Detail["first"])
}

func TestTransitionGapFindingsStrictMode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.service.WithStrictGaps(true)
	item := f.registerItem(t)
	f.seize(t, item.ID)

	_, err := f.service.Transition(ctx, TransitionRequest{
		EvidenceID:    item.ID,
		Action:        custody.ActionTransferred,
		FromCustodian: "stranger-x",
		ToCustodian:   "lab-tech-b",
		RecorderID:    "stranger-x",
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "CUSTODY_GAP"))

	count, err := f.custodyRepo.CountByEvidence(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestTransitionNoteExemptsSlowHandoff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.service.WithStrictGaps(true)
	item := f.registerItem(t)
	f.seize(t, item.ID)

	_, err := f.service.Transition(ctx, TransitionRequest{
		EvidenceID:    item.ID,
		Action:        custody.ActionTransferred,
		FromCustodian: "officer-a",
		ToCustodian:   "lab-tech-b",
		RecorderID:    "officer-a",
		Timestamp:     time.Now().UTC().Add(5 * time.Hour),
		Note:          "held in evidence locker over the weekend",
	})
	require.NoError(t, err)
}

func TestTransitionConcurrentSerialized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	item := f.registerItem(t)
	f.seize(t, item.ID)

	const attempts = 10
	start := make(chan struct{})
	results := make(chan error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.service.Transition(ctx, TransitionRequest{
				EvidenceID:    item.ID,
				Action:        custody.ActionTransferred,
				FromCustodian: "officer-a",
				ToCustodian:   "lab-tech-b",
				RecorderID:    "officer-a",
			})
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.IsCode(err, "CONCURRENT_MODIFICATION") ||
				errors.IsCode(err, "INVALID_TRANSITION"))
		}
	}
	assert.GreaterOrEqual(t, succeeded, 1)

	// The chain stayed dense regardless of how the race resolved
	chain, _, err := f.service.Chain(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, chain, succeeded+1)
	for i, entry := range chain {
		assert.Equal(t, uint64(i+1), entry.SequenceNum)
	}
}
