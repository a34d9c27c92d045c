package retention

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/custody"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/evidence"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/ledger"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/retention"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/values"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/blob"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/events"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/locks"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/memory"
	custodysvc "github.com/custodialabs/evidence-custody-backend/internal/service/custody"
	ledgersvc "github.com/custodialabs/evidence-custody-backend/internal/service/ledger"
	"github.com/custodialabs/evidence-custody-backend/internal/testutil"
)

type executorFixture struct {
	executor    *Executor
	engine      *Engine
	custodySvc  *custodysvc.Service
	items       *memory.EvidenceStore
	archives    *memory.ArchiveStore
	holds       *memory.HoldStore
	policies    *memory.PolicyStore
	active      *blob.MemoryStore
	sealed      blob.Store
	sealedInner *blob.MemoryStore
	ledgerStore *memory.LedgerStore
	writer      *ledgersvc.Writer
	locker      *locks.Registry
	notifier    *testutil.CaptureNotifier
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()

	items := memory.NewEvidenceStore()
	archives := memory.NewArchiveStore()
	holds := memory.NewHoldStore()
	policies := memory.NewPolicyStore()
	custodyRepo := memory.NewCustodyStore()
	ledgerStore := memory.NewLedgerStore()
	notifier := testutil.NewCaptureNotifier()
	locker := locks.NewRegistry()

	active := blob.NewMemoryStore()
	sealedInner := blob.NewMemoryStore()
	sealed, err := blob.NewSealedStore(sealedInner, bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	writer := ledgersvc.NewWriter(ledgerStore, nil, testutil.DiscardLogger())
	custodySvc := custodysvc.NewService(custodyRepo, items, holds,
		custody.NewRuleRegistry(), custody.NewGapDetector(), writer, locker,
		notifier, testutil.DiscardLogger())
	executor := NewExecutor(items, archives, holds, active, sealed, custodySvc,
		writer, locker, notifier, testutil.DiscardLogger())
	engine := NewEngine(items, policies, holds, custodyRepo, ledgerStore, writer,
		notifier, testutil.DiscardLogger())

	return &executorFixture{
		executor:    executor,
		engine:      engine,
		custodySvc:  custodySvc,
		items:       items,
		archives:    archives,
		holds:       holds,
		policies:    policies,
		active:      active,
		sealed:      sealed,
		sealedInner: sealedInner,
		ledgerStore: ledgerStore,
		writer:      writer,
		locker:      locker,
		notifier:    notifier,
	}
}

// registerItem stores an item whose payload sits in active blob storage
func (f *executorFixture) registerItem(t *testing.T, payload []byte) *evidence.Item {
	t.Helper()
	ctx := context.Background()

	item, err := evidence.NewItem("case-2026-0142", "digital", "evidence/pending",
		values.MustComputeHashValue(payload))
	require.NoError(t, err)
	item.StorageRef = "evidence/" + item.ID.String()
	require.NoError(t, f.active.Put(ctx, item.StorageRef, bytes.NewReader(payload)))
	require.NoError(t, f.items.Save(ctx, item))
	return item
}

func (f *executorFixture) seize(t *testing.T, item *evidence.Item) {
	t.Helper()
	_, err := f.custodySvc.Transition(context.Background(), custodysvc.TransitionRequest{
		EvidenceID:  item.ID,
		Action:      custody.ActionSeized,
		ToCustodian: "officer-a",
		RecorderID:  "officer-a",
	})
	require.NoError(t, err)
}

func (f *executorFixture) lifecycleActions(t *testing.T, item *evidence.Item) []ledger.Action {
	t.Helper()
	entries, err := f.ledgerStore.GetByEntity(context.Background(),
		ledger.EntityTypeEvidence, item.ID.String())
	require.NoError(t, err)
	actions := make([]ledger.Action, 0, len(entries))
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

func TestArchiveRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)
	payload := []byte("body camera footage, 2026-08-14")
	item := f.registerItem(t, payload)
	originalRef := item.StorageRef

	record, err := f.executor.Archive(ctx, item.ID, "archivist-1")
	require.NoError(t, err)
	assert.Equal(t, "archive/"+item.ID.String(), record.ArchiveRef)
	assert.Equal(t, originalRef, record.OriginalRef)
	assert.Equal(t, int64(len(payload)), record.SizeBytes)

	stored, err := f.items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, evidence.DispositionArchived, stored.Disposition)
	assert.Equal(t, record.ArchiveRef, stored.StorageRef)

	// Active copy removed, envelope at rest is not the plaintext
	exists, err := f.active.Exists(ctx, originalRef)
	require.NoError(t, err)
	assert.False(t, exists)

	rc, err := f.sealedInner.Get(ctx, record.ArchiveRef)
	require.NoError(t, err)
	envelope, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.NotContains(t, string(envelope), "body camera")

	require.NoError(t, f.executor.Restore(ctx, item.ID, "archivist-1"))

	stored, err = f.items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, evidence.DispositionActive, stored.Disposition)
	assert.Equal(t, originalRef, stored.StorageRef)

	rc, err = f.active.Get(ctx, originalRef)
	require.NoError(t, err)
	restored, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, payload, restored)

	exists, err = f.sealedInner.Exists(ctx, record.ArchiveRef)
	require.NoError(t, err)
	assert.False(t, exists)

	actions := f.lifecycleActions(t, item)
	assert.Contains(t, actions, ledger.ActionEvidenceArchived)
	assert.Contains(t, actions, ledger.ActionEvidenceRestored)
}

func TestArchiveRejectsNonActive(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)
	item := f.registerItem(t, []byte("payload"))

	_, err := f.executor.Archive(ctx, item.ID, "archivist-1")
	require.NoError(t, err)

	_, err = f.executor.Archive(ctx, item.ID, "archivist-1")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "NOT_ACTIVE"))
}

func TestArchiveHaltsOnTamperedPayload(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)
	item := f.registerItem(t, []byte("original payload"))

	// Overwrite the active copy behind the item's back
	require.NoError(t, f.active.Put(ctx, item.StorageRef,
		bytes.NewReader([]byte("swapped payload"))))

	_, err := f.executor.Archive(ctx, item.ID, "archivist-1")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "AUDIT_INTEGRITY_FAILURE"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeIntegrity))

	// Nothing moved and the failure is on the record
	stored, err := f.items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, evidence.DispositionActive, stored.Disposition)

	exists, err := f.sealedInner.Exists(ctx, "archive/"+item.ID.String())
	require.NoError(t, err)
	assert.False(t, exists)

	failures := f.notifier.OfType(events.EventIntegrityFailure)
	require.Len(t, failures, 1)
	assert.Equal(t, "archive", failures[0].Detail["operation"])
	assert.Contains(t, f.lifecycleActions(t, item), ledger.ActionIntegrityFailure)
}

func TestRestoreHaltsOnCorruptedEnvelope(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)
	item := f.registerItem(t, []byte("payload"))

	record, err := f.executor.Archive(ctx, item.ID, "archivist-1")
	require.NoError(t, err)

	// Flip bytes in the sealed envelope at rest
	require.NoError(t, f.sealedInner.Put(ctx, record.ArchiveRef,
		bytes.NewReader([]byte("corrupted envelope bytes"))))

	err = f.executor.Restore(ctx, item.ID, "archivist-1")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeIntegrity))

	stored, err := f.items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, evidence.DispositionArchived, stored.Disposition)

	failures := f.notifier.OfType(events.EventIntegrityFailure)
	require.Len(t, failures, 1)
	assert.Equal(t, "restore", failures[0].Detail["operation"])
}

func TestDisposeBlockedByHold(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)
	item := f.registerItem(t, []byte("payload"))

	hold, err := retention.NewLegalHold(item.ID, "case-2026-0142", "pending appeal", "counsel-7")
	require.NoError(t, err)
	require.NoError(t, f.holds.Save(ctx, hold))

	err = f.executor.Dispose(ctx, item.ID, "clerk-1")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "LEGAL_HOLD_VIOLATION"))

	// Payload untouched
	exists, err := f.active.Exists(ctx, item.StorageRef)
	require.NoError(t, err)
	assert.True(t, exists)

	require.Len(t, f.notifier.OfType(events.EventLegalHoldBlockedDisposal), 1)
}

func TestDisposeClosesOpenCustodyChain(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)
	item := f.registerItem(t, []byte("payload"))
	f.seize(t, item)

	require.NoError(t, f.executor.Dispose(ctx, item.ID, "clerk-1"))

	state, err := f.custodySvc.State(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, custody.StateDisposed, state)

	stored, err := f.items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, evidence.DispositionDisposed, stored.Disposition)
	assert.Empty(t, stored.StorageRef)

	exists, err := f.active.Exists(ctx, item.StorageRef)
	require.NoError(t, err)
	assert.False(t, exists)

	actions := f.lifecycleActions(t, item)
	assert.Contains(t, actions, ledger.ActionCustodyTransition)
	assert.Contains(t, actions, ledger.ActionEvidenceDisposed)

	err = f.executor.Dispose(ctx, item.ID, "clerk-1")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "ALREADY_DISPOSED"))
}

func TestDisposeArchivedItem(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)
	item := f.registerItem(t, []byte("payload"))

	record, err := f.executor.Archive(ctx, item.ID, "archivist-1")
	require.NoError(t, err)

	require.NoError(t, f.executor.Dispose(ctx, item.ID, "clerk-1"))

	exists, err := f.sealedInner.Exists(ctx, record.ArchiveRef)
	require.NoError(t, err)
	assert.False(t, exists)

	// The archive record is closed out; nothing sealed remains
	sealed, err := f.archives.GetSealedByEvidence(ctx, item.ID)
	require.NoError(t, err)
	assert.Nil(t, sealed)

	stored, err := f.items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, evidence.DispositionDisposed, stored.Disposition)
}

// deleteFailingStore simulates a blob backend whose deletes are down
type deleteFailingStore struct {
	blob.Store
}

func (s deleteFailingStore) Delete(ctx context.Context, key string) error {
	return errors.NewStorageUnavailableError("simulated storage outage")
}

func TestDisposeRecordsBeforePayloadRemoval(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)
	item := f.registerItem(t, []byte("payload"))

	failing := NewExecutor(f.items, f.archives, f.holds,
		deleteFailingStore{f.active}, f.sealed, f.custodySvc,
		f.writer, f.locker, f.notifier, testutil.DiscardLogger())

	err := failing.Dispose(ctx, item.ID, "clerk-1")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "STORAGE_UNAVAILABLE"))

	// The terminal entry landed in the ledger before the removal attempt,
	// so the failed disposal is still on the record
	assert.Contains(t, f.lifecycleActions(t, item), ledger.ActionEvidenceDisposed)

	exists, err := f.active.Exists(ctx, item.StorageRef)
	require.NoError(t, err)
	assert.True(t, exists)

	// The projection never claimed the payload was gone
	stored, err := f.items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, evidence.DispositionActive, stored.Disposition)
}

func TestRetentionLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)
	item := f.registerItem(t, []byte("seized laptop disk image"))

	policy, err := retention.NewPolicy("purge-digital", "digital",
		values.MustNewRetentionPeriod(time.Hour), evidence.AnchorCreated,
		retention.DisposalDelete)
	require.NoError(t, err)
	require.NoError(t, f.policies.Save(ctx, policy))
	require.NoError(t, item.BindPolicy(policy.ID))
	require.NoError(t, f.items.Save(ctx, item))

	f.seize(t, item)
	_, err = f.custodySvc.Transition(ctx, custodysvc.TransitionRequest{
		EvidenceID:    item.ID,
		Action:        custody.ActionTransferred,
		FromCustodian: "officer-a",
		ToCustodian:   "lab-tech-b",
		RecorderID:    "officer-a",
	})
	require.NoError(t, err)
	_, err = f.custodySvc.Transition(ctx, custodysvc.TransitionRequest{
		EvidenceID:    item.ID,
		Action:        custody.ActionAnalyzed,
		FromCustodian: "lab-tech-b",
		ToCustodian:   "lab-tech-b",
		RecorderID:    "lab-tech-b",
	})
	require.NoError(t, err)

	hold, err := retention.NewLegalHold(item.ID, "case-2026-0142", "pending appeal", "counsel-7")
	require.NoError(t, err)
	require.NoError(t, f.holds.Save(ctx, hold))

	f.engine.WithClock(func() time.Time { return time.Now().UTC().Add(2 * time.Hour) })

	// Past due, but the hold suppresses any action
	decision, err := f.engine.Evaluate(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, retention.DisposalNone, decision.Action)
	assert.True(t, decision.Suppressed)

	require.NoError(t, hold.Release("counsel-7"))
	require.NoError(t, f.holds.Save(ctx, hold))

	// Hold lifted, but the evidence is still with the lab
	decision, err = f.engine.Evaluate(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, retention.DisposalNone, decision.Action)
	assert.False(t, decision.Suppressed)
	assert.Equal(t, "custody chain is still open", decision.Reason)

	_, err = f.custodySvc.Transition(ctx, custodysvc.TransitionRequest{
		EvidenceID:    item.ID,
		Action:        custody.ActionReturned,
		FromCustodian: "lab-tech-b",
		RecorderID:    "lab-tech-b",
		Note:          "returned to owner after case closure",
	})
	require.NoError(t, err)

	// Chain closed: deletion proceeds end to end
	decision, err = f.engine.Evaluate(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, retention.DisposalDelete, decision.Action)

	require.NoError(t, f.executor.Execute(ctx, decision, "retention-job"))

	stored, err := f.items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, evidence.DispositionDisposed, stored.Disposition)

	exists, err := f.active.Exists(ctx, item.StorageRef)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Contains(t, f.lifecycleActions(t, item), ledger.ActionEvidenceDisposed)
}

func TestExecuteDispatch(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t)
	item := f.registerItem(t, []byte("payload"))

	// NONE is a no-op
	require.NoError(t, f.executor.Execute(ctx, retention.Decision{
		EvidenceID: item.ID,
		Action:     retention.DisposalNone,
	}, "scheduler"))

	err := f.executor.Execute(ctx, retention.Decision{
		EvidenceID: item.ID,
		Action:     retention.DisposalAction("SHRED"),
	}, "scheduler")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "UNKNOWN_DISPOSAL_ACTION"))

	require.NoError(t, f.executor.Execute(ctx, retention.Decision{
		EvidenceID: item.ID,
		Action:     retention.DisposalArchive,
	}, "scheduler"))

	stored, err := f.items.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, evidence.DispositionArchived, stored.Disposition)
}
