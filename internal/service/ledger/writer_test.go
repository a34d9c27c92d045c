package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/ledger"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/memory"
	"github.com/custodialabs/evidence-custody-backend/internal/testutil"
)

func newTestWriter(t *testing.T) (*Writer, *memory.LedgerStore) {
	t.Helper()
	store := memory.NewLedgerStore()
	return NewWriter(store, nil, testutil.DiscardLogger()), store
}

func appendReq(partition, entityID string) AppendRequest {
	return AppendRequest{
		Partition:  partition,
		ActorID:    "officer-42",
		ActorType:  "user",
		Action:     ledger.ActionCustodyTransition,
		EntityType: ledger.EntityTypeEvidence,
		EntityID:   entityID,
		Payload:    []byte(`{"action":"SEIZED"}`),
	}
}

func TestWriterAppendChainsSequentially(t *testing.T) {
	ctx := context.Background()
	writer, store := newTestWriter(t)

	first, err := writer.Append(ctx, appendReq("evidence-1", "item-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.SequenceNum)
	assert.True(t, first.PrevHash.IsZero())
	assert.True(t, first.VerifyHash())

	second, err := writer.Append(ctx, appendReq("evidence-1", "item-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.SequenceNum)
	assert.True(t, second.PrevHash.Equal(first.EntryHash))

	// Partitions chain independently
	other, err := writer.Append(ctx, appendReq("evidence-2", "item-2"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), other.SequenceNum)

	tail, err := store.GetTail(ctx, "evidence-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tail.SequenceNum)
}

func TestWriterRequiresActor(t *testing.T) {
	ctx := context.Background()
	writer, _ := newTestWriter(t)

	req := appendReq("evidence-1", "item-1")
	req.ActorID = ""
	_, err := writer.Append(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "UNAUTHENTICATED"))
}

func TestWriterConcurrentAppendsNeverFork(t *testing.T) {
	ctx := context.Background()
	writer, store := newTestWriter(t)

	const writers = 20
	const perWriter = 10

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := writer.Append(ctx, appendReq("evidence-1",
					fmt.Sprintf("item-%d-%d", w, i)))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	count, err := store.Count(ctx, "evidence-1")
	require.NoError(t, err)
	require.Equal(t, uint64(writers*perWriter), count)

	// The committed chain is dense and every link verifies
	entries, err := store.GetRange(ctx, "evidence-1", 1, count, 0)
	require.NoError(t, err)
	require.Len(t, entries, int(count))

	result, err := ledger.VerifyChainIntegrity(entries)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
}

func TestWriterAppendCorrection(t *testing.T) {
	ctx := context.Background()
	writer, _ := newTestWriter(t)

	original, err := writer.Append(ctx, appendReq("evidence-1", "item-1"))
	require.NoError(t, err)

	correction, err := writer.AppendCorrection(ctx, appendReq("evidence-1", "item-1"),
		original.SequenceNum)
	require.NoError(t, err)
	assert.Equal(t, ledger.ActionCorrection, correction.Action)
	assert.Equal(t, original.SequenceNum, correction.CorrectsSequence)
	assert.Greater(t, correction.SequenceNum, original.SequenceNum)

	// Corrections must reference a committed sequence
	_, err = writer.AppendCorrection(ctx, appendReq("evidence-1", "item-1"), 999)
	require.Error(t, err)

	_, err = writer.AppendCorrection(ctx, appendReq("evidence-1", "item-1"), 0)
	require.Error(t, err)
}

func TestWriterGivesUpAfterRetryBudget(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLedgerStore()
	writer := NewWriter(&alwaysConflict{store}, nil, testutil.DiscardLogger()).
		WithMaxRetries(2)

	_, err := writer.Append(ctx, appendReq("evidence-1", "item-1"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, "STORAGE_UNAVAILABLE"))
	assert.True(t, errors.IsRetryable(err))
}

// alwaysConflict simulates a writer that loses every sequence race
type alwaysConflict struct {
	*memory.LedgerStore
}

func (a *alwaysConflict) Insert(ctx context.Context, entry *ledger.Entry) error {
	return errors.NewConflictError("slot taken")
}
