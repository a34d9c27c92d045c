package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/ledger"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/values"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/events"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/telemetry"
)

// DefaultVerifyBatchSize is how many entries one verification batch loads
const DefaultVerifyBatchSize = 1000

// Verifier walks partition chains and proves their integrity. Verification
// runs against a tail snapshot taken at the start, so appends landing during
// a long walk are picked up by the next run instead of moving the goalposts.
// A detected break is never auto-corrected: it is recorded in the ledger,
// escalated, and the checkpoint is cleared so the next run re-examines the
// range.
type Verifier struct {
	repo        ledger.EntryRepository
	checkpoints ledger.CheckpointRepository
	chain       ledger.ChainVerifier
	writer      *Writer
	notifier    events.Notifier
	logger      *slog.Logger
	tracer      trace.Tracer
	limiter     *rate.Limiter
	batchSize   int
}

// NewVerifier creates a chain verifier service. ratePerSecond throttles
// background reads; zero disables throttling.
func NewVerifier(repo ledger.EntryRepository, checkpoints ledger.CheckpointRepository, writer *Writer, notifier events.Notifier, logger *slog.Logger, ratePerSecond int) *Verifier {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond)
	}

	return &Verifier{
		repo:        repo,
		checkpoints: checkpoints,
		chain:       ledger.NewHashChainVerifier(),
		writer:      writer,
		notifier:    notifier,
		logger:      logger,
		tracer:      telemetry.Tracer("service.ledger.verifier"),
		limiter:     limiter,
		batchSize:   DefaultVerifyBatchSize,
	}
}

// WithBatchSize overrides the batch size
func (v *Verifier) WithBatchSize(size int) *Verifier {
	if size > 0 {
		v.batchSize = size
	}
	return v
}

// VerifyPartition verifies a partition chain from its checkpoint (or head)
// to the tail snapshot. On a clean run the checkpoint advances to the tail;
// on a break the failure is recorded and the checkpoint cleared.
func (v *Verifier) VerifyPartition(ctx context.Context, partition string) (*ledger.ChainVerificationResult, error) {
	ctx, span := v.tracer.Start(ctx, "ledger.verify_partition",
		trace.WithAttributes(attribute.String("partition", partition)))
	defer span.End()

	log := telemetry.WithContext(ctx, v.logger)

	// Snapshot the tail; entries appended after this point belong to the
	// next run.
	tail, err := v.repo.GetTail(ctx, partition)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	start := uint64(1)
	anchor := values.ZeroHash()
	anchorKnown := true

	checkpoint, err := v.checkpoints.Get(ctx, partition)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if checkpoint != nil && checkpoint.SequenceNum <= tail.SequenceNum {
		start = checkpoint.SequenceNum + 1
		anchor = checkpoint.EntryHash
	}

	aggregate := &ledger.ChainVerificationResult{
		IsValid:          true,
		LastGoodHash:     anchor,
		LastGoodSequence: start - 1,
		StartSequence:    start,
		EndSequence:      tail.SequenceNum,
	}

	if tail.SequenceNum == 0 || start > tail.SequenceNum {
		return aggregate, nil
	}

	for batchStart := start; batchStart <= tail.SequenceNum; batchStart += uint64(v.batchSize) {
		batchEnd := batchStart + uint64(v.batchSize) - 1
		if batchEnd > tail.SequenceNum {
			batchEnd = tail.SequenceNum
		}

		if err := v.limiter.WaitN(ctx, int(batchEnd-batchStart+1)); err != nil {
			return nil, errors.NewInternalError("verification throttle interrupted").WithCause(err)
		}

		entries, err := v.repo.GetRange(ctx, partition, batchStart, batchEnd, 0)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}

		if len(entries) == 0 {
			// The whole batch range is missing
			aggregate.IsValid = false
			v.recordBreak(aggregate, &ledger.ChainBreak{
				SequenceNum: batchStart,
				BreakType:   ledger.BreakTypeSequenceGap,
				MissingFrom: batchStart,
				MissingTo:   batchEnd,
				Description: fmt.Sprintf("sequences %d-%d are missing", batchStart, batchEnd),
			})
			anchorKnown = false
			continue
		}

		if !anchorKnown {
			anchor = entries[0].PrevHash
			anchorKnown = true
		}

		if entries[0].SequenceNum != batchStart {
			aggregate.IsValid = false
			v.recordBreak(aggregate, &ledger.ChainBreak{
				SequenceNum: batchStart,
				BreakType:   ledger.BreakTypeSequenceGap,
				MissingFrom: batchStart,
				MissingTo:   entries[0].SequenceNum - 1,
				Description: fmt.Sprintf("sequences %d-%d are missing",
					batchStart, entries[0].SequenceNum-1),
			})
			anchor = entries[0].PrevHash
		}

		result, err := v.chain.VerifySequential(entries, anchor)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}

		v.merge(aggregate, result)

		// The next batch anchors at the last entry of this one regardless of
		// validity; re-anchoring keeps later breaks localized.
		anchor = entries[len(entries)-1].EntryHash
	}

	span.SetAttributes(
		attribute.Bool("valid", aggregate.IsValid),
		attribute.Int("entries_verified", aggregate.EntriesVerified),
	)

	if !aggregate.IsValid {
		v.escalate(ctx, partition, aggregate)
		return aggregate, nil
	}

	cp, err := ledger.NewVerificationCheckpoint(partition, tail.SequenceNum, tail.EntryHash)
	if err == nil {
		if saveErr := v.checkpoints.Save(ctx, cp); saveErr != nil {
			log.Warn("saving verification checkpoint failed",
				"partition", partition, "error", saveErr)
		}
	}

	log.Info("partition verified",
		"partition", partition,
		"entries_verified", aggregate.EntriesVerified,
		"through_sequence", tail.SequenceNum)
	return aggregate, nil
}

// VerifyRange verifies an arbitrary sequence range on demand, without
// touching checkpoints. The range anchors at the hash of the entry before
// start, or the zero hash when the range opens the chain.
func (v *Verifier) VerifyRange(ctx context.Context, partition string, start, end uint64) (*ledger.ChainVerificationResult, error) {
	ctx, span := v.tracer.Start(ctx, "ledger.verify_range",
		trace.WithAttributes(
			attribute.String("partition", partition),
			attribute.Int64("start", int64(start)),
			attribute.Int64("end", int64(end)),
		))
	defer span.End()

	if start == 0 || end < start {
		return nil, errors.NewValidationError("INVALID_RANGE",
			fmt.Sprintf("sequence range %d-%d is not valid", start, end))
	}

	anchor := values.ZeroHash()
	if start > 1 {
		before, err := v.repo.GetBySequence(ctx, partition, start-1)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		anchor = before.EntryHash
	}

	aggregate := &ledger.ChainVerificationResult{
		IsValid:          true,
		LastGoodHash:     anchor,
		LastGoodSequence: start - 1,
		StartSequence:    start,
		EndSequence:      end,
	}

	anchorKnown := true
	for batchStart := start; batchStart <= end; batchStart += uint64(v.batchSize) {
		batchEnd := batchStart + uint64(v.batchSize) - 1
		if batchEnd > end {
			batchEnd = end
		}

		if err := v.limiter.WaitN(ctx, int(batchEnd-batchStart+1)); err != nil {
			return nil, errors.NewInternalError("verification throttle interrupted").WithCause(err)
		}

		entries, err := v.repo.GetRange(ctx, partition, batchStart, batchEnd, 0)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}

		if len(entries) == 0 {
			aggregate.IsValid = false
			v.recordBreak(aggregate, &ledger.ChainBreak{
				SequenceNum: batchStart,
				BreakType:   ledger.BreakTypeSequenceGap,
				MissingFrom: batchStart,
				MissingTo:   batchEnd,
				Description: fmt.Sprintf("sequences %d-%d are missing", batchStart, batchEnd),
			})
			anchorKnown = false
			continue
		}

		if !anchorKnown {
			anchor = entries[0].PrevHash
			anchorKnown = true
		}

		if entries[0].SequenceNum != batchStart {
			aggregate.IsValid = false
			v.recordBreak(aggregate, &ledger.ChainBreak{
				SequenceNum: batchStart,
				BreakType:   ledger.BreakTypeSequenceGap,
				MissingFrom: batchStart,
				MissingTo:   entries[0].SequenceNum - 1,
				Description: fmt.Sprintf("sequences %d-%d are missing",
					batchStart, entries[0].SequenceNum-1),
			})
			anchor = entries[0].PrevHash
		}

		result, err := v.chain.VerifySequential(entries, anchor)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		v.merge(aggregate, result)
		anchor = entries[len(entries)-1].EntryHash
	}

	span.SetAttributes(
		attribute.Bool("valid", aggregate.IsValid),
		attribute.Int("entries_verified", aggregate.EntriesVerified),
	)

	if !aggregate.IsValid {
		v.escalate(ctx, partition, aggregate)
	}
	return aggregate, nil
}

// VerifyAll verifies every known partition and returns the per-partition
// results keyed by partition name.
func (v *Verifier) VerifyAll(ctx context.Context) (map[string]*ledger.ChainVerificationResult, error) {
	partitions, err := v.repo.ListPartitions(ctx)
	if err != nil {
		return nil, err
	}

	results := make(map[string]*ledger.ChainVerificationResult, len(partitions))
	for _, partition := range partitions {
		result, err := v.VerifyPartition(ctx, partition)
		if err != nil {
			return results, err
		}
		results[partition] = result
	}
	return results, nil
}

// EvidenceProof is a standalone integrity proof over the ledger entries
// referencing one evidence item.
type EvidenceProof struct {
	EvidenceID      string   `json:"evidence_id"`
	EntriesVerified int      `json:"entries_verified"`
	Valid           bool     `json:"valid"`
	BrokenSequences []uint64 `json:"broken_sequences,omitempty"`
	Partitions      []string `json:"partitions,omitempty"`
}

// VerifyEvidence proves the integrity of every ledger entry referencing an
// evidence item. The entries form a subsequence of their partitions, so each
// entry is verified against its own persisted link fields.
func (v *Verifier) VerifyEvidence(ctx context.Context, evidenceID string) (*EvidenceProof, error) {
	ctx, span := v.tracer.Start(ctx, "ledger.verify_evidence",
		trace.WithAttributes(attribute.String("evidence_id", evidenceID)))
	defer span.End()

	entries, err := v.repo.GetByEntity(ctx, ledger.EntityTypeEvidence, evidenceID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	proof := &EvidenceProof{
		EvidenceID: evidenceID,
		Valid:      true,
	}

	seen := make(map[string]bool)
	for _, entry := range entries {
		proof.EntriesVerified++
		if !seen[entry.Partition] {
			seen[entry.Partition] = true
			proof.Partitions = append(proof.Partitions, entry.Partition)
		}

		if !entry.VerifyHash() {
			proof.Valid = false
			proof.BrokenSequences = append(proof.BrokenSequences, entry.SequenceNum)
		}
	}

	span.SetAttributes(attribute.Bool("valid", proof.Valid))
	return proof, nil
}

func (v *Verifier) recordBreak(result *ledger.ChainVerificationResult, b *ledger.ChainBreak) {
	result.ChainBreaks = append(result.ChainBreaks, b)
	if result.FirstBrokenSequence == 0 || b.SequenceNum < result.FirstBrokenSequence {
		result.FirstBrokenSequence = b.SequenceNum
	}
}

func (v *Verifier) merge(aggregate, batch *ledger.ChainVerificationResult) {
	if !batch.IsValid {
		aggregate.IsValid = false
	}
	aggregate.EntriesVerified += batch.EntriesVerified
	for _, b := range batch.ChainBreaks {
		v.recordBreak(aggregate, b)
	}
	aggregate.ErrorsEncountered = append(aggregate.ErrorsEncountered, batch.ErrorsEncountered...)
	if batch.LastGoodSequence > aggregate.LastGoodSequence {
		aggregate.LastGoodSequence = batch.LastGoodSequence
		aggregate.LastGoodHash = batch.LastGoodHash
	}
}

// escalate records the failure in the ledger, clears the checkpoint so the
// broken range is re-examined, and notifies the compliance channel.
func (v *Verifier) escalate(ctx context.Context, partition string, result *ledger.ChainVerificationResult) {
	log := telemetry.WithContext(ctx, v.logger)

	first := result.FirstBreak()
	breakType := ""
	if first != nil {
		breakType = first.BreakType.String()
	}

	log.Error("ledger integrity failure",
		"partition", partition,
		"first_broken_sequence", result.FirstBrokenSequence,
		"break_type", breakType,
		"breaks", len(result.ChainBreaks))

	if err := v.checkpoints.Clear(ctx, partition); err != nil {
		log.Warn("clearing checkpoint after integrity failure failed",
			"partition", partition, "error", err)
	}

	// The failure itself becomes part of the audit record, appended to the
	// global partition so a broken partition chain cannot swallow it.
	payload := fmt.Sprintf(
		`{"partition":%q,"first_broken_sequence":%d,"break_type":%q,"breaks":%d}`,
		partition, result.FirstBrokenSequence, breakType, len(result.ChainBreaks))

	if _, err := v.writer.Append(ctx, AppendRequest{
		Partition:  ledger.DefaultPartition,
		ActorID:    "integrity-verifier",
		ActorType:  "system",
		Action:     ledger.ActionIntegrityFailure,
		EntityType: ledger.EntityTypeLedger,
		EntityID:   partition,
		Payload:    []byte(payload),
		Metadata: map[string]string{
			"first_broken_sequence": strconv.FormatUint(result.FirstBrokenSequence, 10),
			"break_type":            breakType,
		},
	}); err != nil {
		log.Error("recording integrity failure in ledger failed",
			"partition", partition, "error", err)
	}

	v.notifier.Notify(ctx, events.NewEvent(events.EventIntegrityFailure, "",
		map[string]string{
			"partition":             partition,
			"first_broken_sequence": strconv.FormatUint(result.FirstBrokenSequence, 10),
			"break_type":            breakType,
		}))
}
