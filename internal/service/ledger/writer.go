package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/ledger"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/telemetry"
)

// DefaultAppendRetries caps how often an append retries after losing the
// race for a sequence slot.
const DefaultAppendRetries = 8

// TailCache is the optional read-through cache for partition tails. The
// repository stays authoritative; a stale cached tail only costs one extra
// conflict round.
type TailCache interface {
	GetTail(ctx context.Context, partition string) (ledger.Tail, bool)
	SetTail(ctx context.Context, tail ledger.Tail)
	InvalidateTail(ctx context.Context, partition string)
}

// AppendRequest describes one entry to append
type AppendRequest struct {
	Partition  string
	ActorID    string
	ActorType  string
	Action     ledger.Action
	EntityType ledger.EntityType
	EntityID   string
	Payload    []byte
	Metadata   map[string]string
	// CorrectsSequence marks the entry as compensating for a prior one
	CorrectsSequence uint64
}

// Writer appends entries to the hash-chained ledger. Appends are serialized
// per partition by compare-and-set: the writer seals an entry against the
// observed tail and relies on the storage uniqueness constraint to reject
// the losing side of a race, then reloads the tail and retries. The chain
// never forks and committed entries are never rewritten.
type Writer struct {
	repo       ledger.EntryRepository
	cache      TailCache
	logger     *slog.Logger
	tracer     trace.Tracer
	maxRetries int
}

// NewWriter creates a ledger writer. cache may be nil.
func NewWriter(repo ledger.EntryRepository, cache TailCache, logger *slog.Logger) *Writer {
	return &Writer{
		repo:       repo,
		cache:      cache,
		logger:     logger,
		tracer:     telemetry.Tracer("service.ledger.writer"),
		maxRetries: DefaultAppendRetries,
	}
}

// WithMaxRetries overrides the CAS retry cap
func (w *Writer) WithMaxRetries(retries int) *Writer {
	if retries > 0 {
		w.maxRetries = retries
	}
	return w
}

// Append seals and durably commits a new entry at the partition tail.
// On success the committed entry is returned with its assigned sequence and
// chain hashes. A storage failure means the entry was not recorded; the
// caller retries with backoff.
func (w *Writer) Append(ctx context.Context, req AppendRequest) (*ledger.Entry, error) {
	ctx, span := w.tracer.Start(ctx, "ledger.append",
		trace.WithAttributes(
			attribute.String("partition", req.Partition),
			attribute.String("action", string(req.Action)),
		))
	defer span.End()

	entry, err := ledger.NewEntry(req.Partition, req.ActorID, req.ActorType,
		req.Action, req.EntityType, req.EntityID, req.Payload)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	entry.CorrectsSequence = req.CorrectsSequence
	for k, v := range req.Metadata {
		entry.Metadata[k] = v
	}

	log := telemetry.WithContext(ctx, w.logger)

	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		tail, err := w.loadTail(ctx, entry.Partition, attempt > 0)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}

		candidate := entry.Clone()
		if err := candidate.Seal(tail.SequenceNum+1, tail.EntryHash); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}

		err = w.repo.Insert(ctx, candidate)
		if err == nil {
			if w.cache != nil {
				w.cache.SetTail(ctx, ledger.Tail{
					Partition:   candidate.Partition,
					SequenceNum: candidate.SequenceNum,
					EntryHash:   candidate.EntryHash,
				})
			}

			span.SetAttributes(attribute.Int64("sequence", int64(candidate.SequenceNum)))
			log.Debug("ledger entry committed",
				"partition", candidate.Partition,
				"sequence", candidate.SequenceNum,
				"action", string(candidate.Action),
				"entry_hash", candidate.EntryHash.Truncate())
			return candidate, nil
		}

		if errors.IsType(err, errors.ErrorTypeConflict) {
			// Lost the slot race; reload the tail and try again
			if w.cache != nil {
				w.cache.InvalidateTail(ctx, entry.Partition)
			}
			log.Debug("append lost sequence race, retrying",
				"partition", entry.Partition,
				"attempt", attempt+1,
				"contested_sequence", tail.SequenceNum+1)
			continue
		}

		telemetry.RecordError(span, err)
		return nil, err
	}

	err = errors.NewStorageUnavailableError(fmt.Sprintf(
		"append to partition %s gave up after %d contended attempts",
		entry.Partition, w.maxRetries+1))
	telemetry.RecordError(span, err)
	return nil, err
}

// AppendCorrection appends a compensating entry referencing the sequence it
// corrects. The original entry stays in the chain untouched.
func (w *Writer) AppendCorrection(ctx context.Context, req AppendRequest, corrects uint64) (*ledger.Entry, error) {
	if corrects == 0 {
		return nil, errors.NewValidationError("ZERO_CORRECTION",
			"a correction must reference the sequence it corrects")
	}

	if _, err := w.repo.GetBySequence(ctx, req.Partition, corrects); err != nil {
		return nil, errors.NewValidationError("UNKNOWN_CORRECTION_TARGET",
			fmt.Sprintf("sequence %d does not exist in partition %s", corrects, req.Partition)).
			WithCause(err)
	}

	req.Action = ledger.ActionCorrection
	req.CorrectsSequence = corrects
	return w.Append(ctx, req)
}

// loadTail reads the partition tail, preferring the cache except when a
// conflict just proved it stale.
func (w *Writer) loadTail(ctx context.Context, partition string, skipCache bool) (ledger.Tail, error) {
	if w.cache != nil && !skipCache {
		if tail, ok := w.cache.GetTail(ctx, partition); ok {
			return tail, nil
		}
	}

	tail, err := w.repo.GetTail(ctx, partition)
	if err != nil {
		return ledger.Tail{}, err
	}
	if tail.EntryHash.IsEmpty() {
		tail.EntryHash = ledger.EmptyTail(partition).EntryHash
	}
	return tail, nil
}
