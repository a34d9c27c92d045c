// Package retention evaluates retention policies, enforces legal holds, and
// drives archival and disposal of evidence payloads.
package retention

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/custody"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/evidence"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/ledger"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/retention"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/events"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/telemetry"
	custodysvc "github.com/custodialabs/evidence-custody-backend/internal/service/custody"
	ledgersvc "github.com/custodialabs/evidence-custody-backend/internal/service/ledger"
)

// Engine evaluates items against their retention policies. Evaluation is
// idempotent: it computes a decision from current state and never mutates
// anything itself; acting on a decision is the executor's job. Suppressions
// and due findings are made ledger-visible exactly once per occurrence.
type Engine struct {
	items         evidence.Repository
	policies      retention.PolicyRepository
	holds         retention.HoldRepository
	custodyChain  custody.EntryRepository
	ledgerEntries ledger.EntryRepository
	writer        *ledgersvc.Writer
	notifier      events.Notifier
	logger        *slog.Logger
	tracer        trace.Tracer

	// now is swappable for tests
	now func() time.Time
}

// NewEngine creates the retention engine
func NewEngine(items evidence.Repository, policies retention.PolicyRepository, holds retention.HoldRepository, custodyChain custody.EntryRepository, ledgerEntries ledger.EntryRepository, writer *ledgersvc.Writer, notifier events.Notifier, logger *slog.Logger) *Engine {
	return &Engine{
		items:         items,
		policies:      policies,
		holds:         holds,
		custodyChain:  custodyChain,
		ledgerEntries: ledgerEntries,
		writer:        writer,
		notifier:      notifier,
		logger:        logger,
		tracer:        telemetry.Tracer("service.retention.engine"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the engine clock for tests
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Evaluate computes the retention decision for one evidence item. An active
// legal hold forces the action to NONE regardless of the computed due date,
// and DELETE is only returned once the custody chain has closed with a
// terminal entry.
func (e *Engine) Evaluate(ctx context.Context, itemID uuid.UUID) (retention.Decision, error) {
	ctx, span := e.tracer.Start(ctx, "retention.evaluate",
		trace.WithAttributes(attribute.String("evidence_id", itemID.String())))
	defer span.End()

	now := e.now()

	item, err := e.items.GetByID(ctx, itemID)
	if err != nil {
		telemetry.RecordError(span, err)
		return retention.Decision{}, err
	}

	if item.Disposition == evidence.DispositionDisposed {
		return retention.Decision{
			EvidenceID:  itemID,
			Action:      retention.DisposalNone,
			Reason:      "evidence is already disposed",
			EvaluatedAt: now,
		}, nil
	}

	policy, err := e.policyFor(ctx, item)
	if err != nil {
		telemetry.RecordError(span, err)
		return retention.Decision{}, err
	}
	if policy == nil {
		return retention.Decision{
			EvidenceID:  itemID,
			Action:      retention.DisposalNone,
			Reason:      "no retention policy bound",
			EvaluatedAt: now,
		}, nil
	}

	anchor, err := e.resolveAnchor(ctx, item, policy.Anchor)
	if err != nil {
		telemetry.RecordError(span, err)
		return retention.Decision{}, err
	}

	decision := policy.Evaluate(itemID, anchor, now)
	if decision.Action == retention.DisposalNone {
		return decision, nil
	}

	// An archived item whose policy says ARCHIVE has nothing left to do
	if decision.Action == retention.DisposalArchive && item.Disposition == evidence.DispositionArchived {
		decision.Action = retention.DisposalNone
		decision.Reason = "evidence is already archived"
		return decision, nil
	}

	active, err := e.holds.GetActiveByEvidence(ctx, itemID)
	if err != nil {
		telemetry.RecordError(span, err)
		return retention.Decision{}, err
	}
	if len(active) > 0 {
		decision.Suppressed = true
		decision.HoldID = active[0].ID
		decision.Action = retention.DisposalNone
		decision.Reason = "suppressed by active legal hold"
	}

	// Deletion waits for the custody chain to close. Evidence still seized,
	// in custody, analyzed or before the court keeps its payload until a
	// RETURNED or DISPOSED entry ends the chain.
	if decision.Action == retention.DisposalDelete {
		latest, err := e.custodyChain.GetLatest(ctx, item.ID)
		if err != nil {
			telemetry.RecordError(span, err)
			return retention.Decision{}, err
		}
		if latest == nil || !latest.Action.IsTerminal() {
			decision.Action = retention.DisposalNone
			decision.Reason = "custody chain is still open"
		}
	}

	return decision, nil
}

// ScanReport summarizes one pass over the retained inventory
type ScanReport struct {
	Evaluated  int                  `json:"evaluated"`
	Due        []retention.Decision `json:"due,omitempty"`
	Suppressed []retention.Decision `json:"suppressed,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	Duration   time.Duration        `json:"duration"`
}

// ScanOnce evaluates every retained item and returns the worklist of due
// decisions. Due findings and suppressions are appended to the ledger the
// first time they are observed; repeating a scan does not repeat the record.
func (e *Engine) ScanOnce(ctx context.Context) (*ScanReport, error) {
	ctx, span := e.tracer.Start(ctx, "retention.scan")
	defer span.End()

	log := telemetry.WithContext(ctx, e.logger)
	report := &ScanReport{StartedAt: e.now()}

	items, err := e.items.ListRetained(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	for _, item := range items {
		decision, err := e.Evaluate(ctx, item.ID)
		if err != nil {
			log.Warn("retention evaluation failed",
				"evidence_id", item.ID, "error", err)
			continue
		}
		report.Evaluated++

		switch {
		case decision.Suppressed:
			report.Suppressed = append(report.Suppressed, decision)
			e.recordSuppression(ctx, item, decision)
		case decision.Action != retention.DisposalNone:
			report.Due = append(report.Due, decision)
			e.recordDue(ctx, item, decision)
		}
	}

	report.Duration = time.Since(report.StartedAt)
	span.SetAttributes(
		attribute.Int("evaluated", report.Evaluated),
		attribute.Int("due", len(report.Due)),
		attribute.Int("suppressed", len(report.Suppressed)),
	)

	log.Info("retention scan complete",
		"evaluated", report.Evaluated,
		"due", len(report.Due),
		"suppressed", len(report.Suppressed),
		"duration", report.Duration)
	return report, nil
}

// Run scans on the configured interval until the context is canceled.
// Each wait is jittered so replicas do not scan in lockstep.
func (e *Engine) Run(ctx context.Context, interval, jitter time.Duration) {
	log := e.logger
	log.Info("retention scheduler started",
		"interval", interval, "jitter", jitter)

	for {
		wait := interval
		if jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(jitter)))
		}

		select {
		case <-ctx.Done():
			log.Info("retention scheduler stopped")
			return
		case <-time.After(wait):
		}

		if _, err := e.ScanOnce(ctx); err != nil {
			log.Error("retention scan failed", "error", err)
		}
	}
}

func (e *Engine) policyFor(ctx context.Context, item *evidence.Item) (*retention.Policy, error) {
	if item.RetentionPolicyID != uuid.Nil {
		return e.policies.GetByID(ctx, item.RetentionPolicyID)
	}
	return e.policies.GetByCategory(ctx, item.Category)
}

// resolveAnchor maps an anchor point to a concrete timestamp. An item with
// no custody history anchors LAST_TRANSITION at its registration time.
func (e *Engine) resolveAnchor(ctx context.Context, item *evidence.Item, anchor evidence.AnchorPoint) (time.Time, error) {
	if anchor == evidence.AnchorLastTransition {
		latest, err := e.custodyChain.GetLatest(ctx, item.ID)
		if err != nil {
			return time.Time{}, err
		}
		if latest == nil {
			return item.CreatedAt, nil
		}
		return latest.Timestamp, nil
	}
	return item.RetentionAnchor(anchor)
}

// recordSuppression appends a ledger entry the first time a hold suppresses
// a due item, and notifies the compliance channel.
func (e *Engine) recordSuppression(ctx context.Context, item *evidence.Item, decision retention.Decision) {
	log := telemetry.WithContext(ctx, e.logger)

	recorded, err := e.alreadyRecorded(ctx, item.ID,
		ledger.ActionRetentionSuppressed, decision.HoldID.String())
	if err != nil || recorded {
		return
	}

	payload := encodeDecision(decision)
	if _, err := e.writer.Append(ctx, ledgersvc.AppendRequest{
		Partition:  custodysvc.PartitionFor(item.ID),
		ActorID:    "retention-engine",
		ActorType:  "scheduler",
		Action:     ledger.ActionRetentionSuppressed,
		EntityType: ledger.EntityTypeEvidence,
		EntityID:   item.ID.String(),
		Payload:    payload,
		Metadata: map[string]string{
			"hold_id":   decision.HoldID.String(),
			"policy_id": decision.PolicyID.String(),
		},
	}); err != nil {
		log.Warn("recording retention suppression failed",
			"evidence_id", item.ID, "error", err)
		return
	}

	e.notifier.Notify(ctx, events.NewEvent(events.EventLegalHoldBlockedDisposal,
		item.ID.String(), map[string]string{
			"hold_id":   decision.HoldID.String(),
			"policy_id": decision.PolicyID.String(),
		}))
}

// recordDue appends a ledger entry the first time an item comes due and
// notifies the worklist consumers.
func (e *Engine) recordDue(ctx context.Context, item *evidence.Item, decision retention.Decision) {
	log := telemetry.WithContext(ctx, e.logger)

	recorded, err := e.alreadyRecorded(ctx, item.ID, ledger.ActionRetentionDue,
		decision.PolicyID.String())
	if err != nil || recorded {
		return
	}

	payload := encodeDecision(decision)
	if _, err := e.writer.Append(ctx, ledgersvc.AppendRequest{
		Partition:  custodysvc.PartitionFor(item.ID),
		ActorID:    "retention-engine",
		ActorType:  "scheduler",
		Action:     ledger.ActionRetentionDue,
		EntityType: ledger.EntityTypeEvidence,
		EntityID:   item.ID.String(),
		Payload:    payload,
		Metadata: map[string]string{
			"policy_id": decision.PolicyID.String(),
			"action":    string(decision.Action),
		},
	}); err != nil {
		log.Warn("recording retention due finding failed",
			"evidence_id", item.ID, "error", err)
		return
	}

	e.notifier.Notify(ctx, events.NewEvent(events.EventRetentionDue,
		item.ID.String(), map[string]string{
			"policy_id": decision.PolicyID.String(),
			"action":    string(decision.Action),
		}))
}

// alreadyRecorded checks the item's ledger subsequence for a prior entry
// with the same action and distinguishing marker.
func (e *Engine) alreadyRecorded(ctx context.Context, itemID uuid.UUID, action ledger.Action, marker string) (bool, error) {
	entries, err := e.ledgerEntries.GetByEntity(ctx, ledger.EntityTypeEvidence, itemID.String())
	if err != nil {
		return false, err
	}

	for _, entry := range entries {
		if entry.Action != action {
			continue
		}
		switch action {
		case ledger.ActionRetentionSuppressed:
			if entry.Metadata["hold_id"] == marker {
				return true, nil
			}
		case ledger.ActionRetentionDue:
			if entry.Metadata["policy_id"] == marker {
				return true, nil
			}
		default:
			return true, nil
		}
	}
	return false, nil
}

func encodeDecision(decision retention.Decision) []byte {
	data, err := json.Marshal(decision)
	if err != nil {
		return []byte(`{"encoding_failed":true}`)
	}
	return data
}
