// Package custody orchestrates chain-of-custody transitions: state machine
// validation, gap screening, the paired audit ledger entry, and the derived
// evidence state.
package custody

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/custody"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/evidence"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/ledger"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/retention"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/events"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/locks"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/telemetry"
	ledgersvc "github.com/custodialabs/evidence-custody-backend/internal/service/ledger"
)

// TransitionRequest describes one custody action to record
type TransitionRequest struct {
	EvidenceID    uuid.UUID
	Action        custody.Action
	FromCustodian string
	ToCustodian   string
	FromLocation  string
	ToLocation    string
	RecorderID    string
	Note          string
	// Timestamp defaults to now when zero
	Timestamp time.Time
}

// TransitionResult is the committed transition with its screening report
type TransitionResult struct {
	Entry     *custody.Entry    `json:"entry"`
	State     custody.State     `json:"state"`
	GapReport *custody.GapReport `json:"gap_report,omitempty"`
}

// Service records custody transitions. Each transition is validated against
// the category's state machine, screened by the gap detector, and committed
// together with a hash-chained ledger entry in the item's partition.
// Operations on one item are serialized through the lock registry.
type Service struct {
	entries  custody.EntryRepository
	items    evidence.Repository
	holds    retention.HoldRepository
	rules    *custody.RuleRegistry
	detector *custody.GapDetector
	writer   *ledgersvc.Writer
	locker   *locks.Registry
	notifier events.Notifier
	logger   *slog.Logger
	tracer   trace.Tracer

	// strictGaps rejects transitions whose screening produces findings
	// instead of soft-flagging them
	strictGaps bool
}

// NewService creates the custody service
func NewService(entries custody.EntryRepository, items evidence.Repository, holds retention.HoldRepository, rules *custody.RuleRegistry, detector *custody.GapDetector, writer *ledgersvc.Writer, locker *locks.Registry, notifier events.Notifier, logger *slog.Logger) *Service {
	return &Service{
		entries:  entries,
		items:    items,
		holds:    holds,
		rules:    rules,
		detector: detector,
		writer:   writer,
		locker:   locker,
		notifier: notifier,
		logger:   logger,
		tracer:   telemetry.Tracer("service.custody"),
	}
}

// WithStrictGaps toggles rejection of transitions that introduce findings
func (s *Service) WithStrictGaps(strict bool) *Service {
	s.strictGaps = strict
	return s
}

// Transition records a custody action for an evidence item
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	ctx, span := s.tracer.Start(ctx, "custody.transition",
		trace.WithAttributes(
			attribute.String("evidence_id", req.EvidenceID.String()),
			attribute.String("action", string(req.Action)),
		))
	defer span.End()

	var result *TransitionResult
	err := s.locker.WithLock(req.EvidenceID, "custody:"+string(req.Action), func() error {
		var err error
		result, err = s.transitionLocked(ctx, req)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

func (s *Service) transitionLocked(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	log := telemetry.WithContext(ctx, s.logger)

	item, err := s.items.GetByID(ctx, req.EvidenceID)
	if err != nil {
		return nil, err
	}

	entry, err := custody.NewEntry(req.EvidenceID, req.Action, req.RecorderID)
	if err != nil {
		return nil, err
	}
	entry.FromCustodian = req.FromCustodian
	entry.ToCustodian = req.ToCustodian
	entry.FromLocation = req.FromLocation
	entry.ToLocation = req.ToLocation
	entry.Note = req.Note
	if !req.Timestamp.IsZero() {
		entry.Timestamp = req.Timestamp.UTC()
	}

	if err := entry.Validate(); err != nil {
		return nil, err
	}

	// Disposal is blocked outright while any hold is active
	if req.Action == custody.ActionDisposed {
		if err := s.checkHolds(ctx, req.EvidenceID); err != nil {
			return nil, err
		}
	}

	chain, err := s.entries.GetByEvidence(ctx, req.EvidenceID)
	if err != nil {
		return nil, err
	}

	table := s.rules.TableFor(item.Category)
	current := custody.StateNone
	if len(chain) > 0 {
		current = custody.StateAfter(table, chain[len(chain)-1])
	}

	next, err := table.Apply(current, req.Action)
	if err != nil {
		log.Info("custody transition rejected",
			"evidence_id", req.EvidenceID,
			"action", string(req.Action),
			"state", current.String(),
			"reason", err.Error())
		return nil, err
	}

	entry.SequenceNum = uint64(len(chain)) + 1

	report := s.detector.AnalyzeCandidate(chain, entry)
	if !report.Clean() {
		if s.strictGaps {
			first := report.Findings[0]
			return nil, errors.NewBusinessError("CUSTODY_GAP",
				fmt.Sprintf("transition would introduce a %s finding: %s",
					first.Type, first.Description))
		}
		s.flagGaps(ctx, req.EvidenceID, report)
	}

	// Ledger first: a custody entry must never exist without its audit
	// record.
	payload, err := entry.PayloadBytes()
	if err != nil {
		return nil, errors.NewInternalError("encoding custody payload failed").WithCause(err)
	}

	ledgerEntry, err := s.writer.Append(ctx, ledgersvc.AppendRequest{
		Partition:  PartitionFor(req.EvidenceID),
		ActorID:    req.RecorderID,
		ActorType:  "user",
		Action:     ledger.ActionCustodyTransition,
		EntityType: ledger.EntityTypeEvidence,
		EntityID:   req.EvidenceID.String(),
		Payload:    payload,
		Metadata: map[string]string{
			"custody_action":   string(req.Action),
			"custody_sequence": strconv.FormatUint(entry.SequenceNum, 10),
		},
	})
	if err != nil {
		return nil, err
	}

	entry.LedgerRef = custody.LedgerRef{
		Partition:   ledgerEntry.Partition,
		SequenceNum: ledgerEntry.SequenceNum,
	}

	if err := s.entries.Append(ctx, entry); err != nil {
		// The ledger entry stands; the custody projection failed. Surface as
		// retryable so the caller reconciles against the chain.
		return nil, errors.NewStorageUnavailableError(
			"custody entry could not be recorded after its ledger entry committed").
			WithCause(err)
	}

	s.applyItemEffects(ctx, item, entry)

	log.Info("custody transition recorded",
		"evidence_id", req.EvidenceID,
		"action", string(req.Action),
		"sequence", entry.SequenceNum,
		"state", next.String(),
		"ledger_sequence", ledgerEntry.SequenceNum)

	return &TransitionResult{Entry: entry, State: next, GapReport: report}, nil
}

// State derives the current custody state of an evidence item
func (s *Service) State(ctx context.Context, evidenceID uuid.UUID) (custody.State, error) {
	item, err := s.items.GetByID(ctx, evidenceID)
	if err != nil {
		return custody.StateNone, err
	}

	latest, err := s.entries.GetLatest(ctx, evidenceID)
	if err != nil {
		return custody.StateNone, err
	}

	return custody.StateAfter(s.rules.TableFor(item.Category), latest), nil
}

// Chain returns the full custody chain with a fresh gap analysis
func (s *Service) Chain(ctx context.Context, evidenceID uuid.UUID) ([]*custody.Entry, *custody.GapReport, error) {
	chain, err := s.entries.GetByEvidence(ctx, evidenceID)
	if err != nil {
		return nil, nil, err
	}
	return chain, s.detector.Analyze(chain), nil
}

// PartitionFor names the ledger partition holding an item's audit chain
func PartitionFor(evidenceID uuid.UUID) string {
	return "evidence-" + evidenceID.String()
}

func (s *Service) checkHolds(ctx context.Context, evidenceID uuid.UUID) error {
	active, err := s.holds.GetActiveByEvidence(ctx, evidenceID)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}

	s.notifier.Notify(ctx, events.NewEvent(events.EventLegalHoldBlockedDisposal,
		evidenceID.String(), map[string]string{
			"hold_id":  active[0].ID.String(),
			"case_ref": active[0].CaseRef,
		}))

	return errors.NewLegalHoldViolationError(fmt.Sprintf(
		"evidence %s is under legal hold for %s", evidenceID, active[0].CaseRef))
}

func (s *Service) flagGaps(ctx context.Context, evidenceID uuid.UUID, report *custody.GapReport) {
	log := telemetry.WithContext(ctx, s.logger)

	for _, finding := range report.Findings {
		log.Warn("custody chain finding",
			"evidence_id", evidenceID,
			"finding", string(finding.Type),
			"sequence", finding.SequenceNum,
			"description", finding.Description)
	}

	s.notifier.Notify(ctx, events.NewEvent(events.EventGapDetected,
		evidenceID.String(), map[string]string{
			"findings": strconv.Itoa(len(report.Findings)),
			"first":    string(report.Findings[0].Type),
		}))
}

// applyItemEffects updates the evidence item projection after a committed
// transition. Failures are logged, not returned: the chain is authoritative
// and the projection catches up on the next read.
func (s *Service) applyItemEffects(ctx context.Context, item *evidence.Item, entry *custody.Entry) {
	log := telemetry.WithContext(ctx, s.logger)

	changed := false
	switch entry.Action {
	case custody.ActionSeized:
		item.MarkSeized(entry.Timestamp)
		changed = true
	case custody.ActionDisposed:
		if err := item.MarkDisposed(); err == nil {
			changed = true
		}
	}

	if changed {
		if err := s.items.Save(ctx, item); err != nil {
			log.Warn("updating evidence projection failed",
				"evidence_id", item.ID, "error", err)
		}
	}
}
