package retention

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/custody"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/evidence"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/ledger"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/retention"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/values"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/blob"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/events"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/locks"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/telemetry"
	custodysvc "github.com/custodialabs/evidence-custody-backend/internal/service/custody"
	ledgersvc "github.com/custodialabs/evidence-custody-backend/internal/service/ledger"
)

// Executor carries out archive, restore and disposal decisions. Every move
// re-verifies the payload digest before and after the move; a mismatch is an
// integrity failure that halts the operation, is recorded in the ledger, and
// is never auto-corrected.
type Executor struct {
	items    evidence.Repository
	archives retention.ArchiveRepository
	holds    retention.HoldRepository
	active   blob.Store
	sealed   blob.Store
	custodySvc *custodysvc.Service
	writer   *ledgersvc.Writer
	locker   *locks.Registry
	notifier events.Notifier
	logger   *slog.Logger
	tracer   trace.Tracer

	keyPrefix string
}

// NewExecutor creates the disposal executor. sealed is the encrypted cold
// store archived payloads move into.
func NewExecutor(items evidence.Repository, archives retention.ArchiveRepository, holds retention.HoldRepository, active, sealed blob.Store, custodySvc *custodysvc.Service, writer *ledgersvc.Writer, locker *locks.Registry, notifier events.Notifier, logger *slog.Logger) *Executor {
	return &Executor{
		items:      items,
		archives:   archives,
		holds:      holds,
		active:     active,
		sealed:     sealed,
		custodySvc: custodySvc,
		writer:     writer,
		locker:     locker,
		notifier:   notifier,
		logger:     logger,
		tracer:     telemetry.Tracer("service.retention.executor"),
		keyPrefix:  "archive/",
	}
}

// WithKeyPrefix overrides the sealed-store key prefix
func (x *Executor) WithKeyPrefix(prefix string) *Executor {
	if prefix != "" {
		x.keyPrefix = prefix
	}
	return x
}

// Archive moves an item's payload into sealed cold storage. The payload
// digest is verified before sealing and the active copy is removed only
// after the sealed copy is committed.
func (x *Executor) Archive(ctx context.Context, itemID uuid.UUID, actorID string) (*retention.ArchiveRecord, error) {
	ctx, span := x.tracer.Start(ctx, "retention.archive",
		trace.WithAttributes(attribute.String("evidence_id", itemID.String())))
	defer span.End()

	var record *retention.ArchiveRecord
	err := x.locker.WithLock(itemID, "archive", func() error {
		var err error
		record, err = x.archiveLocked(ctx, itemID, actorID)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return record, nil
}

func (x *Executor) archiveLocked(ctx context.Context, itemID uuid.UUID, actorID string) (*retention.ArchiveRecord, error) {
	log := telemetry.WithContext(ctx, x.logger)

	item, err := x.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Disposition != evidence.DispositionActive {
		return nil, errors.NewBusinessError("NOT_ACTIVE",
			fmt.Sprintf("evidence %s is %s, only active payloads can be archived",
				itemID, item.Disposition))
	}

	payload, err := x.readAll(ctx, x.active, item.StorageRef)
	if err != nil {
		return nil, err
	}

	// The payload must still match the digest recorded at registration
	if err := x.verifyDigest(ctx, item, payload, "archive"); err != nil {
		return nil, err
	}

	archiveRef := x.keyPrefix + itemID.String()
	if err := x.sealed.Put(ctx, archiveRef, bytes.NewReader(payload)); err != nil {
		return nil, err
	}

	record, err := retention.NewArchiveRecord(itemID, archiveRef, item.StorageRef,
		item.ContentDigest, int64(len(payload)), actorID)
	if err != nil {
		return nil, err
	}
	if err := x.archives.Save(ctx, record); err != nil {
		return nil, err
	}

	originalRef := item.StorageRef
	if err := item.MarkArchived(archiveRef); err != nil {
		return nil, err
	}
	if err := x.items.Save(ctx, item); err != nil {
		return nil, err
	}

	if err := x.appendLifecycle(ctx, item.ID, actorID, ledger.ActionEvidenceArchived,
		map[string]string{"archive_ref": archiveRef, "record_id": record.ID.String()}); err != nil {
		return nil, err
	}

	// Remove the active copy last; a crash before this point leaves two
	// verifiable copies, never zero.
	if err := x.active.Delete(ctx, originalRef); err != nil {
		log.Warn("removing active copy after archive failed",
			"evidence_id", itemID, "storage_ref", originalRef, "error", err)
	}

	log.Info("evidence archived",
		"evidence_id", itemID,
		"archive_ref", archiveRef,
		"size_bytes", len(payload))
	return record, nil
}

// Restore moves an archived payload back to active storage after proving it
// decrypts and matches its pre-archive digest.
func (x *Executor) Restore(ctx context.Context, itemID uuid.UUID, actorID string) error {
	ctx, span := x.tracer.Start(ctx, "retention.restore",
		trace.WithAttributes(attribute.String("evidence_id", itemID.String())))
	defer span.End()

	err := x.locker.WithLock(itemID, "restore", func() error {
		return x.restoreLocked(ctx, itemID, actorID)
	})
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return err
}

func (x *Executor) restoreLocked(ctx context.Context, itemID uuid.UUID, actorID string) error {
	log := telemetry.WithContext(ctx, x.logger)

	item, err := x.items.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	if item.Disposition != evidence.DispositionArchived {
		return errors.NewBusinessError("NOT_ARCHIVED",
			fmt.Sprintf("evidence %s is %s, only archived payloads can be restored",
				itemID, item.Disposition))
	}

	record, err := x.archives.GetSealedByEvidence(ctx, itemID)
	if err != nil {
		return err
	}
	if record == nil {
		return errors.ErrArchiveNotFound
	}

	payload, err := x.readAll(ctx, x.sealed, record.ArchiveRef)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeIntegrity) {
			x.escalateIntegrity(ctx, itemID, "restore", "sealed envelope failed authentication")
		}
		return err
	}

	// The restored bytes must match the pre-archive digest
	if err := x.verifyDigestAgainst(ctx, itemID, payload, record.ContentDigest, "restore"); err != nil {
		return err
	}

	if err := x.active.Put(ctx, record.OriginalRef, bytes.NewReader(payload)); err != nil {
		return err
	}

	if err := record.MarkRestored(); err != nil {
		return err
	}
	if err := x.archives.Save(ctx, record); err != nil {
		return err
	}

	if err := item.MarkRestored(record.OriginalRef); err != nil {
		return err
	}
	if err := x.items.Save(ctx, item); err != nil {
		return err
	}

	if err := x.appendLifecycle(ctx, itemID, actorID, ledger.ActionEvidenceRestored,
		map[string]string{"archive_ref": record.ArchiveRef, "record_id": record.ID.String()}); err != nil {
		return err
	}

	if err := x.sealed.Delete(ctx, record.ArchiveRef); err != nil {
		log.Warn("removing sealed copy after restore failed",
			"evidence_id", itemID, "archive_ref", record.ArchiveRef, "error", err)
	}

	log.Info("evidence restored",
		"evidence_id", itemID,
		"storage_ref", record.OriginalRef)
	return nil
}

// Dispose irreversibly destroys an item's payload. An active legal hold
// blocks disposal outright. An open custody chain is closed with a DISPOSED
// transition first; a chain already closed by RETURNED keeps its history.
func (x *Executor) Dispose(ctx context.Context, itemID uuid.UUID, actorID string) error {
	ctx, span := x.tracer.Start(ctx, "retention.dispose",
		trace.WithAttributes(attribute.String("evidence_id", itemID.String())))
	defer span.End()

	log := telemetry.WithContext(ctx, x.logger)

	item, err := x.items.GetByID(ctx, itemID)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if item.Disposition == evidence.DispositionDisposed {
		return errors.NewBusinessError("ALREADY_DISPOSED",
			fmt.Sprintf("evidence %s is already disposed", itemID))
	}

	if err := x.checkHolds(ctx, itemID); err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	// Capture refs before the custody transition clears them
	storageRef := item.StorageRef
	disposition := item.Disposition

	state, err := x.custodySvc.State(ctx, itemID)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	// An item that never entered custody has no chain to close
	if state != custody.StateNone && !state.IsTerminal() {
		chain, _, err := x.custodySvc.Chain(ctx, itemID)
		if err != nil {
			telemetry.RecordError(span, err)
			return err
		}

		// Closing the chain re-checks holds and the state machine. The
		// disposal releases the evidence from its last recorded holder.
		req := custodysvc.TransitionRequest{
			EvidenceID: itemID,
			Action:     custody.ActionDisposed,
			RecorderID: actorID,
			Note:       "disposed under retention policy",
		}
		if len(chain) > 0 {
			last := chain[len(chain)-1]
			req.FromCustodian = last.ToCustodian
			req.FromLocation = last.ToLocation
		}
		if _, err := x.custodySvc.Transition(ctx, req); err != nil {
			telemetry.RecordError(span, err)
			return err
		}
	}

	err = x.locker.WithLock(itemID, "dispose", func() error {
		return x.destroyPayload(ctx, itemID, actorID, storageRef, disposition)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	log.Info("evidence disposed", "evidence_id", itemID)
	return nil
}

func (x *Executor) destroyPayload(ctx context.Context, itemID uuid.UUID, actorID, storageRef string, disposition evidence.Disposition) error {
	// The terminal audit entry goes in before anything is destroyed. A crash
	// after this point loses at most the payload removal, never the record
	// of who authorized the disposal.
	if err := x.appendLifecycle(ctx, itemID, actorID, ledger.ActionEvidenceDisposed,
		map[string]string{"prior_disposition": string(disposition)}); err != nil {
		return err
	}

	switch disposition {
	case evidence.DispositionActive:
		if err := x.active.Delete(ctx, storageRef); err != nil {
			return err
		}
	case evidence.DispositionArchived:
		record, err := x.archives.GetSealedByEvidence(ctx, itemID)
		if err != nil {
			return err
		}
		if record != nil {
			if err := x.sealed.Delete(ctx, record.ArchiveRef); err != nil {
				return err
			}
			if err := record.MarkDisposed(); err == nil {
				if err := x.archives.Save(ctx, record); err != nil {
					return err
				}
			}
		}
	}

	item, err := x.items.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	if item.Disposition != evidence.DispositionDisposed {
		if err := item.MarkDisposed(); err != nil {
			return err
		}
		if err := x.items.Save(ctx, item); err != nil {
			return err
		}
	}

	return nil
}

// Execute carries out one due decision from a retention scan
func (x *Executor) Execute(ctx context.Context, decision retention.Decision, actorID string) error {
	switch decision.Action {
	case retention.DisposalArchive:
		_, err := x.Archive(ctx, decision.EvidenceID, actorID)
		return err
	case retention.DisposalDelete:
		return x.Dispose(ctx, decision.EvidenceID, actorID)
	case retention.DisposalNone:
		return nil
	default:
		return errors.NewValidationError("UNKNOWN_DISPOSAL_ACTION",
			fmt.Sprintf("unknown disposal action %s", decision.Action))
	}
}

func (x *Executor) checkHolds(ctx context.Context, itemID uuid.UUID) error {
	active, err := x.holds.GetActiveByEvidence(ctx, itemID)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}

	x.notifier.Notify(ctx, events.NewEvent(events.EventLegalHoldBlockedDisposal,
		itemID.String(), map[string]string{
			"hold_id":  active[0].ID.String(),
			"case_ref": active[0].CaseRef,
		}))

	return errors.NewLegalHoldViolationError(fmt.Sprintf(
		"evidence %s is under legal hold for %s", itemID, active[0].CaseRef))
}

func (x *Executor) readAll(ctx context.Context, store blob.Store, key string) ([]byte, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	payload, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.NewStorageUnavailableError("reading payload failed").WithCause(err)
	}
	return payload, nil
}

func (x *Executor) verifyDigest(ctx context.Context, item *evidence.Item, payload []byte, operation string) error {
	return x.verifyDigestAgainst(ctx, item.ID, payload, item.ContentDigest, operation)
}

func (x *Executor) verifyDigestAgainst(ctx context.Context, itemID uuid.UUID, payload []byte, expected values.HashValue, operation string) error {
	ok, err := expected.Verify(payload)
	if err != nil {
		return errors.NewInternalError("digest verification failed").WithCause(err)
	}
	if ok {
		return nil
	}

	x.escalateIntegrity(ctx, itemID, operation, "payload digest mismatch")
	return errors.NewIntegrityError("AUDIT_INTEGRITY_FAILURE", fmt.Sprintf(
		"payload for evidence %s does not match its recorded digest; %s halted",
		itemID, operation))
}

// escalateIntegrity records a payload integrity failure in the ledger and
// notifies the compliance channel. The operation that found it has already
// stopped; nothing is corrected automatically.
func (x *Executor) escalateIntegrity(ctx context.Context, itemID uuid.UUID, operation, detail string) {
	log := telemetry.WithContext(ctx, x.logger)

	log.Error("evidence payload integrity failure",
		"evidence_id", itemID,
		"operation", operation,
		"detail", detail)

	payload, _ := json.Marshal(map[string]string{
		"operation": operation,
		"detail":    detail,
	})
	if _, err := x.writer.Append(ctx, ledgersvc.AppendRequest{
		Partition:  custodysvc.PartitionFor(itemID),
		ActorID:    "retention-executor",
		ActorType:  "system",
		Action:     ledger.ActionIntegrityFailure,
		EntityType: ledger.EntityTypeEvidence,
		EntityID:   itemID.String(),
		Payload:    payload,
		Metadata:   map[string]string{"operation": operation},
	}); err != nil {
		log.Error("recording payload integrity failure failed",
			"evidence_id", itemID, "error", err)
	}

	x.notifier.Notify(ctx, events.NewEvent(events.EventIntegrityFailure,
		itemID.String(), map[string]string{
			"operation": operation,
			"detail":    detail,
		}))
}

func (x *Executor) appendLifecycle(ctx context.Context, itemID uuid.UUID, actorID string, action ledger.Action, metadata map[string]string) error {
	payload, err := json.Marshal(map[string]string{
		"evidence_id": itemID.String(),
		"action":      string(action),
	})
	if err != nil {
		return errors.NewInternalError("encoding lifecycle payload failed").WithCause(err)
	}

	_, err = x.writer.Append(ctx, ledgersvc.AppendRequest{
		Partition:  custodysvc.PartitionFor(itemID),
		ActorID:    actorID,
		ActorType:  "system",
		Action:     action,
		EntityType: ledger.EntityTypeEvidence,
		EntityID:   itemID.String(),
		Payload:    payload,
		Metadata:   metadata,
	})
	return err
}
