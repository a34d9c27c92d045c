package retention

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/evidence"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/ledger"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/retention"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/telemetry"
	custodysvc "github.com/custodialabs/evidence-custody-backend/internal/service/custody"
	ledgersvc "github.com/custodialabs/evidence-custody-backend/internal/service/ledger"
)

// HoldService places and releases legal holds. Both operations are
// themselves audit events appended to the item's ledger partition.
type HoldService struct {
	holds  retention.HoldRepository
	items  evidence.Repository
	writer *ledgersvc.Writer
	logger *slog.Logger
}

// NewHoldService creates the hold service
func NewHoldService(holds retention.HoldRepository, items evidence.Repository, writer *ledgersvc.Writer, logger *slog.Logger) *HoldService {
	return &HoldService{holds: holds, items: items, writer: writer, logger: logger}
}

// Place puts an evidence item under legal hold
func (s *HoldService) Place(ctx context.Context, evidenceID uuid.UUID, caseRef, reason, placedBy string) (*retention.LegalHold, error) {
	log := telemetry.WithContext(ctx, s.logger)

	if _, err := s.items.GetByID(ctx, evidenceID); err != nil {
		return nil, err
	}

	hold, err := retention.NewLegalHold(evidenceID, caseRef, reason, placedBy)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(hold)
	if err != nil {
		return nil, errors.NewInternalError("encoding hold failed").WithCause(err)
	}

	// Ledger first; an unaudited hold must not exist
	if _, err := s.writer.Append(ctx, ledgersvc.AppendRequest{
		Partition:  custodysvc.PartitionFor(evidenceID),
		ActorID:    placedBy,
		ActorType:  "user",
		Action:     ledger.ActionLegalHoldPlaced,
		EntityType: ledger.EntityTypeEvidence,
		EntityID:   evidenceID.String(),
		Payload:    payload,
		Metadata: map[string]string{
			"hold_id":  hold.ID.String(),
			"case_ref": caseRef,
		},
	}); err != nil {
		return nil, err
	}

	if err := s.holds.Save(ctx, hold); err != nil {
		return nil, errors.NewStorageUnavailableError(
			"hold could not be recorded after its ledger entry committed").WithCause(err)
	}

	log.Info("legal hold placed",
		"evidence_id", evidenceID,
		"hold_id", hold.ID,
		"case_ref", caseRef)
	return hold, nil
}

// Release ends a hold. Retention evaluation picks the item back up on the
// next scan; nothing is disposed automatically.
func (s *HoldService) Release(ctx context.Context, holdID uuid.UUID, releasedBy string) (*retention.LegalHold, error) {
	log := telemetry.WithContext(ctx, s.logger)

	hold, err := s.holds.GetByID(ctx, holdID)
	if err != nil {
		return nil, err
	}

	if err := hold.Release(releasedBy); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(hold)
	if err != nil {
		return nil, errors.NewInternalError("encoding hold failed").WithCause(err)
	}

	if _, err := s.writer.Append(ctx, ledgersvc.AppendRequest{
		Partition:  custodysvc.PartitionFor(hold.EvidenceID),
		ActorID:    releasedBy,
		ActorType:  "user",
		Action:     ledger.ActionLegalHoldReleased,
		EntityType: ledger.EntityTypeEvidence,
		EntityID:   hold.EvidenceID.String(),
		Payload:    payload,
		Metadata: map[string]string{
			"hold_id":  hold.ID.String(),
			"case_ref": hold.CaseRef,
		},
	}); err != nil {
		return nil, err
	}

	if err := s.holds.Save(ctx, hold); err != nil {
		return nil, errors.NewStorageUnavailableError(
			"hold release could not be recorded after its ledger entry committed").WithCause(err)
	}

	log.Info("legal hold released",
		"evidence_id", hold.EvidenceID,
		"hold_id", hold.ID,
		"released_by", releasedBy)
	return hold, nil
}

// ActiveHolds returns the active holds on an item
func (s *HoldService) ActiveHolds(ctx context.Context, evidenceID uuid.UUID) ([]*retention.LegalHold, error) {
	return s.holds.GetActiveByEvidence(ctx, evidenceID)
}
