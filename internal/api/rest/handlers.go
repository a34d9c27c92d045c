// Package rest exposes the custody platform over HTTP. Every mutating
// endpoint requires an authenticated actor; the actor identity is what the
// ledger records.
package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/custody"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/evidence"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/retention"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/values"
	custodysvc "github.com/custodialabs/evidence-custody-backend/internal/service/custody"
	ledgersvc "github.com/custodialabs/evidence-custody-backend/internal/service/ledger"
	reportingsvc "github.com/custodialabs/evidence-custody-backend/internal/service/reporting"
	retentionsvc "github.com/custodialabs/evidence-custody-backend/internal/service/retention"
)

// Services bundles everything the handlers call into
type Services struct {
	Items     evidence.Repository
	Policies  retention.PolicyRepository
	Custody   *custodysvc.Service
	Holds     *retentionsvc.HoldService
	Engine    *retentionsvc.Engine
	Executor  *retentionsvc.Executor
	Verifier  *ledgersvc.Verifier
	Reporting *reportingsvc.Service
}

// Handlers serves the v1 API
type Handlers struct {
	services  Services
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates the API handlers
func NewHandlers(services Services, logger *slog.Logger) *Handlers {
	return &Handlers{
		services:  services,
		validator: validator.New(),
		logger:    logger,
	}
}

// Register wires the v1 routes onto a mux. auth guards everything except
// the health probes.
func (h *Handlers) Register(mux *http.ServeMux, auth *AuthMiddleware) {
	guard := func(fn http.HandlerFunc) http.Handler {
		return auth.Authenticate(fn)
	}

	mux.Handle("POST /api/v1/evidence", guard(h.registerEvidence))
	mux.Handle("GET /api/v1/evidence/{id}", guard(h.getEvidence))
	mux.Handle("GET /api/v1/evidence/{id}/chain", guard(h.getChain))
	mux.Handle("GET /api/v1/evidence/{id}/proof", guard(h.getProof))
	mux.Handle("GET /api/v1/evidence/{id}/retention", guard(h.getRetention))
	mux.Handle("POST /api/v1/evidence/{id}/transitions", guard(h.transition))
	mux.Handle("POST /api/v1/evidence/{id}/holds", guard(h.placeHold))
	mux.Handle("POST /api/v1/evidence/{id}/archive", guard(h.archive))
	mux.Handle("POST /api/v1/evidence/{id}/restore", guard(h.restore))
	mux.Handle("POST /api/v1/evidence/{id}/dispose", guard(h.dispose))
	mux.Handle("DELETE /api/v1/holds/{id}", guard(h.releaseHold))
	mux.Handle("POST /api/v1/policies", guard(h.createPolicy))
	mux.Handle("GET /api/v1/policies", guard(h.listPolicies))
	mux.Handle("POST /api/v1/retention/scan", guard(h.scanRetention))
	mux.Handle("POST /api/v1/ledger/verify", guard(h.verifyLedger))
	mux.Handle("GET /api/v1/compliance/summary", guard(h.complianceSummary))
}

func (h *Handlers) registerEvidence(w http.ResponseWriter, r *http.Request) {
	var req RegisterEvidenceRequest
	if err := decodeAndValidate(r, h.validator, &req); err != nil {
		writeError(w, r, err)
		return
	}

	digest, err := values.NewHashValue(req.ContentDigest)
	if err != nil {
		writeError(w, r, err)
		return
	}

	item, err := evidence.NewItem(req.CaseID, req.Category, req.StorageRef, digest)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if req.PolicyID != "" {
		policyID, err := uuid.Parse(req.PolicyID)
		if err != nil {
			writeError(w, r, errors.NewValidationError("INVALID_POLICY_ID",
				"policy ID is not a UUID"))
			return
		}
		if _, err := h.services.Policies.GetByID(r.Context(), policyID); err != nil {
			writeError(w, r, err)
			return
		}
		if err := item.BindPolicy(policyID); err != nil {
			writeError(w, r, err)
			return
		}
	}

	if err := h.services.Items.Save(r.Context(), item); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, item)
}

func (h *Handlers) getEvidence(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	item, err := h.services.Items.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	state, err := h.services.Custody.State(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"item":          item,
		"custody_state": state.String(),
	})
}

func (h *Handlers) getChain(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	chain, report, err := h.services.Custody.Chain(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"entries":    chain,
		"gap_report": report,
	})
}

func (h *Handlers) getProof(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	proof, err := h.services.Verifier.VerifyEvidence(r.Context(), id.String())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, proof)
}

func (h *Handlers) getRetention(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	decision, err := h.services.Engine.Evaluate(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, decision)
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req TransitionEvidenceRequest
	if err := decodeAndValidate(r, h.validator, &req); err != nil {
		writeError(w, r, err)
		return
	}

	actor, _ := ActorFrom(r.Context())
	result, err := h.services.Custody.Transition(r.Context(), custodysvc.TransitionRequest{
		EvidenceID:    id,
		Action:        custody.Action(req.Action),
		FromCustodian: req.FromCustodian,
		ToCustodian:   req.ToCustodian,
		FromLocation:  req.FromLocation,
		ToLocation:    req.ToLocation,
		Note:          req.Note,
		RecorderID:    actor.ID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, result)
}

func (h *Handlers) placeHold(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req PlaceHoldRequest
	if err := decodeAndValidate(r, h.validator, &req); err != nil {
		writeError(w, r, err)
		return
	}

	actor, _ := ActorFrom(r.Context())
	hold, err := h.services.Holds.Place(r.Context(), id, req.CaseRef, req.Reason, actor.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, hold)
}

func (h *Handlers) releaseHold(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	actor, _ := ActorFrom(r.Context())
	hold, err := h.services.Holds.Release(r.Context(), id, actor.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, hold)
}

func (h *Handlers) archive(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	actor, _ := ActorFrom(r.Context())
	record, err := h.services.Executor.Archive(r.Context(), id, actor.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, record)
}

func (h *Handlers) restore(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	actor, _ := ActorFrom(r.Context())
	if err := h.services.Executor.Restore(r.Context(), id, actor.ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "restored"})
}

func (h *Handlers) dispose(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	actor, _ := ActorFrom(r.Context())
	if err := h.services.Executor.Dispose(r.Context(), id, actor.ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "disposed"})
}

func (h *Handlers) createPolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if err := decodeAndValidate(r, h.validator, &req); err != nil {
		writeError(w, r, err)
		return
	}

	period, err := values.NewRetentionPeriodFromString(req.Period)
	if err != nil {
		writeError(w, r, err)
		return
	}

	policy, err := retention.NewPolicy(req.Name, req.Category, period,
		evidence.AnchorPoint(req.Anchor), retention.DisposalAction(req.Action))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.services.Policies.Save(r.Context(), policy); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, policy)
}

func (h *Handlers) listPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.services.Policies.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, policies)
}

func (h *Handlers) scanRetention(w http.ResponseWriter, r *http.Request) {
	report, err := h.services.Engine.ScanOnce(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

func (h *Handlers) verifyLedger(w http.ResponseWriter, r *http.Request) {
	partition := r.URL.Query().Get("partition")
	if partition != "" {
		result, err := h.services.Verifier.VerifyPartition(r.Context(), partition)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, result)
		return
	}

	results, err := h.services.Verifier.VerifyAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, results)
}

func (h *Handlers) complianceSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.services.Reporting.ComplianceSummary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, errors.NewValidationError("INVALID_ID",
			"path parameter "+name+" is not a UUID")
	}
	return id, nil
}
