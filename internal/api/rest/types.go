package rest

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
)

// RegisterEvidenceRequest registers an evidence item
type RegisterEvidenceRequest struct {
	CaseID        string `json:"case_id" validate:"required"`
	Category      string `json:"category" validate:"required"`
	StorageRef    string `json:"storage_ref" validate:"required"`
	ContentDigest string `json:"content_digest" validate:"required,len=64,hexadecimal"`
	// PolicyID optionally binds a retention policy at registration
	PolicyID string `json:"policy_id,omitempty" validate:"omitempty,uuid"`
}

// TransitionEvidenceRequest records one custody action
type TransitionEvidenceRequest struct {
	Action        string `json:"action" validate:"required"`
	FromCustodian string `json:"from_custodian,omitempty"`
	ToCustodian   string `json:"to_custodian,omitempty"`
	FromLocation  string `json:"from_location,omitempty"`
	ToLocation    string `json:"to_location,omitempty"`
	Note          string `json:"note,omitempty" validate:"max=2000"`
}

// PlaceHoldRequest puts an item under legal hold
type PlaceHoldRequest struct {
	CaseRef string `json:"case_ref" validate:"required"`
	Reason  string `json:"reason" validate:"required,max=2000"`
}

// CreatePolicyRequest defines a retention policy
type CreatePolicyRequest struct {
	Name     string `json:"name" validate:"required"`
	Category string `json:"category" validate:"required"`
	// Period is a Go duration string, "permanent", or "legal_hold"
	Period string `json:"period" validate:"required"`
	Anchor string `json:"anchor" validate:"required,oneof=CREATED SEIZED LAST_TRANSITION"`
	Action string `json:"action" validate:"required,oneof=ARCHIVE DELETE"`
}

// decodeAndValidate parses a JSON body into req and applies its tags
func decodeAndValidate(r *http.Request, v *validator.Validate, req any) error {
	defer r.Body.Close()

	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(req); err != nil {
		return errors.NewValidationError("MALFORMED_BODY",
			"request body is not valid JSON").WithCause(err)
	}

	if err := v.Struct(req); err != nil {
		return errors.NewValidationError("INVALID_REQUEST", err.Error()).WithCause(err)
	}
	return nil
}
