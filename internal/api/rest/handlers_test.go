package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/custody"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/values"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/blob"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/locks"
	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/memory"
	custodysvc "github.com/custodialabs/evidence-custody-backend/internal/service/custody"
	ledgersvc "github.com/custodialabs/evidence-custody-backend/internal/service/ledger"
	reportingsvc "github.com/custodialabs/evidence-custody-backend/internal/service/reporting"
	retentionsvc "github.com/custodialabs/evidence-custody-backend/internal/service/retention"
	"github.com/custodialabs/evidence-custody-backend/internal/testutil"
)

type apiFixture struct {
	server *httptest.Server
	token  string
	active *blob.MemoryStore
	items  *memory.EvidenceStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	items := memory.NewEvidenceStore()
	policies := memory.NewPolicyStore()
	holds := memory.NewHoldStore()
	archives := memory.NewArchiveStore()
	custodyRepo := memory.NewCustodyStore()
	ledgerStore := memory.NewLedgerStore()
	notifier := testutil.NewCaptureNotifier()
	locker := locks.NewRegistry()
	logger := testutil.DiscardLogger()

	active := blob.NewMemoryStore()
	sealed, err := blob.NewSealedStore(blob.NewMemoryStore(), bytes.Repeat([]byte{0x17}, 32))
	require.NoError(t, err)

	writer := ledgersvc.NewWriter(ledgerStore, nil, logger)
	verifier := ledgersvc.NewVerifier(ledgerStore, ledgerStore, writer, notifier, logger, 0)
	custodySvc := custodysvc.NewService(custodyRepo, items, holds,
		custody.NewRuleRegistry(), custody.NewGapDetector(), writer, locker,
		notifier, logger)
	engine := retentionsvc.NewEngine(items, policies, holds, custodyRepo,
		ledgerStore, writer, notifier, logger)
	executor := retentionsvc.NewExecutor(items, archives, holds, active, sealed,
		custodySvc, writer, locker, notifier, logger)
	holdSvc := retentionsvc.NewHoldService(holds, items, writer, logger)
	reporting := reportingsvc.NewService(ledgerStore, holds, verifier, engine, logger)

	auth := NewAuthMiddleware([]byte("test-secret"), time.Hour)
	handlers := NewHandlers(Services{
		Items:     items,
		Policies:  policies,
		Custody:   custodySvc,
		Holds:     holdSvc,
		Engine:    engine,
		Executor:  executor,
		Verifier:  verifier,
		Reporting: reporting,
	}, logger)

	mux := http.NewServeMux()
	handlers.Register(mux, auth)
	server := httptest.NewServer(withRecovery(logger, withRequestID(mux)))
	t.Cleanup(server.Close)

	token, err := auth.IssueToken("officer-42", "custodian")
	require.NoError(t, err)

	return &apiFixture{server: server, token: token, active: active, items: items}
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *ErrorResponse  `json:"error"`
	RequestID string          `json:"request_id"`
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

// registerEvidence creates an item over the API and returns its ID
func (f *apiFixture) registerEvidence(t *testing.T, payload []byte) uuid.UUID {
	t.Helper()

	status, env := f.do(t, http.MethodPost, "/api/v1/evidence", RegisterEvidenceRequest{
		CaseID:        "case-2026-0142",
		Category:      "digital",
		StorageRef:    "evidence/pending",
		ContentDigest: values.MustComputeHashValue(payload).String(),
	})
	require.Equal(t, http.StatusCreated, status)
	require.True(t, env.Success)

	var item struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &item))

	// Park the payload under the item's storage ref so archival can find it
	stored, err := f.items.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	stored.StorageRef = "evidence/" + item.ID.String()
	require.NoError(t, f.items.Save(context.Background(), stored))
	require.NoError(t, f.active.Put(context.Background(), stored.StorageRef,
		bytes.NewReader(payload)))
	return item.ID
}

func (f *apiFixture) seize(t *testing.T, id uuid.UUID) {
	t.Helper()
	status, env := f.do(t, http.MethodPost, "/api/v1/evidence/"+id.String()+"/transitions",
		TransitionEvidenceRequest{
			Action:      custody.ActionSeized.String(),
			ToCustodian: "officer-42",
		})
	require.Equal(t, http.StatusCreated, status, "seize failed: %+v", env.Error)
}

func TestAPIRequiresAuth(t *testing.T) {
	f := newAPIFixture(t)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/v1/policies", nil)
	require.NoError(t, err)

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.False(t, env.Success)
	assert.Equal(t, "UNAUTHENTICATED", env.Error.Code)
}

func TestRegisterAndFetchEvidence(t *testing.T) {
	f := newAPIFixture(t)
	id := f.registerEvidence(t, []byte("disk image"))

	status, env := f.do(t, http.MethodGet, "/api/v1/evidence/"+id.String(), nil)
	require.Equal(t, http.StatusOK, status)

	var body struct {
		Item struct {
			ID          uuid.UUID `json:"id"`
			CaseID      string    `json:"case_id"`
			Disposition string    `json:"disposition"`
		} `json:"item"`
		CustodyState string `json:"custody_state"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, id, body.Item.ID)
	assert.Equal(t, "case-2026-0142", body.Item.CaseID)
	assert.Equal(t, "NONE", body.CustodyState)
	assert.NotEmpty(t, env.RequestID)
}

func TestRegisterEvidenceRejectsBadDigest(t *testing.T) {
	f := newAPIFixture(t)

	status, env := f.do(t, http.MethodPost, "/api/v1/evidence", RegisterEvidenceRequest{
		CaseID:        "case-1",
		Category:      "digital",
		StorageRef:    "evidence/x",
		ContentDigest: "not-a-digest",
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_REQUEST", env.Error.Code)
}

func TestRegisterEvidenceRejectsUnknownPolicy(t *testing.T) {
	f := newAPIFixture(t)

	status, env := f.do(t, http.MethodPost, "/api/v1/evidence", RegisterEvidenceRequest{
		CaseID:        "case-1",
		Category:      "digital",
		StorageRef:    "evidence/x",
		ContentDigest: values.MustComputeHashValue([]byte("z")).String(),
		PolicyID:      uuid.NewString(),
	})
	require.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, env.Error)
}

func TestTransitionAndChain(t *testing.T) {
	f := newAPIFixture(t)
	id := f.registerEvidence(t, []byte("drive"))
	f.seize(t, id)

	status, env := f.do(t, http.MethodGet, "/api/v1/evidence/"+id.String()+"/chain", nil)
	require.Equal(t, http.StatusOK, status)

	var body struct {
		Entries []struct {
			Action      string `json:"action"`
			SequenceNum uint64 `json:"sequence_num"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, custody.ActionSeized.String(), body.Entries[0].Action)

	status, env = f.do(t, http.MethodGet, "/api/v1/evidence/"+id.String(), nil)
	require.Equal(t, http.StatusOK, status)
	var fetched struct {
		CustodyState string `json:"custody_state"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &fetched))
	assert.Equal(t, custody.StateSeized.String(), fetched.CustodyState)
}

func TestTransitionUnknownEvidence(t *testing.T) {
	f := newAPIFixture(t)

	status, env := f.do(t, http.MethodPost,
		"/api/v1/evidence/"+uuid.NewString()+"/transitions",
		TransitionEvidenceRequest{
			Action:      custody.ActionSeized.String(),
			ToCustodian: "officer-42",
		})
	require.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, env.Error)
}

func TestTransitionRejectsMalformedID(t *testing.T) {
	f := newAPIFixture(t)

	status, env := f.do(t, http.MethodPost, "/api/v1/evidence/not-a-uuid/transitions",
		TransitionEvidenceRequest{Action: custody.ActionSeized.String()})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_ID", env.Error.Code)
}

func TestHoldBlocksDisposalUntilReleased(t *testing.T) {
	f := newAPIFixture(t)
	id := f.registerEvidence(t, []byte("ledger book"))
	f.seize(t, id)

	status, env := f.do(t, http.MethodPost, "/api/v1/evidence/"+id.String()+"/holds",
		PlaceHoldRequest{CaseRef: "case-2026-0142", Reason: "pending appeal"})
	require.Equal(t, http.StatusCreated, status)

	var hold struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &hold))

	status, env = f.do(t, http.MethodPost, "/api/v1/evidence/"+id.String()+"/dispose", nil)
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "LEGAL_HOLD_VIOLATION", env.Error.Code)

	status, _ = f.do(t, http.MethodDelete, "/api/v1/holds/"+hold.ID.String(), nil)
	require.Equal(t, http.StatusOK, status)

	status, env = f.do(t, http.MethodPost, "/api/v1/evidence/"+id.String()+"/dispose", nil)
	require.Equal(t, http.StatusOK, status, "dispose after release failed: %+v", env.Error)
}

func TestArchiveRestoreOverAPI(t *testing.T) {
	f := newAPIFixture(t)
	id := f.registerEvidence(t, []byte("surveillance footage"))
	f.seize(t, id)

	status, env := f.do(t, http.MethodPost, "/api/v1/evidence/"+id.String()+"/archive", nil)
	require.Equal(t, http.StatusCreated, status, "archive failed: %+v", env.Error)

	var record struct {
		EvidenceID uuid.UUID `json:"evidence_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &record))
	assert.Equal(t, id, record.EvidenceID)

	status, env = f.do(t, http.MethodPost, "/api/v1/evidence/"+id.String()+"/restore", nil)
	require.Equal(t, http.StatusOK, status, "restore failed: %+v", env.Error)
}

func TestPolicyLifecycleAndRetention(t *testing.T) {
	f := newAPIFixture(t)

	status, env := f.do(t, http.MethodPost, "/api/v1/policies", CreatePolicyRequest{
		Name:     "purge-digital",
		Category: "digital",
		Period:   "1h",
		Anchor:   "CREATED",
		Action:   "DELETE",
	})
	require.Equal(t, http.StatusCreated, status, "create policy failed: %+v", env.Error)

	var policy struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &policy))

	status, env = f.do(t, http.MethodGet, "/api/v1/policies", nil)
	require.Equal(t, http.StatusOK, status)
	var policies []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &policies))
	require.Len(t, policies, 1)

	payload := []byte("recent upload")
	status, env = f.do(t, http.MethodPost, "/api/v1/evidence", RegisterEvidenceRequest{
		CaseID:        "case-9",
		Category:      "digital",
		StorageRef:    "evidence/recent",
		ContentDigest: values.MustComputeHashValue(payload).String(),
		PolicyID:      policy.ID.String(),
	})
	require.Equal(t, http.StatusCreated, status)
	var item struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &item))

	status, env = f.do(t, http.MethodGet, "/api/v1/evidence/"+item.ID.String()+"/retention", nil)
	require.Equal(t, http.StatusOK, status)
	var decision struct {
		Action string `json:"action"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &decision))
	assert.Equal(t, "NONE", decision.Action)

	status, env = f.do(t, http.MethodPost, "/api/v1/retention/scan", nil)
	require.Equal(t, http.StatusOK, status)
	var report struct {
		Evaluated int `json:"evaluated"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, 1, report.Evaluated)
}

func TestCreatePolicyRejectsUnknownAction(t *testing.T) {
	f := newAPIFixture(t)

	status, env := f.do(t, http.MethodPost, "/api/v1/policies", CreatePolicyRequest{
		Name:     "bad",
		Category: "digital",
		Period:   "1h",
		Anchor:   "CREATED",
		Action:   "SHRED",
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_REQUEST", env.Error.Code)
}

func TestProofAndVerifyEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	id := f.registerEvidence(t, []byte("phone extraction"))
	f.seize(t, id)

	status, env := f.do(t, http.MethodGet, "/api/v1/evidence/"+id.String()+"/proof", nil)
	require.Equal(t, http.StatusOK, status, "proof failed: %+v", env.Error)

	var proof struct {
		EvidenceID string `json:"evidence_id"`
		Valid      bool   `json:"valid"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &proof))
	assert.Equal(t, id.String(), proof.EvidenceID)
	assert.True(t, proof.Valid)

	partition := custodysvc.PartitionFor(id)
	status, env = f.do(t, http.MethodPost, "/api/v1/ledger/verify?partition="+partition, nil)
	require.Equal(t, http.StatusOK, status)
	var result struct {
		IsValid bool `json:"is_valid"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.True(t, result.IsValid)

	status, _ = f.do(t, http.MethodPost, "/api/v1/ledger/verify", nil)
	require.Equal(t, http.StatusOK, status)
}

func TestComplianceSummaryEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	id := f.registerEvidence(t, []byte("case file"))
	f.seize(t, id)

	status, env := f.do(t, http.MethodGet, "/api/v1/compliance/summary", nil)
	require.Equal(t, http.StatusOK, status)

	var summary struct {
		TotalEntries uint64 `json:"total_entries"`
		Partitions   int    `json:"partitions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, uint64(1), summary.TotalEntries)
	assert.Equal(t, 1, summary.Partitions)
}

func TestMalformedBodyRejected(t *testing.T) {
	f := newAPIFixture(t)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/v1/evidence",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, "MALFORMED_BODY", env.Error.Code)
}
