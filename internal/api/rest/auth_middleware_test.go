package rest

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authProbe(t *testing.T, auth *AuthMiddleware) (http.Handler, *Actor) {
	t.Helper()
	var seen Actor
	handler := auth.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		require.True(t, ok)
		seen = actor
		w.WriteHeader(http.StatusNoContent)
	}))
	return handler, &seen
}

func TestAuthenticateAcceptsIssuedToken(t *testing.T) {
	auth := NewAuthMiddleware([]byte("secret"), time.Hour)
	handler, seen := authProbe(t, auth)

	token, err := auth.IssueToken("officer-42", "custodian")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "officer-42", seen.ID)
	assert.Equal(t, "custodian", seen.Role)
}

func TestAuthenticateRejectsMissingHeader(t *testing.T) {
	auth := NewAuthMiddleware([]byte("secret"), time.Hour)
	handler, _ := authProbe(t, auth)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	issuer := NewAuthMiddleware([]byte("other-secret"), time.Hour)
	auth := NewAuthMiddleware([]byte("secret"), time.Hour)
	handler, _ := authProbe(t, auth)

	token, err := issuer.IssueToken("officer-42", "custodian")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	auth := NewAuthMiddleware([]byte("secret"), -time.Minute)
	handler, _ := authProbe(t, auth)

	token, err := auth.IssueToken("officer-42", "custodian")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, nil)
	})
	handler := withRequestID(inner)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"request_id":"req-123"`)
}
