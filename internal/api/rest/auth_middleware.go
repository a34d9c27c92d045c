package rest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
)

// Claims are the JWT claims the API issues and verifies
type Claims struct {
	jwt.RegisteredClaims
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
}

// Actor is the authenticated identity attached to the request context
type Actor struct {
	ID   string
	Role string
}

// ActorFrom returns the authenticated actor, if any
func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// AuthMiddleware verifies HMAC-signed bearer tokens
type AuthMiddleware struct {
	secret      []byte
	tokenExpiry time.Duration
}

// NewAuthMiddleware creates the JWT middleware
func NewAuthMiddleware(secret []byte, tokenExpiry time.Duration) *AuthMiddleware {
	return &AuthMiddleware{secret: secret, tokenExpiry: tokenExpiry}
}

// IssueToken mints a signed token for an actor
func (m *AuthMiddleware) IssueToken(actorID, role string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenExpiry)),
		},
		ActorID: actorID,
		Role:    role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Authenticate rejects requests without a valid bearer token and attaches
// the actor to the context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, r, errors.NewUnauthorizedError("a bearer token is required"))
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(
			strings.TrimPrefix(header, "Bearer "), claims,
			func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.NewUnauthorizedError("unexpected signing method")
				}
				return m.secret, nil
			})
		if err != nil || !token.Valid || claims.ActorID == "" {
			writeError(w, r, errors.NewUnauthorizedError("invalid or expired token"))
			return
		}

		actor := Actor{ID: claims.ActorID, Role: claims.Role}
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), actorKey, actor)))
	})
}
