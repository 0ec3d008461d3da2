// Package auth verifies bearer tokens issued by the storefront and carries the
// calling actor through request contexts.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin marks operator tokens.
const RoleAdmin = "admin"

var (
	// ErrInvalidToken is returned for tokens that fail signature or claim checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingToken is returned when no bearer token was sent.
	ErrMissingToken = errors.New("missing bearer token")
)

type contextKey string

const actorContextKey contextKey = "actor"

// Actor is the authenticated caller. ID is the account id.
type Actor struct {
	ID   string
	Role string
}

// IsAdmin reports whether the actor may use admin routes.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanAccess reports whether the actor may act on accountID.
func (a Actor) CanAccess(accountID string) bool {
	return a.IsAdmin() || (a.ID != "" && a.ID == accountID)
}

// JWTVerifier checks HS256 tokens. A verifier without a secret is disabled and
// lets every request through as an anonymous admin.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier returns a verifier for secret. An empty secret disables auth.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(strings.TrimSpace(secret))}
}

// Enabled reports whether tokens are required.
func (v *JWTVerifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// ParseActor validates tokenString and extracts the actor claims.
func (v *JWTVerifier) ParseActor(tokenString string) (Actor, error) {
	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(5*time.Second))
	if err != nil || !tok.Valid {
		return Actor{}, ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Actor{}, ErrInvalidToken
	}
	role, _ := claims["role"].(string)
	return Actor{ID: sub, Role: role}, nil
}

// Sign issues a token for actor. Used by tests and operator tooling.
func (v *JWTVerifier) Sign(actor Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": actor.ID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if actor.Role != "" {
		claims["role"] = actor.Role
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	v, ok := ctx.Value(actorContextKey).(Actor)
	return v, ok
}

// Middleware authenticates every request. When the verifier is disabled the
// request runs as an anonymous admin.
func (v *JWTVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !v.Enabled() {
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), Actor{Role: RoleAdmin})))
			return
		}
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			http.Error(w, ErrMissingToken.Error(), http.StatusUnauthorized)
			return
		}
		actor, err := v.ParseActor(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// RequireAdmin rejects non-admin actors with 403.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok || !actor.IsAdmin() {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
