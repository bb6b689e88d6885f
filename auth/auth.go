// Package auth verifies bearer tokens and enforces the rank hierarchy on
// HTTP routes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hackclub/siege/models"
)

type contextKey struct{}

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	SlackID string
	Rank    string
}

// Claims is the JWT payload carried by every token.
type Claims struct {
	jwt.RegisteredClaims
	SlackID string `json:"slack_id"`
	Rank    string `json:"rank"`
}

// rankLevel orders ranks so RequireRank can compare them.
var rankLevel = map[string]int{
	models.RankUser:       1,
	models.RankViewer:     2,
	models.RankReviewer:   3,
	models.RankAdmin:      4,
	models.RankSuperAdmin: 5,
}

var (
	// ErrMissingToken marks requests without a bearer token.
	ErrMissingToken = errors.New("auth: missing bearer token")
	// ErrInvalidToken marks tokens that fail verification.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrUnknownRank marks tokens carrying a rank outside the closed set.
	ErrUnknownRank = errors.New("auth: unknown rank")
)

// Verifier parses and validates HS256 tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a verifier over a shared signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign issues a token for the given identity. Used by tests and the
// session-exchange endpoint.
func (v *Verifier) Sign(slackID, rank string, ttl time.Duration) (string, error) {
	if _, ok := rankLevel[rank]; !ok {
		return "", ErrUnknownRank
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   slackID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		SlackID: slackID,
		Rank:    rank,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Parse validates a token string and returns its claims.
func (v *Verifier) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if _, ok := rankLevel[claims.Rank]; !ok {
		return nil, ErrUnknownRank
	}
	return claims, nil
}

// FromContext returns the identity attached by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// WithIdentity attaches an identity to a context. Exposed for tests.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// Middleware extracts and verifies the bearer token, rejecting the request
// with 401 when it is absent or invalid.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		claims, err := v.Parse(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		ctx := WithIdentity(r.Context(), Identity{SlackID: claims.SlackID, Rank: claims.Rank})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRank rejects callers below the given rank with 403.
func RequireRank(min string) func(http.Handler) http.Handler {
	minLevel := rankLevel[min]
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok || rankLevel[id.Rank] < minLevel {
				http.Error(w, `{"error":"insufficient rank"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
