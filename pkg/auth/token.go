// Package auth verifies the HS256 service tokens that callers (order service,
// back-office tooling) present to the inventory API.
package auth

import (
	"context"
	stderrors "errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/stockline/stockline-backend/pkg/config"
	"github.com/stockline/stockline-backend/pkg/errors"
	"github.com/stockline/stockline-backend/pkg/httputil"
	"github.com/stockline/stockline-backend/pkg/logger"
)

// Scopes granted to service tokens.
const (
	ScopeRead  = "inventory:read"
	ScopeWrite = "inventory:write"
)

// Claims are the claims carried by a service token
type Claims struct {
	jwt.RegisteredClaims
	Service string   `json:"service"`
	Scopes  []string `json:"scopes,omitempty"`
}

// HasScope reports whether the token grants scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// Manager issues and verifies service tokens
type Manager struct {
	config *config.AuthConfig
	now    func() time.Time
}

// NewManager creates a new token manager
func NewManager(cfg *config.AuthConfig) *Manager {
	return &Manager{config: cfg, now: time.Now}
}

// Issue signs a token for service valid for ttl.
func (m *Manager) Issue(service string, scopes []string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   service,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Service: service,
		Scopes:  scopes,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.config.Secret))
}

// Verify parses tokenString and returns its claims
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Unauthorized("unexpected signing method")
		}
		return []byte(m.config.Secret), nil
	},
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.Unauthorized("token has expired")
		}
		return nil, errors.Unauthorized("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.Unauthorized("invalid token")
	}
	return claims, nil
}

type contextKey struct{}

// FromContext returns the verified claims stored by Middleware.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(*Claims)
	return c, ok
}

// Middleware rejects requests without a valid bearer token
func (m *Manager) Middleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				httputil.Error(w, errors.Unauthorized("missing or malformed authorization header"))
				return
			}

			claims, err := m.Verify(parts[1])
			if err != nil {
				log.Debug().Err(err).Msg("token validation failed")
				httputil.Error(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, claims)))
		})
	}
}

// RequireScope rejects requests whose token lacks scope. Mount after Middleware.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := FromContext(r.Context())
			if !ok || !claims.HasScope(scope) {
				httputil.Error(w, errors.New("FORBIDDEN", "token lacks scope "+scope, http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Require verifies the bearer token and then checks for scope.
func (m *Manager) Require(log *logger.Logger, scope string) func(http.Handler) http.Handler {
	verify, check := m.Middleware(log), RequireScope(scope)
	return func(next http.Handler) http.Handler {
		return verify(check(next))
	}
}
