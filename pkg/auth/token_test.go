package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockline/stockline-backend/pkg/config"
	"github.com/stockline/stockline-backend/pkg/errors"
	"github.com/stockline/stockline-backend/pkg/logger"
)

func newTestManager() *Manager {
	return NewManager(&config.AuthConfig{Enabled: true, Secret: "test-secret", Issuer: "stockline"})
}

func TestManager_IssueAndVerify(t *testing.T) {
	m := newTestManager()

	token, err := m.Issue("order-service", []string{ScopeRead, ScopeWrite}, time.Minute)
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "order-service", claims.Service)
	assert.True(t, claims.HasScope(ScopeWrite))
}

func TestManager_Verify_Rejects(t *testing.T) {
	m := newTestManager()

	t.Run("expired", func(t *testing.T) {
		token, err := m.Issue("order-service", nil, time.Minute)
		require.NoError(t, err)

		later := *m
		later.now = func() time.Time { return time.Now().Add(time.Hour) }
		_, err = later.Verify(token)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrUnauthorized))
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewManager(&config.AuthConfig{Secret: "other", Issuer: "stockline"})
		token, err := other.Issue("order-service", nil, time.Minute)
		require.NoError(t, err)

		_, err = m.Verify(token)
		assert.True(t, errors.Is(err, errors.ErrUnauthorized))
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewManager(&config.AuthConfig{Secret: "test-secret", Issuer: "someone-else"})
		token, err := other.Issue("order-service", nil, time.Minute)
		require.NoError(t, err)

		_, err = m.Verify(token)
		assert.Error(t, err)
	})
}

func TestMiddleware(t *testing.T) {
	m := newTestManager()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := m.Middleware(logger.Nop())(RequireScope(ScopeWrite)(ok))

	readOnly, err := m.Issue("dashboard", []string{ScopeRead}, time.Minute)
	require.NoError(t, err)
	writer, err := m.Issue("order-service", []string{ScopeWrite}, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header", "Token abc", http.StatusUnauthorized},
		{"garbage token", "Bearer abc", http.StatusUnauthorized},
		{"missing scope", "Bearer " + readOnly, http.StatusForbidden},
		{"authorized", "Bearer " + writer, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
