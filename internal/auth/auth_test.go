package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/straye-as/merchant-ledger/internal/auth"
	"github.com/straye-as/merchant-ledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Auth:   config.AuthConfig{JWTSecret: "test-secret", Issuer: "merchant-auth", Leeway: 0},
		ApiKey: config.ApiKeyConfig{Value: "system-key"},
	}
}

func TestJWTValidator_ValidateToken(t *testing.T) {
	cfg := testConfig()
	v := auth.NewJWTValidator(&cfg.Auth)

	t.Run("valid owner token", func(t *testing.T) {
		token, err := auth.IssueToken(&cfg.Auth, "u-1", "Ravi", auth.RoleOwner, time.Hour)
		require.NoError(t, err)

		actor, err := v.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "u-1", actor.ID)
		assert.Equal(t, "Ravi", actor.DisplayName)
		assert.True(t, actor.IsOwner())
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := auth.IssueToken(&cfg.Auth, "u-1", "Ravi", auth.RoleStaff, -time.Minute)
		require.NoError(t, err)

		_, err = v.ValidateToken(token)
		assert.ErrorIs(t, err, auth.ErrExpiredToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := config.AuthConfig{JWTSecret: "other", Issuer: "merchant-auth"}
		token, err := auth.IssueToken(&other, "u-1", "Ravi", auth.RoleOwner, time.Hour)
		require.NoError(t, err)

		_, err = v.ValidateToken(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := config.AuthConfig{JWTSecret: "test-secret", Issuer: "someone-else"}
		token, err := auth.IssueToken(&other, "u-1", "Ravi", auth.RoleOwner, time.Hour)
		require.NoError(t, err)

		_, err = v.ValidateToken(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("unknown role", func(t *testing.T) {
		claims := auth.Claims{
			Role: "admin",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "u-1",
				Issuer:    "merchant-auth",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = v.ValidateToken(token)
		assert.ErrorIs(t, err, auth.ErrInvalidRole)
	})
}

func TestMiddleware_Authenticate(t *testing.T) {
	cfg := testConfig()
	m := auth.NewMiddleware(cfg, zap.NewNop())

	var seen *auth.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := m.Authenticate(next)

	staffToken, err := auth.IssueToken(&cfg.Auth, "u-2", "Meena", auth.RoleStaff, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantActor  string
	}{
		{name: "missing credentials", wantStatus: http.StatusUnauthorized},
		{name: "bad header format", headers: map[string]string{"Authorization": "Token abc"}, wantStatus: http.StatusUnauthorized},
		{name: "invalid api key", headers: map[string]string{"x-api-key": "nope"}, wantStatus: http.StatusUnauthorized},
		{name: "valid api key", headers: map[string]string{"x-api-key": "system-key"}, wantStatus: http.StatusOK, wantActor: "system"},
		{name: "valid bearer", headers: map[string]string{"Authorization": "Bearer " + staffToken}, wantStatus: http.StatusOK, wantActor: "u-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantActor != "" {
				require.NotNil(t, seen)
				assert.Equal(t, tt.wantActor, seen.ID)
			}
		})
	}
}

func TestMiddleware_RequireRole(t *testing.T) {
	m := auth.NewMiddleware(testConfig(), zap.NewNop())
	h := m.RequireRole(auth.RoleOwner)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		actor      *auth.Actor
		wantStatus int
	}{
		{"no actor", nil, http.StatusForbidden},
		{"staff", &auth.Actor{ID: "s", Role: auth.RoleStaff}, http.StatusForbidden},
		{"owner", &auth.Actor{ID: "o", Role: auth.RoleOwner}, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/x/approve", nil)
			if tt.actor != nil {
				req = req.WithContext(auth.WithActor(req.Context(), tt.actor))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
