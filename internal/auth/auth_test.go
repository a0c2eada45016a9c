package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/club-directory/internal/domainerr"
	"github.com/Shivanand-hulikatti/club-directory/internal/model"
)

var organizer = model.Identity{ID: "Org-7", Username: "margaret", Role: model.RoleOrganizer}

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService("test-signing-key", "test-issuer")

	token, err := svc.GenerateToken(organizer, time.Hour)
	require.NoError(t, err)

	id, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, model.Identity{ID: "org-7", Username: "margaret", Role: model.RoleOrganizer}, id)
}

func TestValidateRejects(t *testing.T) {
	svc := NewJWTService("test-signing-key", "test-issuer")

	t.Run("expired", func(t *testing.T) {
		token, err := svc.GenerateToken(organizer, -time.Minute)
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.Equal(t, domainerr.CodeUnauthorized, domainerr.CodeOf(err))
		assert.ErrorContains(t, err, "expired")
	})

	t.Run("wrong key", func(t *testing.T) {
		token, err := NewJWTService("other-key", "test-issuer").GenerateToken(organizer, time.Hour)
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.Equal(t, domainerr.CodeUnauthorized, domainerr.CodeOf(err))
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := NewJWTService("test-signing-key", "someone-else").GenerateToken(organizer, time.Hour)
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.Equal(t, domainerr.CodeUnauthorized, domainerr.CodeOf(err))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not-a-token")
		assert.Equal(t, domainerr.CodeUnauthorized, domainerr.CodeOf(err))
	})

	t.Run("unknown role", func(t *testing.T) {
		claims := Claims{
			Role: "admin",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "u1",
				Issuer:    "test-issuer",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-key"))
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.Equal(t, domainerr.CodeUnauthorized, domainerr.CodeOf(err))
	})

	t.Run("minting rejects unknown role", func(t *testing.T) {
		_, err := svc.GenerateToken(model.Identity{ID: "u1", Role: "admin"}, time.Hour)
		assert.Equal(t, domainerr.CodeValidation, domainerr.CodeOf(err))
	})
}

func writeTestError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": description})
}

func TestMiddleware(t *testing.T) {
	svc := NewJWTService("test-signing-key", "test-issuer")
	logger := slog.New(slog.DiscardHandler)

	var seen model.Identity
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := RequireAuth(svc, logger, writeTestError)(RequireRole(writeTestError, model.RoleOrganizer)(final))

	orgToken, err := svc.GenerateToken(organizer, time.Hour)
	require.NoError(t, err)
	memberToken, err := svc.GenerateToken(model.Identity{ID: "m1", Role: model.RoleMember}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + memberToken, http.StatusForbidden},
		{"allowed", "Bearer " + orgToken, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/clubs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, model.UserID("org-7"), seen.ID)

	t.Run("role check without auth", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequireRole(writeTestError, model.RoleMember)(final).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
