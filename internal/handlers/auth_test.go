package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BradenHooton/crystals/internal/models"
	"github.com/BradenHooton/crystals/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthHandler_Login_Success(t *testing.T) {
	p := testPrincipal()
	svc := &MockAuthService{
		LoginFunc: func(ctx context.Context, creds services.Credentials) (*services.LoginResult, error) {
			assert.Equal(t, "alice", creds.Username)
			assert.Equal(t, "s3cret-pass1", creds.Password)
			return &services.LoginResult{
				Tokens:    &models.TokenPair{Access: "access-token", Refresh: "refresh-token"},
				Principal: p,
			}, nil
		},
	}
	h := NewAuthHandler(svc, discardLogger())

	w := httptest.NewRecorder()
	h.Login(w, NewTestRequest(t, http.MethodPost, "/auth/login", map[string]string{"username": "alice", "password": "s3cret-pass1"}))

	var resp LoginResponse
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "✅ Login successful", resp.Message)
	assert.Equal(t, "access-token", resp.Access)
	assert.Equal(t, "refresh-token", resp.Refresh)
	assert.Equal(t, int64(7), resp.User.ID)
	assert.Equal(t, int64(3), resp.User.FactoryID)
}

func TestAuthHandler_Login_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"missing", models.ErrMissingCredentials, http.StatusBadRequest, "missing_credentials"},
		{"invalid", models.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{"inactive", models.ErrInactiveAccount, http.StatusUnauthorized, "account_disabled"},
		{"mfa required", models.ErrMFARequired, http.StatusUnauthorized, "mfa_required"},
		{"internal", errors.New("db down"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockAuthService{
				LoginFunc: func(context.Context, services.Credentials) (*services.LoginResult, error) {
					return nil, tt.err
				},
			}
			h := NewAuthHandler(svc, discardLogger())

			w := httptest.NewRecorder()
			h.Login(w, NewTestRequest(t, http.MethodPost, "/auth/login", map[string]string{"username": "alice", "password": "x"}))

			AssertErrorResponse(t, w, tt.status, tt.code)
			assert.NotContains(t, w.Body.String(), "db down")
		})
	}
}

func TestAuthHandler_Login_MalformedJSON(t *testing.T) {
	var malformed int
	svc := &MockAuthService{
		RejectMalformedFunc: func(context.Context, error) error {
			malformed++
			return models.ErrMalformedPayload
		},
		LoginFunc: func(context.Context, services.Credentials) (*services.LoginResult, error) {
			t.Fatal("login must not run on a malformed body")
			return nil, nil
		},
	}
	h := NewAuthHandler(svc, discardLogger())

	w := httptest.NewRecorder()
	h.Login(w, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":`)))

	AssertErrorResponse(t, w, http.StatusBadRequest, "malformed_payload")
	assert.Equal(t, 1, malformed)
}

func TestAuthHandler_Login_InvalidOTPFormat(t *testing.T) {
	svc := &MockAuthService{}
	h := NewAuthHandler(svc, discardLogger())

	w := httptest.NewRecorder()
	h.Login(w, NewTestRequest(t, http.MethodPost, "/auth/login", map[string]string{"username": "alice", "password": "x", "otp": "12ab"}))

	AssertErrorResponse(t, w, http.StatusBadRequest, "malformed_payload")
}

func TestAuthHandler_ValidateUser(t *testing.T) {
	svc := &MockAuthService{
		ValidateCredentialsFunc: func(context.Context, services.Credentials) (*models.Principal, error) {
			return testPrincipal(), nil
		},
	}
	h := NewAuthHandler(svc, discardLogger())

	w := httptest.NewRecorder()
	h.ValidateUser(w, NewTestRequest(t, http.MethodPost, "/user/validate", map[string]string{"username": "alice", "password": "x"}))

	var resp map[string]any
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, true, resp["valid"])
	assert.Equal(t, "alice", resp["user"].(map[string]any)["username"])
}

func TestAuthHandler_Refresh(t *testing.T) {
	svc := &MockAuthService{
		RefreshFunc: func(_ context.Context, token string) (*services.RefreshResult, error) {
			if token == "good" {
				return &services.RefreshResult{AccessToken: "new-access", ExpiresIn: 3600}, nil
			}
			return nil, models.ErrInvalidRefreshToken
		},
	}
	h := NewAuthHandler(svc, discardLogger())

	w := httptest.NewRecorder()
	h.Refresh(w, NewTestRequest(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh": "good"}))
	var resp RefreshResponse
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "new-access", resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	w = httptest.NewRecorder()
	h.Refresh(w, NewTestRequest(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh": "bad"}))
	AssertErrorResponse(t, w, http.StatusUnauthorized, "invalid_refresh_token")
}

func TestAuthHandler_Logout(t *testing.T) {
	var tokens []string
	svc := &MockAuthService{
		LogoutFunc: func(_ context.Context, token string) error {
			tokens = append(tokens, token)
			return nil
		},
	}
	h := NewAuthHandler(svc, discardLogger())

	for _, body := range []map[string]string{{"refresh_token": "r1"}, {"refresh": "r2"}} {
		w := httptest.NewRecorder()
		h.Logout(w, NewTestRequest(t, http.MethodPost, "/auth/logout", body))
		var resp MessageResponse
		AssertJSONResponse(t, w, http.StatusOK, &resp)
		assert.Equal(t, "✅ Logout successful", resp.Message)
	}
	assert.Equal(t, []string{"r1", "r2"}, tokens)

	w := httptest.NewRecorder()
	h.Logout(w, NewTestRequest(t, http.MethodPost, "/auth/logout", map[string]string{}))
	AssertErrorResponse(t, w, http.StatusBadRequest, "missing_credentials")
}

func TestAuthHandler_VerifyAndProfile(t *testing.T) {
	h := NewAuthHandler(&MockAuthService{}, discardLogger())
	p := testPrincipal()

	w := httptest.NewRecorder()
	h.Verify(w, WithPrincipal(httptest.NewRequest(http.MethodGet, "/auth/verify", nil), p))
	var verify map[string]any
	AssertJSONResponse(t, w, http.StatusOK, &verify)
	assert.Equal(t, "✅ Token verified successfully", verify["message"])
	assert.Equal(t, "alice", verify["user"].(map[string]any)["username"])

	w = httptest.NewRecorder()
	h.Profile(w, WithPrincipal(httptest.NewRequest(http.MethodGet, "/auth/profile", nil), p))
	var profile map[string]any
	AssertJSONResponse(t, w, http.StatusOK, &profile)
	user := profile["user"].(map[string]any)
	assert.Equal(t, "alice@example.com", user["email"])
	assert.Contains(t, user, "date_joined")
	assert.Contains(t, user, "last_login")

	w = httptest.NewRecorder()
	h.Verify(w, httptest.NewRequest(http.MethodGet, "/auth/verify", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
