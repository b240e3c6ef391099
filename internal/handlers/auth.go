package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/crystals/internal/auth"
	"github.com/BradenHooton/crystals/internal/models"
	"github.com/BradenHooton/crystals/internal/services"
	pkghttp "github.com/BradenHooton/crystals/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	RejectMalformed(ctx context.Context, cause error) error
	Login(ctx context.Context, creds services.Credentials) (*services.LoginResult, error)
	ValidateCredentials(ctx context.Context, creds services.Credentials) (*models.Principal, error)
	Refresh(ctx context.Context, refreshToken string) (*services.RefreshResult, error)
	Logout(ctx context.Context, refreshToken string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service AuthServiceInterface
	logger  *slog.Logger
}

func NewAuthHandler(service AuthServiceInterface, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: service, logger: logger}
}

// LoginRequest is the body of /auth/login and /user/validate. Presence is
// checked by the service so that missing fields are recorded.
type LoginRequest struct {
	Username string `json:"username" validate:"max=150"`
	Password string `json:"password" validate:"max=128"`
	OTP      string `json:"otp" validate:"omitempty,len=6,numeric"`
}

// RefreshRequest is the body of /auth/refresh.
type RefreshRequest struct {
	Refresh string `json:"refresh" validate:"max=4096"`
}

// LogoutRequest accepts either field name.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required_without=Refresh,max=4096"`
	Refresh      string `json:"refresh" validate:"required_without=RefreshToken,max=4096"`
}

func (req LogoutRequest) token() string {
	if req.RefreshToken != "" {
		return req.RefreshToken
	}
	return req.Refresh
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	Message string                  `json:"message"`
	Access  string                  `json:"access"`
	Refresh string                  `json:"refresh"`
	User    models.PrincipalSummary `json:"user"`
}

type RefreshResponse struct {
	Message     string `json:"message"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	creds, ok := h.credentials(w, r)
	if !ok {
		return
	}

	result, err := h.service.Login(r.Context(), creds)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		Message: "✅ Login successful",
		Access:  result.Tokens.Access,
		Refresh: result.Tokens.Refresh,
		User:    result.Principal.Summary(),
	})
}

// ValidateUser handles POST /user/validate, a credential check without
// token issuance.
func (h *AuthHandler) ValidateUser(w http.ResponseWriter, r *http.Request) {
	creds, ok := h.credentials(w, r)
	if !ok {
		return
	}

	p, err := h.service.ValidateCredentials(r.Context(), creds)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "✅ Credentials valid",
		"valid":   true,
		"user":    p.Summary(),
	})
}

func (h *AuthHandler) credentials(w http.ResponseWriter, r *http.Request) (services.Credentials, bool) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			pkghttp.WriteError(w, http.StatusRequestEntityTooLarge, "request_too_large", "Request entity too large")
			return services.Credentials{}, false
		}
		h.writeAuthError(w, h.service.RejectMalformed(r.Context(), err))
		return services.Credentials{}, false
	}
	if err := ValidateRequest(req); err != nil {
		h.writeAuthError(w, h.service.RejectMalformed(r.Context(), err))
		return services.Credentials{}, false
	}
	return services.Credentials{Username: req.Username, Password: req.Password, OTP: req.OTP}, true
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(r, &req); err != nil {
		pkghttp.WriteError(w, http.StatusBadRequest, "malformed_payload", "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteError(w, http.StatusBadRequest, "malformed_payload", err.Error())
		return
	}

	result, err := h.service.Refresh(r.Context(), req.Refresh)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, RefreshResponse{
		Message:     "✅ Token refreshed successfully",
		AccessToken: result.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   result.ExpiresIn,
	})
}

// Logout handles POST /auth/logout. Logging out twice succeeds twice.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := decodeJSON(r, &req); err != nil {
		pkghttp.WriteError(w, http.StatusBadRequest, "malformed_payload", "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteErrorWithMessage(w, http.StatusBadRequest, "missing_credentials", "Refresh token required", err.Error())
		return
	}

	if err := h.service.Logout(r.Context(), req.token()); err != nil {
		h.writeAuthError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "✅ Logout successful"})
}

// Verify handles GET /auth/verify.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		pkghttp.WriteUnauthorized(w, "authentication_required", "Authentication credentials were not provided")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "✅ Token verified successfully",
		"valid":   true,
		"user": map[string]any{
			"id":       p.ID,
			"username": p.Username,
		},
	})
}

// Profile handles GET /auth/profile.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		pkghttp.WriteUnauthorized(w, "authentication_required", "Authentication credentials were not provided")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "✅ Profile retrieved successfully",
		"user":    p.Profile(),
	})
}

// writeAuthError maps the auth taxonomy onto status codes and stable codes.
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, err error) {
	writeServiceError(w, h.logger, err)
}

func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, models.ErrMissingCredentials):
		pkghttp.WriteError(w, http.StatusBadRequest, "missing_credentials", "Username and password are required")
	case errors.Is(err, models.ErrMalformedPayload):
		pkghttp.WriteError(w, http.StatusBadRequest, "malformed_payload", "Invalid request body")
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "invalid_credentials", "Invalid credentials")
	case errors.Is(err, models.ErrInactiveAccount):
		pkghttp.WriteUnauthorized(w, "account_disabled", "Account is disabled")
	case errors.Is(err, models.ErrMFARequired):
		pkghttp.WriteUnauthorized(w, "mfa_required", "One-time code required")
	case errors.Is(err, models.ErrInvalidRefreshToken):
		pkghttp.WriteUnauthorized(w, "invalid_refresh_token", "Invalid or expired refresh token")
	case errors.Is(err, models.ErrMFANotConfigured):
		pkghttp.WriteServiceUnavailable(w, "mfa_unavailable", "Two-factor authentication is not available")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Resource already exists")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	default:
		logger.Error("unexpected service error", slog.Any("error", err))
		pkghttp.WriteInternalError(w)
	}
}
