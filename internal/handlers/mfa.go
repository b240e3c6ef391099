package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/crystals/internal/auth"
	"github.com/BradenHooton/crystals/internal/models"
	pkghttp "github.com/BradenHooton/crystals/pkg/http"
)

// MFAServiceInterface is the second-factor part of the auth service.
type MFAServiceInterface interface {
	MFAEnabled() bool
	EnrollMFA(ctx context.Context, p *models.Principal) (*auth.Enrollment, error)
	ConfirmMFA(ctx context.Context, p *models.Principal, code string) error
}

// MFAHandler handles MFA-related HTTP requests
type MFAHandler struct {
	service MFAServiceInterface
	logger  *slog.Logger
}

func NewMFAHandler(service MFAServiceInterface, logger *slog.Logger) *MFAHandler {
	return &MFAHandler{service: service, logger: logger}
}

// ConfirmMFARequest carries the first code from the authenticator app.
type ConfirmMFARequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// Enroll handles POST /auth/mfa/enroll.
func (h *MFAHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	if !h.service.MFAEnabled() {
		writeServiceError(w, h.logger, models.ErrMFANotConfigured)
		return
	}
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		pkghttp.WriteUnauthorized(w, "authentication_required", "Authentication credentials were not provided")
		return
	}

	e, err := h.service.EnrollMFA(r.Context(), p)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"message":     "✅ Scan the QR code with your authenticator app, then confirm with a code",
		"secret":      e.Secret,
		"qr_code":     e.QRCode,
		"otpauth_url": e.OTPAuthURL,
	})
}

// Confirm handles POST /auth/mfa/confirm.
func (h *MFAHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if !h.service.MFAEnabled() {
		writeServiceError(w, h.logger, models.ErrMFANotConfigured)
		return
	}
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		pkghttp.WriteUnauthorized(w, "authentication_required", "Authentication credentials were not provided")
		return
	}

	var req ConfirmMFARequest
	if err := decodeJSON(r, &req); err != nil {
		pkghttp.WriteError(w, http.StatusBadRequest, "malformed_payload", "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ConfirmMFA(r.Context(), p, req.Code); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "✅ Two-factor authentication enabled"})
}
