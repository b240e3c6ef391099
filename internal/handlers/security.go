package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/crystals/internal/auth"
	"github.com/BradenHooton/crystals/internal/models"
	"github.com/BradenHooton/crystals/internal/security"
	pkghttp "github.com/BradenHooton/crystals/pkg/http"
)

// SecurityMonitor is the read side of the security admin endpoints.
type SecurityMonitor interface {
	Dashboard(ctx context.Context) (*security.Dashboard, error)
	Logs(ctx context.Context, q security.LogQuery) ([]models.SecurityEvent, int, error)
}

// IPBlocker manages the IP block registry.
type IPBlocker interface {
	Block(ctx context.Context, ip string, duration time.Duration, reason, blockedBy string) (*models.IPBlockEntry, error)
	Unblock(ctx context.Context, ip, unblockedBy string) (bool, error)
}

// SecurityHandler serves the superuser-only /security endpoints.
type SecurityHandler struct {
	monitor SecurityMonitor
	blocks  IPBlocker
	logger  *slog.Logger
}

func NewSecurityHandler(monitor SecurityMonitor, blocks IPBlocker, logger *slog.Logger) *SecurityHandler {
	return &SecurityHandler{monitor: monitor, blocks: blocks, logger: logger}
}

type BlockIPRequest struct {
	IP            string `json:"ip" validate:"required,ip"`
	DurationHours int    `json:"duration_hours" validate:"omitempty,gte=1,lte=8760"`
	Reason        string `json:"reason" validate:"max=255"`
}

type UnblockIPRequest struct {
	IP string `json:"ip" validate:"required,ip"`
}

type dashboardResponse struct {
	Status string `json:"status"`
	*security.Dashboard
}

// Dashboard handles GET|POST /security/dashboard.
func (h *SecurityHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.monitor.Dashboard(r.Context())
	if err != nil {
		h.logger.Error("failed to build security dashboard", slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "monitor_unavailable", "Security data is temporarily unavailable")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, dashboardResponse{Status: "success", Dashboard: d})
}

// Logs handles GET /security/logs?limit=&event_type=&hours=.
func (h *SecurityHandler) Logs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := security.LogQuery{
		Limit:     atoiDefault(q.Get("limit"), 100),
		EventType: q.Get("event_type"),
		Hours:     atoiDefault(q.Get("hours"), 24),
	}

	logs, total, err := h.monitor.Logs(r.Context(), query)
	if err != nil {
		h.logger.Error("failed to load security logs", slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "monitor_unavailable", "Security data is temporarily unavailable")
		return
	}
	if logs == nil {
		logs = []models.SecurityEvent{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"logs":   logs,
		"total":  total,
	})
}

// BlockIP handles POST /security/block-ip.
func (h *SecurityHandler) BlockIP(w http.ResponseWriter, r *http.Request) {
	var req BlockIPRequest
	if err := decodeJSON(r, &req); err != nil {
		pkghttp.WriteError(w, http.StatusBadRequest, "malformed_payload", "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	duration := time.Duration(req.DurationHours) * time.Hour
	entry, err := h.blocks.Block(r.Context(), req.IP, duration, req.Reason, actor(r))
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "Invalid IP address")
			return
		}
		h.logger.Error("failed to block ip", slog.String("ip", req.IP), slog.Any("error", err))
		pkghttp.WriteInternalError(w)
		return
	}

	hours := entry.DurationSeconds / 3600
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("✅ IP %s blocked for %d hours", entry.IP, hours),
		"block":   entry,
	})
}

// UnblockIP handles POST /security/unblock-ip.
func (h *SecurityHandler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	var req UnblockIPRequest
	if err := decodeJSON(r, &req); err != nil {
		pkghttp.WriteError(w, http.StatusBadRequest, "malformed_payload", "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	removed, err := h.blocks.Unblock(r.Context(), req.IP, actor(r))
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "Invalid IP address")
			return
		}
		h.logger.Error("failed to unblock ip", slog.String("ip", req.IP), slog.Any("error", err))
		pkghttp.WriteInternalError(w)
		return
	}

	message := fmt.Sprintf("✅ IP %s unblocked", req.IP)
	if !removed {
		message = fmt.Sprintf("✅ IP %s was not blocked", req.IP)
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"message":   message,
		"unblocked": removed,
	})
}

func actor(r *http.Request) string {
	if p := auth.PrincipalFromContext(r.Context()); p != nil {
		return p.Username
	}
	return ""
}

func atoiDefault(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
