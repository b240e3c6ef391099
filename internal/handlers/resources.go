package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BradenHooton/crystals/internal/models"
	"github.com/BradenHooton/crystals/internal/security"
	pkghttp "github.com/BradenHooton/crystals/pkg/http"
	"github.com/go-chi/chi/v5"
)

// ResourceServiceInterface is the tenant-scoped CRUD collaborator.
type ResourceServiceInterface interface {
	List(ctx context.Context, name string, factoryID int64, limit, offset int) ([]map[string]any, error)
	Get(ctx context.Context, name string, factoryID, id int64) (map[string]any, error)
	Create(ctx context.Context, name string, factoryID int64, fields map[string]any) (map[string]any, error)
	Update(ctx context.Context, name string, factoryID, id int64, fields map[string]any) (map[string]any, error)
	Delete(ctx context.Context, name string, factoryID, id int64) error
}

// ResourceHandler serves /api/{resource}. Anything the collaborator fails
// with beyond not-found and bad input is reported as api_error.
type ResourceHandler struct {
	service  ResourceServiceInterface
	recorder security.EventRecorder
	logger   *slog.Logger
}

func NewResourceHandler(service ResourceServiceInterface, recorder security.EventRecorder, logger *slog.Logger) *ResourceHandler {
	return &ResourceHandler{service: service, recorder: recorder, logger: logger}
}

func (h *ResourceHandler) List(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "resource")
	q := r.URL.Query()

	rows, err := h.service.List(r.Context(), name, security.FactoryIDFromContext(r.Context()),
		atoiDefault(q.Get("limit"), 0), atoiDefault(q.Get("offset"), 0))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("✅ Retrieved %d %s", len(rows), name),
		"results": rows,
	})
}

func (h *ResourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	row, err := h.service.Get(r.Context(), chi.URLParam(r, "resource"), security.FactoryIDFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "✅ Record retrieved",
		"result":  row,
	})
}

func (h *ResourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	fields, ok := h.fields(w, r)
	if !ok {
		return
	}
	row, err := h.service.Create(r.Context(), chi.URLParam(r, "resource"), security.FactoryIDFromContext(r.Context()), fields)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, map[string]any{
		"message": "✅ Record created",
		"result":  row,
	})
}

func (h *ResourceHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	fields, ok := h.fields(w, r)
	if !ok {
		return
	}
	row, err := h.service.Update(r.Context(), chi.URLParam(r, "resource"), security.FactoryIDFromContext(r.Context()), id, fields)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "✅ Record updated",
		"result":  row,
	})
}

func (h *ResourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "resource"), security.FactoryIDFromContext(r.Context()), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "✅ Record deleted"})
}

func (h *ResourceHandler) id(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		pkghttp.WriteBadRequest(w, "Invalid id")
		return 0, false
	}
	return id, true
}

func (h *ResourceHandler) fields(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var fields map[string]any
	if err := decodeJSON(r, &fields); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			pkghttp.WriteError(w, http.StatusRequestEntityTooLarge, "request_too_large", "Request entity too large")
			return nil, false
		}
		pkghttp.WriteError(w, http.StatusBadRequest, "malformed_payload", "Invalid request body")
		return nil, false
	}
	return fields, true
}

func (h *ResourceHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Resource already exists")
	default:
		h.logger.Error("resource operation failed",
			slog.String("resource", chi.URLParam(r, "resource")),
			slog.String("method", r.Method),
			slog.Any("error", err),
		)
		ev := models.SecurityEvent{
			EventType: models.EventAPIError,
			Message:   fmt.Sprintf("API error on %s %s", r.Method, r.URL.Path),
		}
		security.FillFromClient(&ev, security.ClientFromContext(r.Context()))
		h.recorder.Record(r.Context(), ev)
		pkghttp.WriteError(w, http.StatusInternalServerError, "api_error", "An error occurred while processing the request")
	}
}
