package http

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON body of every failed request. Code is stable
// and machine readable; Error is the human readable summary.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, code, errText string) {
	WriteErrorWithMessage(w, statusCode, code, errText, "")
}

// WriteErrorWithMessage writes a JSON error response with an extra message
func WriteErrorWithMessage(w http.ResponseWriter, statusCode int, code, errText, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errText,
		Code:    code,
		Message: message,
	})
}

func WriteBadRequest(w http.ResponseWriter, errText string) {
	WriteError(w, http.StatusBadRequest, "bad_request", errText)
}

func WriteUnauthorized(w http.ResponseWriter, code, errText string) {
	WriteError(w, http.StatusUnauthorized, code, errText)
}

func WriteForbidden(w http.ResponseWriter, code, errText string) {
	WriteError(w, http.StatusForbidden, code, errText)
}

func WriteNotFound(w http.ResponseWriter, errText string) {
	WriteError(w, http.StatusNotFound, "not_found", errText)
}

func WriteConflict(w http.ResponseWriter, errText string) {
	WriteError(w, http.StatusConflict, "conflict", errText)
}

func WriteTooManyRequests(w http.ResponseWriter, errText string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", errText)
}

func WriteServiceUnavailable(w http.ResponseWriter, code, errText string) {
	WriteError(w, http.StatusServiceUnavailable, code, errText)
}

// WriteInternalError never exposes internal error text.
func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
