package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"backoffice/internal/core"
	"backoffice/internal/logging"
)

type errorResponse struct {
	Error       string  `json:"error"`
	Code        string  `json:"code"`
	RequestID   string  `json:"request_id,omitempty"`
	Remediation string  `json:"remediation,omitempty"`
	MissingIDs  []int64 `json:"missing_ids,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	writeErrorBody(w, r, status, errorResponse{Error: message, Code: code})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, status int, resp errorResponse) {
	resp.RequestID = requestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONStatus writes a JSON response with the given status.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps the core error taxonomy onto HTTP statuses.
// Anything unrecognised is logged and reported as 500 without detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notReady *core.FiscalNotReadyError
		stock    *core.InsufficientStockError
		notFound *core.NotFoundError
	)
	switch {
	case errors.As(err, &notReady):
		writeErrorBody(w, r, http.StatusConflict, errorResponse{
			Error: err.Error(), Code: "FISCAL_NOT_READY", Remediation: notReady.Remediation,
		})
	case errors.As(err, &stock):
		writeError(w, r, err.Error(), "INSUFFICIENT_STOCK", http.StatusConflict)
	case errors.Is(err, core.ErrValidation):
		writeError(w, r, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest)
	case errors.As(err, &notFound):
		writeErrorBody(w, r, http.StatusNotFound, errorResponse{
			Error: err.Error(), Code: "NOT_FOUND", MissingIDs: notFound.IDs,
		})
	case errors.Is(err, core.ErrConflict):
		writeError(w, r, err.Error(), "CONFLICT", http.StatusConflict)
	case errors.Is(err, core.ErrExternalSubmission):
		writeError(w, r, err.Error(), "EXTERNAL_SUBMISSION_FAILED", http.StatusBadGateway)
	default:
		logging.LogError(h.logger, "Web", r.Method+" "+r.URL.Path, "unhandled service error",
			map[string]any{"request_id": requestIDFromContext(r.Context())}, err)
		writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}
