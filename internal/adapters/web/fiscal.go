package web

import "net/http"

// apiFiscalStatus handles GET /api/fiscal-documents/{id}.
func (h *Handler) apiFiscalStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "fiscal document")
	if !ok {
		return
	}
	view, err := h.svc.FiscalStatus(r.Context(), authFromContext(r.Context()).TenantID, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, view)
}

// apiFiscalEvents handles GET /api/fiscal-documents/{id}/events.
func (h *Handler) apiFiscalEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "fiscal document")
	if !ok {
		return
	}
	result, err := h.svc.FiscalEvents(r.Context(), authFromContext(r.Context()).TenantID, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiResubmitFiscal handles POST /api/fiscal-documents/{id}/resubmit.
func (h *Handler) apiResubmitFiscal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "fiscal document")
	if !ok {
		return
	}
	if err := h.svc.ResubmitFiscal(r.Context(), authFromContext(r.Context()).TenantID, id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]any{"fiscal_document_id": id, "status": "queued"})
}

// apiVerifyAudit handles GET /api/audit/verify. A broken chain is still a
// 200; the body carries valid=false and where it broke.
func (h *Handler) apiVerifyAudit(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.VerifyAudit(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}
