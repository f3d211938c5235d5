package web

import (
	"net/http"
	"strconv"

	"backoffice/internal/core"
)

// apiSettleSale handles POST /api/sales.
func (h *Handler) apiSettleSale(w http.ResponseWriter, r *http.Request) {
	var req core.SettleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	claims := authFromContext(r.Context())
	req.TenantID = claims.TenantID
	req.ActorID = claims.Subject
	req.RequestID = requestIDFromContext(r.Context())

	result, err := h.svc.Settle(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result.Sale)
}

// apiListSales handles GET /api/sales?page=N.
func (h *Handler) apiListSales(w http.ResponseWriter, r *http.Request) {
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, r, "page must be a positive integer", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		page = n
	}

	result, err := h.svc.ListSales(r.Context(), authFromContext(r.Context()).TenantID, page)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiGetSale handles GET /api/sales/{id}.
func (h *Handler) apiGetSale(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "sale")
	if !ok {
		return
	}
	result, err := h.svc.GetSale(r.Context(), authFromContext(r.Context()).TenantID, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.Sale)
}

// apiConvertQuote handles POST /api/quotes/{id}/convert.
func (h *Handler) apiConvertQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "quote")
	if !ok {
		return
	}
	var req core.ConvertQuoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	claims := authFromContext(r.Context())
	req.TenantID = claims.TenantID
	req.QuoteID = id
	req.ActorID = claims.Subject
	req.RequestID = requestIDFromContext(r.Context())

	result, err := h.svc.ConvertQuote(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result.Sale)
}

// apiStockLevels handles GET /api/stock.
func (h *Handler) apiStockLevels(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetStockLevels(r.Context(), authFromContext(r.Context()).TenantID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiReceivePurchaseOrder handles POST /api/purchase-orders/{id}/receive.
func (h *Handler) apiReceivePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "purchase order")
	if !ok {
		return
	}
	claims := authFromContext(r.Context())
	result, err := h.svc.ReceivePurchaseOrder(r.Context(), claims.TenantID, id, claims.Subject)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result.PurchaseOrder)
}
