package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"backoffice/internal/app"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc       app.ApplicationService
	router    chi.Router
	jwtSecret string
	logger    *logrus.Logger
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, allowedOrigins, jwtSecret string, logger *logrus.Logger) http.Handler {
	h := &Handler{
		svc:       svc,
		jwtSecret: jwtSecret,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recoverer(logger))
	r.Use(CORS(allowedOrigins))

	// ── Health (public) ───────────────────────────────────────────────────────
	r.Get("/api/health", h.health)

	// ── Protected API routes (return 401 JSON if unauthenticated) ────────────
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Use(RequestBodyLimit(1 << 20)) // 1 MB

		r.Get("/api/auth/me", h.me)

		// ── Sales ─────────────────────────────────────────────────────────────
		r.Post("/api/sales", h.apiSettleSale)
		r.Get("/api/sales", h.apiListSales)
		r.Get("/api/sales/{id}", h.apiGetSale)
		r.Post("/api/quotes/{id}/convert", h.apiConvertQuote)

		// ── Inventory ─────────────────────────────────────────────────────────
		r.Get("/api/stock", h.apiStockLevels)
		r.Post("/api/purchase-orders/{id}/receive", h.apiReceivePurchaseOrder)

		// ── Fiscal ────────────────────────────────────────────────────────────
		r.Get("/api/fiscal-documents/{id}", h.apiFiscalStatus)
		r.Get("/api/fiscal-documents/{id}/events", h.apiFiscalEvents)
		r.Post("/api/fiscal-documents/{id}/resubmit", h.apiResubmitFiscal)

		// ── Audit ─────────────────────────────────────────────────────────────
		r.Get("/api/audit/verify", h.apiVerifyAudit)
	})

	h.router = r
	return r
}

// health returns service status. It is 503 when the database is unreachable.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	res := h.svc.Health(r.Context())
	if res.Database != "ok" {
		writeJSONStatus(w, http.StatusServiceUnavailable, res)
		return
	}
	writeJSON(w, res)
}

// pathID parses the {id} URL parameter as a positive integer.
func pathID(w http.ResponseWriter, r *http.Request, what string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, "invalid "+what+" ID", "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
