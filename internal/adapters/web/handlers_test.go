package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"backoffice/internal/app"
	"backoffice/internal/core"
	"backoffice/internal/logging"
)

const testSecret = "test-secret"

// fakeService returns err from every call when set.
type fakeService struct {
	err        error
	lastSettle core.SettleRequest
	lastTenant int64
}

func (f *fakeService) Settle(_ context.Context, req core.SettleRequest) (*app.SaleResult, error) {
	f.lastSettle = req
	if f.err != nil {
		return nil, f.err
	}
	return &app.SaleResult{Sale: &core.Sale{ID: 1, TenantID: req.TenantID, InvoiceNumber: "FE-000001"}}, nil
}

func (f *fakeService) ConvertQuote(_ context.Context, req core.ConvertQuoteRequest) (*app.SaleResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &app.SaleResult{Sale: &core.Sale{ID: 2, TenantID: req.TenantID}}, nil
}

func (f *fakeService) ReceivePurchaseOrder(_ context.Context, tenantID, id int64, _ string) (*app.PurchaseOrderResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &app.PurchaseOrderResult{PurchaseOrder: &core.PurchaseOrder{ID: id, TenantID: tenantID}}, nil
}

func (f *fakeService) GetSale(_ context.Context, tenantID, id int64) (*app.SaleResult, error) {
	f.lastTenant = tenantID
	if f.err != nil {
		return nil, f.err
	}
	return &app.SaleResult{Sale: &core.Sale{ID: id, TenantID: tenantID}}, nil
}

func (f *fakeService) ListSales(_ context.Context, tenantID int64, page int) (*app.SaleListResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &app.SaleListResult{TenantID: tenantID, Page: page, Sales: []core.Sale{}}, nil
}

func (f *fakeService) GetStockLevels(_ context.Context, tenantID int64) (*app.StockResult, error) {
	return &app.StockResult{TenantID: tenantID}, f.err
}

func (f *fakeService) FiscalStatus(_ context.Context, tenantID, id int64) (*core.FiscalStatusView, error) {
	f.lastTenant = tenantID
	if f.err != nil {
		return nil, f.err
	}
	return &core.FiscalStatusView{DocumentID: id, Status: core.FiscalSent, Attempts: 1}, nil
}

func (f *fakeService) FiscalEvents(_ context.Context, _, id int64) (*app.FiscalEventsResult, error) {
	return &app.FiscalEventsResult{DocumentID: id}, f.err
}

func (f *fakeService) ResubmitFiscal(context.Context, int64, int64) error { return f.err }

func (f *fakeService) VerifyAudit(context.Context) (*core.VerifyResult, error) {
	return &core.VerifyResult{Valid: true, TotalChecked: 3}, f.err
}

func (f *fakeService) Health(context.Context) *app.HealthResult {
	return &app.HealthResult{Status: "ok", Database: "ok"}
}

func newTestServer(svc *fakeService) http.Handler {
	return NewHandler(svc, "", testSecret, logging.Discard())
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, tenantID int64) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if tenantID > 0 {
		token, err := IssueToken(testSecret, tenantID, "cashier-7", time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

func TestHealth_Public(t *testing.T) {
	rec := doRequest(t, newTestServer(&fakeService{}), http.MethodGet, "/api/health", "", 0)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestRequireAuth(t *testing.T) {
	h := newTestServer(&fakeService{})

	rec := doRequest(t, h, http.MethodGet, "/api/sales", "", 0)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	noTenant, _ := IssueToken(testSecret, 0, "x", time.Hour)
	wrongKey, _ := IssueToken("other-secret", 1, "x", time.Hour)
	expired, _ := IssueToken(testSecret, 1, "x", -time.Minute)
	for name, token := range map[string]string{"no tenant": noTenant, "wrong key": wrongKey, "expired": expired} {
		req := httptest.NewRequest(http.MethodGet, "/api/sales", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", name, rec.Code)
		}
	}
}

func TestSettleSale_TakesTenantFromToken(t *testing.T) {
	svc := &fakeService{}
	body := `{"cash_session_id": 3, "payment_method": "CASH", "tenant_id": 99,
		"items": [{"product_id": 5, "qty": 2}], "discount_total": "1.50"}`

	rec := doRequest(t, newTestServer(svc), http.MethodPost, "/api/sales", body, 4)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	got := svc.lastSettle
	if got.TenantID != 4 || got.ActorID != "cashier-7" || got.RequestID == "" {
		t.Errorf("identity not taken from context: %+v", got)
	}
	if got.CashSessionID != 3 || len(got.Items) != 1 || got.Items[0].Qty != 2 || got.DiscountTotal.String() != "1.5" {
		t.Errorf("body not decoded: %+v", got)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &core.ValidationError{Field: "items", Message: "must not be empty"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not found", core.ProductsNotFound([]int64{5, 9}), http.StatusNotFound, "NOT_FOUND"},
		{"insufficient stock", &core.InsufficientStockError{ProductID: 5, Available: 1, Requested: 3}, http.StatusConflict, "INSUFFICIENT_STOCK"},
		{"conflict", &core.ConflictError{Reason: "cash session is closed"}, http.StatusConflict, "CONFLICT"},
		{"fiscal not ready", &core.FiscalNotReadyError{TenantID: 4, Remediation: "configure a resolution"}, http.StatusConflict, "FISCAL_NOT_READY"},
		{"external", &core.ExternalSubmissionError{Message: "timeout"}, http.StatusBadGateway, "EXTERNAL_SUBMISSION_FAILED"},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, newTestServer(&fakeService{err: tt.err}), http.MethodPost, "/api/sales",
				`{"cash_session_id": 1, "items": [{"product_id": 5, "qty": 1}]}`, 4)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			resp := decodeError(t, rec)
			if resp.Code != tt.code || resp.RequestID == "" {
				t.Errorf("unexpected body: %+v", resp)
			}
			if tt.code == "INTERNAL_ERROR" && strings.Contains(resp.Error, "connection reset") {
				t.Error("internal error detail leaked to client")
			}
			if tt.code == "NOT_FOUND" && len(resp.MissingIDs) != 2 {
				t.Errorf("missing ids = %v", resp.MissingIDs)
			}
			if tt.code == "FISCAL_NOT_READY" && resp.Remediation == "" {
				t.Error("remediation missing")
			}
		})
	}
}

func TestFiscalStatus(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(svc)

	rec := doRequest(t, h, http.MethodGet, "/api/fiscal-documents/12", "", 4)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.lastTenant != 4 {
		t.Errorf("tenant = %d, want 4", svc.lastTenant)
	}
	var view core.FiscalStatusView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil || view.DocumentID != 12 {
		t.Errorf("unexpected view %+v, %v", view, err)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/fiscal-documents/abc", "", 4)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, newTestServer(&fakeService{err: &core.NotFoundError{Entity: "fiscal document"}}),
		http.MethodGet, "/api/fiscal-documents/12", "", 4)
	if rec.Code != http.StatusNotFound {
		t.Errorf("other tenant: status = %d, want 404", rec.Code)
	}
}

func TestResubmitFiscal(t *testing.T) {
	rec := doRequest(t, newTestServer(&fakeService{}), http.MethodPost, "/api/fiscal-documents/12/resubmit", "", 4)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = doRequest(t, newTestServer(&fakeService{err: &core.ConflictError{Reason: "already accepted"}}),
		http.MethodPost, "/api/fiscal-documents/12/resubmit", "", 4)
	if rec.Code != http.StatusConflict {
		t.Errorf("accepted document: status = %d, want 409", rec.Code)
	}
}

func TestListSales_BadPage(t *testing.T) {
	rec := doRequest(t, newTestServer(&fakeService{}), http.MethodGet, "/api/sales?page=0", "", 4)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
