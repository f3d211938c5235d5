package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"backoffice/internal/app"
	"backoffice/internal/core"

	"github.com/shopspring/decimal"
)

// fakeService implements only what the tests call; anything else panics on the nil embed.
type fakeService struct {
	app.ApplicationService
	resubmitted []int64
	audit       *core.VerifyResult
}

func (f *fakeService) GetStockLevels(_ context.Context, tenantID int64) (*app.StockResult, error) {
	return &app.StockResult{TenantID: tenantID, Balances: []core.StockBalance{
		{ProductID: 1, ProductCode: "W-1", ProductName: "Widget", QtyOnHand: 10, QtyReserved: 3},
	}}, nil
}

func (f *fakeService) GetSale(_ context.Context, tenantID, saleID int64) (*app.SaleResult, error) {
	if tenantID != 1 {
		return nil, &core.NotFoundError{Entity: "sale", IDs: []int64{saleID}}
	}
	return &app.SaleResult{Sale: &core.Sale{
		ID: saleID, InvoiceNumber: "FE-000007", GrandTotal: decimal.NewFromInt(2380),
		Items: []core.SaleItem{{LineNumber: 1, ProductName: "Widget", Qty: 1, UnitPrice: decimal.NewFromInt(2000), LineTotal: decimal.NewFromInt(2380)}},
	}}, nil
}

func (f *fakeService) ResubmitFiscal(_ context.Context, _, documentID int64) error {
	f.resubmitted = append(f.resubmitted, documentID)
	return nil
}

func (f *fakeService) VerifyAudit(context.Context) (*core.VerifyResult, error) {
	return f.audit, nil
}

func run(t *testing.T, svc app.ApplicationService, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := Run(context.Background(), svc, args, &out)
	return out.String(), err
}

func TestRun_Stock(t *testing.T) {
	out, err := run(t, &fakeService{}, "stock", "1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out, "Widget") || !strings.Contains(out, "7") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestRun_Sale(t *testing.T) {
	out, err := run(t, &fakeService{}, "sale", "1", "5")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out, "FE-000007") || !strings.Contains(out, "2380.00") {
		t.Errorf("unexpected output:\n%s", out)
	}

	if _, err := run(t, &fakeService{}, "sale", "2", "5"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRun_Resubmit(t *testing.T) {
	svc := &fakeService{}
	if _, err := run(t, svc, "resubmit", "1", "42"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(svc.resubmitted) != 1 || svc.resubmitted[0] != 42 {
		t.Errorf("resubmitted = %v", svc.resubmitted)
	}
}

func TestRun_VerifyAuditFailsOnBrokenChain(t *testing.T) {
	broken := int64(3)
	svc := &fakeService{audit: &core.VerifyResult{Valid: false, TotalChecked: 3, BrokenAt: &broken, Errors: []string{"hash mismatch"}}}
	out, err := run(t, svc, "verify-audit")
	if !errors.Is(err, core.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
	if !strings.Contains(out, `"broken_at": 3`) {
		t.Errorf("report not printed:\n%s", out)
	}

	svc.audit = &core.VerifyResult{Valid: true, TotalChecked: 3}
	if _, err := run(t, svc, "verify-audit"); err != nil {
		t.Errorf("valid chain: %v", err)
	}
}

func TestRun_Usage(t *testing.T) {
	cases := [][]string{
		nil,
		{"nope"},
		{"stock"},
		{"stock", "abc"},
		{"sale", "1"},
		{"sales", "1", "0"},
		{"resubmit", "1", "-4"},
	}
	for _, args := range cases {
		if _, err := run(t, &fakeService{}, args...); !errors.Is(err, ErrUsage) {
			t.Errorf("Run(%q): expected ErrUsage, got %v", args, err)
		}
	}
}
