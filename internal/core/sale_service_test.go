package core

import (
	"context"
	"sync"
	"testing"

	"backoffice/internal/logging"
)

// ctxEnqueuer fails the way a network client does once its context is done.
type ctxEnqueuer struct {
	mu  sync.Mutex
	ids []int64
}

func (e *ctxEnqueuer) EnqueueFiscal(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, id)
	return nil
}

type ctxAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *ctxAudit) Append(ctx context.Context, ev AuditEvent) {
	if ctx.Err() != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, ev.Action)
}

func (a *ctxAudit) VerifyChain(context.Context) (*VerifyResult, error) {
	return &VerifyResult{Valid: true}, nil
}

type ctxCache struct{ invalidated int }

func (c *ctxCache) GetPage(context.Context, string, int64, int, any) (bool, error) { return false, nil }
func (c *ctxCache) SetPage(context.Context, string, int64, int, any) error        { return nil }
func (c *ctxCache) Invalidate(ctx context.Context, _ string, _ int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.invalidated++
	return nil
}

func TestAfterSettle_SurvivesCancelledRequest(t *testing.T) {
	enq := &ctxEnqueuer{}
	audit := &ctxAudit{}
	cache := &ctxCache{}
	s := &saleService{
		cfg:    SaleServiceConfig{Enqueuer: enq, Audit: audit, Cache: cache},
		logger: logging.Discard(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sale := &Sale{ID: 7, TenantID: 1, InvoiceID: 3, FiscalDocumentID: 9, InvoiceNumber: "FE-000001"}
	s.afterSettle(ctx, SettleRequest{TenantID: 1, RequestID: "req-1"}, sale)

	if len(enq.ids) != 1 || enq.ids[0] != 9 {
		t.Errorf("fiscal document 9 was not enqueued after commit: %v", enq.ids)
	}
	if len(audit.actions) != 1 || audit.actions[0] != "SETTLED" {
		t.Errorf("audit actions = %v, want [SETTLED]", audit.actions)
	}
	if cache.invalidated != 1 {
		t.Errorf("cache invalidations = %d, want 1", cache.invalidated)
	}
}

func TestDetached_KeepsValuesDropsCancel(t *testing.T) {
	type key struct{}
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "v"))
	cancel()

	ctx, done := detached(parent)
	defer done()
	if ctx.Err() != nil {
		t.Fatalf("detached context inherited cancellation: %v", ctx.Err())
	}
	if ctx.Value(key{}) != "v" {
		t.Error("detached context lost request values")
	}
	if _, ok := ctx.Deadline(); !ok {
		t.Error("detached context should be bounded by a deadline")
	}
}
