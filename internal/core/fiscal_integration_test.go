package core_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"backoffice/internal/artifact"
	"backoffice/internal/core"
	"backoffice/internal/db"
	"backoffice/internal/fiscal"
	"backoffice/internal/keyvault"
)

type recordingNotifier struct {
	mu       sync.Mutex
	outcomes []core.FiscalOutcome
}

func (n *recordingNotifier) FiscalOutcome(_ context.Context, out core.FiscalOutcome) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, out)
	return nil
}

type fiscalHarness struct {
	services
	pipeline  core.FiscalPipeline
	authority *fiscal.StubAuthority
	notifier  *recordingNotifier
}

func (f *fixture) fiscalHarness(t *testing.T) fiscalHarness {
	t.Helper()
	svc := f.services(db.DefaultTxOptions)
	store, err := artifact.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	h := fiscalHarness{services: svc, authority: fiscal.NewStubAuthority(2), notifier: &recordingNotifier{}}
	h.pipeline = core.NewFiscalPipeline(core.NewPgFiscalStore(f.pool), core.FiscalPipelineConfig{
		Renderer:  fiscal.NewRenderer(2),
		Signer:    fiscal.NewCredentialSigner(keyvault.NewPgCredentialRepo(f.pool), nil),
		Authority: h.authority,
		Artifacts: store,
		Notifier:  h.notifier,
		Audit:     svc.audit,
		Enqueuer:  svc.enqueuer,
	})
	return h
}

func (f *fixture) settleOne(t *testing.T, sales core.SaleService) *core.Sale {
	t.Helper()
	f.setStock(t, f.widgetID, 10)
	sale, err := sales.Settle(context.Background(), f.saleRequest(core.SaleItemInput{ProductID: f.widgetID, Qty: 1}))
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	return sale
}

func TestFiscalPipeline_AcceptsAndIsIdempotent(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()
	h := f.fiscalHarness(t)
	sale := f.settleOne(t, h.sales)
	docID := sale.FiscalDocumentID

	if err := h.pipeline.Process(ctx, docID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	view, err := h.pipeline.Status(ctx, f.tenantID, docID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if view.Status != core.FiscalAccepted {
		t.Fatalf("status = %s, want ACCEPTED", view.Status)
	}
	if view.ReferenceCode == nil || len(*view.ReferenceCode) != 96 || view.SentAt == nil {
		t.Errorf("accepted document missing reference code or sent_at: %+v", view)
	}
	if view.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", view.Attempts)
	}

	var payloadRef string
	if err := f.pool.QueryRow(ctx, "SELECT signed_payload_ref FROM fiscal_documents WHERE id = $1", docID).Scan(&payloadRef); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(payloadRef); err != nil {
		t.Errorf("signed payload artifact not written: %v", err)
	}

	events, err := h.pipeline.Events(ctx, f.tenantID, docID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 || events[0].Type != core.FiscalEventSent || events[1].Type != core.FiscalEventAccepted {
		t.Fatalf("unexpected events: %+v", events)
	}

	// A redelivered job finds the document accepted and writes nothing.
	if err := h.pipeline.Process(ctx, docID); err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if n := f.count(t, "fiscal_events"); n != 2 {
		t.Errorf("fiscal_events = %d after reprocessing, want 2", n)
	}
	if h.authority.Submissions() != 1 {
		t.Errorf("authority received %d submissions, want 1", h.authority.Submissions())
	}

	if err := h.pipeline.Resubmit(ctx, f.tenantID, docID); !errors.Is(err, core.ErrConflict) {
		t.Errorf("Resubmit of accepted document: expected ErrConflict, got %v", err)
	}

	if len(h.notifier.outcomes) != 1 || h.notifier.outcomes[0].Status != core.FiscalAccepted {
		t.Errorf("unexpected outcomes: %+v", h.notifier.outcomes)
	}

	res, err := h.audit.VerifyChain(ctx)
	if err != nil || !res.Valid {
		t.Fatalf("audit chain invalid: %+v, %v", res, err)
	}
	// SETTLED, DRAFT->SENT, SENT->ACCEPTED
	if res.TotalChecked != 3 {
		t.Errorf("audit entries = %d, want 3", res.TotalChecked)
	}
}

func TestFiscalPipeline_StatusIsTenantScopedInDB(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()
	h := f.fiscalHarness(t)
	sale := f.settleOne(t, h.sales)

	if _, err := h.pipeline.Status(ctx, f.otherTenantID, sale.FiscalDocumentID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Status from another tenant: expected ErrNotFound, got %v", err)
	}
	if _, err := h.pipeline.Events(ctx, f.otherTenantID, sale.FiscalDocumentID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Events from another tenant: expected ErrNotFound, got %v", err)
	}
	if err := h.pipeline.Resubmit(ctx, f.otherTenantID, sale.FiscalDocumentID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Resubmit from another tenant: expected ErrNotFound, got %v", err)
	}

	view, err := h.pipeline.Status(ctx, f.tenantID, sale.FiscalDocumentID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if view.Status != core.FiscalDraft || view.Attempts != 0 {
		t.Errorf("unexpected status before processing: %+v", view)
	}
}

func TestFiscalPipeline_RejectionThenRetry(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()
	h := f.fiscalHarness(t)
	h.authority.RejectFirst = 1
	h.authority.RejectReason = "schema validation failed"
	sale := f.settleOne(t, h.sales)
	docID := sale.FiscalDocumentID

	err := h.pipeline.Process(ctx, docID)
	var subErr *core.ExternalSubmissionError
	if !errors.As(err, &subErr) || !subErr.Rejected {
		t.Fatalf("expected rejected ExternalSubmissionError, got %v", err)
	}
	if !core.IsRetriable(err) {
		t.Error("a rejection should be retriable")
	}

	view, err := h.pipeline.Status(ctx, f.tenantID, docID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != core.FiscalRejected || view.LastError == nil {
		t.Fatalf("unexpected status after rejection: %+v", view)
	}

	if err := h.pipeline.Resubmit(ctx, f.tenantID, docID); err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
	if ids := h.enqueuer.enqueued(); len(ids) != 2 || ids[1] != docID {
		t.Errorf("enqueued = %v, want the document re-enqueued", ids)
	}

	if err := h.pipeline.Process(ctx, docID); err != nil {
		t.Fatalf("retry Process: %v", err)
	}
	view, err = h.pipeline.Status(ctx, f.tenantID, docID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != core.FiscalAccepted || view.Attempts != 2 || view.LastError != nil {
		t.Errorf("unexpected status after retry: %+v", view)
	}

	events, err := h.pipeline.Events(ctx, f.tenantID, docID)
	if err != nil {
		t.Fatal(err)
	}
	want := []core.FiscalEventType{core.FiscalEventSent, core.FiscalEventRejected, core.FiscalEventSent, core.FiscalEventAccepted}
	if len(events) != len(want) {
		t.Fatalf("events = %+v", events)
	}
	for i, w := range want {
		if events[i].Type != w {
			t.Errorf("event %d = %s, want %s", i, events[i].Type, w)
		}
	}
}

func TestFiscalPipeline_UnknownDocument(t *testing.T) {
	f := setupTestDB(t)
	h := f.fiscalHarness(t)

	err := h.pipeline.Process(context.Background(), 424242)
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if core.IsRetriable(err) {
		t.Error("a missing document must not be retried")
	}
}

func TestFiscalEvents_AppendOnly(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()
	h := f.fiscalHarness(t)
	sale := f.settleOne(t, h.sales)
	if err := h.pipeline.Process(ctx, sale.FiscalDocumentID); err != nil {
		t.Fatal(err)
	}

	if _, err := f.pool.Exec(ctx, "UPDATE fiscal_events SET message = 'edited'"); err == nil {
		t.Error("expected UPDATE on fiscal_events to fail")
	}
	if _, err := f.pool.Exec(ctx, "DELETE FROM fiscal_events"); err == nil {
		t.Error("expected DELETE on fiscal_events to fail")
	}
}
