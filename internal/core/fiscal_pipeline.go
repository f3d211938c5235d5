package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"backoffice/internal/logging"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type FiscalEventType string

const (
	FiscalEventSent     FiscalEventType = "SENT"
	FiscalEventAccepted FiscalEventType = "ACCEPTED"
	FiscalEventRejected FiscalEventType = "REJECTED"
	FiscalEventError    FiscalEventType = "ERROR"
)

// FiscalDocument is the electronic invoice record driven by FiscalPipeline.
type FiscalDocument struct {
	ID               int64        `json:"id"`
	TenantID         int64        `json:"tenant_id"`
	InvoiceID        int64        `json:"invoice_id"`
	DocType          string       `json:"doc_type"`
	Status           FiscalStatus `json:"status"`
	ReferenceCode    *string      `json:"reference_code,omitempty"`
	SignedPayloadRef *string      `json:"signed_payload_ref,omitempty"`
	LastError        *string      `json:"last_error,omitempty"`
	SentAt           *time.Time   `json:"sent_at,omitempty"`
	Attempts         int          `json:"attempts"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// FiscalEvent is one immutable row of a document's local trail.
type FiscalEvent struct {
	ID            int64           `json:"id"`
	DocumentID    int64           `json:"fiscal_document_id"`
	Type          FiscalEventType `json:"event_type"`
	Message       string          `json:"message"`
	ReferenceCode *string         `json:"reference_code,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// FiscalStatusView is the tenant-facing answer of a status query.
type FiscalStatusView struct {
	DocumentID    int64        `json:"fiscal_document_id"`
	Status        FiscalStatus `json:"status"`
	ReferenceCode *string      `json:"reference_code,omitempty"`
	SentAt        *time.Time   `json:"sent_at,omitempty"`
	LastError     *string      `json:"last_error,omitempty"`
	Attempts      int          `json:"attempts"`
}

// FiscalInvoice is the invoice and sale context a fiscal document is built from.
type FiscalInvoice struct {
	TenantID      int64
	TenantName    string
	InvoiceID     int64
	SaleID        int64
	Number        string
	IssuedAt      time.Time
	CustomerName  string
	CustomerTaxID string
	PaymentMethod string
	Subtotal      decimal.Decimal
	TaxTotal      decimal.Decimal
	DiscountTotal decimal.Decimal
	GrandTotal    decimal.Decimal
	Lines         []SaleItem
}

// AuthorityReceipt is what the fiscal authority returns on acceptance.
type AuthorityReceipt struct {
	ReferenceCode string
	AcceptedAt    time.Time
}

// FiscalStore persists documents and their events. Every Mark* call is a
// conditional update on the expected current status.
type FiscalStore interface {
	Load(ctx context.Context, documentID int64) (*FiscalDocument, *FiscalInvoice, error)
	MarkSent(ctx context.Context, documentID int64, from FiscalStatus) error
	MarkAccepted(ctx context.Context, documentID int64, referenceCode, payloadRef string, sentAt time.Time) error
	MarkRejected(ctx context.Context, documentID int64, lastError, payloadRef string) error
	AppendEvent(ctx context.Context, ev FiscalEvent) error
	Get(ctx context.Context, tenantID, documentID int64) (*FiscalDocument, error)
	Events(ctx context.Context, tenantID, documentID int64) ([]FiscalEvent, error)
}

// DocumentRenderer produces the byte-stable canonical payload and the printable receipt.
type DocumentRenderer interface {
	Canonical(inv *FiscalInvoice) ([]byte, error)
	Receipt(inv *FiscalInvoice, referenceCode string) ([]byte, error)
}

// DocumentSigner signs a canonical payload with the tenant's credential.
// signed is false when the tenant has no credential configured.
type DocumentSigner interface {
	Sign(ctx context.Context, tenantID int64, payload []byte) (out []byte, signed bool, err error)
}

// FiscalAuthority submits a payload. A rejection is an *ExternalSubmissionError with Rejected set.
type FiscalAuthority interface {
	Submit(ctx context.Context, inv *FiscalInvoice, payload []byte) (*AuthorityReceipt, error)
}

// ArtifactStore keeps signed payloads and receipts. It returns a reference to the stored object.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// FiscalOutcome is published after every accepted or rejected attempt.
type FiscalOutcome struct {
	DocumentID    int64        `json:"fiscal_document_id"`
	TenantID      int64        `json:"tenant_id"`
	InvoiceNumber string       `json:"invoice_number"`
	Status        FiscalStatus `json:"status"`
	ReferenceCode string       `json:"reference_code,omitempty"`
	Error         string       `json:"error,omitempty"`
	At            time.Time    `json:"at"`
}

type FiscalNotifier interface {
	FiscalOutcome(ctx context.Context, out FiscalOutcome) error
}

// FiscalPipeline drives a fiscal document DRAFT → SENT → ACCEPTED | REJECTED.
// It is invoked at-least-once per document by the queue worker.
type FiscalPipeline interface {
	// Process builds, signs and submits the document. An ACCEPTED document is a
	// no-op. Errors other than NotFound/Conflict are meant to be retried.
	Process(ctx context.Context, documentID int64) error
	Status(ctx context.Context, tenantID, documentID int64) (*FiscalStatusView, error)
	Events(ctx context.Context, tenantID, documentID int64) ([]FiscalEvent, error)
	// Resubmit re-enqueues a document that has not been accepted yet.
	Resubmit(ctx context.Context, tenantID, documentID int64) error
}

type FiscalPipelineConfig struct {
	Renderer  DocumentRenderer
	Signer    DocumentSigner
	Authority FiscalAuthority
	Artifacts ArtifactStore
	Notifier  FiscalNotifier
	Audit     AuditChain
	Enqueuer  FiscalEnqueuer
	Logger    *logrus.Logger
	Now       func() time.Time
}

type fiscalPipeline struct {
	store  FiscalStore
	cfg    FiscalPipelineConfig
	logger *logrus.Logger
}

func NewFiscalPipeline(store FiscalStore, cfg FiscalPipelineConfig) FiscalPipeline {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &fiscalPipeline{store: store, cfg: cfg, logger: logger}
}

func (p *fiscalPipeline) Process(ctx context.Context, documentID int64) error {
	doc, inv, err := p.store.Load(ctx, documentID)
	if err != nil {
		return err
	}
	log := p.logger.WithFields(logrus.Fields{
		"module":             "FiscalPipeline",
		"fiscal_document_id": doc.ID,
		"tenant_id":          doc.TenantID,
		"invoice":            inv.Number,
	})

	if doc.Status == FiscalAccepted {
		log.Debug("document already accepted, nothing to do")
		return nil
	}

	if err := FiscalTransitions.Check("fiscal document", doc.Status, FiscalSent); err != nil {
		return err
	}
	if err := p.store.MarkSent(ctx, doc.ID, doc.Status); err != nil {
		return err
	}
	p.audit(ctx, doc, string(doc.Status)+"->"+string(FiscalSent), nil)

	payload, err := p.cfg.Renderer.Canonical(inv)
	if err != nil {
		return p.fail(ctx, log, doc, inv, "", fmt.Errorf("failed to build canonical document: %w", err))
	}

	signed, ok, err := p.cfg.Signer.Sign(ctx, doc.TenantID, payload)
	if err != nil {
		return p.fail(ctx, log, doc, inv, "", fmt.Errorf("failed to sign document: %w", err))
	}
	if !ok {
		log.Warn("no signing credential configured, submitting unsigned document")
	}

	payloadRef := p.storeArtifact(ctx, log, fmt.Sprintf("fiscal/%d/%s.xml", doc.TenantID, inv.Number), signed, "application/xml")

	if err := p.store.AppendEvent(ctx, FiscalEvent{
		DocumentID: doc.ID,
		Type:       FiscalEventSent,
		Message:    fmt.Sprintf("submitted %d bytes (signed=%t, attempt=%d)", len(signed), ok, doc.Attempts+1),
	}); err != nil {
		return err
	}

	receipt, err := p.cfg.Authority.Submit(ctx, inv, signed)
	if err != nil {
		return p.fail(ctx, log, doc, inv, payloadRef, err)
	}

	sentAt := receipt.AcceptedAt
	if sentAt.IsZero() {
		sentAt = p.cfg.Now()
	}
	if err := p.store.MarkAccepted(ctx, doc.ID, receipt.ReferenceCode, payloadRef, sentAt); err != nil {
		return err
	}
	ref := receipt.ReferenceCode
	if err := p.store.AppendEvent(ctx, FiscalEvent{
		DocumentID:    doc.ID,
		Type:          FiscalEventAccepted,
		Message:       "accepted by fiscal authority",
		ReferenceCode: &ref,
	}); err != nil {
		return err
	}

	if rec, err := p.cfg.Renderer.Receipt(inv, ref); err != nil {
		logging.LogError(p.logger, "FiscalPipeline", "Process", "failed to render receipt",
			map[string]any{"fiscal_document_id": doc.ID}, err)
	} else {
		p.storeArtifact(ctx, log, fmt.Sprintf("receipts/%d/%s.txt", doc.TenantID, inv.Number), rec, "text/plain; charset=utf-8")
	}

	p.audit(ctx, doc, string(FiscalSent)+"->"+string(FiscalAccepted), map[string]any{"reference_code": ref})
	p.notify(ctx, FiscalOutcome{
		DocumentID:    doc.ID,
		TenantID:      doc.TenantID,
		InvoiceNumber: inv.Number,
		Status:        FiscalAccepted,
		ReferenceCode: ref,
		At:            sentAt,
	})
	log.WithField("reference_code", ref).Info("fiscal document accepted")
	return nil
}

// fail records the rejection and returns an error the queue layer will retry.
func (p *fiscalPipeline) fail(ctx context.Context, log *logrus.Entry, doc *FiscalDocument, inv *FiscalInvoice, payloadRef string, cause error) error {
	var subErr *ExternalSubmissionError
	if !errors.As(cause, &subErr) {
		subErr = &ExternalSubmissionError{Message: "document could not be submitted", Err: cause}
	}
	evType := FiscalEventError
	if subErr.Rejected {
		evType = FiscalEventRejected
	}
	msg := subErr.Error()

	if err := p.store.MarkRejected(ctx, doc.ID, msg, payloadRef); err != nil {
		return fmt.Errorf("failed to record rejection (%v): %w", msg, err)
	}
	if err := p.store.AppendEvent(ctx, FiscalEvent{DocumentID: doc.ID, Type: evType, Message: msg}); err != nil {
		return fmt.Errorf("failed to record %s event (%v): %w", evType, msg, err)
	}

	p.audit(ctx, doc, string(FiscalSent)+"->"+string(FiscalRejected), map[string]any{"error": msg})
	p.notify(ctx, FiscalOutcome{
		DocumentID:    doc.ID,
		TenantID:      doc.TenantID,
		InvoiceNumber: inv.Number,
		Status:        FiscalRejected,
		Error:         msg,
		At:            p.cfg.Now(),
	})
	log.WithField("event", evType).Warn(msg)
	return subErr
}

func (p *fiscalPipeline) storeArtifact(ctx context.Context, log *logrus.Entry, key string, data []byte, contentType string) string {
	if p.cfg.Artifacts == nil {
		return ""
	}
	ref, err := p.cfg.Artifacts.Put(ctx, key, data, contentType)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("failed to store artifact")
		return ""
	}
	return ref
}

func (p *fiscalPipeline) audit(ctx context.Context, doc *FiscalDocument, transition string, extra map[string]any) {
	if p.cfg.Audit == nil {
		return
	}
	payload := map[string]any{
		"fiscal_document_id": doc.ID,
		"invoice_id":         doc.InvoiceID,
		"transition":         transition,
	}
	for k, v := range extra {
		payload[k] = v
	}
	tenantID := doc.TenantID
	p.cfg.Audit.Append(ctx, AuditEvent{
		TenantID: &tenantID,
		Entity:   "fiscal_document",
		EntityID: strconv.FormatInt(doc.ID, 10),
		Action:   transition,
		ActorID:  "fiscal-worker",
		Payload:  payload,
	})
}

func (p *fiscalPipeline) notify(ctx context.Context, out FiscalOutcome) {
	if p.cfg.Notifier == nil {
		return
	}
	if err := p.cfg.Notifier.FiscalOutcome(ctx, out); err != nil {
		logging.LogError(p.logger, "FiscalPipeline", "notify", "failed to publish fiscal outcome",
			map[string]any{"fiscal_document_id": out.DocumentID, "status": out.Status}, err)
	}
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (p *fiscalPipeline) Status(ctx context.Context, tenantID, documentID int64) (*FiscalStatusView, error) {
	doc, err := p.store.Get(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}
	return &FiscalStatusView{
		DocumentID:    doc.ID,
		Status:        doc.Status,
		ReferenceCode: doc.ReferenceCode,
		SentAt:        doc.SentAt,
		LastError:     doc.LastError,
		Attempts:      doc.Attempts,
	}, nil
}

func (p *fiscalPipeline) Events(ctx context.Context, tenantID, documentID int64) ([]FiscalEvent, error) {
	return p.store.Events(ctx, tenantID, documentID)
}

func (p *fiscalPipeline) Resubmit(ctx context.Context, tenantID, documentID int64) error {
	doc, err := p.store.Get(ctx, tenantID, documentID)
	if err != nil {
		return err
	}
	if doc.Status == FiscalAccepted {
		return &ConflictError{Reason: fmt.Sprintf("fiscal document %d is already accepted", documentID)}
	}
	if p.cfg.Enqueuer == nil {
		return fmt.Errorf("no fiscal queue configured")
	}
	if err := p.cfg.Enqueuer.EnqueueFiscal(ctx, doc.ID); err != nil {
		return fmt.Errorf("failed to enqueue fiscal document %d: %w", doc.ID, err)
	}
	return nil
}
