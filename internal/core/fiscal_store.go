package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgFiscalStore struct {
	pool *pgxpool.Pool
}

func NewPgFiscalStore(pool *pgxpool.Pool) FiscalStore {
	return &pgFiscalStore{pool: pool}
}

const fiscalDocumentColumns = `
	fd.id, fd.tenant_id, fd.invoice_id, fd.doc_type, fd.status, fd.cufe, fd.signed_payload_ref,
	fd.last_error, fd.sent_at, fd.attempts, fd.updated_at`

func scanFiscalDocument(row pgx.Row, doc *FiscalDocument) error {
	var status string
	if err := row.Scan(&doc.ID, &doc.TenantID, &doc.InvoiceID, &doc.DocType, &status, &doc.ReferenceCode,
		&doc.SignedPayloadRef, &doc.LastError, &doc.SentAt, &doc.Attempts, &doc.UpdatedAt); err != nil {
		return err
	}
	doc.Status = FiscalStatus(status)
	return nil
}

func (s *pgFiscalStore) Load(ctx context.Context, documentID int64) (*FiscalDocument, *FiscalInvoice, error) {
	var doc FiscalDocument
	if err := scanFiscalDocument(s.pool.QueryRow(ctx,
		"SELECT"+fiscalDocumentColumns+" FROM fiscal_documents fd WHERE fd.id = $1", documentID,
	), &doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, &NotFoundError{Entity: "fiscal document", IDs: []int64{documentID}}
		}
		return nil, nil, fmt.Errorf("failed to load fiscal document: %w", err)
	}

	var inv FiscalInvoice
	err := s.pool.QueryRow(ctx, `
		SELECT t.id, t.name, i.id, s.id, i.number, i.issued_at,
		       COALESCE(c.name, ''), COALESCE(c.tax_id, ''), s.payment_method,
		       i.subtotal, i.tax_total, i.discount_total, i.grand_total
		FROM invoices i
		JOIN sales s        ON s.id = i.sale_id
		JOIN tenants t      ON t.id = i.tenant_id
		LEFT JOIN customers c ON c.id = s.customer_id
		WHERE i.id = $1
	`, doc.InvoiceID).Scan(&inv.TenantID, &inv.TenantName, &inv.InvoiceID, &inv.SaleID, &inv.Number, &inv.IssuedAt,
		&inv.CustomerName, &inv.CustomerTaxID, &inv.PaymentMethod,
		&inv.Subtotal, &inv.TaxTotal, &inv.DiscountTotal, &inv.GrandTotal)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, &NotFoundError{Entity: "invoice", IDs: []int64{doc.InvoiceID}}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load invoice for fiscal document %d: %w", documentID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT si.line_number, si.product_id, p.name, si.qty, si.unit_price, si.tax_rate,
		       si.line_subtotal, si.line_tax, si.line_total
		FROM sale_items si
		JOIN products p ON p.id = si.product_id
		WHERE si.sale_id = $1
		ORDER BY si.line_number
	`, inv.SaleID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query invoice lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it SaleItem
		if err := rows.Scan(&it.LineNumber, &it.ProductID, &it.ProductName, &it.Qty, &it.UnitPrice, &it.TaxRate,
			&it.LineSubtotal, &it.LineTax, &it.LineTotal); err != nil {
			return nil, nil, fmt.Errorf("failed to scan invoice line: %w", err)
		}
		inv.Lines = append(inv.Lines, it)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating invoice lines: %w", err)
	}
	return &doc, &inv, nil
}

func (s *pgFiscalStore) MarkSent(ctx context.Context, documentID int64, from FiscalStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE fiscal_documents
		SET status = $1, attempts = attempts + 1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, string(FiscalSent), documentID, string(from))
	if err != nil {
		return fmt.Errorf("failed to mark fiscal document %d sent: %w", documentID, err)
	}
	if tag.RowsAffected() == 0 {
		return &ConflictError{Reason: fmt.Sprintf("fiscal document %d is no longer %s", documentID, from)}
	}
	return nil
}

func (s *pgFiscalStore) MarkAccepted(ctx context.Context, documentID int64, referenceCode, payloadRef string, sentAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE fiscal_documents
		SET status = $1, cufe = $2, signed_payload_ref = NULLIF($3, ''), sent_at = $4,
		    last_error = NULL, updated_at = NOW()
		WHERE id = $5 AND status = $6
	`, string(FiscalAccepted), referenceCode, payloadRef, sentAt, documentID, string(FiscalSent))
	if err != nil {
		return fmt.Errorf("failed to mark fiscal document %d accepted: %w", documentID, err)
	}
	if tag.RowsAffected() == 0 {
		return &ConflictError{Reason: fmt.Sprintf("fiscal document %d is no longer %s", documentID, FiscalSent)}
	}
	return nil
}

func (s *pgFiscalStore) MarkRejected(ctx context.Context, documentID int64, lastError, payloadRef string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE fiscal_documents
		SET status = $1, last_error = $2,
		    signed_payload_ref = COALESCE(NULLIF($3, ''), signed_payload_ref), updated_at = NOW()
		WHERE id = $4 AND status = $5
	`, string(FiscalRejected), lastError, payloadRef, documentID, string(FiscalSent))
	if err != nil {
		return fmt.Errorf("failed to mark fiscal document %d rejected: %w", documentID, err)
	}
	if tag.RowsAffected() == 0 {
		return &ConflictError{Reason: fmt.Sprintf("fiscal document %d is no longer %s", documentID, FiscalSent)}
	}
	return nil
}

func (s *pgFiscalStore) AppendEvent(ctx context.Context, ev FiscalEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fiscal_events (fiscal_document_id, event_type, message, reference_code)
		VALUES ($1, $2, $3, $4)
	`, ev.DocumentID, string(ev.Type), ev.Message, ev.ReferenceCode)
	if err != nil {
		return fmt.Errorf("failed to append fiscal event: %w", err)
	}
	return nil
}

// Get is tenant scoped: a document owned by another tenant reads as not found.
func (s *pgFiscalStore) Get(ctx context.Context, tenantID, documentID int64) (*FiscalDocument, error) {
	var doc FiscalDocument
	err := scanFiscalDocument(s.pool.QueryRow(ctx,
		"SELECT"+fiscalDocumentColumns+" FROM fiscal_documents fd WHERE fd.id = $1 AND fd.tenant_id = $2",
		documentID, tenantID,
	), &doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "fiscal document", IDs: []int64{documentID}}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load fiscal document: %w", err)
	}
	return &doc, nil
}

func (s *pgFiscalStore) Events(ctx context.Context, tenantID, documentID int64) ([]FiscalEvent, error) {
	if _, err := s.Get(ctx, tenantID, documentID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, fiscal_document_id, event_type, message, reference_code, created_at
		FROM fiscal_events
		WHERE fiscal_document_id = $1
		ORDER BY id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fiscal events: %w", err)
	}
	defer rows.Close()

	events := []FiscalEvent{}
	for rows.Next() {
		var ev FiscalEvent
		var evType string
		if err := rows.Scan(&ev.ID, &ev.DocumentID, &evType, &ev.Message, &ev.ReferenceCode, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fiscal event: %w", err)
		}
		ev.Type = FiscalEventType(evType)
		events = append(events, ev)
	}
	return events, rows.Err()
}
