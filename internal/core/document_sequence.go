package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const invoiceSequence = "INVOICE"

// FiscalReadiness is the tenant-level gate checked before a sale is settled.
// It returns *FiscalNotReadyError when the tenant cannot invoice.
type FiscalReadiness interface {
	CheckReady(ctx context.Context, tenantID int64) error
}

type fiscalReadiness struct {
	pool *pgxpool.Pool
}

// NewFiscalReadiness checks tenant_fiscal_settings: the row must exist, be
// active, carry a resolution number and still have numbers left in its range.
func NewFiscalReadiness(pool *pgxpool.Pool) FiscalReadiness {
	return &fiscalReadiness{pool: pool}
}

func (r *fiscalReadiness) CheckReady(ctx context.Context, tenantID int64) error {
	var active bool
	var resolution string
	var rangeTo, next int64
	err := r.pool.QueryRow(ctx, `
		SELECT fs.active, fs.resolution_number, fs.range_to,
		       COALESCE(ds.last_number + 1, fs.range_from)
		FROM tenant_fiscal_settings fs
		LEFT JOIN document_sequences ds
		       ON ds.tenant_id = fs.tenant_id AND ds.sequence_name = $2
		WHERE fs.tenant_id = $1
	`, tenantID, invoiceSequence).Scan(&active, &resolution, &rangeTo, &next)
	if errors.Is(err, pgx.ErrNoRows) {
		return &FiscalNotReadyError{TenantID: tenantID, Remediation: "configure fiscal settings (invoice prefix and numbering resolution) before selling"}
	}
	if err != nil {
		return fmt.Errorf("failed to read fiscal settings: %w", err)
	}

	switch {
	case !active:
		return &FiscalNotReadyError{TenantID: tenantID, Remediation: "fiscal settings are disabled; re-activate them to resume invoicing"}
	case resolution == "":
		return &FiscalNotReadyError{TenantID: tenantID, Remediation: "register the numbering resolution issued by the tax authority"}
	case next > rangeTo:
		return &FiscalNotReadyError{TenantID: tenantID, Remediation: fmt.Sprintf("invoice range exhausted at %d; request a new numbering resolution", rangeTo)}
	}
	return nil
}

// nextInvoiceNumberTx allocates the next gapless invoice number for the tenant
// inside the caller's transaction. A rolled-back sale releases its number.
func nextInvoiceNumberTx(ctx context.Context, tx pgx.Tx, tenantID int64) (string, error) {
	var prefix string
	var rangeFrom, rangeTo int64
	err := tx.QueryRow(ctx, `
		SELECT invoice_prefix, range_from, range_to
		FROM tenant_fiscal_settings
		WHERE tenant_id = $1 AND active = true
	`, tenantID).Scan(&prefix, &rangeFrom, &rangeTo)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", &FiscalNotReadyError{TenantID: tenantID, Remediation: "configure fiscal settings before selling"}
	}
	if err != nil {
		return "", fmt.Errorf("failed to read invoice prefix: %w", err)
	}

	// Concurrency-safe gapless sequence generation
	var number int64
	err = tx.QueryRow(ctx, `
		INSERT INTO document_sequences (tenant_id, sequence_name, last_number)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, sequence_name)
		DO UPDATE SET last_number = document_sequences.last_number + 1
		RETURNING last_number
	`, tenantID, invoiceSequence, rangeFrom).Scan(&number)
	if err != nil {
		return "", fmt.Errorf("failed to generate gapless sequence number: %w", err)
	}
	if number > rangeTo {
		return "", &FiscalNotReadyError{TenantID: tenantID, Remediation: fmt.Sprintf("invoice range exhausted at %d; request a new numbering resolution", rangeTo)}
	}

	return FormatInvoiceNumber(prefix, number), nil
}

// FormatInvoiceNumber renders <prefix>-<6 digit sequence>.
func FormatInvoiceNumber(prefix string, n int64) string {
	return fmt.Sprintf("%s-%06d", prefix, n)
}
