package app

import (
	"context"

	"backoffice/internal/core"
)

// ApplicationService is the single interface the HTTP adapter and the
// command-line tools call. It holds no presentation logic.
type ApplicationService interface {
	// Settle validates and commits a sale, then schedules its fiscal document.
	Settle(ctx context.Context, req core.SettleRequest) (*SaleResult, error)

	// ConvertQuote settles a quote's items and marks the quote CONVERTED.
	ConvertQuote(ctx context.Context, req core.ConvertQuoteRequest) (*SaleResult, error)

	// ReceivePurchaseOrder books an APPROVED purchase order into stock.
	ReceivePurchaseOrder(ctx context.Context, tenantID, purchaseOrderID int64, actorID string) (*PurchaseOrderResult, error)

	GetSale(ctx context.Context, tenantID, saleID int64) (*SaleResult, error)

	// ListSales returns one page of sales, newest first. Pages are 1-based.
	ListSales(ctx context.Context, tenantID int64, page int) (*SaleListResult, error)

	// GetStockLevels returns the tenant's balance for every product.
	GetStockLevels(ctx context.Context, tenantID int64) (*StockResult, error)

	// FiscalStatus is tenant scoped: a document of another tenant is NotFound.
	FiscalStatus(ctx context.Context, tenantID, documentID int64) (*core.FiscalStatusView, error)

	FiscalEvents(ctx context.Context, tenantID, documentID int64) (*FiscalEventsResult, error)

	// ResubmitFiscal re-enqueues a document that has not been accepted.
	ResubmitFiscal(ctx context.Context, tenantID, documentID int64) error

	// VerifyAudit walks the whole audit chain.
	VerifyAudit(ctx context.Context) (*core.VerifyResult, error)

	// Health reports database reachability and, when a queue is wired, its depths.
	Health(ctx context.Context) *HealthResult
}
