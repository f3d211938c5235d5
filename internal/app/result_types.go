package app

import (
	"backoffice/internal/core"
	"backoffice/internal/queue"
)

// SaleResult is returned by settlement and sale lookups.
type SaleResult struct {
	Sale *core.Sale `json:"sale"`
}

// SaleListResult is returned by ListSales.
type SaleListResult struct {
	TenantID int64       `json:"tenant_id"`
	Page     int         `json:"page"`
	Sales    []core.Sale `json:"sales"`
}

// PurchaseOrderResult is returned by ReceivePurchaseOrder.
type PurchaseOrderResult struct {
	PurchaseOrder *core.PurchaseOrder `json:"purchase_order"`
}

// StockResult is returned by GetStockLevels.
type StockResult struct {
	TenantID int64               `json:"tenant_id"`
	Balances []core.StockBalance `json:"balances"`
}

// FiscalEventsResult is returned by FiscalEvents.
type FiscalEventsResult struct {
	DocumentID int64              `json:"fiscal_document_id"`
	Events     []core.FiscalEvent `json:"events"`
}

// HealthResult is returned by Health.
type HealthResult struct {
	Status   string       `json:"status"`
	Database string       `json:"database"`
	Queue    *queue.Stats `json:"queue,omitempty"`
}
