package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type SaleStatus string

// SaleStatusPaid is the only status settlement produces.
const SaleStatusPaid SaleStatus = "PAID"

type InvoiceStatus string

const InvoiceStatusIssued InvoiceStatus = "ISSUED"

type MovementType string

const (
	MovementIn  MovementType = "IN"
	MovementOut MovementType = "OUT"
)

// Product is a catalog entry scoped to a tenant.
type Product struct {
	ID        int64           `json:"id"`
	TenantID  int64           `json:"tenant_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	TaxRate   decimal.Decimal `json:"tax_rate"` // percent, e.g. 19
	IsActive  bool            `json:"is_active"`
}

type Customer struct {
	ID       int64  `json:"id"`
	TenantID int64  `json:"tenant_id"`
	Name     string `json:"name"`
	TaxID    string `json:"tax_id"`
	Email    string `json:"email"`
}

// CashSession is owned by the cash register flow; settlement only reads it.
// A session is open when OpenedAt is set and ClosedAt is nil.
type CashSession struct {
	ID       int64      `json:"id"`
	TenantID int64      `json:"tenant_id"`
	OpenedAt *time.Time `json:"opened_at,omitempty"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

func (s CashSession) IsOpen() bool {
	return s.OpenedAt != nil && s.ClosedAt == nil
}

// StockBalance is the per-product inventory truth, written only by StockLedger.
type StockBalance struct {
	TenantID    int64     `json:"tenant_id"`
	ProductID   int64     `json:"product_id"`
	ProductCode string    `json:"product_code,omitempty"`
	ProductName string    `json:"product_name,omitempty"`
	QtyOnHand   int64     `json:"qty_on_hand"`
	QtyReserved int64     `json:"qty_reserved"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Available is on-hand minus reserved.
func (b StockBalance) Available() int64 {
	return b.QtyOnHand - b.QtyReserved
}

// InventoryMovement is the traceability row mirroring every ledger change.
type InventoryMovement struct {
	ID            int64        `json:"id"`
	TenantID      int64        `json:"tenant_id"`
	ProductID     int64        `json:"product_id"`
	Type          MovementType `json:"movement_type"`
	Quantity      int64        `json:"quantity"`
	ReferenceType string       `json:"reference_type"`
	ReferenceID   int64        `json:"reference_id"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Sale is created once by settlement and never mutated afterwards.
type Sale struct {
	ID               int64           `json:"id"`
	TenantID         int64           `json:"tenant_id"`
	CustomerID       *int64          `json:"customer_id,omitempty"`
	CashSessionID    int64           `json:"cash_session_id"`
	Status           SaleStatus      `json:"status"`
	PaymentMethod    string          `json:"payment_method"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	TaxTotal         decimal.Decimal `json:"tax_total"`
	DiscountTotal    decimal.Decimal `json:"discount_total"`
	GrandTotal       decimal.Decimal `json:"grand_total"`
	CreatedBy        string          `json:"created_by,omitempty"`
	SoldAt           time.Time       `json:"sold_at"`
	Items            []SaleItem      `json:"items"`
	InvoiceID        int64           `json:"invoice_id,omitempty"`
	InvoiceNumber    string          `json:"invoice_number,omitempty"`
	FiscalDocumentID int64           `json:"fiscal_document_id,omitempty"`
}

type SaleItem struct {
	LineNumber   int             `json:"line_number"`
	ProductID    int64           `json:"product_id"`
	ProductName  string          `json:"product_name,omitempty"`
	Qty          int64           `json:"qty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	LineSubtotal decimal.Decimal `json:"line_subtotal"`
	LineTax      decimal.Decimal `json:"line_tax"`
	LineTotal    decimal.Decimal `json:"line_total"`
}

type CashMovement struct {
	ID            int64           `json:"id"`
	SessionID     int64           `json:"session_id"`
	Type          MovementType    `json:"movement_type"`
	Amount        decimal.Decimal `json:"amount"`
	RelatedSaleID *int64          `json:"related_sale_id,omitempty"`
}

// Invoice mirrors the sale totals and carries the tenant-unique number.
type Invoice struct {
	ID            int64           `json:"id"`
	TenantID      int64           `json:"tenant_id"`
	SaleID        int64           `json:"sale_id"`
	Number        string          `json:"number"`
	Status        InvoiceStatus   `json:"status"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TaxTotal      decimal.Decimal `json:"tax_total"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	IssuedAt      time.Time       `json:"issued_at"`
}

// Quote is a priced proposal that can be converted into a sale.
type Quote struct {
	ID              int64           `json:"id"`
	TenantID        int64           `json:"tenant_id"`
	CustomerID      *int64          `json:"customer_id,omitempty"`
	Status          QuoteStatus     `json:"status"`
	DiscountTotal   decimal.Decimal `json:"discount_total"`
	ValidUntil      *time.Time      `json:"valid_until,omitempty"`
	ConvertedSaleID *int64          `json:"converted_sale_id,omitempty"`
	Items           []SaleItemInput `json:"items"`
}

type PurchaseOrderStatus string

const (
	PurchaseOrderApproved PurchaseOrderStatus = "APPROVED"
	PurchaseOrderReceived PurchaseOrderStatus = "RECEIVED"
)

type PurchaseOrder struct {
	ID           int64               `json:"id"`
	TenantID     int64               `json:"tenant_id"`
	SupplierName string              `json:"supplier_name"`
	Status       PurchaseOrderStatus `json:"status"`
	ReceivedAt   *time.Time          `json:"received_at,omitempty"`
	Items        []PurchaseOrderItem `json:"items"`
}

type PurchaseOrderItem struct {
	LineNumber int             `json:"line_number"`
	ProductID  int64           `json:"product_id"`
	Qty        int64           `json:"qty"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
}
