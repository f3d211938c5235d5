package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// SaleItemInput is one requested line. UnitPrice overrides the catalog price when set.
type SaleItemInput struct {
	ProductID int64            `json:"product_id"`
	Qty       int64            `json:"qty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// SaleLimits bounds a settlement request. Values come from configuration.
type SaleLimits struct {
	MaxItems      int
	MaxQty        int64
	CurrencyScale int32
}

var DefaultSaleLimits = SaleLimits{MaxItems: 200, MaxQty: 10000, CurrencyScale: 2}

// ValidateItems rejects malformed lines before any I/O happens.
func ValidateItems(items []SaleItemInput, discount decimal.Decimal, limits SaleLimits) error {
	if len(items) == 0 {
		return &ValidationError{Field: "items", Message: "at least one item is required"}
	}
	if limits.MaxItems > 0 && len(items) > limits.MaxItems {
		return &ValidationError{Field: "items", Message: fmt.Sprintf("at most %d items allowed, got %d", limits.MaxItems, len(items))}
	}
	for i, it := range items {
		if it.ProductID <= 0 {
			return &ValidationError{Field: fmt.Sprintf("items[%d].product_id", i), Message: "must be positive"}
		}
		if it.Qty <= 0 {
			return &ValidationError{Field: fmt.Sprintf("items[%d].qty", i), Message: "must be greater than zero"}
		}
		if limits.MaxQty > 0 && it.Qty > limits.MaxQty {
			return &ValidationError{Field: fmt.Sprintf("items[%d].qty", i), Message: fmt.Sprintf("must not exceed %d", limits.MaxQty)}
		}
		if it.UnitPrice != nil && it.UnitPrice.IsNegative() {
			return &ValidationError{Field: fmt.Sprintf("items[%d].unit_price", i), Message: "cannot be negative"}
		}
	}
	if discount.IsNegative() {
		return &ValidationError{Field: "discount_total", Message: "cannot be negative"}
	}
	return nil
}

// Totals is the priced result of a set of lines.
type Totals struct {
	Lines         []SaleItem
	Subtotal      decimal.Decimal
	TaxTotal      decimal.Decimal
	DiscountTotal decimal.Decimal
	GrandTotal    decimal.Decimal
}

// ComputeTotals prices items against the tenant catalog. Every line subtotal and
// line tax is rounded half-up to scale before it is summed. The discount is
// capped at subtotal+tax and the grand total never drops below zero.
// Every item's product must be present in products.
func ComputeTotals(items []SaleItemInput, products map[int64]Product, requestedDiscount decimal.Decimal, scale int32) Totals {
	var t Totals
	t.Lines = make([]SaleItem, 0, len(items))

	for i, it := range items {
		p := products[it.ProductID]
		price := p.UnitPrice
		if it.UnitPrice != nil {
			price = *it.UnitPrice
		}

		lineSubtotal := price.Mul(decimal.NewFromInt(it.Qty)).Round(scale)
		lineTax := lineSubtotal.Mul(p.TaxRate).Div(hundred).Round(scale)

		t.Lines = append(t.Lines, SaleItem{
			LineNumber:   i + 1,
			ProductID:    p.ID,
			ProductName:  p.Name,
			Qty:          it.Qty,
			UnitPrice:    price,
			TaxRate:      p.TaxRate,
			LineSubtotal: lineSubtotal,
			LineTax:      lineTax,
			LineTotal:    lineSubtotal.Add(lineTax),
		})
		t.Subtotal = t.Subtotal.Add(lineSubtotal)
		t.TaxTotal = t.TaxTotal.Add(lineTax)
	}

	gross := t.Subtotal.Add(t.TaxTotal)
	t.DiscountTotal = decimal.Min(requestedDiscount.Round(scale), gross)
	if t.DiscountTotal.IsNegative() {
		t.DiscountTotal = decimal.Zero
	}
	t.GrandTotal = decimal.Max(decimal.Zero, gross.Sub(t.DiscountTotal))
	return t
}
