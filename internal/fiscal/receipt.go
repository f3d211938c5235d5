package fiscal

import (
	"bytes"
	"fmt"
	"time"

	"backoffice/internal/core"
)

// Receipt renders the printable plain-text receipt stored after acceptance.
func (r *Renderer) Receipt(inv *core.FiscalInvoice, referenceCode string) ([]byte, error) {
	if inv == nil {
		return nil, fmt.Errorf("nil invoice")
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s\n", inv.TenantName)
	fmt.Fprintf(&b, "Invoice %s\n", inv.Number)
	fmt.Fprintf(&b, "Issued  %s\n", inv.IssuedAt.UTC().Format(time.DateTime))
	if inv.CustomerName != "" {
		fmt.Fprintf(&b, "Customer %s (%s)\n", inv.CustomerName, inv.CustomerTaxID)
	}
	b.WriteString("----------------------------------------\n")
	for _, l := range inv.Lines {
		fmt.Fprintf(&b, "%-24.24s %4d x %s\n", l.ProductName, l.Qty, r.money(l.UnitPrice))
		fmt.Fprintf(&b, "%40s\n", r.money(l.LineTotal))
	}
	b.WriteString("----------------------------------------\n")
	fmt.Fprintf(&b, "%-20s %19s\n", "Subtotal", r.money(inv.Subtotal))
	fmt.Fprintf(&b, "%-20s %19s\n", "Tax", r.money(inv.TaxTotal))
	if !inv.DiscountTotal.IsZero() {
		fmt.Fprintf(&b, "%-20s %19s\n", "Discount", "-"+r.money(inv.DiscountTotal))
	}
	fmt.Fprintf(&b, "%-20s %19s\n", "TOTAL", r.money(inv.GrandTotal))
	fmt.Fprintf(&b, "Paid by %s\n", inv.PaymentMethod)
	fmt.Fprintf(&b, "Ref %s\n", referenceCode)
	return b.Bytes(), nil
}
