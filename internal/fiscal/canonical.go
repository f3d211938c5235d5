// Package fiscal renders, signs and submits electronic invoices for the
// fiscal pipeline in internal/core.
package fiscal

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"backoffice/internal/core"

	"github.com/shopspring/decimal"
)

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>`

// rateScale matches the stored precision of unit_price and tax_rate, so a
// verifier recomputing a line from the payload gets the signed totals back.
const rateScale = 4

// Renderer implements core.DocumentRenderer. Output depends only on the
// invoice data: fixed element order, no indentation, UTC timestamps and
// amounts with a fixed number of decimals. Scale applies to currency totals;
// unit prices and tax rates keep their stored four decimals.
type Renderer struct {
	Scale int32
}

func NewRenderer(scale int32) *Renderer {
	return &Renderer{Scale: scale}
}

// Canonical renders the invoice as the XML payload that is signed and submitted.
func (r *Renderer) Canonical(inv *core.FiscalInvoice) ([]byte, error) {
	if inv == nil {
		return nil, fmt.Errorf("nil invoice")
	}
	if inv.Number == "" {
		return nil, fmt.Errorf("invoice %d has no number", inv.InvoiceID)
	}
	if len(inv.Lines) == 0 {
		return nil, fmt.Errorf("invoice %s has no lines", inv.Number)
	}

	w := &xmlWriter{}
	w.raw(xmlHeader)
	w.open("Invoice")
	w.elem("Number", inv.Number)
	w.elem("IssuedAt", inv.IssuedAt.UTC().Format(time.RFC3339))
	w.open("Supplier")
	w.elem("TenantID", strconv.FormatInt(inv.TenantID, 10))
	w.elem("Name", inv.TenantName)
	w.close("Supplier")
	w.open("Customer")
	w.elem("TaxID", inv.CustomerTaxID)
	w.elem("Name", inv.CustomerName)
	w.close("Customer")
	w.elem("PaymentMethod", inv.PaymentMethod)

	w.open("Lines")
	for _, l := range inv.Lines {
		w.raw(`<Line n="` + strconv.Itoa(l.LineNumber) + `">`)
		w.elem("ProductID", strconv.FormatInt(l.ProductID, 10))
		w.elem("Description", l.ProductName)
		w.elem("Qty", strconv.FormatInt(l.Qty, 10))
		w.elem("UnitPrice", l.UnitPrice.StringFixed(rateScale))
		w.elem("TaxRate", l.TaxRate.StringFixed(rateScale))
		w.elem("Subtotal", r.money(l.LineSubtotal))
		w.elem("Tax", r.money(l.LineTax))
		w.elem("Total", r.money(l.LineTotal))
		w.close("Line")
	}
	w.close("Lines")

	w.open("Totals")
	w.elem("Subtotal", r.money(inv.Subtotal))
	w.elem("TaxTotal", r.money(inv.TaxTotal))
	w.elem("DiscountTotal", r.money(inv.DiscountTotal))
	w.elem("GrandTotal", r.money(inv.GrandTotal))
	w.close("Totals")
	w.close("Invoice")

	if w.err != nil {
		return nil, fmt.Errorf("failed to render invoice %s: %w", inv.Number, w.err)
	}
	return w.buf.Bytes(), nil
}

func (r *Renderer) money(d decimal.Decimal) string {
	return d.StringFixed(r.Scale)
}

// xmlWriter appends elements in call order. Text goes through xml.EscapeText
// so untrusted names cannot inject markup.
type xmlWriter struct {
	buf bytes.Buffer
	err error
}

func (w *xmlWriter) raw(s string) { w.buf.WriteString(s) }

func (w *xmlWriter) open(name string) { w.buf.WriteString("<" + name + ">") }

func (w *xmlWriter) close(name string) { w.buf.WriteString("</" + name + ">") }

func (w *xmlWriter) elem(name, text string) {
	w.open(name)
	if err := xml.EscapeText(&w.buf, []byte(text)); err != nil && w.err == nil {
		w.err = err
	}
	w.close(name)
}
