package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"backoffice/internal/app"
	"backoffice/internal/core"
)

// ErrUsage is returned for an unknown command or missing arguments.
var ErrUsage = errors.New("usage")

const usage = `Commands:
  stock <tenant>                      stock balances
  sales <tenant> [page]               sales, newest first
  sale <tenant> <sale-id>             one sale with its lines
  receive-po <tenant> <po-id>         book a purchase order into stock
  fiscal-status <tenant> <doc-id>     fiscal document status
  fiscal-events <tenant> <doc-id>     fiscal document event trail
  resubmit <tenant> <doc-id>          re-enqueue a fiscal document
  verify-audit                        walk the audit chain
  health                              database and queue state`

// Run executes a one-shot command. args is os.Args[1:]; the first element is
// the subcommand name. Output goes to out.
func Run(ctx context.Context, svc app.ApplicationService, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w\n%s", ErrUsage, usage)
	}
	cmd, rest := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "stock":
		ids, err := parseIDs(rest, "tenant")
		if err != nil {
			return err
		}
		result, err := svc.GetStockLevels(ctx, ids[0])
		if err != nil {
			return err
		}
		printStock(out, result)

	case "sales":
		if len(rest) == 0 {
			return fmt.Errorf("%w: sales <tenant> [page]", ErrUsage)
		}
		ids, err := parseIDs(rest[:1], "tenant")
		if err != nil {
			return err
		}
		page := 1
		if len(rest) > 1 {
			if page, err = strconv.Atoi(rest[1]); err != nil || page < 1 {
				return fmt.Errorf("%w: page must be a positive integer", ErrUsage)
			}
		}
		result, err := svc.ListSales(ctx, ids[0], page)
		if err != nil {
			return err
		}
		printSales(out, result)

	case "sale":
		ids, err := parseIDs(rest, "tenant", "sale-id")
		if err != nil {
			return err
		}
		result, err := svc.GetSale(ctx, ids[0], ids[1])
		if err != nil {
			return err
		}
		printSale(out, result.Sale)

	case "receive-po":
		ids, err := parseIDs(rest, "tenant", "po-id")
		if err != nil {
			return err
		}
		result, err := svc.ReceivePurchaseOrder(ctx, ids[0], ids[1], "cli")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Purchase order %d RECEIVED (%d lines).\n", result.PurchaseOrder.ID, len(result.PurchaseOrder.Items))

	case "fiscal-status", "fs":
		ids, err := parseIDs(rest, "tenant", "doc-id")
		if err != nil {
			return err
		}
		view, err := svc.FiscalStatus(ctx, ids[0], ids[1])
		if err != nil {
			return err
		}
		return writeJSON(out, view)

	case "fiscal-events", "fe":
		ids, err := parseIDs(rest, "tenant", "doc-id")
		if err != nil {
			return err
		}
		result, err := svc.FiscalEvents(ctx, ids[0], ids[1])
		if err != nil {
			return err
		}
		printEvents(out, result)

	case "resubmit":
		ids, err := parseIDs(rest, "tenant", "doc-id")
		if err != nil {
			return err
		}
		if err := svc.ResubmitFiscal(ctx, ids[0], ids[1]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Fiscal document %d queued.\n", ids[1])

	case "verify-audit", "audit":
		result, err := svc.VerifyAudit(ctx)
		if err != nil {
			return err
		}
		if err := writeJSON(out, result); err != nil {
			return err
		}
		return result.Err()

	case "health":
		return writeJSON(out, svc.Health(ctx))

	case "help":
		fmt.Fprintln(out, usage)

	default:
		return fmt.Errorf("%w: unknown command %q\n%s", ErrUsage, args[0], usage)
	}
	return nil
}

// parseIDs reads one positive integer per name from args.
func parseIDs(args []string, names ...string) ([]int64, error) {
	if len(args) < len(names) {
		return nil, fmt.Errorf("%w: expected <%s>", ErrUsage, strings.Join(names, "> <"))
	}
	ids := make([]int64, len(names))
	for i, name := range names {
		id, err := strconv.ParseInt(args[i], 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: %s must be a positive integer, got %q", ErrUsage, name, args[i])
		}
		ids[i] = id
	}
	return ids, nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStock(out io.Writer, result *app.StockResult) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("=", 62))
	fmt.Fprintf(out, "  STOCK, Tenant %d\n", result.TenantID)
	fmt.Fprintln(out, strings.Repeat("=", 62))
	if len(result.Balances) == 0 {
		fmt.Fprintln(out, "  No products found.")
		fmt.Fprintln(out, strings.Repeat("=", 62))
		return
	}
	fmt.Fprintf(out, "  %-10s %-26s %7s %7s %7s\n", "CODE", "NAME", "ON HAND", "RESVD", "AVAIL")
	fmt.Fprintln(out, strings.Repeat("-", 62))
	for _, b := range result.Balances {
		fmt.Fprintf(out, "  %-10s %-26s %7d %7d %7d\n", b.ProductCode, b.ProductName, b.QtyOnHand, b.QtyReserved, b.Available())
	}
	fmt.Fprintln(out, strings.Repeat("=", 62))
}

func printSales(out io.Writer, result *app.SaleListResult) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("=", 72))
	fmt.Fprintf(out, "  SALES, Tenant %d, page %d\n", result.TenantID, result.Page)
	fmt.Fprintln(out, strings.Repeat("=", 72))
	if len(result.Sales) == 0 {
		fmt.Fprintln(out, "  No sales found.")
		fmt.Fprintln(out, strings.Repeat("=", 72))
		return
	}
	fmt.Fprintf(out, "  %-8s %-12s %-20s %-8s %15s\n", "ID", "INVOICE", "SOLD AT", "PAYMENT", "TOTAL")
	fmt.Fprintln(out, strings.Repeat("-", 72))
	for _, s := range result.Sales {
		fmt.Fprintf(out, "  %-8d %-12s %-20s %-8s %15s\n",
			s.ID, s.InvoiceNumber, s.SoldAt.Format("2006-01-02 15:04"), s.PaymentMethod, s.GrandTotal.StringFixed(2))
	}
	fmt.Fprintln(out, strings.Repeat("=", 72))
}

func printSale(out io.Writer, s *core.Sale) {
	fmt.Fprintf(out, "\nSALE %d  invoice %s  fiscal document %d\n", s.ID, s.InvoiceNumber, s.FiscalDocumentID)
	fmt.Fprintln(out, strings.Repeat("-", 72))
	for _, l := range s.Items {
		fmt.Fprintf(out, "  %2d  %-28s %5d x %10s  %12s\n",
			l.LineNumber, l.ProductName, l.Qty, l.UnitPrice.StringFixed(2), l.LineTotal.StringFixed(2))
	}
	fmt.Fprintln(out, strings.Repeat("-", 72))
	fmt.Fprintf(out, "  %-50s %12s\n", "Subtotal", s.Subtotal.StringFixed(2))
	fmt.Fprintf(out, "  %-50s %12s\n", "Tax", s.TaxTotal.StringFixed(2))
	fmt.Fprintf(out, "  %-50s %12s\n", "Discount", s.DiscountTotal.StringFixed(2))
	fmt.Fprintf(out, "  %-50s %12s\n", "Total", s.GrandTotal.StringFixed(2))
}

func printEvents(out io.Writer, result *app.FiscalEventsResult) {
	fmt.Fprintf(out, "\nFISCAL DOCUMENT %d\n", result.DocumentID)
	fmt.Fprintln(out, strings.Repeat("-", 72))
	for _, ev := range result.Events {
		fmt.Fprintf(out, "  %s  %-9s %s\n", ev.CreatedAt.Format("2006-01-02 15:04:05"), ev.Type, ev.Message)
	}
}
