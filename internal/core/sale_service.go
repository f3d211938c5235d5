package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"backoffice/internal/db"
	"backoffice/internal/logging"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	// FiscalDocTypeInvoice is the fiscal document type created for every sale.
	FiscalDocTypeInvoice = "INVOICE"

	salesListEntity          = "sales"
	purchaseOrdersListEntity = "purchase_orders"
	salesPageSize            = 50

	postCommitTimeout = 15 * time.Second
)

// FiscalEnqueuer schedules fiscal processing for a document. Implementations
// must derive the job id from the document id so repeated calls deduplicate.
type FiscalEnqueuer interface {
	EnqueueFiscal(ctx context.Context, documentID int64) error
}

// PageCache caches list pages per entity and tenant.
type PageCache interface {
	GetPage(ctx context.Context, entity string, tenantID int64, page int, dest any) (bool, error)
	SetPage(ctx context.Context, entity string, tenantID int64, page int, value any) error
	Invalidate(ctx context.Context, entity string, tenantID int64) error
}

// SettleRequest is a sale to be settled against an open cash session.
type SettleRequest struct {
	TenantID      int64           `json:"-"`
	CustomerID    *int64          `json:"customer_id,omitempty"`
	CashSessionID int64           `json:"cash_session_id"`
	PaymentMethod string          `json:"payment_method"`
	Items         []SaleItemInput `json:"items"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	ActorID       string          `json:"-"`
	RequestID     string          `json:"-"`
}

// ConvertQuoteRequest settles a quote's items as a sale.
type ConvertQuoteRequest struct {
	TenantID      int64  `json:"-"`
	QuoteID       int64  `json:"-"`
	CashSessionID int64  `json:"cash_session_id"`
	PaymentMethod string `json:"payment_method"`
	ActorID       string `json:"-"`
	RequestID     string `json:"-"`
}

// SaleService turns sale requests into durable, internally consistent records.
// Stock, sale, cash movement, invoice and fiscal document commit together or not at all.
type SaleService interface {
	Settle(ctx context.Context, req SettleRequest) (*Sale, error)
	// ConvertQuote settles a quote and moves it to CONVERTED in the same transaction.
	ConvertQuote(ctx context.Context, req ConvertQuoteRequest) (*Sale, error)
	// ReceivePurchaseOrder books the order's quantities into stock and moves it to RECEIVED.
	ReceivePurchaseOrder(ctx context.Context, tenantID, purchaseOrderID int64, actorID string) (*PurchaseOrder, error)

	// Queries
	GetSale(ctx context.Context, tenantID, saleID int64) (*Sale, error)
	ListSales(ctx context.Context, tenantID int64, page int) ([]Sale, error)
}

// SaleServiceConfig carries limits and collaborators. Nil collaborators are skipped.
type SaleServiceConfig struct {
	Limits    SaleLimits
	TxOptions db.TxOptions
	Readiness FiscalReadiness
	Audit     AuditChain
	Enqueuer  FiscalEnqueuer
	Cache     PageCache
	Logger    *logrus.Logger
}

type saleService struct {
	pool   *pgxpool.Pool
	stock  StockLedger
	cfg    SaleServiceConfig
	logger *logrus.Logger
}

func NewSaleService(pool *pgxpool.Pool, stock StockLedger, cfg SaleServiceConfig) SaleService {
	if cfg.Limits.CurrencyScale == 0 && cfg.Limits.MaxItems == 0 {
		cfg.Limits = DefaultSaleLimits
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &saleService{pool: pool, stock: stock, cfg: cfg, logger: logger}
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared query helpers.
type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ── Settlement ────────────────────────────────────────────────────────────────

func (s *saleService) Settle(ctx context.Context, req SettleRequest) (*Sale, error) {
	return s.settle(ctx, req, nil)
}

// settle runs preconditions, prices the lines and commits everything in one
// serializable transaction. extra, when set, runs inside the same transaction
// after the sale row exists.
func (s *saleService) settle(ctx context.Context, req SettleRequest, extra func(tx pgx.Tx, sale *Sale) error) (*Sale, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	// Preconditions, outside the transaction.
	if err := s.checkCashSession(ctx, s.pool, req.TenantID, req.CashSessionID); err != nil {
		return nil, err
	}
	if req.CustomerID != nil {
		if err := s.checkCustomer(ctx, req.TenantID, *req.CustomerID); err != nil {
			return nil, err
		}
	}
	if s.cfg.Readiness != nil {
		if err := s.cfg.Readiness.CheckReady(ctx, req.TenantID); err != nil {
			return nil, err
		}
	}

	products, err := s.loadProducts(ctx, req.TenantID, req.Items)
	if err != nil {
		return nil, err
	}
	totals := ComputeTotals(req.Items, products, req.DiscountTotal, s.cfg.Limits.CurrencyScale)

	var sale *Sale
	err = db.RunInTx(ctx, s.pool, s.cfg.TxOptions, func(tx pgx.Tx) error {
		var err error
		sale, err = s.settleTx(ctx, tx, req, totals)
		if err != nil {
			return err
		}
		if extra != nil {
			return extra(tx, sale)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterSettle(ctx, req, sale)
	return sale, nil
}

func (s *saleService) validate(req SettleRequest) error {
	if req.TenantID <= 0 {
		return &ValidationError{Field: "tenant_id", Message: "is required"}
	}
	if req.CashSessionID <= 0 {
		return &ValidationError{Field: "cash_session_id", Message: "is required"}
	}
	if req.PaymentMethod == "" {
		return &ValidationError{Field: "payment_method", Message: "is required"}
	}
	return ValidateItems(req.Items, req.DiscountTotal, s.cfg.Limits)
}

func (s *saleService) settleTx(ctx context.Context, tx pgx.Tx, req SettleRequest, totals Totals) (*Sale, error) {
	// Decrement in product order so concurrent multi-line sales lock rows in the same order.
	byProduct := make([]SaleItem, len(totals.Lines))
	copy(byProduct, totals.Lines)
	sort.SliceStable(byProduct, func(i, j int) bool { return byProduct[i].ProductID < byProduct[j].ProductID })
	for _, line := range byProduct {
		if _, err := s.stock.AdjustTx(ctx, tx, req.TenantID, line.ProductID, -line.Qty); err != nil {
			return nil, err
		}
	}

	sale := &Sale{
		TenantID:      req.TenantID,
		CustomerID:    req.CustomerID,
		CashSessionID: req.CashSessionID,
		Status:        SaleStatusPaid,
		PaymentMethod: req.PaymentMethod,
		Subtotal:      totals.Subtotal,
		TaxTotal:      totals.TaxTotal,
		DiscountTotal: totals.DiscountTotal,
		GrandTotal:    totals.GrandTotal,
		CreatedBy:     req.ActorID,
		Items:         totals.Lines,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO sales (tenant_id, customer_id, cash_session_id, status, payment_method,
		                   subtotal, tax_total, discount_total, grand_total, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, sold_at
	`, sale.TenantID, sale.CustomerID, sale.CashSessionID, string(sale.Status), sale.PaymentMethod,
		sale.Subtotal, sale.TaxTotal, sale.DiscountTotal, sale.GrandTotal, sale.CreatedBy,
	).Scan(&sale.ID, &sale.SoldAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert sale: %w", err)
	}

	for _, line := range sale.Items {
		_, err := tx.Exec(ctx, `
			INSERT INTO sale_items (sale_id, line_number, product_id, qty, unit_price, tax_rate,
			                        line_subtotal, line_tax, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, sale.ID, line.LineNumber, line.ProductID, line.Qty, line.UnitPrice, line.TaxRate,
			line.LineSubtotal, line.LineTax, line.LineTotal)
		if err != nil {
			return nil, fmt.Errorf("failed to insert sale line %d: %w", line.LineNumber, err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO cash_movements (tenant_id, session_id, movement_type, amount, related_sale_id)
		VALUES ($1, $2, $3, $4, $5)
	`, sale.TenantID, sale.CashSessionID, string(MovementIn), sale.GrandTotal, sale.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert cash movement: %w", err)
	}

	number, err := nextInvoiceNumberTx(ctx, tx, sale.TenantID)
	if err != nil {
		return nil, err
	}
	sale.InvoiceNumber = number
	err = tx.QueryRow(ctx, `
		INSERT INTO invoices (tenant_id, sale_id, number, status, subtotal, tax_total, discount_total, grand_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, sale.TenantID, sale.ID, number, string(InvoiceStatusIssued),
		sale.Subtotal, sale.TaxTotal, sale.DiscountTotal, sale.GrandTotal,
	).Scan(&sale.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert invoice: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO fiscal_documents (tenant_id, invoice_id, doc_type, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, sale.TenantID, sale.InvoiceID, FiscalDocTypeInvoice, string(FiscalDraft)).Scan(&sale.FiscalDocumentID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert fiscal document: %w", err)
	}

	for _, line := range sale.Items {
		if err := s.stock.RecordMovementTx(ctx, tx, InventoryMovement{
			TenantID:      sale.TenantID,
			ProductID:     line.ProductID,
			Type:          MovementOut,
			Quantity:      line.Qty,
			ReferenceType: "sale",
			ReferenceID:   sale.ID,
		}); err != nil {
			return nil, err
		}
	}

	return sale, nil
}

// afterSettle runs the post-commit side effects. None of them can undo the sale.
func (s *saleService) afterSettle(ctx context.Context, req SettleRequest, sale *Sale) {
	ctx, cancel := detached(ctx)
	defer cancel()

	if s.cfg.Audit != nil {
		tenantID := sale.TenantID
		s.cfg.Audit.Append(ctx, AuditEvent{
			TenantID: &tenantID,
			Entity:   "sale",
			EntityID: strconv.FormatInt(sale.ID, 10),
			Action:   "SETTLED",
			ActorID:  req.ActorID,
			Payload:  salePayload(sale),
			Context:  map[string]any{"request_id": req.RequestID},
		})
	}

	if s.cfg.Enqueuer != nil {
		if err := s.cfg.Enqueuer.EnqueueFiscal(ctx, sale.FiscalDocumentID); err != nil {
			logging.LogError(s.logger, "SaleService", "Settle", "failed to enqueue fiscal document",
				map[string]any{"sale_id": sale.ID, "fiscal_document_id": sale.FiscalDocumentID}, err)
		}
	}

	s.invalidate(ctx, salesListEntity, sale.TenantID)

	s.logger.WithFields(logrus.Fields{
		"module":      "SaleService",
		"tenant_id":   sale.TenantID,
		"sale_id":     sale.ID,
		"invoice":     sale.InvoiceNumber,
		"grand_total": sale.GrandTotal.String(),
		"request_id":  req.RequestID,
	}).Info("sale settled")
}

// detached keeps the caller's values but not its cancellation: work that
// follows a commit runs even when the request has already gone away.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), postCommitTimeout)
}

func (s *saleService) invalidate(ctx context.Context, entity string, tenantID int64) {
	if s.cfg.Cache == nil {
		return
	}
	if err := s.cfg.Cache.Invalidate(ctx, entity, tenantID); err != nil {
		logging.LogError(s.logger, "SaleService", "invalidate", "failed to invalidate list cache",
			map[string]any{"entity": entity, "tenant_id": tenantID}, err)
	}
}

func salePayload(sale *Sale) map[string]any {
	items := make([]map[string]any, len(sale.Items))
	for i, it := range sale.Items {
		items[i] = map[string]any{
			"line":       it.LineNumber,
			"product_id": it.ProductID,
			"qty":        it.Qty,
			"unit_price": it.UnitPrice.String(),
			"tax_rate":   it.TaxRate.String(),
			"line_total": it.LineTotal.String(),
		}
	}
	return map[string]any{
		"sale_id":            sale.ID,
		"invoice_number":     sale.InvoiceNumber,
		"fiscal_document_id": sale.FiscalDocumentID,
		"cash_session_id":    sale.CashSessionID,
		"payment_method":     sale.PaymentMethod,
		"subtotal":           sale.Subtotal.String(),
		"tax_total":          sale.TaxTotal.String(),
		"discount_total":     sale.DiscountTotal.String(),
		"grand_total":        sale.GrandTotal.String(),
		"items":              items,
	}
}

// ── Preconditions ─────────────────────────────────────────────────────────────

func (s *saleService) checkCashSession(ctx context.Context, q pgxQuerier, tenantID, sessionID int64) error {
	var cs CashSession
	err := q.QueryRow(ctx, `
		SELECT id, tenant_id, opened_at, closed_at FROM cash_sessions WHERE id = $1 AND tenant_id = $2
	`, sessionID, tenantID).Scan(&cs.ID, &cs.TenantID, &cs.OpenedAt, &cs.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &NotFoundError{Entity: "cash session", IDs: []int64{sessionID}}
	}
	if err != nil {
		return fmt.Errorf("failed to load cash session: %w", err)
	}
	if !cs.IsOpen() {
		return &ConflictError{Reason: fmt.Sprintf("cash session %d is not open", sessionID)}
	}
	return nil
}

func (s *saleService) checkCustomer(ctx context.Context, tenantID, customerID int64) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1 AND tenant_id = $2)",
		customerID, tenantID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to load customer: %w", err)
	}
	if !exists {
		return &NotFoundError{Entity: "customer", IDs: []int64{customerID}}
	}
	return nil
}

// loadProducts fetches every referenced product in one tenant-scoped query.
func (s *saleService) loadProducts(ctx context.Context, tenantID int64, items []SaleItemInput) (map[int64]Product, error) {
	ids := make([]int64, 0, len(items))
	seen := make(map[int64]bool, len(items))
	for _, it := range items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, code, name, unit_price, tax_rate, is_active
		FROM products
		WHERE tenant_id = $1 AND id = ANY($2) AND is_active = true
	`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := make(map[int64]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Code, &p.Name, &p.UnitPrice, &p.TaxRate, &p.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	var missing []int64
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, ProductsNotFound(missing)
	}
	return products, nil
}

// ── Quote conversion ──────────────────────────────────────────────────────────

func (s *saleService) ConvertQuote(ctx context.Context, req ConvertQuoteRequest) (*Sale, error) {
	quote, err := s.loadQuote(ctx, req.TenantID, req.QuoteID)
	if err != nil {
		return nil, err
	}
	if err := QuoteTransitions.Check("quote", quote.Status, QuoteConverted); err != nil {
		return nil, err
	}
	if quote.ValidUntil != nil && quote.ValidUntil.Before(time.Now()) {
		return nil, &ConflictError{Reason: fmt.Sprintf("quote %d expired on %s", quote.ID, quote.ValidUntil.Format(time.DateOnly))}
	}

	settleReq := SettleRequest{
		TenantID:      req.TenantID,
		CustomerID:    quote.CustomerID,
		CashSessionID: req.CashSessionID,
		PaymentMethod: req.PaymentMethod,
		Items:         quote.Items,
		DiscountTotal: quote.DiscountTotal,
		ActorID:       req.ActorID,
		RequestID:     req.RequestID,
	}

	sale, err := s.settle(ctx, settleReq, func(tx pgx.Tx, sale *Sale) error {
		tag, err := tx.Exec(ctx, `
			UPDATE quotes SET status = $1, converted_sale_id = $2
			WHERE id = $3 AND tenant_id = $4 AND status = $5
		`, string(QuoteConverted), sale.ID, quote.ID, req.TenantID, string(quote.Status))
		if err != nil {
			return fmt.Errorf("failed to mark quote converted: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return &ConflictError{Reason: fmt.Sprintf("quote %d changed status during conversion", quote.ID)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := detached(ctx)
	defer cancel()
	if s.cfg.Audit != nil {
		tenantID := req.TenantID
		s.cfg.Audit.Append(ctx, AuditEvent{
			TenantID: &tenantID,
			Entity:   "quote",
			EntityID: strconv.FormatInt(quote.ID, 10),
			Action:   "CONVERTED",
			ActorID:  req.ActorID,
			Payload:  map[string]any{"quote_id": quote.ID, "from": string(quote.Status), "sale_id": sale.ID},
			Context:  map[string]any{"request_id": req.RequestID},
		})
	}
	return sale, nil
}

func (s *saleService) loadQuote(ctx context.Context, tenantID, quoteID int64) (*Quote, error) {
	var q Quote
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, customer_id, status, discount_total, valid_until, converted_sale_id
		FROM quotes WHERE id = $1 AND tenant_id = $2
	`, quoteID, tenantID).Scan(&q.ID, &q.TenantID, &q.CustomerID, &status, &q.DiscountTotal, &q.ValidUntil, &q.ConvertedSaleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "quote", IDs: []int64{quoteID}}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load quote: %w", err)
	}
	q.Status = QuoteStatus(status)

	rows, err := s.pool.Query(ctx, `
		SELECT product_id, qty, unit_price FROM quote_items WHERE quote_id = $1 ORDER BY line_number
	`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query quote items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it SaleItemInput
		if err := rows.Scan(&it.ProductID, &it.Qty, &it.UnitPrice); err != nil {
			return nil, fmt.Errorf("failed to scan quote item: %w", err)
		}
		q.Items = append(q.Items, it)
	}
	return &q, rows.Err()
}

// ── Purchase order receiving ──────────────────────────────────────────────────

func (s *saleService) ReceivePurchaseOrder(ctx context.Context, tenantID, purchaseOrderID int64, actorID string) (*PurchaseOrder, error) {
	po, err := s.loadPurchaseOrder(ctx, tenantID, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	if err := PurchaseOrderTransitions.Check("purchase order", po.Status, PurchaseOrderReceived); err != nil {
		return nil, err
	}
	if len(po.Items) == 0 {
		return nil, &ValidationError{Field: "items", Message: "purchase order has no lines"}
	}

	err = db.RunInTx(ctx, s.pool, s.cfg.TxOptions, func(tx pgx.Tx) error {
		var receivedAt time.Time
		err := tx.QueryRow(ctx, `
			UPDATE purchase_orders SET status = $1, received_at = NOW()
			WHERE id = $2 AND tenant_id = $3 AND status = $4
			RETURNING received_at
		`, string(PurchaseOrderReceived), po.ID, tenantID, string(po.Status)).Scan(&receivedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return &ConflictError{Reason: fmt.Sprintf("purchase order %d changed status during receiving", po.ID)}
		}
		if err != nil {
			return fmt.Errorf("failed to mark purchase order received: %w", err)
		}
		po.ReceivedAt = &receivedAt

		for _, it := range po.Items {
			if _, err := s.stock.AdjustTx(ctx, tx, tenantID, it.ProductID, it.Qty); err != nil {
				return err
			}
			if err := s.stock.RecordMovementTx(ctx, tx, InventoryMovement{
				TenantID:      tenantID,
				ProductID:     it.ProductID,
				Type:          MovementIn,
				Quantity:      it.Qty,
				ReferenceType: "purchase_order",
				ReferenceID:   po.ID,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	po.Status = PurchaseOrderReceived

	ctx, cancel := detached(ctx)
	defer cancel()
	if s.cfg.Audit != nil {
		s.cfg.Audit.Append(ctx, AuditEvent{
			TenantID: &tenantID,
			Entity:   "purchase_order",
			EntityID: strconv.FormatInt(po.ID, 10),
			Action:   "RECEIVED",
			ActorID:  actorID,
			Payload:  map[string]any{"purchase_order_id": po.ID, "lines": len(po.Items)},
		})
	}
	s.invalidate(ctx, purchaseOrdersListEntity, tenantID)
	return po, nil
}

func (s *saleService) loadPurchaseOrder(ctx context.Context, tenantID, poID int64) (*PurchaseOrder, error) {
	var po PurchaseOrder
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, supplier_name, status, received_at
		FROM purchase_orders WHERE id = $1 AND tenant_id = $2
	`, poID, tenantID).Scan(&po.ID, &po.TenantID, &po.SupplierName, &status, &po.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "purchase order", IDs: []int64{poID}}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load purchase order: %w", err)
	}
	po.Status = PurchaseOrderStatus(status)

	rows, err := s.pool.Query(ctx, `
		SELECT line_number, product_id, qty, unit_cost
		FROM purchase_order_items WHERE purchase_order_id = $1 ORDER BY line_number
	`, poID)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchase order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it PurchaseOrderItem
		if err := rows.Scan(&it.LineNumber, &it.ProductID, &it.Qty, &it.UnitCost); err != nil {
			return nil, fmt.Errorf("failed to scan purchase order item: %w", err)
		}
		po.Items = append(po.Items, it)
	}
	return &po, rows.Err()
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (s *saleService) GetSale(ctx context.Context, tenantID, saleID int64) (*Sale, error) {
	var sale Sale
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT s.id, s.tenant_id, s.customer_id, s.cash_session_id, s.status, s.payment_method,
		       s.subtotal, s.tax_total, s.discount_total, s.grand_total, s.created_by, s.sold_at,
		       COALESCE(i.id, 0), COALESCE(i.number, ''), COALESCE(fd.id, 0)
		FROM sales s
		LEFT JOIN invoices i          ON i.sale_id = s.id
		LEFT JOIN fiscal_documents fd ON fd.invoice_id = i.id
		WHERE s.id = $1 AND s.tenant_id = $2
	`, saleID, tenantID).Scan(&sale.ID, &sale.TenantID, &sale.CustomerID, &sale.CashSessionID, &status,
		&sale.PaymentMethod, &sale.Subtotal, &sale.TaxTotal, &sale.DiscountTotal, &sale.GrandTotal,
		&sale.CreatedBy, &sale.SoldAt, &sale.InvoiceID, &sale.InvoiceNumber, &sale.FiscalDocumentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "sale", IDs: []int64{saleID}}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sale: %w", err)
	}
	sale.Status = SaleStatus(status)

	rows, err := s.pool.Query(ctx, `
		SELECT si.line_number, si.product_id, p.name, si.qty, si.unit_price, si.tax_rate,
		       si.line_subtotal, si.line_tax, si.line_total
		FROM sale_items si
		JOIN products p ON p.id = si.product_id
		WHERE si.sale_id = $1
		ORDER BY si.line_number
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it SaleItem
		if err := rows.Scan(&it.LineNumber, &it.ProductID, &it.ProductName, &it.Qty, &it.UnitPrice, &it.TaxRate,
			&it.LineSubtotal, &it.LineTax, &it.LineTotal); err != nil {
			return nil, fmt.Errorf("failed to scan sale item: %w", err)
		}
		sale.Items = append(sale.Items, it)
	}
	return &sale, rows.Err()
}

// ListSales returns one page of sales, newest first, without line items.
func (s *saleService) ListSales(ctx context.Context, tenantID int64, page int) ([]Sale, error) {
	if page < 1 {
		page = 1
	}
	if s.cfg.Cache != nil {
		var cached []Sale
		hit, err := s.cfg.Cache.GetPage(ctx, salesListEntity, tenantID, page, &cached)
		if err != nil {
			logging.LogError(s.logger, "SaleService", "ListSales", "cache read failed",
				map[string]any{"tenant_id": tenantID, "page": page}, err)
		} else if hit {
			return cached, nil
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.tenant_id, s.customer_id, s.cash_session_id, s.status, s.payment_method,
		       s.subtotal, s.tax_total, s.discount_total, s.grand_total, s.created_by, s.sold_at,
		       COALESCE(i.id, 0), COALESCE(i.number, ''), COALESCE(fd.id, 0)
		FROM sales s
		LEFT JOIN invoices i          ON i.sale_id = s.id
		LEFT JOIN fiscal_documents fd ON fd.invoice_id = i.id
		WHERE s.tenant_id = $1
		ORDER BY s.sold_at DESC, s.id DESC
		LIMIT $2 OFFSET $3
	`, tenantID, salesPageSize, (page-1)*salesPageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	sales := []Sale{}
	for rows.Next() {
		var sale Sale
		var status string
		if err := rows.Scan(&sale.ID, &sale.TenantID, &sale.CustomerID, &sale.CashSessionID, &status,
			&sale.PaymentMethod, &sale.Subtotal, &sale.TaxTotal, &sale.DiscountTotal, &sale.GrandTotal,
			&sale.CreatedBy, &sale.SoldAt, &sale.InvoiceID, &sale.InvoiceNumber, &sale.FiscalDocumentID); err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		sale.Status = SaleStatus(status)
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sales: %w", err)
	}

	if s.cfg.Cache != nil {
		if err := s.cfg.Cache.SetPage(ctx, salesListEntity, tenantID, page, sales); err != nil {
			logging.LogError(s.logger, "SaleService", "ListSales", "cache write failed",
				map[string]any{"tenant_id": tenantID, "page": page}, err)
		}
	}
	return sales, nil
}
