package core_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"backoffice/internal/core"
	"backoffice/internal/db"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

// containerURL starts a throwaway Postgres when built with -tags container.
var containerURL func(t *testing.T) string

type fixture struct {
	pool          *pgxpool.Pool
	tenantID      int64
	otherTenantID int64
	sessionID     int64
	closedSession int64
	customerID    int64
	widgetID      int64 // 2000.00, 19% tax
	gadgetID      int64 // 1000.00, no tax
}

func setupTestDB(t *testing.T) *fixture {
	t.Helper()
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" && containerURL != nil {
		dbURL = containerURL(t)
	}
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../migrations/001_schema.sql")
	if err != nil {
		t.Fatalf("Failed to read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("Failed to apply schema: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE audit_log, fiscal_events, fiscal_documents, invoices, document_sequences,
			cash_movements, sale_items, quote_items, quotes, purchase_order_items, purchase_orders,
			sales, inventory_movements, stock_balances, cash_sessions, customers, products,
			tenant_fiscal_settings, tenants
		RESTART IDENTITY CASCADE;

		INSERT INTO tenants (id, name) VALUES (1, 'Test Store'), (2, 'Other Store');
		SELECT setval('tenants_id_seq', 2);

		INSERT INTO tenant_fiscal_settings (tenant_id, invoice_prefix, resolution_number, range_from, range_to)
		VALUES (1, 'FE', 'RES-1', 1, 1000), (2, 'OT', 'RES-2', 1, 1000);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	f := &fixture{pool: pool, tenantID: 1, otherTenantID: 2}
	mustScan(t, pool, &f.widgetID, `
		INSERT INTO products (tenant_id, code, name, unit_price, tax_rate) VALUES (1, 'W-1', 'Widget', 2000, 19) RETURNING id`)
	mustScan(t, pool, &f.gadgetID, `
		INSERT INTO products (tenant_id, code, name, unit_price, tax_rate) VALUES (1, 'G-1', 'Gadget', 1000, 0) RETURNING id`)
	mustScan(t, pool, &f.customerID, `
		INSERT INTO customers (tenant_id, name, tax_id) VALUES (1, 'Ana Perez', '900123') RETURNING id`)
	mustScan(t, pool, &f.sessionID, `
		INSERT INTO cash_sessions (tenant_id, opened_at) VALUES (1, NOW()) RETURNING id`)
	mustScan(t, pool, &f.closedSession, `
		INSERT INTO cash_sessions (tenant_id, opened_at, closed_at) VALUES (1, NOW() - INTERVAL '1 day', NOW()) RETURNING id`)
	return f
}

func mustScan(t *testing.T, pool *pgxpool.Pool, dst *int64, sql string, args ...any) {
	t.Helper()
	if err := pool.QueryRow(context.Background(), sql, args...).Scan(dst); err != nil {
		t.Fatalf("seed %q: %v", sql, err)
	}
}

func (f *fixture) setStock(t *testing.T, productID, qty int64) {
	t.Helper()
	_, err := f.pool.Exec(context.Background(), `
		INSERT INTO stock_balances (tenant_id, product_id, qty_on_hand) VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, product_id) DO UPDATE SET qty_on_hand = EXCLUDED.qty_on_hand
	`, f.tenantID, productID, qty)
	if err != nil {
		t.Fatalf("set stock: %v", err)
	}
}

func (f *fixture) stock(t *testing.T, productID int64) int64 {
	t.Helper()
	var qty int64
	err := f.pool.QueryRow(context.Background(),
		"SELECT COALESCE((SELECT qty_on_hand FROM stock_balances WHERE tenant_id = $1 AND product_id = $2), 0)",
		f.tenantID, productID).Scan(&qty)
	if err != nil {
		t.Fatalf("read stock: %v", err)
	}
	return qty
}

func (f *fixture) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := f.pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

type recordingEnqueuer struct {
	mu  sync.Mutex
	ids []int64
}

func (r *recordingEnqueuer) EnqueueFiscal(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

func (r *recordingEnqueuer) enqueued() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.ids...)
}

type services struct {
	sales    core.SaleService
	stock    core.StockLedger
	audit    core.AuditChain
	enqueuer *recordingEnqueuer
}

func (f *fixture) services(txOpts db.TxOptions) services {
	enq := &recordingEnqueuer{}
	stock := core.NewStockLedger(f.pool, txOpts)
	audit := core.NewAuditChain(core.NewPgAuditStore(f.pool), nil)
	sales := core.NewSaleService(f.pool, stock, core.SaleServiceConfig{
		Limits:    core.DefaultSaleLimits,
		TxOptions: txOpts,
		Readiness: core.NewFiscalReadiness(f.pool),
		Audit:     audit,
		Enqueuer:  enq,
	})
	return services{sales: sales, stock: stock, audit: audit, enqueuer: enq}
}
