package core

import (
	"context"
	"errors"
	"fmt"

	"backoffice/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StockLedger is the only writer of stock_balances. Every change is a single
// conditional UPDATE so concurrent adjustments on one (tenant, product) row
// cannot both pass the non-negativity check.
type StockLedger interface {
	// Standalone operations (manage their own transactions).
	Adjust(ctx context.Context, tenantID, productID, delta int64) (int64, error)
	GetBalance(ctx context.Context, tenantID, productID int64) (*StockBalance, error)
	ListBalances(ctx context.Context, tenantID int64) ([]StockBalance, error)

	// TX-scoped operations: work within a caller-provided transaction.
	// Used by SaleService so stock changes commit or roll back with the sale.

	// AdjustTx applies delta to qty_on_hand, creating the row at zero first.
	// A delta that would leave qty_on_hand negative fails with
	// *InsufficientStockError and changes nothing.
	AdjustTx(ctx context.Context, tx pgx.Tx, tenantID, productID, delta int64) (int64, error)
	// ReserveTx soft-locks qty units while on-hand minus reserved covers them.
	ReserveTx(ctx context.Context, tx pgx.Tx, tenantID, productID, qty int64) error
	// ReleaseTx gives back up to qty reserved units. It never drives reserved below zero.
	ReleaseTx(ctx context.Context, tx pgx.Tx, tenantID, productID, qty int64) error
	// RecordMovementTx appends the traceability row for a ledger change.
	RecordMovementTx(ctx context.Context, tx pgx.Tx, m InventoryMovement) error
}

type stockLedger struct {
	pool   *pgxpool.Pool
	txOpts db.TxOptions
}

func NewStockLedger(pool *pgxpool.Pool, txOpts db.TxOptions) StockLedger {
	return &stockLedger{pool: pool, txOpts: txOpts}
}

// ── Standalone operations ─────────────────────────────────────────────────────

func (s *stockLedger) Adjust(ctx context.Context, tenantID, productID, delta int64) (int64, error) {
	var newQty int64
	err := db.RunInTx(ctx, s.pool, s.txOpts, func(tx pgx.Tx) error {
		var err error
		newQty, err = s.AdjustTx(ctx, tx, tenantID, productID, delta)
		return err
	})
	return newQty, err
}

func (s *stockLedger) GetBalance(ctx context.Context, tenantID, productID int64) (*StockBalance, error) {
	var b StockBalance
	err := s.pool.QueryRow(ctx, `
		SELECT p.tenant_id, p.id, p.code, p.name,
		       COALESCE(b.qty_on_hand, 0), COALESCE(b.qty_reserved, 0),
		       COALESCE(b.updated_at, p.created_at)
		FROM products p
		LEFT JOIN stock_balances b ON b.tenant_id = p.tenant_id AND b.product_id = p.id
		WHERE p.tenant_id = $1 AND p.id = $2
	`, tenantID, productID).Scan(&b.TenantID, &b.ProductID, &b.ProductCode, &b.ProductName,
		&b.QtyOnHand, &b.QtyReserved, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Entity: "product", IDs: []int64{productID}}
		}
		return nil, fmt.Errorf("failed to read stock balance: %w", err)
	}
	return &b, nil
}

func (s *stockLedger) ListBalances(ctx context.Context, tenantID int64) ([]StockBalance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.tenant_id, p.id, p.code, p.name,
		       COALESCE(b.qty_on_hand, 0), COALESCE(b.qty_reserved, 0),
		       COALESCE(b.updated_at, p.created_at)
		FROM products p
		LEFT JOIN stock_balances b ON b.tenant_id = p.tenant_id AND b.product_id = p.id
		WHERE p.tenant_id = $1 AND p.is_active = true
		ORDER BY p.code
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock balances: %w", err)
	}
	defer rows.Close()

	var balances []StockBalance
	for rows.Next() {
		var b StockBalance
		if err := rows.Scan(&b.TenantID, &b.ProductID, &b.ProductCode, &b.ProductName,
			&b.QtyOnHand, &b.QtyReserved, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// ── TX-scoped operations ──────────────────────────────────────────────────────

func (s *stockLedger) AdjustTx(ctx context.Context, tx pgx.Tx, tenantID, productID, delta int64) (int64, error) {
	if delta == 0 {
		return 0, &ValidationError{Field: "delta", Message: "must be non-zero"}
	}
	if err := ensureBalanceRow(ctx, tx, tenantID, productID); err != nil {
		return 0, err
	}

	var newQty int64
	err := tx.QueryRow(ctx, `
		UPDATE stock_balances
		SET qty_on_hand = qty_on_hand + $3, updated_at = NOW()
		WHERE tenant_id = $1 AND product_id = $2 AND qty_on_hand + $3 >= 0
		RETURNING qty_on_hand
	`, tenantID, productID, delta).Scan(&newQty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, insufficientStock(ctx, tx, tenantID, productID, -delta, false)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to adjust stock for product %d: %w", productID, err)
	}
	return newQty, nil
}

func (s *stockLedger) ReserveTx(ctx context.Context, tx pgx.Tx, tenantID, productID, qty int64) error {
	if qty <= 0 {
		return &ValidationError{Field: "qty", Message: "must be greater than zero"}
	}
	if err := ensureBalanceRow(ctx, tx, tenantID, productID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE stock_balances
		SET qty_reserved = qty_reserved + $3, updated_at = NOW()
		WHERE tenant_id = $1 AND product_id = $2 AND qty_on_hand - qty_reserved >= $3
	`, tenantID, productID, qty)
	if err != nil {
		return fmt.Errorf("failed to reserve stock for product %d: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return insufficientStock(ctx, tx, tenantID, productID, qty, true)
	}
	return nil
}

func (s *stockLedger) ReleaseTx(ctx context.Context, tx pgx.Tx, tenantID, productID, qty int64) error {
	if qty <= 0 {
		return &ValidationError{Field: "qty", Message: "must be greater than zero"}
	}
	_, err := tx.Exec(ctx, `
		UPDATE stock_balances
		SET qty_reserved = GREATEST(qty_reserved - $3, 0), updated_at = NOW()
		WHERE tenant_id = $1 AND product_id = $2
	`, tenantID, productID, qty)
	if err != nil {
		return fmt.Errorf("failed to release reservation for product %d: %w", productID, err)
	}
	return nil
}

func (s *stockLedger) RecordMovementTx(ctx context.Context, tx pgx.Tx, m InventoryMovement) error {
	if m.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Message: "must be greater than zero"}
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO inventory_movements (tenant_id, product_id, movement_type, quantity, reference_type, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.TenantID, m.ProductID, string(m.Type), m.Quantity, m.ReferenceType, m.ReferenceID)
	if err != nil {
		return fmt.Errorf("failed to insert inventory movement for product %d: %w", m.ProductID, err)
	}
	return nil
}

// ensureBalanceRow creates the (tenant, product) row at zero when absent.
// Products outside the tenant catalog resolve as not found.
func ensureBalanceRow(ctx context.Context, tx pgx.Tx, tenantID, productID int64) error {
	var exists bool
	err := tx.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO stock_balances (tenant_id, product_id, qty_on_hand, qty_reserved)
			SELECT tenant_id, id, 0, 0 FROM products WHERE tenant_id = $1 AND id = $2
			ON CONFLICT (tenant_id, product_id) DO NOTHING
		)
		SELECT EXISTS (SELECT 1 FROM products WHERE tenant_id = $1 AND id = $2)
	`, tenantID, productID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to create stock balance for product %d: %w", productID, err)
	}
	if !exists {
		return &NotFoundError{Entity: "product", IDs: []int64{productID}}
	}
	return nil
}

// insufficientStock reads the current balance to build the conflict error.
func insufficientStock(ctx context.Context, tx pgx.Tx, tenantID, productID, requested int64, reservation bool) error {
	var onHand, reserved int64
	var name string
	err := tx.QueryRow(ctx, `
		SELECT b.qty_on_hand, b.qty_reserved, p.name
		FROM stock_balances b
		JOIN products p ON p.id = b.product_id
		WHERE b.tenant_id = $1 AND b.product_id = $2
	`, tenantID, productID).Scan(&onHand, &reserved, &name)
	if err != nil {
		return fmt.Errorf("failed to read stock balance for product %d: %w", productID, err)
	}
	available := onHand
	if reservation {
		available = onHand - reserved
	}
	return &InsufficientStockError{
		ProductID:   productID,
		ProductName: name,
		Available:   available,
		Requested:   requested,
	}
}
