package core_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"backoffice/internal/core"
	"backoffice/internal/db"
)

func TestAuditChain_ConcurrentAppendsStayLinked(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()
	chain := core.NewAuditChain(core.NewPgAuditStore(f.pool), nil)

	const writers = 12
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chain.Append(ctx, core.AuditEvent{
				TenantID: &f.tenantID,
				Entity:   "test",
				EntityID: fmt.Sprint(i),
				Action:   "WRITE",
				Payload:  map[string]any{"n": i},
			})
		}(i)
	}
	wg.Wait()

	res, err := chain.VerifyChain(ctx)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !res.Valid || res.TotalChecked != writers {
		t.Fatalf("chain = %+v, want %d valid entries", res, writers)
	}
	if res.Err() != nil {
		t.Errorf("Err() = %v on a valid chain", res.Err())
	}

	var heads int
	if err := f.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_log WHERE previous_hash = ''").Scan(&heads); err != nil {
		t.Fatal(err)
	}
	if heads != 1 {
		t.Errorf("%d entries link to genesis, want 1", heads)
	}
}

func TestAuditChain_DetectsTampering(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()
	svc := f.services(db.DefaultTxOptions)
	f.setStock(t, f.gadgetID, 10)

	for i := 0; i < 3; i++ {
		if _, err := svc.sales.Settle(ctx, f.saleRequest(core.SaleItemInput{ProductID: f.gadgetID, Qty: 1})); err != nil {
			t.Fatalf("Settle: %v", err)
		}
	}

	res, err := svc.audit.VerifyChain(ctx)
	if err != nil || !res.Valid || res.TotalChecked != 3 {
		t.Fatalf("chain before tampering = %+v, %v", res, err)
	}

	var secondID int64
	if err := f.pool.QueryRow(ctx, "SELECT id FROM audit_log ORDER BY created_at, id OFFSET 1 LIMIT 1").Scan(&secondID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.pool.Exec(ctx,
		`UPDATE audit_log SET payload = '{"grand_total":"1"}' WHERE id = $1`,
		secondID); err != nil {
		t.Fatal(err)
	}

	res, err = svc.audit.VerifyChain(ctx)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if res.Valid {
		t.Fatal("tampered chain verified as valid")
	}
	if res.BrokenAt == nil || *res.BrokenAt != secondID {
		t.Errorf("BrokenAt = %v, want %d", res.BrokenAt, secondID)
	}
	if res.TotalChecked != 2 {
		t.Errorf("TotalChecked = %d, want 2 (stops at first break)", res.TotalChecked)
	}
	var integrity *core.IntegrityError
	if !errors.As(res.Err(), &integrity) || !errors.Is(res.Err(), core.ErrIntegrity) {
		t.Errorf("Err() = %v, want IntegrityError", res.Err())
	}
}

func TestAuditChain_EmptyIsValid(t *testing.T) {
	f := setupTestDB(t)
	chain := core.NewAuditChain(core.NewPgAuditStore(f.pool), nil)

	res, err := chain.VerifyChain(context.Background())
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !res.Valid || res.TotalChecked != 0 {
		t.Errorf("empty chain = %+v", res)
	}
}
