// seed-demo creates a tenant that can sell and issue invoices right away:
// fiscal settings, a small catalog with opening stock and an open cash
// session. With -credential the PEM key is encrypted with the newest
// keyvault key and stored as the tenant's signing credential.
//
// Usage: go run ./cmd/seed-demo [-credential key.pem]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	webAdapter "backoffice/internal/adapters/web"
	"backoffice/internal/config"
	"backoffice/internal/core"
	"backoffice/internal/db"
	"backoffice/internal/fiscal"
	"backoffice/internal/keyvault"
	"backoffice/internal/logging"

	"github.com/sirupsen/logrus"
)

func main() {
	credPath := flag.String("credential", "", "PEM encoded RSA signing key for the tenant")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.LogLevel)
	log := logger.WithField("module", "SeedDemo")

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	var tenantID, sessionID int64
	if err := tx.QueryRow(ctx,
		"INSERT INTO tenants (name) VALUES ('Demo Store') RETURNING id",
	).Scan(&tenantID); err != nil {
		log.Fatalf("failed to create tenant: %v", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO tenant_fiscal_settings (tenant_id, invoice_prefix, resolution_number, range_from, range_to)
		VALUES ($1, 'FE', '18760000001', 1, 5000)
	`, tenantID); err != nil {
		log.Fatalf("failed to create fiscal settings: %v", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO products (tenant_id, code, name, unit_price, tax_rate)
		SELECT $1, p.code, p.name, p.price, p.tax
		FROM (VALUES
		    ('SKU-001', 'Coffee beans 500g', 24000::numeric, 19::numeric),
		    ('SKU-002', 'Paper filters x100', 8500::numeric, 19::numeric),
		    ('SKU-003', 'Ceramic mug',        15000::numeric, 0::numeric)
		) AS p(code, name, price, tax)
	`, tenantID); err != nil {
		log.Fatalf("failed to create products: %v", err)
	}

	if err := tx.QueryRow(ctx, `
		INSERT INTO cash_sessions (tenant_id, opening_amount, opened_at)
		VALUES ($1, 100000, NOW()) RETURNING id
	`, tenantID).Scan(&sessionID); err != nil {
		log.Fatalf("failed to open cash session: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("failed to commit: %v", err)
	}

	stock := core.NewStockLedger(pool, db.DefaultTxOptions)
	rows, err := pool.Query(ctx, "SELECT id FROM products WHERE tenant_id = $1 ORDER BY id", tenantID)
	if err != nil {
		log.Fatalf("failed to list products: %v", err)
	}
	var productIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			log.Fatalf("failed to scan product: %v", err)
		}
		productIDs = append(productIDs, id)
	}
	rows.Close()
	for _, id := range productIDs {
		if _, err := stock.Adjust(ctx, tenantID, id, 50); err != nil {
			log.Fatalf("failed to set opening stock: %v", err)
		}
	}

	if *credPath != "" {
		storeCredential(ctx, log, cfg, keyvault.NewPgCredentialRepo(pool), tenantID, *credPath)
	}

	fmt.Printf("tenant_id:       %d\n", tenantID)
	fmt.Printf("cash_session_id: %d\n", sessionID)
	fmt.Printf("product_ids:     %v\n", productIDs)
	if cfg.JWTSecret != "" {
		token, err := webAdapter.IssueToken(cfg.JWTSecret, tenantID, "demo-cashier", 24*time.Hour)
		if err != nil {
			log.Fatalf("failed to issue token: %v", err)
		}
		fmt.Printf("token:           %s\n", token)
	}
}

func storeCredential(ctx context.Context, log *logrus.Entry, cfg config.Config, repo *keyvault.PgCredentialRepo, tenantID int64, path string) {
	pemBytes, err := os.ReadFile(path) // #nosec G304 - operator supplied
	if err != nil {
		log.Fatalf("failed to read credential: %v", err)
	}
	key, err := fiscal.ParsePrivateKey(pemBytes)
	if err != nil {
		log.Fatalf("invalid credential: %v", err)
	}
	fingerprint, err := fiscal.Fingerprint(&key.PublicKey)
	if err != nil {
		log.Fatalf("invalid credential: %v", err)
	}

	keys, err := keyvault.ParseKeys(cfg.KeyVaultKeys)
	if err != nil || len(keys) == 0 {
		log.Fatalf("KEYVAULT_KEYS must hold at least one key: %v", err)
	}
	blob, err := keyvault.Encrypt(pemBytes, keys[0])
	if err != nil {
		log.Fatalf("failed to encrypt credential: %v", err)
	}
	if err := repo.SetCredential(ctx, tenantID, blob, fingerprint); err != nil {
		log.Fatalf("failed to store credential: %v", err)
	}
	log.WithField("fingerprint", fingerprint).Info("signing credential stored")
}
