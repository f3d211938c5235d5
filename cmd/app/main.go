package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"backoffice/internal/adapters/cli"
	"backoffice/internal/app"
	"backoffice/internal/cache"
	"backoffice/internal/config"
	"backoffice/internal/core"
	"backoffice/internal/db"
	"backoffice/internal/fiscal"
	"backoffice/internal/keyvault"
	"backoffice/internal/logging"
	"backoffice/internal/queue"

	"github.com/sirupsen/logrus"
)

// app is the operator command line. It shares the server's wiring but never
// runs the fiscal worker; resubmitted documents are picked up by the server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer pool.Close()

	rdb, err := cache.NewClient(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	keys, err := keyvault.ParseKeys(cfg.KeyVaultKeys)
	if err != nil {
		logger.Fatalf("keyvault: %v", err)
	}

	txOpts := db.DefaultTxOptions
	txOpts.MaxRetries = cfg.Tx.MaxRetries

	q := queue.New(rdb, queue.Options{MaxAttempts: cfg.Fiscal.MaxAttempts}, logger)
	audit := core.NewAuditChain(core.NewPgAuditStore(pool), logger)
	stock := core.NewStockLedger(pool, txOpts)
	pipeline := core.NewFiscalPipeline(core.NewPgFiscalStore(pool), core.FiscalPipelineConfig{
		Renderer:  fiscal.NewRenderer(cfg.Sale.CurrencyScale),
		Signer:    fiscal.NewCredentialSigner(keyvault.NewPgCredentialRepo(pool), keys),
		Authority: fiscal.NewStubAuthority(cfg.Sale.CurrencyScale),
		Audit:     audit,
		Enqueuer:  q,
		Logger:    logger,
	})
	sales := core.NewSaleService(pool, stock, core.SaleServiceConfig{
		Limits: core.SaleLimits{
			MaxItems:      cfg.Sale.MaxItems,
			MaxQty:        cfg.Sale.MaxQty,
			CurrencyScale: cfg.Sale.CurrencyScale,
		},
		TxOptions: txOpts,
		Readiness: core.NewFiscalReadiness(pool),
		Audit:     audit,
		Enqueuer:  q,
		Cache:     cache.NewListCache(rdb, cfg.Cache.TTL),
		Logger:    logger,
	})
	svc := app.NewAppService(pool, sales, stock, pipeline, audit, q, logger)

	if err := cli.Run(ctx, svc, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, cli.ErrUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
