package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webAdapter "backoffice/internal/adapters/web"
	"backoffice/internal/app"
	"backoffice/internal/artifact"
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
	if len(keys) == 0 {
		logger.Warn("KEYVAULT_KEYS is not set; tenants with a signing credential cannot be signed")
	}

	txOpts := db.DefaultTxOptions
	txOpts.MaxRetries = cfg.Tx.MaxRetries

	q := queue.New(rdb, queue.Options{
		Workers:        cfg.Fiscal.Workers,
		MaxAttempts:    cfg.Fiscal.MaxAttempts,
		InitialBackoff: cfg.Fiscal.InitialBackoff,
		MaxBackoff:     cfg.Fiscal.MaxBackoff,
		LeaseTTL:       cfg.Fiscal.LeaseTTL,
	}, logger)

	audit := core.NewAuditChain(core.NewPgAuditStore(pool), logger)
	stock := core.NewStockLedger(pool, txOpts)

	pipeline := core.NewFiscalPipeline(core.NewPgFiscalStore(pool), core.FiscalPipelineConfig{
		Renderer:  fiscal.NewRenderer(cfg.Sale.CurrencyScale),
		Signer:    fiscal.NewCredentialSigner(keyvault.NewPgCredentialRepo(pool), keys),
		Authority: fiscal.NewStubAuthority(cfg.Sale.CurrencyScale),
		Artifacts: artifactStore(ctx, cfg, logger),
		Notifier:  outcomeNotifier(ctx, cfg, logger),
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

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := queue.NewWorker(q, pipeline).Run(ctx); err != nil {
			logger.WithError(err).Error("fiscal worker exited")
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           webAdapter.NewHandler(svc, cfg.AllowedOrigins, cfg.JWTSecret, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithField("port", cfg.ServerPort).Info("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server: %v", err)
	}
	<-workerDone
	logger.Info("server stopped")
}

// artifactStore prefers a GCS bucket, then a local directory. Without either,
// payloads and receipts are not persisted.
func artifactStore(ctx context.Context, cfg config.Config, logger *logrus.Logger) core.ArtifactStore {
	switch {
	case cfg.ArtifactBucket != "":
		client, err := artifact.NewGCSClient(ctx, cfg.GCPCredentialsJSON)
		if err != nil {
			logger.Fatalf("artifacts: %v", err)
		}
		store, err := artifact.NewGCSStore(ctx, client, cfg.ArtifactBucket)
		if err != nil {
			logger.Fatalf("artifacts: %v", err)
		}
		return store
	case cfg.ArtifactDir != "":
		store, err := artifact.NewDirStore(cfg.ArtifactDir)
		if err != nil {
			logger.Fatalf("artifacts: %v", err)
		}
		return store
	}
	logger.Warn("no artifact store configured")
	return nil
}

// outcomeNotifier publishes fiscal outcomes when a Pub/Sub topic is configured.
func outcomeNotifier(ctx context.Context, cfg config.Config, logger *logrus.Logger) core.FiscalNotifier {
	if cfg.PubSubProjectID == "" || cfg.FiscalTopic == "" {
		return nil
	}
	client, err := queue.NewPubSubClient(ctx, cfg.PubSubProjectID, cfg.GCPCredentialsJSON)
	if err != nil {
		logger.Fatalf("pubsub: %v", err)
	}
	topic, err := queue.CreateTopicIfNotExists(ctx, client, cfg.FiscalTopic)
	if err != nil {
		logger.Fatalf("pubsub: %v", err)
	}
	return queue.NewPubSubNotifier(topic, logger)
}
