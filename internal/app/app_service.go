package app

import (
	"context"

	"backoffice/internal/core"
	"backoffice/internal/logging"
	"backoffice/internal/queue"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// QueueMonitor exposes queue depths for health reporting.
type QueueMonitor interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

type appService struct {
	pool     *pgxpool.Pool
	sales    core.SaleService
	stock    core.StockLedger
	pipeline core.FiscalPipeline
	audit    core.AuditChain
	queue    QueueMonitor
	logger   *logrus.Logger
}

// NewAppService constructs an appService that satisfies ApplicationService.
// monitor may be nil.
func NewAppService(
	pool *pgxpool.Pool,
	sales core.SaleService,
	stock core.StockLedger,
	pipeline core.FiscalPipeline,
	audit core.AuditChain,
	monitor QueueMonitor,
	logger *logrus.Logger,
) ApplicationService {
	return &appService{
		pool:     pool,
		sales:    sales,
		stock:    stock,
		pipeline: pipeline,
		audit:    audit,
		queue:    monitor,
		logger:   logger,
	}
}

// ── Sales ─────────────────────────────────────────────────────────────────────

func (s *appService) Settle(ctx context.Context, req core.SettleRequest) (*SaleResult, error) {
	sale, err := s.sales.Settle(ctx, req)
	if err != nil {
		return nil, err
	}
	return &SaleResult{Sale: sale}, nil
}

func (s *appService) ConvertQuote(ctx context.Context, req core.ConvertQuoteRequest) (*SaleResult, error) {
	sale, err := s.sales.ConvertQuote(ctx, req)
	if err != nil {
		return nil, err
	}
	return &SaleResult{Sale: sale}, nil
}

func (s *appService) ReceivePurchaseOrder(ctx context.Context, tenantID, purchaseOrderID int64, actorID string) (*PurchaseOrderResult, error) {
	po, err := s.sales.ReceivePurchaseOrder(ctx, tenantID, purchaseOrderID, actorID)
	if err != nil {
		return nil, err
	}
	return &PurchaseOrderResult{PurchaseOrder: po}, nil
}

func (s *appService) GetSale(ctx context.Context, tenantID, saleID int64) (*SaleResult, error) {
	sale, err := s.sales.GetSale(ctx, tenantID, saleID)
	if err != nil {
		return nil, err
	}
	return &SaleResult{Sale: sale}, nil
}

func (s *appService) ListSales(ctx context.Context, tenantID int64, page int) (*SaleListResult, error) {
	if page < 1 {
		page = 1
	}
	sales, err := s.sales.ListSales(ctx, tenantID, page)
	if err != nil {
		return nil, err
	}
	if sales == nil {
		sales = []core.Sale{}
	}
	return &SaleListResult{TenantID: tenantID, Page: page, Sales: sales}, nil
}

// ── Inventory ─────────────────────────────────────────────────────────────────

func (s *appService) GetStockLevels(ctx context.Context, tenantID int64) (*StockResult, error) {
	balances, err := s.stock.ListBalances(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if balances == nil {
		balances = []core.StockBalance{}
	}
	return &StockResult{TenantID: tenantID, Balances: balances}, nil
}

// ── Fiscal ────────────────────────────────────────────────────────────────────

func (s *appService) FiscalStatus(ctx context.Context, tenantID, documentID int64) (*core.FiscalStatusView, error) {
	return s.pipeline.Status(ctx, tenantID, documentID)
}

func (s *appService) FiscalEvents(ctx context.Context, tenantID, documentID int64) (*FiscalEventsResult, error) {
	events, err := s.pipeline.Events(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []core.FiscalEvent{}
	}
	return &FiscalEventsResult{DocumentID: documentID, Events: events}, nil
}

func (s *appService) ResubmitFiscal(ctx context.Context, tenantID, documentID int64) error {
	return s.pipeline.Resubmit(ctx, tenantID, documentID)
}

// ── Audit / health ────────────────────────────────────────────────────────────

func (s *appService) VerifyAudit(ctx context.Context) (*core.VerifyResult, error) {
	return s.audit.VerifyChain(ctx)
}

func (s *appService) Health(ctx context.Context) *HealthResult {
	res := &HealthResult{Status: "ok", Database: "ok"}
	if err := s.pool.Ping(ctx); err != nil {
		logging.LogError(s.logger, "AppService", "Health", "database ping failed", nil, err)
		res.Status = "degraded"
		res.Database = "unreachable"
	}
	if s.queue != nil {
		stats, err := s.queue.Stats(ctx)
		if err != nil {
			logging.LogError(s.logger, "AppService", "Health", "queue stats failed", nil, err)
			res.Status = "degraded"
		} else {
			res.Queue = &stats
		}
	}
	return res
}
