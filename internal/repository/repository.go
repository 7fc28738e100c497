package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"followtrader/internal/models"
)

// Repository is the persistence boundary for the follow core. The task
// registry is deliberately not here: tasks are volatile and owned by the
// scheduler. Only the order ledger and its audit trail are durable.
type Repository interface {
	// Order ledger.
	InsertFill(ctx context.Context, item *models.Fill) error
	ListFills(ctx context.Context, params ListFillsParams) ([]models.Fill, error)
	CountFills(ctx context.Context, params ListFillsParams) (int64, error)
	SumRealizedPnL(ctx context.Context, agentID, symbol string) (decimal.Decimal, error)

	// Order intent audit.
	InsertOrder(ctx context.Context, item *models.Order) error
	GetOrderByID(ctx context.Context, id uint64) (*models.Order, error)
	ListOrders(ctx context.Context, params ListOrdersParams) ([]models.Order, error)
	CountOrders(ctx context.Context, params ListOrdersParams) (int64, error)
	UpdateOrderStatus(ctx context.Context, id uint64, status string, updates map[string]any) error

	// Realized-PnL rebase offsets (rebuild_history).
	UpsertPnLBaseline(ctx context.Context, item *models.PnLBaseline) error
	GetPnLBaseline(ctx context.Context, agentID, symbol string) (*models.PnLBaseline, error)

	// Reconciliation audit trail.
	InsertReconcileEvent(ctx context.Context, item *models.ReconcileEvent) error
	ListReconcileEvents(ctx context.Context, params ListReconcileEventsParams) ([]models.ReconcileEvent, error)
	DeleteReconcileEventsBefore(ctx context.Context, before time.Time) (int64, error)

	// Portfolio snapshots (housekeeping cron).
	InsertPortfolioSnapshot(ctx context.Context, item *models.PortfolioSnapshot) error
	ListPortfolioSnapshots(ctx context.Context, params ListPortfolioSnapshotsParams) ([]models.PortfolioSnapshot, error)
}

type ListFillsParams struct {
	Limit   int
	Offset  int
	AgentID *string
	TaskID  *string
	Symbol  *string
	Since   *time.Time
	OrderBy string
	Asc     *bool
}

type ListOrdersParams struct {
	Limit   int
	Offset  int
	AgentID *string
	TaskID  *string
	Symbol  *string
	Status  *string
	OrderBy string
	Asc     *bool
}

type ListReconcileEventsParams struct {
	Limit   int
	Offset  int
	AgentID *string
	Kind    *string
	Since   *time.Time
	OrderBy string
	Asc     *bool
}

type ListPortfolioSnapshotsParams struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}
