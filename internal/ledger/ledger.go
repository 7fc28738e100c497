package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"followtrader/internal/broker"
	"followtrader/internal/models"
	"followtrader/internal/repository"
)

// Ledger is the append-only record of executed fills. Profit-target and
// auto-refollow decisions read realized PnL back out of it; nothing ever
// updates or deletes a fill row.
type Ledger struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

func (l *Ledger) Append(ctx context.Context, taskID, agentID string, fill broker.Fill) error {
	if l == nil || l.Repo == nil {
		return nil
	}
	item := &models.Fill{
		TaskID:      taskID,
		AgentID:     agentID,
		Symbol:      fill.Symbol,
		Side:        string(fill.Side),
		Action:      string(fill.Action),
		Quantity:    fill.Quantity,
		Price:       fill.Price,
		Margin:      fill.Margin,
		Leverage:    fill.Leverage,
		Fee:         fill.Fee,
		RealizedPnL: fill.RealizedPnL,
		FilledAt:    fill.FilledAt,
		CreatedAt:   time.Now().UTC(),
	}
	if item.FilledAt.IsZero() {
		item.FilledAt = item.CreatedAt
	}
	if err := l.Repo.InsertFill(ctx, item); err != nil {
		return err
	}
	if l.Logger != nil {
		l.Logger.Debug("ledger: fill appended",
			zap.String("agent_id", agentID),
			zap.String("symbol", fill.Symbol),
			zap.String("action", string(fill.Action)),
			zap.String("quantity", fill.Quantity.String()),
		)
	}
	return nil
}

// RealizedPnL returns the cumulative realized PnL for an agent/symbol since
// the last rebase.
func (l *Ledger) RealizedPnL(ctx context.Context, agentID, symbol string) (decimal.Decimal, error) {
	if l == nil || l.Repo == nil {
		return decimal.Zero, nil
	}
	sum, err := l.Repo.SumRealizedPnL(ctx, agentID, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	baseline, err := l.Repo.GetPnLBaseline(ctx, agentID, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if baseline == nil {
		return sum, nil
	}
	return sum.Sub(baseline.Offset), nil
}

// Rebase discards prior profit attribution for the agent: for every symbol
// in the adopted snapshot the current cumulative sum becomes the new zero
// point. Called by the gate's rebuild_history resolution.
func (l *Ledger) Rebase(ctx context.Context, agentID string, positions []broker.Position) error {
	if l == nil || l.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	for _, pos := range positions {
		if pos.Symbol == "" {
			continue
		}
		sum, err := l.Repo.SumRealizedPnL(ctx, agentID, pos.Symbol)
		if err != nil {
			return err
		}
		if err := l.Repo.UpsertPnLBaseline(ctx, &models.PnLBaseline{
			AgentID:   agentID,
			Symbol:    pos.Symbol,
			Offset:    sum,
			RebasedAt: now,
		}); err != nil {
			return err
		}
	}
	if l.Logger != nil {
		l.Logger.Info("ledger: rebased",
			zap.String("agent_id", agentID),
			zap.Int("symbols", len(positions)),
		)
	}
	return nil
}

// SnapshotPortfolio persists an aggregate view of the current brokerage
// positions; a housekeeping cron job calls it hourly.
func (l *Ledger) SnapshotPortfolio(ctx context.Context, positions []broker.Position) error {
	if l == nil || l.Repo == nil {
		return nil
	}
	totalMargin := decimal.Zero
	unrealized := decimal.Zero
	open := 0
	for _, pos := range positions {
		if pos.Quantity.LessThanOrEqual(decimal.Zero) {
			continue
		}
		open++
		totalMargin = totalMargin.Add(pos.Margin)
		unrealized = unrealized.Add(pos.UnrealizedPnL)
	}
	return l.Repo.InsertPortfolioSnapshot(ctx, &models.PortfolioSnapshot{
		OpenPositions: open,
		TotalMargin:   totalMargin,
		UnrealizedPnL: unrealized,
		TakenAt:       time.Now().UTC(),
	})
}
