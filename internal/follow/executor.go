package follow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"followtrader/internal/agent"
	"followtrader/internal/broker"
	"followtrader/internal/models"
	"followtrader/internal/reconcile"
	"followtrader/internal/repository"
)

// FillLedger is the slice of the order ledger the executor needs: appending
// fills and reading realized PnL back for the profit-target check.
type FillLedger interface {
	Append(ctx context.Context, taskID, agentID string, fill broker.Fill) error
	RealizedPnL(ctx context.Context, agentID, symbol string) (decimal.Decimal, error)
}

// Executor runs one follow cycle: reconcile, diff, validate, execute,
// record. It is safe for concurrent use across agents; per-task overlap is
// the scheduler's job.
type Executor struct {
	Broker broker.Broker
	Gate   *reconcile.Gate
	Risk   RiskValidator
	Ledger FillLedger
	Repo   repository.Repository
	Prices *broker.PriceCache
	Logger *zap.Logger

	// QuantityEpsilon is the relative quantity deviation below which an
	// actual position counts as matching its target.
	QuantityEpsilon decimal.Decimal

	mu         sync.Mutex
	suppressed map[string]map[string]struct{}
}

// Run executes one cycle for an agent. A non-nil error means the cycle could
// not run at all (venue unreachable, credentials rejected); per-intent
// failures are reported inside the Result instead.
func (e *Executor) Run(ctx context.Context, taskID, agentID string, targets []agent.TargetPosition, opts Options) (*Result, error) {
	result := &Result{TaskID: taskID, AgentID: agentID, StartedAt: time.Now().UTC()}

	actual, err := e.Broker.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	decision := e.Gate.Check(ctx, agentID, actual)
	if !decision.Proceed {
		result.Status = StatusBlocked
		result.Divergences = decision.Divergences
		result.FinishedAt = time.Now().UTC()
		e.log().Warn("follow: cycle blocked by reconciliation",
			zap.String("agent_id", agentID),
			zap.String("state", string(decision.State)),
			zap.Int("divergences", len(decision.Divergences)),
		)
		return result, nil
	}

	plan := PlanIntents(PlanInput{
		Targets:         targets,
		Actual:          actual,
		Options:         opts,
		RealizedPnL:     e.realizedLookup(ctx, agentID),
		Suppressed:      e.suppressedFor(agentID),
		QuantityEpsilon: e.QuantityEpsilon,
	})
	result.Planned = plan.Intents

	if opts.RiskOnly {
		e.validateOnly(plan.Intents, opts, result)
		result.Status = StatusDryRun
		result.FinishedAt = time.Now().UTC()
		return result, nil
	}

	e.refreshPrices(ctx, plan.Intents)

	positions := positionIndex(actual)
	usedMargin := decimal.Zero
	var abort error
	for _, intent := range plan.Intents {
		if e.Risk != nil {
			if rej := e.Risk.Validate(intent, opts, usedMargin); rej != nil {
				result.Rejected = append(result.Rejected, RejectedIntent{Intent: intent, Rejection: *rej})
				continue
			}
		}
		fill, err := e.execute(ctx, taskID, agentID, intent, positions)
		if err != nil {
			if broker.IsCredential(err) {
				// Bad keys fail every subsequent order too; stop the cycle
				// and surface it so the operator notices.
				abort = err
				break
			}
			result.Failures = append(result.Failures, FailedIntent{
				Intent:    intent,
				Error:     err.Error(),
				Transient: broker.IsTransient(err),
			})
			continue
		}
		if intent.Action != broker.ActionClose {
			usedMargin = usedMargin.Add(intent.Margin)
		}
		result.Fills = append(result.Fills, fill)
	}

	e.updateSuppressed(agentID, plan, targets, opts)

	expected := applyFills(actual, result.Fills)
	e.Gate.Commit(agentID, expected)

	result.FinishedAt = time.Now().UTC()
	switch {
	case abort != nil:
		result.Status = StatusPartial
		return result, abort
	case len(result.Failures) > 0:
		result.Status = StatusPartial
	default:
		result.Status = StatusCompleted
	}
	e.log().Info("follow: cycle done",
		zap.String("agent_id", agentID),
		zap.String("status", string(result.Status)),
		zap.Int("planned", len(result.Planned)),
		zap.Int("fills", len(result.Fills)),
		zap.Int("rejected", len(result.Rejected)),
		zap.Int("failed", len(result.Failures)),
	)
	return result, nil
}

// validateOnly runs the risk checks without touching the venue.
func (e *Executor) validateOnly(intents []broker.OrderIntent, opts Options, result *Result) {
	usedMargin := decimal.Zero
	for _, intent := range intents {
		if e.Risk != nil {
			if rej := e.Risk.Validate(intent, opts, usedMargin); rej != nil {
				result.Rejected = append(result.Rejected, RejectedIntent{Intent: intent, Rejection: *rej})
				continue
			}
		}
		if intent.Action != broker.ActionClose {
			usedMargin = usedMargin.Add(intent.Margin)
		}
	}
}

func (e *Executor) execute(ctx context.Context, taskID, agentID string, intent broker.OrderIntent, positions map[string]broker.Position) (broker.Fill, error) {
	submittedAt := time.Now().UTC()
	audit := &models.Order{
		TaskID:      taskID,
		AgentID:     agentID,
		Symbol:      intent.Symbol,
		Side:        string(intent.Side),
		Action:      string(intent.Action),
		MarginType:  string(intent.MarginType),
		Quantity:    intent.Quantity,
		Price:       intent.Price,
		Margin:      intent.Margin,
		Leverage:    intent.Leverage,
		Status:      "pending",
		SubmittedAt: &submittedAt,
	}
	if e.Repo != nil {
		if err := e.Repo.InsertOrder(ctx, audit); err != nil {
			e.log().Error("follow: order audit insert failed", zap.Error(err))
		}
	}

	placed, err := e.Broker.PlaceOrder(ctx, intent)
	if err != nil {
		e.auditStatus(ctx, audit, "failed", map[string]any{"failure_reason": err.Error()})
		return broker.Fill{}, err
	}
	var fill broker.Fill
	if placed != nil {
		fill = *placed
	}

	if fill.RealizedPnL.IsZero() && intent.Action == broker.ActionClose {
		if pos, ok := positions[intent.Symbol]; ok {
			fill.RealizedPnL = realizedFor(pos, fill)
		}
	}

	now := time.Now().UTC()
	e.auditStatus(ctx, audit, "filled", map[string]any{
		"broker_order_id": fill.OrderID,
		"filled_at":       &now,
	})

	if e.Ledger != nil {
		if err := e.Ledger.Append(ctx, taskID, agentID, fill); err != nil {
			e.log().Error("follow: ledger append failed",
				zap.String("symbol", fill.Symbol),
				zap.Error(err),
			)
		}
	}
	return fill, nil
}

func (e *Executor) auditStatus(ctx context.Context, audit *models.Order, status string, updates map[string]any) {
	if e.Repo == nil || audit.ID == 0 {
		return
	}
	if err := e.Repo.UpdateOrderStatus(ctx, audit.ID, status, updates); err != nil {
		e.log().Error("follow: order audit update failed", zap.Uint64("order_id", audit.ID), zap.Error(err))
	}
}

// realizedLookup closes over the ledger so the planner stays pure. Lookup
// errors degrade to zero realized PnL.
func (e *Executor) realizedLookup(ctx context.Context, agentID string) func(symbol string) decimal.Decimal {
	if e.Ledger == nil {
		return nil
	}
	return func(symbol string) decimal.Decimal {
		pnl, err := e.Ledger.RealizedPnL(ctx, agentID, symbol)
		if err != nil {
			e.log().Warn("follow: realized pnl lookup failed",
				zap.String("agent_id", agentID),
				zap.String("symbol", symbol),
				zap.Error(err),
			)
			return decimal.Zero
		}
		return pnl
	}
}

func (e *Executor) suppressedFor(agentID string) map[string]struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	src := e.suppressed[agentID]
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(src))
	for symbol := range src {
		out[symbol] = struct{}{}
	}
	return out
}

// updateSuppressed remembers profit-taken symbols so they stay closed while
// the agent still advertises them, unless auto-refollow reopens them on the
// next cycle. Symbols the agent dropped are forgotten.
func (e *Executor) updateSuppressed(agentID string, plan Plan, targets []agent.TargetPosition, opts Options) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.suppressed == nil {
		e.suppressed = map[string]map[string]struct{}{}
	}
	set := e.suppressed[agentID]
	if set == nil {
		set = map[string]struct{}{}
		e.suppressed[agentID] = set
	}
	if opts.AutoRefollow {
		// Next cycle reopens anyway; nothing to carry.
		for symbol := range set {
			delete(set, symbol)
		}
		return
	}
	targeted := map[string]struct{}{}
	for _, target := range targets {
		targeted[target.Symbol] = struct{}{}
	}
	for _, symbol := range plan.ProfitClosed {
		if _, ok := targeted[symbol]; ok {
			set[symbol] = struct{}{}
		}
	}
	for symbol := range set {
		if _, ok := targeted[symbol]; !ok {
			delete(set, symbol)
		}
	}
}

// refreshPrices pulls a mark price for any planned symbol the stream has not
// delivered yet. Failures are tolerated; the risk check is permissive
// without a reference.
func (e *Executor) refreshPrices(ctx context.Context, intents []broker.OrderIntent) {
	if e.Prices == nil || e.Broker == nil {
		return
	}
	for _, intent := range intents {
		if _, ok := e.Prices.LastPrice(intent.Symbol); ok {
			continue
		}
		price, err := e.Broker.MarkPrice(ctx, intent.Symbol)
		if err != nil {
			e.log().Debug("follow: mark price fetch failed",
				zap.String("symbol", intent.Symbol),
				zap.Error(err),
			)
			continue
		}
		e.Prices.Set(intent.Symbol, price)
	}
}

func (e *Executor) log() *zap.Logger {
	if e == nil || e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func positionIndex(positions []broker.Position) map[string]broker.Position {
	out := make(map[string]broker.Position, len(positions))
	for _, pos := range positions {
		if pos.Symbol != "" {
			out[pos.Symbol] = pos
		}
	}
	return out
}

func realizedFor(pos broker.Position, fill broker.Fill) decimal.Decimal {
	diff := fill.Price.Sub(pos.EntryPrice)
	if pos.Side == broker.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(fill.Quantity)
}

// applyFills projects the executed fills onto the pre-cycle book to produce
// the snapshot the next reconciliation check expects.
func applyFills(actual []broker.Position, fills []broker.Fill) []broker.Position {
	book := map[string]broker.Position{}
	for _, pos := range actual {
		if pos.Symbol == "" || pos.Quantity.LessThanOrEqual(decimal.Zero) {
			continue
		}
		book[pos.Symbol] = pos
	}
	for _, fill := range fills {
		pos, held := book[fill.Symbol]
		switch fill.Action {
		case broker.ActionClose:
			if !held {
				continue
			}
			pos.Quantity = pos.Quantity.Sub(fill.Quantity)
			if pos.Quantity.LessThanOrEqual(decimal.Zero) {
				delete(book, fill.Symbol)
			} else {
				book[fill.Symbol] = pos
			}
		case broker.ActionOpen:
			book[fill.Symbol] = broker.Position{
				Symbol:     fill.Symbol,
				Side:       fill.Side,
				Quantity:   fill.Quantity,
				Leverage:   fill.Leverage,
				EntryPrice: fill.Price,
				Margin:     fill.Margin,
			}
		case broker.ActionAdjust:
			if !held {
				book[fill.Symbol] = broker.Position{
					Symbol:     fill.Symbol,
					Side:       fill.Side,
					Quantity:   fill.Quantity,
					Leverage:   fill.Leverage,
					EntryPrice: fill.Price,
					Margin:     fill.Margin,
				}
				continue
			}
			pos.Quantity = pos.Quantity.Add(fill.Quantity)
			pos.Margin = pos.Margin.Add(fill.Margin)
			book[fill.Symbol] = pos
		}
	}
	out := make([]broker.Position, 0, len(book))
	for _, pos := range book {
		out = append(out, pos)
	}
	return out
}
