package follow

import (
	"sort"

	"github.com/shopspring/decimal"

	"followtrader/internal/agent"
	"followtrader/internal/broker"
)

// PlanInput is everything the pure planner needs for one cycle.
type PlanInput struct {
	Targets []agent.TargetPosition
	Actual  []broker.Position
	Options Options

	// RealizedPnL looks up cumulative realized PnL for a symbol (profit
	// target check). May be nil.
	RealizedPnL func(symbol string) decimal.Decimal

	// Suppressed holds symbols previously closed by profit taking; they are
	// not reopened unless AutoRefollow is set.
	Suppressed map[string]struct{}

	// QuantityEpsilon is the relative quantity deviation treated as noise.
	QuantityEpsilon decimal.Decimal
}

// Plan is the planner's output: a bounded, ordered set of intents plus the
// symbols whose positions were closed for profit this cycle.
type Plan struct {
	Intents      []broker.OrderIntent
	ProfitClosed []string
}

// PlanIntents turns a target-vs-actual diff into order intents. Closes come
// first (profit target, then untracked positions, then reductions), opens
// and increases after, budget-capped and leverage-clamped. The function is
// pure so every policy is testable without a venue.
func PlanIntents(in PlanInput) Plan {
	actualBySymbol := map[string]broker.Position{}
	for _, pos := range in.Actual {
		if pos.Symbol == "" || pos.Quantity.LessThanOrEqual(decimal.Zero) {
			continue
		}
		actualBySymbol[pos.Symbol] = pos
	}
	targetBySymbol := map[string]agent.TargetPosition{}
	for _, target := range in.Targets {
		if target.Symbol == "" || target.Quantity.LessThanOrEqual(decimal.Zero) {
			continue
		}
		targetBySymbol[target.Symbol] = target
	}

	var closes []broker.OrderIntent
	var opens []broker.OrderIntent
	profitTaken := map[string]struct{}{}
	var profitClosed []string

	// Profit taking first: it wins over rebalancing for the same symbol.
	if in.Options.ProfitTarget != nil {
		for _, symbol := range sortedSymbols(actualBySymbol) {
			pos := actualBySymbol[symbol]
			if !profitTargetHit(pos, in.realized(symbol), *in.Options.ProfitTarget) {
				continue
			}
			closes = append(closes, closeIntent(pos, in.Options, "profit_target"))
			profitTaken[symbol] = struct{}{}
			profitClosed = append(profitClosed, symbol)
		}
	}

	// Actual positions the agent no longer holds get closed.
	for _, symbol := range sortedSymbols(actualBySymbol) {
		if _, taken := profitTaken[symbol]; taken {
			continue
		}
		if _, wanted := targetBySymbol[symbol]; wanted {
			continue
		}
		closes = append(closes, closeIntent(actualBySymbol[symbol], in.Options, "untracked"))
	}

	// Targets absent or short on the venue get opened or adjusted.
	for _, symbol := range sortedTargetSymbols(targetBySymbol) {
		if _, taken := profitTaken[symbol]; taken {
			continue
		}
		target := targetBySymbol[symbol]
		pos, held := actualBySymbol[symbol]
		if !held {
			if _, suppressed := in.Suppressed[symbol]; suppressed && !in.Options.AutoRefollow {
				continue
			}
			opens = append(opens, openIntent(target, in.Options))
			continue
		}
		if pos.Side != target.Side {
			// Side flip: flatten now, mirror the new side on the next cycle.
			closes = append(closes, closeIntent(pos, in.Options, "side_flip"))
			continue
		}
		delta := target.Quantity.Sub(pos.Quantity)
		if withinEpsilon(pos.Quantity, target.Quantity, in.QuantityEpsilon) {
			continue
		}
		if delta.IsPositive() {
			opens = append(opens, adjustIntent(target, pos, delta, in.Options))
		} else {
			reduce := closeIntent(pos, in.Options, "reduce")
			reduce.Quantity = delta.Neg()
			closes = append(closes, reduce)
		}
	}

	opens = allocateBudget(opens, in.Options.TotalMargin)

	return Plan{Intents: append(closes, opens...), ProfitClosed: profitClosed}
}

func (in PlanInput) realized(symbol string) decimal.Decimal {
	if in.RealizedPnL == nil {
		return decimal.Zero
	}
	return in.RealizedPnL(symbol)
}

// profitTargetHit checks realized+unrealized PnL against the target as a
// fraction of committed margin.
func profitTargetHit(pos broker.Position, realized, target decimal.Decimal) bool {
	if pos.Margin.LessThanOrEqual(decimal.Zero) {
		return false
	}
	pnl := realized.Add(pos.UnrealizedPnL)
	return pnl.Div(pos.Margin).GreaterThanOrEqual(target)
}

func closeIntent(pos broker.Position, opts Options, reason string) broker.OrderIntent {
	price := pos.MarkPrice
	if price.LessThanOrEqual(decimal.Zero) {
		price = pos.EntryPrice
	}
	return broker.OrderIntent{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Action:     broker.ActionClose,
		Quantity:   pos.Quantity,
		Price:      price,
		Margin:     pos.Margin,
		Leverage:   clampLeverage(pos.Leverage, opts.MaxLeverage),
		MarginType: opts.MarginType,
		Reason:     reason,
	}
}

func openIntent(target agent.TargetPosition, opts Options) broker.OrderIntent {
	leverage := clampLeverage(target.Leverage, opts.MaxLeverage)
	return broker.OrderIntent{
		Symbol:     target.Symbol,
		Side:       target.Side,
		Action:     broker.ActionOpen,
		Quantity:   target.Quantity,
		Price:      target.EntryPrice,
		Margin:     marginFor(target.Quantity, target.EntryPrice, leverage),
		Leverage:   leverage,
		MarginType: opts.MarginType,
		Reason:     "open",
	}
}

func adjustIntent(target agent.TargetPosition, pos broker.Position, delta decimal.Decimal, opts Options) broker.OrderIntent {
	leverage := clampLeverage(target.Leverage, opts.MaxLeverage)
	price := target.EntryPrice
	if price.LessThanOrEqual(decimal.Zero) {
		price = pos.MarkPrice
	}
	return broker.OrderIntent{
		Symbol:     target.Symbol,
		Side:       target.Side,
		Action:     broker.ActionAdjust,
		Quantity:   delta,
		Price:      price,
		Margin:     marginFor(delta, price, leverage),
		Leverage:   leverage,
		MarginType: opts.MarginType,
		Reason:     "increase",
	}
}

func clampLeverage(leverage, max int) int {
	if leverage <= 0 {
		leverage = 1
	}
	if max > 0 && leverage > max {
		return max
	}
	return leverage
}

func marginFor(quantity, price decimal.Decimal, leverage int) decimal.Decimal {
	if leverage <= 0 {
		leverage = 1
	}
	return quantity.Mul(price).Div(decimal.NewFromInt(int64(leverage)))
}

// allocateBudget scales margin-consuming intents proportionally when their
// sum would exceed the budget, largest intent first for deterministic
// ordering when weights tie.
func allocateBudget(intents []broker.OrderIntent, totalMargin decimal.Decimal) []broker.OrderIntent {
	if len(intents) == 0 {
		return intents
	}
	sort.SliceStable(intents, func(i, j int) bool {
		if !intents[i].Margin.Equal(intents[j].Margin) {
			return intents[i].Margin.GreaterThan(intents[j].Margin)
		}
		return intents[i].Symbol < intents[j].Symbol
	})
	if totalMargin.LessThanOrEqual(decimal.Zero) {
		return intents
	}
	sum := decimal.Zero
	for _, intent := range intents {
		sum = sum.Add(intent.Margin)
	}
	if sum.LessThanOrEqual(totalMargin) {
		return intents
	}
	scale := totalMargin.Div(sum)
	for i := range intents {
		intents[i].Margin = intents[i].Margin.Mul(scale)
		intents[i].Quantity = intents[i].Quantity.Mul(scale)
	}
	return intents
}

func withinEpsilon(actual, target, epsilon decimal.Decimal) bool {
	diff := target.Sub(actual).Abs()
	if target.IsZero() {
		return diff.IsZero()
	}
	return diff.Div(target.Abs()).LessThanOrEqual(epsilon)
}

func sortedSymbols(positions map[string]broker.Position) []string {
	out := make([]string, 0, len(positions))
	for symbol := range positions {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func sortedTargetSymbols(targets map[string]agent.TargetPosition) []string {
	out := make([]string, 0, len(targets))
	for symbol := range targets {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}
