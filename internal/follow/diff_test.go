package follow

import (
	"testing"

	"github.com/shopspring/decimal"

	"followtrader/internal/agent"
	"followtrader/internal/broker"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func baseOptions() Options {
	return Options{
		PriceTolerance: dec("0.01"),
		TotalMargin:    dec("1000"),
		MarginType:     broker.MarginIsolated,
		MaxLeverage:    10,
	}
}

func TestPlanOpensMissingTarget(t *testing.T) {
	plan := PlanIntents(PlanInput{
		Targets: []agent.TargetPosition{
			{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("2"), EntryPrice: dec("2500"), Leverage: 5},
		},
		Options:         baseOptions(),
		QuantityEpsilon: dec("0.001"),
	})
	if len(plan.Intents) != 1 {
		t.Fatalf("expected 1 intent, got %d", len(plan.Intents))
	}
	intent := plan.Intents[0]
	if intent.Action != broker.ActionOpen || intent.Symbol != "ETHUSDT" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if !intent.Quantity.Equal(dec("2")) {
		t.Fatalf("quantity = %s, want 2", intent.Quantity)
	}
	// 2 * 2500 / 5
	if !intent.Margin.Equal(dec("1000")) {
		t.Fatalf("margin = %s, want 1000", intent.Margin)
	}
}

func TestPlanClosesUntrackedPosition(t *testing.T) {
	plan := PlanIntents(PlanInput{
		Actual: []broker.Position{
			{Symbol: "BTCUSDT", Side: broker.SideLong, Quantity: dec("0.5"), EntryPrice: dec("60000"), MarkPrice: dec("61000"), Margin: dec("3000"), Leverage: 10},
		},
		Options:         baseOptions(),
		QuantityEpsilon: dec("0.001"),
	})
	if len(plan.Intents) != 1 {
		t.Fatalf("expected 1 intent, got %d", len(plan.Intents))
	}
	intent := plan.Intents[0]
	if intent.Action != broker.ActionClose || intent.Reason != "untracked" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if !intent.Quantity.Equal(dec("0.5")) {
		t.Fatalf("quantity = %s, want 0.5", intent.Quantity)
	}
}

func TestPlanQuantityEpsilon(t *testing.T) {
	actual := []broker.Position{
		{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("1.0"), EntryPrice: dec("2500"), Margin: dec("500"), Leverage: 5},
	}
	target := func(qty string) []agent.TargetPosition {
		return []agent.TargetPosition{
			{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec(qty), EntryPrice: dec("2500"), Leverage: 5},
		}
	}

	plan := PlanIntents(PlanInput{Targets: target("1.0005"), Actual: actual, Options: baseOptions(), QuantityEpsilon: dec("0.001")})
	if len(plan.Intents) != 0 {
		t.Fatalf("within-epsilon diff should be a no-op, got %+v", plan.Intents)
	}

	plan = PlanIntents(PlanInput{Targets: target("1.5"), Actual: actual, Options: baseOptions(), QuantityEpsilon: dec("0.001")})
	if len(plan.Intents) != 1 {
		t.Fatalf("expected 1 intent, got %d", len(plan.Intents))
	}
	if plan.Intents[0].Action != broker.ActionAdjust || !plan.Intents[0].Quantity.Equal(dec("0.5")) {
		t.Fatalf("unexpected intent %+v", plan.Intents[0])
	}
}

func TestPlanReducesWithPartialClose(t *testing.T) {
	plan := PlanIntents(PlanInput{
		Targets: []agent.TargetPosition{
			{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("1"), EntryPrice: dec("2500"), Leverage: 5},
		},
		Actual: []broker.Position{
			{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("3"), EntryPrice: dec("2500"), MarkPrice: dec("2500"), Margin: dec("1500"), Leverage: 5},
		},
		Options:         baseOptions(),
		QuantityEpsilon: dec("0.001"),
	})
	if len(plan.Intents) != 1 {
		t.Fatalf("expected 1 intent, got %d", len(plan.Intents))
	}
	intent := plan.Intents[0]
	if intent.Action != broker.ActionClose || intent.Reason != "reduce" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if !intent.Quantity.Equal(dec("2")) {
		t.Fatalf("quantity = %s, want 2", intent.Quantity)
	}
}

func TestPlanSideFlipClosesFirst(t *testing.T) {
	plan := PlanIntents(PlanInput{
		Targets: []agent.TargetPosition{
			{Symbol: "ETHUSDT", Side: broker.SideShort, Quantity: dec("1"), EntryPrice: dec("2500"), Leverage: 5},
		},
		Actual: []broker.Position{
			{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("1"), EntryPrice: dec("2400"), MarkPrice: dec("2500"), Margin: dec("480"), Leverage: 5},
		},
		Options:         baseOptions(),
		QuantityEpsilon: dec("0.001"),
	})
	if len(plan.Intents) != 1 {
		t.Fatalf("expected only the flatten, got %+v", plan.Intents)
	}
	if plan.Intents[0].Action != broker.ActionClose || plan.Intents[0].Reason != "side_flip" {
		t.Fatalf("unexpected intent %+v", plan.Intents[0])
	}
}

func TestPlanLeverageClamp(t *testing.T) {
	opts := baseOptions()
	opts.MaxLeverage = 5
	opts.TotalMargin = dec("10000")
	plan := PlanIntents(PlanInput{
		Targets: []agent.TargetPosition{
			{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("2"), EntryPrice: dec("2500"), Leverage: 20},
		},
		Options:         opts,
		QuantityEpsilon: dec("0.001"),
	})
	if len(plan.Intents) != 1 {
		t.Fatalf("expected 1 intent, got %d", len(plan.Intents))
	}
	intent := plan.Intents[0]
	if intent.Leverage != 5 {
		t.Fatalf("leverage = %d, want clamped 5", intent.Leverage)
	}
	// Margin recomputed with the clamped leverage: 2*2500/5.
	if !intent.Margin.Equal(dec("1000")) {
		t.Fatalf("margin = %s, want 1000", intent.Margin)
	}
}

func TestPlanBudgetAllocationProportional(t *testing.T) {
	opts := baseOptions()
	opts.TotalMargin = dec("500")
	plan := PlanIntents(PlanInput{
		Targets: []agent.TargetPosition{
			{Symbol: "BTCUSDT", Side: broker.SideLong, Quantity: dec("0.1"), EntryPrice: dec("60000"), Leverage: 10}, // margin 600
			{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("1"), EntryPrice: dec("4000"), Leverage: 10},   // margin 400
		},
		Options:         opts,
		QuantityEpsilon: dec("0.001"),
	})
	if len(plan.Intents) != 2 {
		t.Fatalf("expected 2 intents, got %d", len(plan.Intents))
	}
	// Largest first.
	if plan.Intents[0].Symbol != "BTCUSDT" {
		t.Fatalf("expected BTCUSDT first, got %s", plan.Intents[0].Symbol)
	}
	total := plan.Intents[0].Margin.Add(plan.Intents[1].Margin)
	if !total.Equal(dec("500")) {
		t.Fatalf("allocated margin = %s, want 500", total)
	}
	// 600/1000 and 400/1000 of the budget.
	if !plan.Intents[0].Margin.Equal(dec("300")) || !plan.Intents[1].Margin.Equal(dec("200")) {
		t.Fatalf("allocation = %s / %s, want 300 / 200", plan.Intents[0].Margin, plan.Intents[1].Margin)
	}
	// Quantities shrink with the margin.
	if !plan.Intents[0].Quantity.Equal(dec("0.05")) {
		t.Fatalf("scaled quantity = %s, want 0.05", plan.Intents[0].Quantity)
	}
}

func TestPlanBudgetTieBreakBySymbol(t *testing.T) {
	opts := baseOptions()
	opts.TotalMargin = dec("10000")
	plan := PlanIntents(PlanInput{
		Targets: []agent.TargetPosition{
			{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("1"), EntryPrice: dec("4000"), Leverage: 10},
			{Symbol: "BTCUSDT", Side: broker.SideLong, Quantity: dec("0.4"), EntryPrice: dec("10000"), Leverage: 10},
		},
		Options:         opts,
		QuantityEpsilon: dec("0.001"),
	})
	if len(plan.Intents) != 2 {
		t.Fatalf("expected 2 intents, got %d", len(plan.Intents))
	}
	if plan.Intents[0].Symbol != "BTCUSDT" || plan.Intents[1].Symbol != "ETHUSDT" {
		t.Fatalf("equal margins should order by symbol, got %s then %s",
			plan.Intents[0].Symbol, plan.Intents[1].Symbol)
	}
}

func TestPlanProfitTargetClosesAndWinsOverRebalance(t *testing.T) {
	opts := baseOptions()
	pt := dec("0.10")
	opts.ProfitTarget = &pt
	plan := PlanIntents(PlanInput{
		Targets: []agent.TargetPosition{
			{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("5"), EntryPrice: dec("2500"), Leverage: 5},
		},
		Actual: []broker.Position{
			{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("2"), EntryPrice: dec("2500"), MarkPrice: dec("2600"), Margin: dec("1000"), Leverage: 5, UnrealizedPnL: dec("200")},
		},
		Options:         opts,
		QuantityEpsilon: dec("0.001"),
	})
	if len(plan.Intents) != 1 {
		t.Fatalf("profit close should preempt the adjust, got %+v", plan.Intents)
	}
	if plan.Intents[0].Action != broker.ActionClose || plan.Intents[0].Reason != "profit_target" {
		t.Fatalf("unexpected intent %+v", plan.Intents[0])
	}
	if len(plan.ProfitClosed) != 1 || plan.ProfitClosed[0] != "ETHUSDT" {
		t.Fatalf("profit closed = %v", plan.ProfitClosed)
	}
}

func TestPlanProfitTargetUsesRealizedPnL(t *testing.T) {
	opts := baseOptions()
	pt := dec("0.10")
	opts.ProfitTarget = &pt
	plan := PlanIntents(PlanInput{
		Actual: []broker.Position{
			// Unrealized alone is under target; realized tips it over.
			{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("2"), EntryPrice: dec("2500"), MarkPrice: dec("2510"), Margin: dec("1000"), Leverage: 5, UnrealizedPnL: dec("20")},
		},
		Options:         opts,
		RealizedPnL:     func(string) decimal.Decimal { return dec("90") },
		QuantityEpsilon: dec("0.001"),
	})
	if len(plan.Intents) != 1 || plan.Intents[0].Reason != "profit_target" {
		t.Fatalf("expected profit close, got %+v", plan.Intents)
	}
}

func TestPlanSuppressedSymbolStaysClosed(t *testing.T) {
	targets := []agent.TargetPosition{
		{Symbol: "ETHUSDT", Side: broker.SideLong, Quantity: dec("2"), EntryPrice: dec("2500"), Leverage: 5},
	}
	suppressed := map[string]struct{}{"ETHUSDT": {}}

	plan := PlanIntents(PlanInput{Targets: targets, Options: baseOptions(), Suppressed: suppressed, QuantityEpsilon: dec("0.001")})
	if len(plan.Intents) != 0 {
		t.Fatalf("suppressed symbol should not reopen, got %+v", plan.Intents)
	}

	opts := baseOptions()
	opts.AutoRefollow = true
	plan = PlanIntents(PlanInput{Targets: targets, Options: opts, Suppressed: suppressed, QuantityEpsilon: dec("0.001")})
	if len(plan.Intents) != 1 || plan.Intents[0].Action != broker.ActionOpen {
		t.Fatalf("auto-refollow should reopen, got %+v", plan.Intents)
	}
}
