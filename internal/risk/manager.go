package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"followtrader/internal/broker"
	"followtrader/internal/follow"
)

// Manager validates single order intents against the task's configured
// limits. It holds no state across calls beyond the market-price reference
// it is given.
type Manager struct {
	Prices broker.PriceSource
	Logger *zap.Logger
}

// Validate runs the checks in a fixed order and short-circuits on the first
// failure: price deviation, margin utilization, leverage, margin mode.
// usedMargin is the margin already committed by earlier intents in the same
// cycle.
func (m *Manager) Validate(intent broker.OrderIntent, opts follow.Options, usedMargin decimal.Decimal) *follow.Rejection {
	if rej := m.checkPriceDeviation(intent, opts); rej != nil {
		return m.logged(intent, rej)
	}
	if rej := checkMarginBudget(intent, opts, usedMargin); rej != nil {
		return m.logged(intent, rej)
	}
	if rej := checkLeverage(intent, opts); rej != nil {
		return m.logged(intent, rej)
	}
	if rej := checkMarginMode(intent, opts); rej != nil {
		return m.logged(intent, rej)
	}
	return nil
}

func (m *Manager) checkPriceDeviation(intent broker.OrderIntent, opts follow.Options) *follow.Rejection {
	if m == nil || m.Prices == nil {
		return nil
	}
	last, ok := m.Prices.LastPrice(intent.Symbol)
	if !ok || last.LessThanOrEqual(decimal.Zero) || intent.Price.LessThanOrEqual(decimal.Zero) {
		// No reference yet, be permissive; the executor refreshed prices
		// from REST before validation when it could.
		return nil
	}
	deviation := intent.Price.Sub(last).Abs().Div(last)
	if deviation.GreaterThan(opts.PriceTolerance) {
		return &follow.Rejection{
			Code: "price_deviation",
			Reason: fmt.Sprintf("intent price %s deviates %s from last %s (tolerance %s)",
				intent.Price.StringFixed(4), deviation.StringFixed(4), last.StringFixed(4), opts.PriceTolerance.String()),
		}
	}
	return nil
}

func checkMarginBudget(intent broker.OrderIntent, opts follow.Options, usedMargin decimal.Decimal) *follow.Rejection {
	if opts.TotalMargin.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	if intent.Action == broker.ActionClose {
		// Closing releases margin, it never consumes budget.
		return nil
	}
	if usedMargin.Add(intent.Margin).GreaterThan(opts.TotalMargin) {
		return &follow.Rejection{
			Code: "margin_budget",
			Reason: fmt.Sprintf("margin %s plus committed %s exceeds budget %s",
				intent.Margin.StringFixed(2), usedMargin.StringFixed(2), opts.TotalMargin.StringFixed(2)),
		}
	}
	return nil
}

func checkLeverage(intent broker.OrderIntent, opts follow.Options) *follow.Rejection {
	if intent.Leverage > opts.MaxLeverage {
		return &follow.Rejection{
			Code:   "leverage_cap",
			Reason: fmt.Sprintf("leverage %d exceeds cap %d", intent.Leverage, opts.MaxLeverage),
		}
	}
	return nil
}

func checkMarginMode(intent broker.OrderIntent, opts follow.Options) *follow.Rejection {
	if intent.MarginType != opts.MarginType {
		return &follow.Rejection{
			Code:   "margin_mode",
			Reason: fmt.Sprintf("intent margin mode %s does not match task %s", intent.MarginType, opts.MarginType),
		}
	}
	return nil
}

func (m *Manager) logged(intent broker.OrderIntent, rej *follow.Rejection) *follow.Rejection {
	if m != nil && m.Logger != nil {
		m.Logger.Debug("risk: reject intent",
			zap.String("symbol", intent.Symbol),
			zap.String("action", string(intent.Action)),
			zap.String("code", rej.Code),
			zap.String("reason", rej.Reason),
		)
	}
	return rej
}
