package follow

import (
	"github.com/shopspring/decimal"

	"followtrader/internal/apperr"
	"followtrader/internal/broker"
)

// Options configure how one agent's book is mirrored. They ride on the task
// and are validated once at the boundary.
type Options struct {
	PriceTolerance decimal.Decimal   `json:"price_tolerance"`
	TotalMargin    decimal.Decimal   `json:"total_margin"`
	ProfitTarget   *decimal.Decimal  `json:"profit_target,omitempty"`
	AutoRefollow   bool              `json:"auto_refollow"`
	MarginType     broker.MarginType `json:"margin_type"`
	MaxLeverage    int               `json:"max_leverage"`
	RiskOnly       bool              `json:"risk_only"`
}

func (o Options) Validate() error {
	if o.PriceTolerance.LessThanOrEqual(decimal.Zero) {
		return apperr.Validationf("price_tolerance must be a positive fraction")
	}
	if o.TotalMargin.IsNegative() {
		return apperr.Validationf("total_margin must be non-negative")
	}
	if o.ProfitTarget != nil && o.ProfitTarget.LessThanOrEqual(decimal.Zero) {
		return apperr.Validationf("profit_target must be a positive fraction when set")
	}
	if o.MarginType != broker.MarginIsolated && o.MarginType != broker.MarginCrossed {
		return apperr.Validationf("margin_type must be ISOLATED or CROSSED")
	}
	if o.MaxLeverage <= 0 {
		return apperr.Validationf("max_leverage must be a positive integer")
	}
	return nil
}
