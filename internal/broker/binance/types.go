package binance

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"followtrader/internal/broker"
)

type positionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
	IsolatedMargin   string `json:"isolatedMargin"`
	MarginType       string `json:"marginType"`
	PositionSide     string `json:"positionSide"`
}

func (r positionRisk) toPosition() (broker.Position, bool) {
	qty := parseDecimal(r.PositionAmt)
	if qty.IsZero() {
		return broker.Position{}, false
	}
	side := broker.SideLong
	if qty.IsNegative() {
		side = broker.SideShort
		qty = qty.Neg()
	}
	if strings.EqualFold(r.PositionSide, "SHORT") {
		side = broker.SideShort
	}
	leverage := int(parseDecimal(r.Leverage).IntPart())
	if leverage <= 0 {
		leverage = 1
	}
	return broker.Position{
		Symbol:        strings.ToUpper(strings.TrimSpace(r.Symbol)),
		Side:          side,
		Quantity:      qty,
		Leverage:      leverage,
		EntryPrice:    parseDecimal(r.EntryPrice),
		MarkPrice:     parseDecimal(r.MarkPrice),
		Margin:        parseDecimal(r.IsolatedMargin),
		UnrealizedPnL: parseDecimal(r.UnRealizedProfit),
	}, true
}

type orderResponse struct {
	OrderID     int64  `json:"orderId"`
	Status      string `json:"status"`
	AvgPrice    string `json:"avgPrice"`
	ExecutedQty string `json:"executedQty"`
	UpdateTime  int64  `json:"updateTime"`
}

func (r orderResponse) toFill(intent broker.OrderIntent) *broker.Fill {
	price := parseDecimal(r.AvgPrice)
	if price.IsZero() {
		price = intent.Price
	}
	qty := parseDecimal(r.ExecutedQty)
	if qty.IsZero() {
		qty = intent.Quantity
	}
	filledAt := time.Now().UTC()
	if r.UpdateTime > 0 {
		filledAt = time.UnixMilli(r.UpdateTime).UTC()
	}
	return &broker.Fill{
		Symbol:   intent.Symbol,
		Side:     intent.Side,
		Action:   intent.Action,
		Quantity: qty,
		Price:    price,
		Margin:   intent.Margin,
		Leverage: intent.Leverage,
		Fee:      decimal.Zero,
		OrderID:  strings.TrimSpace(intString(r.OrderID)),
		FilledAt: filledAt,
	}
}

type premiumIndex struct {
	Symbol    string `json:"symbol"`
	MarkPrice string `json:"markPrice"`
}

func parseDecimal(raw string) decimal.Decimal {
	val, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return val
}

func intString(v int64) string {
	if v == 0 {
		return ""
	}
	return decimal.NewFromInt(v).String()
}
