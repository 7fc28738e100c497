package broker

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

type MarginType string

const (
	MarginIsolated MarginType = "ISOLATED"
	MarginCrossed  MarginType = "CROSSED"
)

type Action string

const (
	ActionOpen   Action = "OPEN"
	ActionAdjust Action = "ADJUST"
	ActionClose  Action = "CLOSE"
)

// Position is the brokerage-observed state for one symbol. It is refreshed
// from the venue every cycle and never persisted.
type Position struct {
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	Leverage      int
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	Margin        decimal.Decimal
	UnrealizedPnL decimal.Decimal
	TakeProfit    *decimal.Decimal
	StopLoss      *decimal.Decimal
}

// OrderIntent is a proposed order derived from a target-vs-actual diff.
// Quantity is always positive; Action says what it does to the position.
type OrderIntent struct {
	Symbol     string
	Side       Side
	Action     Action
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Margin     decimal.Decimal
	Leverage   int
	MarginType MarginType
	Reason     string
}

type Fill struct {
	Symbol      string
	Side        Side
	Action      Action
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	Margin      decimal.Decimal
	Leverage    int
	Fee         decimal.Decimal
	RealizedPnL decimal.Decimal
	OrderID     string
	FilledAt    time.Time
}
