package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is one executed order against the brokerage. Rows are append-only;
// profit attribution reads them back per agent and symbol.
type Fill struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	TaskID  string `gorm:"type:varchar(64);not null;index"`
	AgentID string `gorm:"type:varchar(100);not null;index"`
	Symbol  string `gorm:"type:varchar(30);not null;index"`

	Side   string `gorm:"type:varchar(10);not null"`
	Action string `gorm:"type:varchar(10);not null"`

	Quantity    decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Price       decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	Margin      decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Leverage    int             `gorm:"not null;default:1"`
	Fee         decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	RealizedPnL decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10);not null;default:0"`

	FilledAt  time.Time `gorm:"type:timestamptz;not null;index"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Fill) TableName() string {
	return "fills"
}
