package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PnLBaseline offsets realized-PnL attribution for an agent/symbol pair.
// A rebuild_history resolution writes the cumulative ledger sum at rebase
// time here so later reads start from zero again.
type PnLBaseline struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	AgentID string `gorm:"type:varchar(100);not null;uniqueIndex:idx_pnl_baseline_agent_symbol"`
	Symbol  string `gorm:"type:varchar(30);not null;uniqueIndex:idx_pnl_baseline_agent_symbol"`

	Offset decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	RebasedAt time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (PnLBaseline) TableName() string {
	return "pnl_baselines"
}
