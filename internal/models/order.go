package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	TaskID        string `gorm:"type:varchar(64);not null;index"`
	AgentID       string `gorm:"type:varchar(100);not null;index"`
	BrokerOrderID string `gorm:"type:varchar(100);index"`
	Symbol        string `gorm:"type:varchar(30);not null;index"`

	Side       string `gorm:"type:varchar(10);not null"`
	Action     string `gorm:"type:varchar(10);not null"`
	MarginType string `gorm:"type:varchar(10);not null;default:'ISOLATED'"`

	Quantity decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Price    decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	Margin   decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Leverage int             `gorm:"not null;default:1"`

	Status        string `gorm:"type:varchar(20);not null;default:'pending';index"`
	FailureReason string `gorm:"type:text"`

	SubmittedAt *time.Time `gorm:"type:timestamptz"`
	FilledAt    *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Order) TableName() string {
	return "orders"
}
