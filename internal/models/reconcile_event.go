package models

import (
	"time"

	"gorm.io/datatypes"
)

// ReconcileEvent records every gate transition for audit: detections with
// their divergences, and resolutions with the operator's chosen action.
type ReconcileEvent struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	AgentID string `gorm:"type:varchar(100);not null;index"`

	Kind   string `gorm:"type:varchar(20);not null"`
	State  string `gorm:"type:varchar(20);not null"`
	Action string `gorm:"type:varchar(20)"`

	Divergences datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (ReconcileEvent) TableName() string {
	return "reconcile_events"
}
