package db

import (
	"followtrader/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Fill{},
		&models.Order{},
		&models.PnLBaseline{},
		&models.ReconcileEvent{},
		&models.PortfolioSnapshot{},
	)
}
