package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"followtrader/internal/models"
	"followtrader/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- Fills ------------------------------------------------------------------

func (s *Store) InsertFill(ctx context.Context, item *models.Fill) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListFills(ctx context.Context, params repository.ListFillsParams) ([]models.Fill, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyFillFilters(s.db.WithContext(ctx).Model(&models.Fill{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "filled_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Fill
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountFills(ctx context.Context, params repository.ListFillsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := applyFillFilters(s.db.WithContext(ctx).Model(&models.Fill{}), params)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func applyFillFilters(query *gorm.DB, params repository.ListFillsParams) *gorm.DB {
	if params.AgentID != nil && strings.TrimSpace(*params.AgentID) != "" {
		query = query.Where("agent_id = ?", strings.TrimSpace(*params.AgentID))
	}
	if params.TaskID != nil && strings.TrimSpace(*params.TaskID) != "" {
		query = query.Where("task_id = ?", strings.TrimSpace(*params.TaskID))
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("filled_at >= ?", *params.Since)
	}
	return query
}

func (s *Store) SumRealizedPnL(ctx context.Context, agentID, symbol string) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return decimal.Zero, nil
	}
	query := s.db.WithContext(ctx).
		Table("fills").
		Select("COALESCE(SUM(COALESCE(realized_pnl,0)),0)").
		Where("agent_id = ?", agentID)
	if strings.TrimSpace(symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(symbol))
	}
	// The numeric sum goes straight into a decimal; a float detour would
	// round it.
	var out decimal.Decimal
	if err := query.Scan(&out).Error; err != nil {
		return decimal.Zero, err
	}
	return out, nil
}

// --- Orders -----------------------------------------------------------------

func (s *Store) InsertOrder(ctx context.Context, item *models.Order) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetOrderByID(ctx context.Context, id uint64) (*models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if id == 0 {
		return nil, nil
	}
	var item models.Order
	err := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListOrders(ctx context.Context, params repository.ListOrdersParams) ([]models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrderFilters(s.db.WithContext(ctx).Model(&models.Order{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Order
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountOrders(ctx context.Context, params repository.ListOrdersParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := applyOrderFilters(s.db.WithContext(ctx).Model(&models.Order{}), params)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func applyOrderFilters(query *gorm.DB, params repository.ListOrdersParams) *gorm.DB {
	if params.AgentID != nil && strings.TrimSpace(*params.AgentID) != "" {
		query = query.Where("agent_id = ?", strings.TrimSpace(*params.AgentID))
	}
	if params.TaskID != nil && strings.TrimSpace(*params.TaskID) != "" {
		query = query.Where("task_id = ?", strings.TrimSpace(*params.TaskID))
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	return query
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id uint64, status string, updates map[string]any) error {
	if s == nil || s.db == nil {
		return nil
	}
	if id == 0 || strings.TrimSpace(status) == "" {
		return nil
	}
	next := map[string]any{
		"status":     strings.TrimSpace(status),
		"updated_at": time.Now().UTC(),
	}
	for k, v := range updates {
		next[k] = v
	}
	return s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Updates(next).Error
}

// --- PnL baselines ----------------------------------------------------------

func (s *Store) UpsertPnLBaseline(ctx context.Context, item *models.PnLBaseline) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.AgentID = strings.TrimSpace(item.AgentID)
	item.Symbol = strings.TrimSpace(item.Symbol)
	if item.AgentID == "" || item.Symbol == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "agent_id"}, {Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"offset", "rebased_at", "updated_at"}),
	}).Create(item).Error
}

func (s *Store) GetPnLBaseline(ctx context.Context, agentID, symbol string) (*models.PnLBaseline, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	agentID = strings.TrimSpace(agentID)
	symbol = strings.TrimSpace(symbol)
	if agentID == "" || symbol == "" {
		return nil, nil
	}
	var item models.PnLBaseline
	err := s.db.WithContext(ctx).
		Where("agent_id = ? AND symbol = ?", agentID, symbol).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// --- Reconcile events -------------------------------------------------------

func (s *Store) InsertReconcileEvent(ctx context.Context, item *models.ReconcileEvent) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListReconcileEvents(ctx context.Context, params repository.ListReconcileEventsParams) ([]models.ReconcileEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.ReconcileEvent{})
	if params.AgentID != nil && strings.TrimSpace(*params.AgentID) != "" {
		query = query.Where("agent_id = ?", strings.TrimSpace(*params.AgentID))
	}
	if params.Kind != nil && strings.TrimSpace(*params.Kind) != "" {
		query = query.Where("kind = ?", strings.TrimSpace(*params.Kind))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.ReconcileEvent
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeleteReconcileEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if before.IsZero() {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&models.ReconcileEvent{})
	return res.RowsAffected, res.Error
}

// --- Portfolio snapshots ----------------------------------------------------

func (s *Store) InsertPortfolioSnapshot(ctx context.Context, item *models.PortfolioSnapshot) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListPortfolioSnapshots(ctx context.Context, params repository.ListPortfolioSnapshotsParams) ([]models.PortfolioSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.PortfolioSnapshot{})
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("taken_at >= ?", *params.Since)
	}
	if params.Until != nil && !params.Until.IsZero() {
		query = query.Where("taken_at <= ?", *params.Until)
	}
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.PortfolioSnapshot
	if err := query.Order("taken_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
