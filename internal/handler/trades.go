package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"followtrader/internal/broker"
	"followtrader/internal/repository"
)

type TradeHandler struct {
	Repo   repository.Repository
	Broker broker.Broker
	Logger *zap.Logger
}

func (h *TradeHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1")
	group.GET("/fills", h.listFills)
	group.GET("/orders", h.listOrders)
	group.GET("/positions", h.listPositions)
	group.GET("/snapshots", h.listSnapshots)
}

func (h *TradeHandler) listFills(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repository unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListFillsParams{
		Limit:   limit,
		Offset:  offset,
		AgentID: strQueryPtr(c, "agent_id"),
		TaskID:  strQueryPtr(c, "task_id"),
		Symbol:  strQueryPtr(c, "symbol"),
		Since:   timeQueryPtr(c, "since"),
		OrderBy: parseOrder(c.Query("order_by"), map[string]string{
			"filled_at":  "filled_at",
			"created_at": "created_at",
			"symbol":     "symbol",
		}),
		Asc: boolQueryPtr(c, "ascending"),
	}
	fills, err := h.Repo.ListFills(c.Request.Context(), params)
	if err != nil {
		Fail(c, err)
		return
	}
	total, err := h.Repo.CountFills(c.Request.Context(), params)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, fills, paginationMeta(limit, offset, total))
}

func (h *TradeHandler) listOrders(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repository unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListOrdersParams{
		Limit:   limit,
		Offset:  offset,
		AgentID: strQueryPtr(c, "agent_id"),
		TaskID:  strQueryPtr(c, "task_id"),
		Symbol:  strQueryPtr(c, "symbol"),
		Status:  strQueryPtr(c, "status"),
		OrderBy: parseOrder(c.Query("order_by"), map[string]string{
			"created_at": "created_at",
			"updated_at": "updated_at",
			"symbol":     "symbol",
		}),
		Asc: boolQueryPtr(c, "ascending"),
	}
	orders, err := h.Repo.ListOrders(c.Request.Context(), params)
	if err != nil {
		Fail(c, err)
		return
	}
	total, err := h.Repo.CountOrders(c.Request.Context(), params)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, orders, paginationMeta(limit, offset, total))
}

// listPositions reads live from the venue; nothing position-shaped is
// persisted.
func (h *TradeHandler) listPositions(c *gin.Context) {
	if h.Broker == nil {
		Error(c, http.StatusInternalServerError, "broker unavailable", nil)
		return
	}
	positions, err := h.Broker.GetPositions(c.Request.Context())
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("position fetch failed", zap.Error(err))
		}
		Fail(c, err)
		return
	}
	Ok(c, positions, map[string]any{"total": len(positions)})
}

func (h *TradeHandler) listSnapshots(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repository unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	snapshots, err := h.Repo.ListPortfolioSnapshots(c.Request.Context(), repository.ListPortfolioSnapshotsParams{
		Limit:  limit,
		Offset: offset,
		Since:  timeQueryPtr(c, "since"),
		Until:  timeQueryPtr(c, "until"),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, snapshots, map[string]any{"limit": limit, "offset": offset})
}
