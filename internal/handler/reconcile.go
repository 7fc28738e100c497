package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"followtrader/internal/apperr"
	"followtrader/internal/broker"
	"followtrader/internal/reconcile"
	"followtrader/internal/repository"
)

type ReconcileHandler struct {
	Gate   *reconcile.Gate
	Broker broker.Broker
	Repo   repository.Repository
	Logger *zap.Logger
}

func (h *ReconcileHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/reconcile")
	group.GET("/:agentId", h.status)
	group.POST("/:agentId/resolve", h.resolve)
	group.GET("/:agentId/events", h.listEvents)
}

func (h *ReconcileHandler) status(c *gin.Context) {
	if h.Gate == nil {
		Error(c, http.StatusInternalServerError, "gate unavailable", nil)
		return
	}
	status, err := h.Gate.Status(c.Param("agentId"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, status, nil)
}

type resolveRequest struct {
	Action    string            `json:"action"`
	Positions []resolvePosition `json:"positions"`
}

// resolvePosition is the caller's statement of one observed position. When
// the request carries positions they are adopted as-is; otherwise the venue
// is asked.
type resolvePosition struct {
	Symbol        string          `json:"symbol"`
	Side          broker.Side     `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Leverage      int             `json:"leverage"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	Margin        decimal.Decimal `json:"margin"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

func (p resolvePosition) toPosition() broker.Position {
	return broker.Position{
		Symbol:        strings.ToUpper(strings.TrimSpace(p.Symbol)),
		Side:          p.Side,
		Quantity:      p.Quantity,
		Leverage:      p.Leverage,
		EntryPrice:    p.EntryPrice,
		MarkPrice:     p.MarkPrice,
		Margin:        p.Margin,
		UnrealizedPnL: p.UnrealizedPnL,
	}
}

func (h *ReconcileHandler) resolve(c *gin.Context) {
	if h.Gate == nil {
		Error(c, http.StatusInternalServerError, "gate unavailable", nil)
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, apperr.Validationf("invalid request body: %v", err))
		return
	}
	action, err := reconcile.ParseAction(req.Action)
	if err != nil {
		Fail(c, err)
		return
	}
	var actual []broker.Position
	if len(req.Positions) > 0 {
		actual = make([]broker.Position, 0, len(req.Positions))
		for _, p := range req.Positions {
			pos := p.toPosition()
			if pos.Symbol == "" {
				Fail(c, apperr.Validationf("position symbol is required"))
				return
			}
			actual = append(actual, pos)
		}
	} else {
		if h.Broker == nil {
			Error(c, http.StatusInternalServerError, "broker unavailable", nil)
			return
		}
		actual, err = h.Broker.GetPositions(c.Request.Context())
		if err != nil {
			if h.Logger != nil {
				h.Logger.Warn("resolve: position fetch failed",
					zap.String("agent_id", c.Param("agentId")),
					zap.Error(err),
				)
			}
			Fail(c, err)
			return
		}
	}
	status, err := h.Gate.Resolve(c.Request.Context(), c.Param("agentId"), action, actual)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, status, nil)
}

func (h *ReconcileHandler) listEvents(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repository unavailable", nil)
		return
	}
	agentID := c.Param("agentId")
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListReconcileEventsParams{
		Limit:   limit,
		Offset:  offset,
		AgentID: &agentID,
		Kind:    strQueryPtr(c, "kind"),
		Since:   timeQueryPtr(c, "since"),
		OrderBy: parseOrder(c.Query("order_by"), map[string]string{
			"created_at": "created_at",
		}),
		Asc: boolQueryPtr(c, "ascending"),
	}
	events, err := h.Repo.ListReconcileEvents(c.Request.Context(), params)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, events, map[string]any{"limit": limit, "offset": offset})
}
