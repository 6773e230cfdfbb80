package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradegate/tradegate/internal/clock"
	"github.com/tradegate/tradegate/internal/database"
	"github.com/tradegate/tradegate/internal/models"
	"github.com/tradegate/tradegate/internal/services/ledger"
	"github.com/tradegate/tradegate/internal/services/pipeline"
)

// TradingHandler exposes decision submission and the resulting orders and
// positions.
type TradingHandler struct {
	pipeline *pipeline.Pipeline
	ledger   *ledger.Ledger
	orders   *database.OrderStore
	clock    clock.Clock
}

func NewTradingHandler(pl *pipeline.Pipeline, lgr *ledger.Ledger, orders *database.OrderStore, clk clock.Clock) *TradingHandler {
	return &TradingHandler{pipeline: pl, ledger: lgr, orders: orders, clock: clk}
}

type DecisionRequest struct {
	Symbol               string  `json:"symbol" binding:"required"`
	Action               string  `json:"action" binding:"required"`
	Confidence           float64 `json:"confidence"`
	PositionSizeFraction string  `json:"position_size_fraction"`
	Strategy             string  `json:"strategy"`
}

// ExecuteDecision runs one decision through the risk gate and, when
// allowed, submits the resulting order.
func (h *TradingHandler) ExecuteDecision(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session ID is required"})
		return
	}

	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	action := models.DecisionAction(req.Action)
	switch action {
	case models.DecisionActionBuy, models.DecisionActionSell, models.DecisionActionHold:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be BUY, SELL or HOLD"})
		return
	}

	fraction := decimal.Zero
	if req.PositionSizeFraction != "" {
		var err error
		fraction, err = decimal.NewFromString(req.PositionSizeFraction)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "position_size_fraction must be a decimal number"})
			return
		}
	}

	decision := models.Decision{
		ID:                   uuid.New().String(),
		SessionID:            sessionID,
		Symbol:               req.Symbol,
		Action:               action,
		Confidence:           req.Confidence,
		PositionSizeFraction: fraction,
		Strategy:             req.Strategy,
		CreatedAt:            h.clock.Now(),
	}

	order, err := h.pipeline.ExecuteDecision(c.Request.Context(), decision)
	if err != nil {
		respondError(c, err)
		return
	}
	if order == nil {
		c.JSON(http.StatusOK, gin.H{"status": "success", "held": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "order": order})
}

// ListPositions returns a session's positions. Pass ?open=true for only
// the active ones.
func (h *TradingHandler) ListPositions(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session ID is required"})
		return
	}

	var (
		positions []*models.Position
		err       error
	)
	if c.Query("open") == "true" {
		positions, err = h.ledger.ActivePositions(c.Request.Context(), sessionID)
	} else {
		positions, err = h.ledger.SessionPositions(c.Request.Context(), sessionID)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "positions": positions})
}

// ListOrders returns a session's orders, newest first.
func (h *TradingHandler) ListOrders(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session ID is required"})
		return
	}

	orders, err := h.orders.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "orders": orders})
}

type TriggersRequest struct {
	StopLossPrice   *string `json:"stop_loss_price"`
	TakeProfitPrice *string `json:"take_profit_price"`
}

// SetTriggers attaches stop-loss and take-profit prices to an open position.
func (h *TradingHandler) SetTriggers(c *gin.Context) {
	sessionID := c.Param("id")
	symbol := c.Param("symbol")
	if sessionID == "" || symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session ID and symbol are required"})
		return
	}

	var req TriggersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	parse := func(raw *string) (*decimal.Decimal, error) {
		if raw == nil {
			return nil, nil
		}
		d, err := decimal.NewFromString(*raw)
		if err != nil {
			return nil, err
		}
		return &d, nil
	}

	stopLoss, err := parse(req.StopLossPrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stop_loss_price must be a decimal number"})
		return
	}
	takeProfit, err := parse(req.TakeProfitPrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "take_profit_price must be a decimal number"})
		return
	}

	if err := h.ledger.SetTriggers(c.Request.Context(), sessionID, symbol, stopLoss, takeProfit); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
