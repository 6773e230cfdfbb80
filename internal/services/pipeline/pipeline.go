// Package pipeline turns trading decisions into risk-checked broker orders
// and reconciles the results into the position ledger. It also runs the
// recurring position sweep (marks, stop-loss/take-profit triggers) and the
// emergency liquidation path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradegate/tradegate/internal/audit"
	"github.com/tradegate/tradegate/internal/broker"
	"github.com/tradegate/tradegate/internal/clock"
	"github.com/tradegate/tradegate/internal/config"
	"github.com/tradegate/tradegate/internal/database"
	"github.com/tradegate/tradegate/internal/logging"
	"github.com/tradegate/tradegate/internal/models"
	"github.com/tradegate/tradegate/internal/oracle"
	"github.com/tradegate/tradegate/internal/services/ledger"
	"github.com/tradegate/tradegate/internal/services/riskgate"
)

// Pipeline executes decisions for active sessions.
type Pipeline struct {
	gate     *riskgate.Gate
	ledger   *ledger.Ledger
	orders   *database.OrderStore
	sessions *database.SessionStore
	broker   broker.Gateway
	oracle   oracle.PriceOracle
	sink     audit.Sink
	clock    clock.Clock
	logger   logging.Logger
	cfg      config.ExecutorConfig
}

func New(gate *riskgate.Gate, lgr *ledger.Ledger, orders *database.OrderStore, sessions *database.SessionStore, gw broker.Gateway, po oracle.PriceOracle, sink audit.Sink, clk clock.Clock, cfg config.ExecutorConfig, logger logging.Logger) *Pipeline {
	return &Pipeline{
		gate:     gate,
		ledger:   lgr,
		orders:   orders,
		sessions: sessions,
		broker:   gw,
		oracle:   po,
		sink:     sink,
		clock:    clk,
		logger:   logger.WithComponent("decision_pipeline"),
		cfg:      cfg,
	}
}

// ExecuteDecision runs one decision end to end: risk gate, sizing, order
// type selection, submission, bounded fill wait, ledger reconciliation.
// HOLD decisions are accepted and produce no order.
func (p *Pipeline) ExecuteDecision(ctx context.Context, decision models.Decision) (*models.Order, error) {
	log := p.logger.WithSessionID(decision.SessionID).WithSymbol(decision.Symbol)

	if decision.Action == models.DecisionActionHold {
		log.Debug("hold decision, no order", "strategy", decision.Strategy)
		return nil, nil
	}

	session, err := p.sessions.GetByID(ctx, decision.SessionID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, models.NewCodedError(models.CodeSessionNotFound, models.ErrorKindConflict,
			"session %s not found", decision.SessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	quote, err := p.freshQuote(ctx, decision.Symbol)
	if err != nil {
		return nil, err
	}

	account, err := p.broker.GetAccount(ctx, decision.SessionID)
	if err != nil {
		return nil, models.WrapCodedError(models.CodeRiskValidationError, models.ErrorKindInfrastructure,
			err, "failed to fetch account for risk check")
	}

	quantity, err := p.sizeOrder(ctx, decision, session, account, quote.Price)
	if err != nil {
		return nil, err
	}
	proposedValue := quantity.Mul(quote.Price)

	regime, err := p.oracle.CurrentRegime(ctx, decision.Symbol)
	if err != nil {
		return nil, models.WrapCodedError(models.CodeRiskValidationError, models.ErrorKindInfrastructure,
			err, "failed to fetch market regime for risk check")
	}

	assessment := p.gate.CheckTrade(riskgate.TradeContext{
		Session:          session,
		ClaimedSessionID: decision.SessionID,
		Symbol:           decision.Symbol,
		ProposedValue:    proposedValue,
		BuyingPower:      account.BuyingPower,
		PortfolioValue:   account.PortfolioValue,
		Volatility:       regime.Volatility,
	})
	if !assessment.Allowed {
		p.audit(ctx, audit.EventRiskDenied, decision.SessionID, session.UserID, map[string]any{
			"symbol": decision.Symbol,
			"code":   assessment.Code,
			"reason": assessment.Reason,
		})
		return nil, models.NewCodedError(assessment.Code, models.ErrorKindRiskDenial, "%s", assessment.Reason)
	}

	order := p.buildOrder(decision, quantity, quote.Price, regime.Volatility)
	if err := p.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	update, err := p.submit(ctx, order)
	if err != nil {
		return order, err
	}

	if !update.Terminal() {
		update = p.awaitFill(ctx, order.ID, update)
	}
	if err := p.reconcile(ctx, order, update); err != nil {
		return order, err
	}
	return p.orders.GetByID(ctx, order.ID)
}

// freshQuote fetches the current price and refuses quotes older than the
// configured max age. A stale or missing price means "do not trade".
func (p *Pipeline) freshQuote(ctx context.Context, symbol string) (oracle.Quote, error) {
	quote, err := p.oracle.CurrentPrice(ctx, symbol)
	if errors.Is(err, oracle.ErrPriceUnavailable) {
		return oracle.Quote{}, models.NewCodedError(models.CodePriceUnavailable, models.ErrorKindRiskDenial,
			"no price for %s", symbol)
	}
	if err != nil {
		return oracle.Quote{}, fmt.Errorf("failed to fetch price: %w", err)
	}
	if p.cfg.MaxPriceAge > 0 && quote.Age(p.clock.Now()) > p.cfg.MaxPriceAge {
		return oracle.Quote{}, models.NewCodedError(models.CodePriceUnavailable, models.ErrorKindRiskDenial,
			"price for %s is %s old, max age %s", symbol, quote.Age(p.clock.Now()), p.cfg.MaxPriceAge)
	}
	return quote, nil
}

// sizeOrder computes the share quantity. Buys size off the portfolio value
// and requested fraction; sells are capped at the currently held quantity.
func (p *Pipeline) sizeOrder(ctx context.Context, decision models.Decision, session *models.TradingSession, account broker.Account, price decimal.Decimal) (decimal.Decimal, error) {
	quantity := account.PortfolioValue.Mul(decision.PositionSizeFraction).Div(price).Floor()

	if decision.Action == models.DecisionActionSell {
		pos, err := p.ledger.Position(ctx, session.ID, decision.Symbol)
		if errors.Is(err, database.ErrNotFound) || (err == nil && !pos.Active) {
			return decimal.Zero, models.NewCodedError(models.CodeInvalidPositionSize, models.ErrorKindValidation,
				"no open position in %s to sell", decision.Symbol)
		}
		if err != nil {
			return decimal.Zero, err
		}
		if quantity.GreaterThan(pos.Quantity) {
			quantity = pos.Quantity
		}
	}

	if quantity.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, models.NewCodedError(models.CodeInvalidPositionSize, models.ErrorKindValidation,
			"decision sizes to %s shares of %s", quantity, decision.Symbol)
	}
	return quantity, nil
}

// buildOrder selects market vs limit. Large tickets and high-volatility
// regimes get a limit order with a small price buffer to cap slippage.
func (p *Pipeline) buildOrder(decision models.Decision, quantity, price, volatility decimal.Decimal) *models.Order {
	now := p.clock.Now()
	order := &models.Order{
		ID:          uuid.New().String(),
		DecisionID:  decision.ID,
		SessionID:   decision.SessionID,
		Symbol:      decision.Symbol,
		Quantity:    quantity,
		Type:        models.OrderTypeMarket,
		Status:      models.OrderStatusPending,
		ExecutedQty: decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if decision.Action == models.DecisionActionSell {
		order.Side = models.OrderSideSell
	} else {
		order.Side = models.OrderSideBuy
	}

	large := quantity.GreaterThan(decimal.NewFromInt(p.cfg.LimitOrderQtyThreshold))
	if large || p.gate.HighVolatility(volatility) {
		buffer := price.Mul(decimal.NewFromInt(p.cfg.LimitPriceBufferBps)).Div(decimal.NewFromInt(10000))
		limit := price.Add(buffer)
		if order.Side == models.OrderSideSell {
			limit = price.Sub(buffer)
		}
		order.Type = models.OrderTypeLimit
		order.LimitPrice = &limit
	}
	return order
}

func (p *Pipeline) submit(ctx context.Context, order *models.Order) (broker.OrderUpdate, error) {
	update, err := p.broker.SubmitOrder(ctx, broker.OrderRequest{
		ClientOrderID: order.ID,
		SessionID:     order.SessionID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Type:          order.Type,
		Quantity:      order.Quantity,
		LimitPrice:    order.LimitPrice,
	})
	if err != nil {
		if mErr := p.orders.RecordExecution(ctx, order.ID, models.OrderStatusRejected, decimal.Zero, nil, p.clock.Now()); mErr != nil {
			p.logger.WithError(mErr).Error("failed to mark order rejected", "order_id", order.ID)
		}
		return broker.OrderUpdate{}, models.WrapCodedError(models.CodeOrderSubmissionFailed,
			models.ErrorKindInfrastructure, err, "broker rejected submission for %s", order.Symbol)
	}

	if err := p.orders.MarkSubmitted(ctx, order.ID, update.BrokerRef, p.clock.Now()); err != nil {
		return update, err
	}
	order.BrokerRef = update.BrokerRef

	p.audit(ctx, audit.EventOrderSubmitted, order.SessionID, "", map[string]any{
		"order_id": order.ID,
		"symbol":   order.Symbol,
		"side":     string(order.Side),
		"type":     string(order.Type),
		"quantity": order.Quantity.String(),
	})
	return update, nil
}

// awaitFill polls the broker for a short bounded window. An order still open
// at the deadline stays submitted; the recurring reconcile sweep picks it up
// later rather than blocking the caller.
func (p *Pipeline) awaitFill(ctx context.Context, orderID string, last broker.OrderUpdate) broker.OrderUpdate {
	if p.cfg.FillPollTimeout <= 0 {
		return last
	}

	interval := p.cfg.FillPollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	deadline := time.NewTimer(p.cfg.FillPollTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return last
		case <-deadline.C:
			return last
		case <-tick.C:
			update, err := p.broker.OrderStatus(ctx, last.BrokerRef)
			if err != nil {
				p.logger.WithError(err).Warn("fill poll failed", "order_id", orderID)
				continue
			}
			if update.Terminal() {
				return update
			}
			last = update
		}
	}
}

// reconcile writes the broker outcome to the order row and, for fills,
// applies the execution to the ledger.
func (p *Pipeline) reconcile(ctx context.Context, order *models.Order, update broker.OrderUpdate) error {
	switch update.Status {
	case models.OrderStatusRejected, models.OrderStatusCancelled:
		if err := p.orders.RecordExecution(ctx, order.ID, update.Status, decimal.Zero, nil, p.clock.Now()); err != nil {
			return err
		}
		if update.Status == models.OrderStatusRejected {
			return models.NewCodedError(models.CodeOrderSubmissionFailed, models.ErrorKindInfrastructure,
				"broker rejected order for %s: %s", order.Symbol, update.Reason)
		}
		return nil

	case models.OrderStatusFilled, models.OrderStatusPartiallyFilled:
		// Only the increment over what the order row already recorded goes
		// to the ledger, so re-reconciling an open order never double-books.
		newQty := update.FilledQty.Sub(order.ExecutedQty)
		if err := p.orders.RecordExecution(ctx, order.ID, update.Status, update.FilledQty, update.AvgFillPrice, p.clock.Now()); err != nil {
			return err
		}
		if update.AvgFillPrice == nil || newQty.LessThanOrEqual(decimal.Zero) {
			return nil
		}
		if _, err := p.ledger.ApplyFill(ctx, ledger.Fill{
			SessionID: order.SessionID,
			Symbol:    order.Symbol,
			Side:      order.Side,
			Quantity:  newQty,
			Price:     *update.AvgFillPrice,
		}); err != nil {
			return fmt.Errorf("failed to reconcile fill: %w", err)
		}
		p.audit(ctx, audit.EventOrderSettled, order.SessionID, "", map[string]any{
			"order_id":   order.ID,
			"symbol":     order.Symbol,
			"filled_qty": newQty.String(),
			"fill_price": update.AvgFillPrice.String(),
		})
		return nil

	default:
		// Still open; a later sweep reconciles it.
		return nil
	}
}

// ReconcileOpenOrders polls every open order of a session once and settles
// any that reached a terminal broker state.
func (p *Pipeline) ReconcileOpenOrders(ctx context.Context, sessionID string) error {
	open, err := p.orders.ListOpenBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, order := range open {
		if order.BrokerRef == "" {
			continue
		}
		update, err := p.broker.OrderStatus(ctx, order.BrokerRef)
		if err != nil {
			p.logger.WithError(err).Warn("order status poll failed", "order_id", order.ID)
			continue
		}
		if err := p.reconcile(ctx, order, update); err != nil {
			p.logger.WithError(err).Error("open order reconcile failed", "order_id", order.ID)
		}
	}
	return nil
}

func (p *Pipeline) audit(ctx context.Context, kind audit.EventKind, sessionID, userID string, data map[string]any) {
	p.sink.Emit(ctx, audit.NewEvent(kind, sessionID, userID, data, p.clock.Now()))
}
