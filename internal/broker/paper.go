package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradegate/tradegate/internal/clock"
	"github.com/tradegate/tradegate/internal/logging"
	"github.com/tradegate/tradegate/internal/models"
	"github.com/tradegate/tradegate/internal/oracle"
)

// PaperConfig tunes the simulated venue.
type PaperConfig struct {
	// Slippage is the fraction applied against market orders (buys fill
	// above the quote, sells below).
	Slippage decimal.Decimal
}

func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		Slippage: decimal.NewFromFloat(0.0005),
	}
}

type paperOrder struct {
	req    OrderRequest
	update OrderUpdate
}

type paperAccount struct {
	cash      decimal.Decimal
	positions map[string]decimal.Decimal
}

// PaperGateway simulates execution against oracle prices. Market orders fill
// on submission at the quote plus slippage. Limit orders fill when the quote
// crosses the limit, re-evaluated on every status poll, so unmarketable
// limits sit in submitted until cancelled.
type PaperGateway struct {
	config PaperConfig
	oracle oracle.PriceOracle
	clock  clock.Clock
	logger logging.Logger

	mu       sync.Mutex
	orders   map[string]*paperOrder
	byClient map[string]string
	accounts map[string]*paperAccount
}

func NewPaperGateway(config PaperConfig, priceOracle oracle.PriceOracle, clk clock.Clock, logger logging.Logger) *PaperGateway {
	return &PaperGateway{
		config:   config,
		oracle:   priceOracle,
		clock:    clk,
		logger:   logger.WithComponent("paper_gateway"),
		orders:   make(map[string]*paperOrder),
		byClient: make(map[string]string),
		accounts: make(map[string]*paperAccount),
	}
}

// Fund seeds a session's venue account with cash. Called once when a session
// activates.
func (g *PaperGateway) Fund(sessionID string, cash decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounts[sessionID] = &paperAccount{
		cash:      cash,
		positions: make(map[string]decimal.Decimal),
	}
}

// account returns the session's account, creating an empty one on first
// touch. Caller holds g.mu.
func (g *PaperGateway) account(sessionID string) *paperAccount {
	acct, ok := g.accounts[sessionID]
	if !ok {
		acct = &paperAccount{cash: decimal.Zero, positions: make(map[string]decimal.Decimal)}
		g.accounts[sessionID] = acct
	}
	return acct
}

// applyFill settles a filled order into the session account. Caller holds
// g.mu.
func (g *PaperGateway) applyFill(req OrderRequest, update OrderUpdate) {
	if update.Status != models.OrderStatusFilled || update.AvgFillPrice == nil {
		return
	}
	acct := g.account(req.SessionID)
	notional := update.FilledQty.Mul(*update.AvgFillPrice)
	if req.Side == models.OrderSideBuy {
		acct.cash = acct.cash.Sub(notional)
		acct.positions[req.Symbol] = acct.positions[req.Symbol].Add(update.FilledQty)
	} else {
		acct.cash = acct.cash.Add(notional)
		acct.positions[req.Symbol] = acct.positions[req.Symbol].Sub(update.FilledQty)
	}
}

func (g *PaperGateway) SubmitOrder(ctx context.Context, req OrderRequest) (OrderUpdate, error) {
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return OrderUpdate{}, fmt.Errorf("broker: order quantity must be positive, got %s", req.Quantity)
	}
	if req.Type == models.OrderTypeLimit && req.LimitPrice == nil {
		return OrderUpdate{}, fmt.Errorf("broker: limit order without limit price")
	}

	g.mu.Lock()
	if ref, seen := g.byClient[req.ClientOrderID]; seen {
		update := g.orders[ref].update
		g.mu.Unlock()
		return update, nil
	}
	g.mu.Unlock()

	quote, err := g.oracle.CurrentPrice(ctx, req.Symbol)
	ref := uuid.New().String()
	now := g.clock.Now()

	order := &paperOrder{req: req}
	if err != nil {
		order.update = OrderUpdate{
			BrokerRef: ref,
			Status:    models.OrderStatusRejected,
			FilledQty: decimal.Zero,
			Reason:    "no market price for symbol",
			UpdatedAt: now,
		}
		g.logger.Warn("order rejected", "symbol", req.Symbol, "reason", "no price", "error", err)
	} else {
		order.update = g.evaluate(req, quote.Price, ref, now)
	}

	g.mu.Lock()
	g.orders[ref] = order
	g.byClient[req.ClientOrderID] = ref
	g.applyFill(req, order.update)
	g.mu.Unlock()

	return order.update, nil
}

func (g *PaperGateway) OrderStatus(ctx context.Context, brokerRef string) (OrderUpdate, error) {
	g.mu.Lock()
	order, ok := g.orders[brokerRef]
	if !ok {
		g.mu.Unlock()
		return OrderUpdate{}, ErrUnknownOrder
	}
	update := order.update
	req := order.req
	g.mu.Unlock()

	if update.Terminal() {
		return update, nil
	}

	// Resting limit order: re-check marketability at the current quote.
	quote, err := g.oracle.CurrentPrice(ctx, req.Symbol)
	if err != nil {
		return update, nil
	}
	fresh := g.evaluate(req, quote.Price, brokerRef, g.clock.Now())
	if fresh.Status == update.Status {
		return update, nil
	}

	g.mu.Lock()
	if !order.update.Terminal() {
		order.update = fresh
		g.applyFill(req, fresh)
	}
	update = order.update
	g.mu.Unlock()
	return update, nil
}

func (g *PaperGateway) GetAccount(ctx context.Context, sessionID string) (Account, error) {
	g.mu.Lock()
	acct := g.account(sessionID)
	cash := acct.cash
	holdings := make(map[string]decimal.Decimal, len(acct.positions))
	for symbol, qty := range acct.positions {
		if !qty.IsZero() {
			holdings[symbol] = qty
		}
	}
	g.mu.Unlock()

	portfolio := cash
	for symbol, qty := range holdings {
		quote, err := g.oracle.CurrentPrice(ctx, symbol)
		if err != nil {
			continue
		}
		portfolio = portfolio.Add(qty.Mul(quote.Price))
	}

	return Account{
		SessionID:      sessionID,
		Cash:           cash,
		BuyingPower:    cash,
		PortfolioValue: portfolio,
	}, nil
}

func (g *PaperGateway) GetOpenPositions(_ context.Context, sessionID string) ([]OpenPosition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	acct := g.account(sessionID)
	var out []OpenPosition
	for symbol, qty := range acct.positions {
		if !qty.IsZero() {
			out = append(out, OpenPosition{Symbol: symbol, Quantity: qty})
		}
	}
	return out, nil
}

func (g *PaperGateway) CancelOrder(_ context.Context, brokerRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	order, ok := g.orders[brokerRef]
	if !ok {
		return ErrUnknownOrder
	}
	if order.update.Terminal() {
		return nil
	}
	order.update.Status = models.OrderStatusCancelled
	order.update.UpdatedAt = g.clock.Now()
	return nil
}

// evaluate computes the order's state against one price observation.
func (g *PaperGateway) evaluate(req OrderRequest, price decimal.Decimal, ref string, now time.Time) OrderUpdate {
	update := OrderUpdate{
		BrokerRef: ref,
		Status:    models.OrderStatusSubmitted,
		FilledQty: decimal.Zero,
		UpdatedAt: now,
	}

	fillPrice := price
	switch req.Type {
	case models.OrderTypeMarket:
		if req.Side == models.OrderSideBuy {
			fillPrice = price.Mul(decimal.NewFromInt(1).Add(g.config.Slippage))
		} else {
			fillPrice = price.Mul(decimal.NewFromInt(1).Sub(g.config.Slippage))
		}
	case models.OrderTypeLimit:
		marketable := (req.Side == models.OrderSideBuy && price.LessThanOrEqual(*req.LimitPrice)) ||
			(req.Side == models.OrderSideSell && price.GreaterThanOrEqual(*req.LimitPrice))
		if !marketable {
			return update
		}
		// Limit orders fill at the limit, never worse.
		fillPrice = *req.LimitPrice
	}

	update.Status = models.OrderStatusFilled
	update.FilledQty = req.Quantity
	update.AvgFillPrice = &fillPrice
	return update
}
