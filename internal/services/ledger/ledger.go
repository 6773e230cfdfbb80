// Package ledger owns positions. Every mutation of a position row flows
// through here, serialized per (session, symbol) key, so the decision
// pipeline, the position sweep and liquidation can run concurrently without
// corrupting cost basis or P&L.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tradegate/tradegate/internal/clock"
	"github.com/tradegate/tradegate/internal/database"
	"github.com/tradegate/tradegate/internal/logging"
	"github.com/tradegate/tradegate/internal/models"
)

// Fill is the execution result the ledger reconciles.
type Fill struct {
	SessionID string
	Symbol    string
	Side      models.OrderSide
	Quantity  decimal.Decimal
	Price     decimal.Decimal
}

// Ledger reconciles fills into positions and books realized P&L onto the
// session's running totals.
type Ledger struct {
	db        database.DBPool
	positions *database.PositionStore
	sessions  *database.SessionStore
	clock     clock.Clock
	logger    logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(db database.DBPool, positions *database.PositionStore, sessions *database.SessionStore, clk clock.Clock, logger logging.Logger) *Ledger {
	return &Ledger{
		db:        db,
		positions: positions,
		sessions:  sessions,
		clock:     clk,
		logger:    logger.WithComponent("position_ledger"),
		locks:     make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex serializing one (session, symbol) key. Locks are
// never removed; the key space is bounded by symbols traded per process
// lifetime.
func (l *Ledger) keyLock(sessionID, symbol string) *sync.Mutex {
	key := sessionID + "|" + symbol

	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}

// ApplyFill reconciles one fill: first buy opens the position, further buys
// update the weighted average cost, sells book realized P&L against the
// average cost and reduce quantity. A position at zero quantity goes
// inactive, keeping its realized history. The realized delta (zero for buys)
// is also added to the session's running totals.
func (l *Ledger) ApplyFill(ctx context.Context, fill Fill) (*models.Position, error) {
	if fill.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, models.NewCodedError(models.CodeInvalidPositionSize, models.ErrorKindValidation,
			"fill quantity must be positive, got %s", fill.Quantity)
	}

	lock := l.keyLock(fill.SessionID, fill.Symbol)
	lock.Lock()
	defer lock.Unlock()

	now := l.clock.Now()

	pos, err := l.positions.Get(ctx, fill.SessionID, fill.Symbol)
	switch {
	case errors.Is(err, database.ErrNotFound):
		pos = &models.Position{
			SessionID:     fill.SessionID,
			Symbol:        fill.Symbol,
			Quantity:      decimal.Zero,
			AvgCost:       decimal.Zero,
			LastPrice:     fill.Price,
			UnrealizedPnL: decimal.Zero,
			RealizedPnL:   decimal.Zero,
			OpenedAt:      now,
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load position: %w", err)
	}

	realized := decimal.Zero
	switch fill.Side {
	case models.OrderSideBuy:
		newQty := pos.Quantity.Add(fill.Quantity)
		totalCost := pos.AvgCost.Mul(pos.Quantity).Add(fill.Price.Mul(fill.Quantity))
		pos.AvgCost = totalCost.Div(newQty)
		pos.Quantity = newQty
		pos.Active = true

	case models.OrderSideSell:
		if fill.Quantity.GreaterThan(pos.Quantity) {
			return nil, models.NewCodedError(models.CodeInvalidPositionSize, models.ErrorKindValidation,
				"sell quantity %s exceeds held quantity %s", fill.Quantity, pos.Quantity)
		}
		realized = fill.Price.Sub(pos.AvgCost).Mul(fill.Quantity)
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		pos.Quantity = pos.Quantity.Sub(fill.Quantity)
		if pos.Quantity.IsZero() {
			pos.Active = false
			pos.AvgCost = decimal.Zero
		}

	default:
		return nil, fmt.Errorf("unknown order side %q", fill.Side)
	}

	pos.LastPrice = fill.Price
	pos.UnrealizedPnL = fill.Price.Sub(pos.AvgCost).Mul(pos.Quantity)
	if !pos.Active {
		pos.UnrealizedPnL = decimal.Zero
	}
	pos.UpdatedAt = now

	// The position row and the session's running totals commit together, so
	// a crash between the two writes cannot leave realized P&L unbooked.
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin fill transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := l.positions.WithTx(tx).Upsert(ctx, pos); err != nil {
		return nil, err
	}
	if err := l.sessions.WithTx(tx).RecordFill(ctx, fill.SessionID, realized); err != nil {
		return nil, fmt.Errorf("failed to record fill on session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit fill: %w", err)
	}

	l.logger.Info("fill reconciled",
		"session_id", fill.SessionID,
		"symbol", fill.Symbol,
		"side", string(fill.Side),
		"quantity", fill.Quantity.String(),
		"price", fill.Price.String(),
		"realized_pnl", realized.String(),
	)
	return pos, nil
}

// RefreshMark recomputes unrealized P&L for an active position at a new
// price. Returns the refreshed position, or nil when the position vanished
// or went inactive under a concurrent close.
func (l *Ledger) RefreshMark(ctx context.Context, sessionID, symbol string, price decimal.Decimal) (*models.Position, error) {
	lock := l.keyLock(sessionID, symbol)
	lock.Lock()
	defer lock.Unlock()

	pos, err := l.positions.Get(ctx, sessionID, symbol)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !pos.Active {
		return nil, nil
	}

	pos.LastPrice = price
	pos.UnrealizedPnL = price.Sub(pos.AvgCost).Mul(pos.Quantity)
	pos.UpdatedAt = l.clock.Now()
	if err := l.positions.UpdateMark(ctx, sessionID, symbol, price, pos.UnrealizedPnL, pos.UpdatedAt); err != nil {
		return nil, err
	}
	return pos, nil
}

// SetTriggers stores stop-loss/take-profit trigger prices on an active
// position. Nil leaves a trigger unset.
func (l *Ledger) SetTriggers(ctx context.Context, sessionID, symbol string, stopLoss, takeProfit *decimal.Decimal) error {
	lock := l.keyLock(sessionID, symbol)
	lock.Lock()
	defer lock.Unlock()

	pos, err := l.positions.Get(ctx, sessionID, symbol)
	if err != nil {
		return err
	}
	if !pos.Active {
		return fmt.Errorf("cannot set triggers on inactive position %s/%s", sessionID, symbol)
	}
	pos.StopLossPrice = stopLoss
	pos.TakeProfitPrice = takeProfit
	pos.UpdatedAt = l.clock.Now()
	return l.positions.Upsert(ctx, pos)
}

// ClaimLiquidation atomically claims an active position for exactly one exit
// order. The active flag in the database is the claim token, so concurrent
// liquidation, sweep triggers and pipeline exits never double-submit.
func (l *Ledger) ClaimLiquidation(ctx context.Context, sessionID, symbol string) (bool, error) {
	return l.positions.ClaimLiquidation(ctx, sessionID, symbol, l.clock.Now())
}

// ReleaseLiquidation puts a claimed position back into the open set after a
// failed exit attempt so a later pass can retry it. Positions with zero
// quantity stay closed.
func (l *Ledger) ReleaseLiquidation(ctx context.Context, sessionID, symbol string) error {
	lock := l.keyLock(sessionID, symbol)
	lock.Lock()
	defer lock.Unlock()

	pos, err := l.positions.Get(ctx, sessionID, symbol)
	if err != nil {
		return err
	}
	if pos.Active || pos.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	pos.Active = true
	pos.UpdatedAt = l.clock.Now()
	return l.positions.Upsert(ctx, pos)
}

// ActivePositions lists a session's open positions.
func (l *Ledger) ActivePositions(ctx context.Context, sessionID string) ([]*models.Position, error) {
	return l.positions.ListActiveBySession(ctx, sessionID)
}

// AllActivePositions lists open positions across every session, for the
// recurring sweep.
func (l *Ledger) AllActivePositions(ctx context.Context) ([]*models.Position, error) {
	return l.positions.ListAllActive(ctx)
}

// Position fetches one position regardless of active state.
func (l *Ledger) Position(ctx context.Context, sessionID, symbol string) (*models.Position, error) {
	return l.positions.Get(ctx, sessionID, symbol)
}

// SessionPositions lists all of a session's positions including closed ones.
func (l *Ledger) SessionPositions(ctx context.Context, sessionID string) ([]*models.Position, error) {
	return l.positions.ListBySession(ctx, sessionID)
}

// PortfolioValue sums market value across a session's open positions at
// their last known prices.
func (l *Ledger) PortfolioValue(ctx context.Context, sessionID string) (decimal.Decimal, error) {
	positions, err := l.positions.ListActiveBySession(ctx, sessionID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.MarketValue())
	}
	return total, nil
}
