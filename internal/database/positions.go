package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tradegate/tradegate/internal/models"
)

// PositionStore persists per-session holdings keyed by (session_id, symbol).
// Rows are never deleted; a fully closed position stays around inactive with
// its realized P&L history.
type PositionStore struct {
	db Querier
}

func NewPositionStore(db DBPool) *PositionStore {
	return &PositionStore{db: db}
}

// WithTx returns a copy of the store whose statements run inside tx.
func (s *PositionStore) WithTx(tx Tx) *PositionStore {
	return &PositionStore{db: tx}
}

const positionColumns = `session_id, symbol,
	CAST(quantity AS TEXT), CAST(avg_cost AS TEXT), CAST(last_price AS TEXT),
	CAST(unrealized_pnl AS TEXT), CAST(realized_pnl AS TEXT),
	CAST(stop_loss_price AS TEXT), CAST(take_profit_price AS TEXT),
	active, opened_at, updated_at`

// Get fetches one position, ErrNotFound when absent.
func (s *PositionStore) Get(ctx context.Context, sessionID, symbol string) (*models.Position, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE session_id = $1 AND symbol = $2`,
		sessionID, symbol)
	return scanPosition(row)
}

// Upsert writes the full position row, inserting on first fill.
func (s *PositionStore) Upsert(ctx context.Context, p *models.Position) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO positions
			(session_id, symbol, quantity, avg_cost, last_price, unrealized_pnl,
			 realized_pnl, stop_loss_price, take_profit_price, active, opened_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (session_id, symbol) DO UPDATE SET
			quantity = excluded.quantity,
			avg_cost = excluded.avg_cost,
			last_price = excluded.last_price,
			unrealized_pnl = excluded.unrealized_pnl,
			realized_pnl = excluded.realized_pnl,
			stop_loss_price = excluded.stop_loss_price,
			take_profit_price = excluded.take_profit_price,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		p.SessionID, p.Symbol, p.Quantity.String(), p.AvgCost.String(),
		p.LastPrice.String(), p.UnrealizedPnL.String(), p.RealizedPnL.String(),
		nullDecimal(p.StopLossPrice), nullDecimal(p.TakeProfitPrice),
		p.Active, p.OpenedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}
	return nil
}

// ListActiveBySession returns a session's open positions.
func (s *PositionStore) ListActiveBySession(ctx context.Context, sessionID string) ([]*models.Position, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE session_id = $1 AND active`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListAllActive returns every open position across sessions, for the
// recurring sweep.
func (s *PositionStore) ListAllActive(ctx context.Context) ([]*models.Position, error) {
	rows, err := s.db.Query(ctx, `SELECT `+positionColumns+` FROM positions WHERE active`)
	if err != nil {
		return nil, fmt.Errorf("failed to list all active positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListBySession returns all of a session's positions including closed ones.
func (s *PositionStore) ListBySession(ctx context.Context, sessionID string) ([]*models.Position, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ClaimLiquidation atomically flips the active flag off, claiming the
// position for exactly one liquidator. Returns false when another caller got
// there first (or the position is already closed).
func (s *PositionStore) ClaimLiquidation(ctx context.Context, sessionID, symbol string, at time.Time) (bool, error) {
	res, err := s.db.Exec(ctx, `
		UPDATE positions SET active = FALSE, updated_at = $1
		WHERE session_id = $2 AND symbol = $3 AND active`,
		at, sessionID, symbol)
	if err != nil {
		return false, fmt.Errorf("failed to claim position for liquidation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// UpdateMark refreshes a position's last price and unrealized P&L. The write
// is conditioned on the position still being active so it cannot resurrect a
// concurrently closed position.
func (s *PositionStore) UpdateMark(ctx context.Context, sessionID, symbol string, price, unrealized decimal.Decimal, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE positions SET last_price = $1, unrealized_pnl = $2, updated_at = $3
		WHERE session_id = $4 AND symbol = $5 AND active`,
		price.String(), unrealized.String(), at, sessionID, symbol)
	if err != nil {
		return fmt.Errorf("failed to update position mark: %w", err)
	}
	return nil
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func scanPosition(row Row) (*models.Position, error) {
	var (
		p              models.Position
		qty, cost      string
		last, upl, rpl string
		stop, take     sql.NullString
	)

	err := row.Scan(&p.SessionID, &p.Symbol, &qty, &cost, &last, &upl, &rpl,
		&stop, &take, &p.Active, &p.OpenedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan position: %w", err)
	}

	if p.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("invalid quantity %q: %w", qty, err)
	}
	if p.AvgCost, err = decimal.NewFromString(cost); err != nil {
		return nil, fmt.Errorf("invalid avg_cost %q: %w", cost, err)
	}
	if p.LastPrice, err = decimal.NewFromString(last); err != nil {
		return nil, fmt.Errorf("invalid last_price %q: %w", last, err)
	}
	if p.UnrealizedPnL, err = decimal.NewFromString(upl); err != nil {
		return nil, fmt.Errorf("invalid unrealized_pnl %q: %w", upl, err)
	}
	if p.RealizedPnL, err = decimal.NewFromString(rpl); err != nil {
		return nil, fmt.Errorf("invalid realized_pnl %q: %w", rpl, err)
	}
	if stop.Valid {
		d, err := decimal.NewFromString(stop.String)
		if err != nil {
			return nil, fmt.Errorf("invalid stop_loss_price %q: %w", stop.String, err)
		}
		p.StopLossPrice = &d
	}
	if take.Valid {
		d, err := decimal.NewFromString(take.String)
		if err != nil {
			return nil, fmt.Errorf("invalid take_profit_price %q: %w", take.String, err)
		}
		p.TakeProfitPrice = &d
	}

	return &p, nil
}

func scanPositions(rows Rows) ([]*models.Position, error) {
	var positions []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("position rows iteration failed: %w", err)
	}
	return positions, nil
}
