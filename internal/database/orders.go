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

// OrderStore persists broker orders and their execution state.
type OrderStore struct {
	db DBPool
}

func NewOrderStore(db DBPool) *OrderStore {
	return &OrderStore{db: db}
}

const orderColumns = `id, decision_id, session_id, symbol, side,
	CAST(quantity AS TEXT), order_type, CAST(limit_price AS TEXT), status,
	broker_ref, CAST(executed_qty AS TEXT), CAST(executed_price AS TEXT),
	created_at, updated_at`

func (s *OrderStore) Create(ctx context.Context, o *models.Order) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO orders
			(id, decision_id, session_id, symbol, side, quantity, order_type,
			 limit_price, status, broker_ref, executed_qty, executed_price,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		o.ID, o.DecisionID, o.SessionID, o.Symbol, string(o.Side),
		o.Quantity.String(), string(o.Type), nullDecimal(o.LimitPrice),
		string(o.Status), o.BrokerRef, o.ExecutedQty.String(),
		nullDecimal(o.ExecutedPrice), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (s *OrderStore) GetByID(ctx context.Context, id string) (*models.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

// MarkSubmitted records the broker's reference once submission succeeds.
func (s *OrderStore) MarkSubmitted(ctx context.Context, id, brokerRef string, at time.Time) error {
	res, err := s.db.Exec(ctx, `
		UPDATE orders SET status = $1, broker_ref = $2, updated_at = $3
		WHERE id = $4`,
		string(models.OrderStatusSubmitted), brokerRef, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark order submitted: %w", err)
	}
	return requireAffected(res)
}

// RecordExecution updates the fill state reported by the broker.
func (s *OrderStore) RecordExecution(ctx context.Context, id string, status models.OrderStatus, executedQty decimal.Decimal, executedPrice *decimal.Decimal, at time.Time) error {
	res, err := s.db.Exec(ctx, `
		UPDATE orders SET status = $1, executed_qty = $2, executed_price = $3, updated_at = $4
		WHERE id = $5`,
		string(status), executedQty.String(), nullDecimal(executedPrice), at, id)
	if err != nil {
		return fmt.Errorf("failed to record order execution: %w", err)
	}
	return requireAffected(res)
}

// ListOpenBySession returns orders still awaiting a terminal broker status.
func (s *OrderStore) ListOpenBySession(ctx context.Context, sessionID string) ([]*models.Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE session_id = $1 AND status IN ($2, $3, $4)
		ORDER BY created_at`,
		sessionID, string(models.OrderStatusPending),
		string(models.OrderStatusSubmitted), string(models.OrderStatusPartiallyFilled))
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *OrderStore) ListBySession(ctx context.Context, sessionID string) ([]*models.Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func requireAffected(res Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOrder(row Row) (*models.Order, error) {
	var (
		o           models.Order
		side        string
		orderType   string
		status      string
		qty, exQty  string
		limit, exPx sql.NullString
	)

	err := row.Scan(&o.ID, &o.DecisionID, &o.SessionID, &o.Symbol, &side,
		&qty, &orderType, &limit, &status, &o.BrokerRef, &exQty, &exPx,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	o.Side = models.OrderSide(side)
	o.Type = models.OrderType(orderType)
	o.Status = models.OrderStatus(status)

	if o.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("invalid quantity %q: %w", qty, err)
	}
	if o.ExecutedQty, err = decimal.NewFromString(exQty); err != nil {
		return nil, fmt.Errorf("invalid executed_qty %q: %w", exQty, err)
	}
	if limit.Valid {
		d, err := decimal.NewFromString(limit.String)
		if err != nil {
			return nil, fmt.Errorf("invalid limit_price %q: %w", limit.String, err)
		}
		o.LimitPrice = &d
	}
	if exPx.Valid {
		d, err := decimal.NewFromString(exPx.String)
		if err != nil {
			return nil, fmt.Errorf("invalid executed_price %q: %w", exPx.String, err)
		}
		o.ExecutedPrice = &d
	}

	return &o, nil
}

func scanOrders(rows Rows) ([]*models.Order, error) {
	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order rows iteration failed: %w", err)
	}
	return orders, nil
}
