package database

import (
	"context"
	"fmt"
)

// Schema statements are written in the portable subset both Postgres and
// SQLite accept. Money columns are NUMERIC and always read back through
// CAST(... AS TEXT) so decimals survive the round trip on either driver.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS trading_sessions (
		id                 TEXT PRIMARY KEY,
		user_id            TEXT NOT NULL,
		duration_minutes   INTEGER NOT NULL,
		loss_limit_amount  NUMERIC NOT NULL,
		loss_limit_percent NUMERIC NOT NULL,
		status             TEXT NOT NULL,
		created_at         TIMESTAMP NOT NULL,
		start_time         TIMESTAMP,
		end_time           TIMESTAMP,
		actual_end_time    TIMESTAMP,
		realized_pnl       NUMERIC NOT NULL DEFAULT 0,
		trade_count        INTEGER NOT NULL DEFAULT 0,
		termination_reason TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user_status ON trading_sessions(user_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_status ON trading_sessions(status)`,

	`CREATE TABLE IF NOT EXISTS positions (
		session_id        TEXT NOT NULL,
		symbol            TEXT NOT NULL,
		quantity          NUMERIC NOT NULL DEFAULT 0,
		avg_cost          NUMERIC NOT NULL DEFAULT 0,
		last_price        NUMERIC NOT NULL DEFAULT 0,
		unrealized_pnl    NUMERIC NOT NULL DEFAULT 0,
		realized_pnl      NUMERIC NOT NULL DEFAULT 0,
		stop_loss_price   NUMERIC,
		take_profit_price NUMERIC,
		active            BOOLEAN NOT NULL DEFAULT TRUE,
		opened_at         TIMESTAMP NOT NULL,
		updated_at        TIMESTAMP NOT NULL,
		PRIMARY KEY (session_id, symbol)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_active ON positions(active)`,

	`CREATE TABLE IF NOT EXISTS orders (
		id             TEXT PRIMARY KEY,
		decision_id    TEXT NOT NULL,
		session_id     TEXT NOT NULL,
		symbol         TEXT NOT NULL,
		side           TEXT NOT NULL,
		quantity       NUMERIC NOT NULL,
		order_type     TEXT NOT NULL,
		limit_price    NUMERIC,
		status         TEXT NOT NULL,
		broker_ref     TEXT NOT NULL DEFAULT '',
		executed_qty   NUMERIC NOT NULL DEFAULT 0,
		executed_price NUMERIC,
		created_at     TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_session ON orders(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
}

// Migrate bootstraps the schema. Statements are idempotent.
func Migrate(ctx context.Context, db DBPool) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
	}
	return nil
}
