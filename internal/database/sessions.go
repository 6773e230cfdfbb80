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

// SessionStore persists trading sessions. Status transitions are conditional
// writes: the UPDATE only applies while the current status is still in the
// expected set, which makes racing terminators resolve to exactly one winner.
type SessionStore struct {
	db Querier
}

func NewSessionStore(db DBPool) *SessionStore {
	return &SessionStore{db: db}
}

// WithTx returns a copy of the store whose statements run inside tx.
func (s *SessionStore) WithTx(tx Tx) *SessionStore {
	return &SessionStore{db: tx}
}

const sessionColumns = `id, user_id, duration_minutes,
	CAST(loss_limit_amount AS TEXT), CAST(loss_limit_percent AS TEXT),
	status, created_at, start_time, end_time, actual_end_time,
	CAST(realized_pnl AS TEXT), trade_count, termination_reason`

// Create inserts a new pending session.
func (s *SessionStore) Create(ctx context.Context, session *models.TradingSession) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trading_sessions
			(id, user_id, duration_minutes, loss_limit_amount, loss_limit_percent,
			 status, created_at, realized_pnl, trade_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		session.ID, session.UserID, session.DurationMinutes,
		session.LossLimitAmount.String(), session.LossLimitPercent.String(),
		string(session.Status), session.CreatedAt,
		session.RealizedPnL.String(), session.TradeCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetByID fetches one session, ErrNotFound when absent.
func (s *SessionStore) GetByID(ctx context.Context, id string) (*models.TradingSession, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM trading_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// FindOpenByUser returns the user's pending or active session, if any.
func (s *SessionStore) FindOpenByUser(ctx context.Context, userID string) (*models.TradingSession, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM trading_sessions
		 WHERE user_id = $1 AND status IN ('pending', 'active')
		 LIMIT 1`, userID)
	return scanSession(row)
}

// ListActive returns all active sessions, for the monitor poll.
func (s *SessionStore) ListActive(ctx context.Context) ([]*models.TradingSession, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+sessionColumns+` FROM trading_sessions WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListByUser returns the user's session history, newest first.
func (s *SessionStore) ListByUser(ctx context.Context, userID string, limit int) ([]*models.TradingSession, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+sessionColumns+` FROM trading_sessions
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for user: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// Activate moves a pending session owned by userID to active, fixing the
// time-limit deadline. Returns false when the session was not pending (or not
// owned), which callers treat as SESSION_NOT_FOUND.
func (s *SessionStore) Activate(ctx context.Context, id, userID string, start, end time.Time) (bool, error) {
	res, err := s.db.Exec(ctx, `
		UPDATE trading_sessions
		SET status = 'active', start_time = $1, end_time = $2
		WHERE id = $3 AND user_id = $4 AND status = 'pending'`,
		start, end, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to activate session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Terminate conditionally moves a pending/active session into a terminal
// state. ownedBy narrows the guard to a specific user; pass "" for system
// transitions (monitor expiry, loss limit). The loser of a termination race
// observes false.
func (s *SessionStore) Terminate(ctx context.Context, id, ownedBy string, to models.SessionStatus, reason models.TerminationReason, at time.Time) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("termination target %q is not a terminal status", to)
	}

	query := `
		UPDATE trading_sessions
		SET status = $1, termination_reason = $2, actual_end_time = $3
		WHERE id = $4 AND status IN ('pending', 'active')`
	args := []any{string(to), string(reason), at, id}
	if ownedBy != "" {
		query += ` AND user_id = $5`
		args = append(args, ownedBy)
	}

	res, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to terminate session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RecordFill adds realized P&L from a settled trade to the session's running
// totals. The addition happens in SQL so concurrent fills on different
// symbols never lose updates.
func (s *SessionStore) RecordFill(ctx context.Context, id string, realizedDelta decimal.Decimal) error {
	res, err := s.db.Exec(ctx, `
		UPDATE trading_sessions
		SET realized_pnl = realized_pnl + CAST($1 AS NUMERIC),
		    trade_count = trade_count + 1
		WHERE id = $2`,
		realizedDelta.String(), id)
	if err != nil {
		return fmt.Errorf("failed to record fill on session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSession(row Row) (*models.TradingSession, error) {
	var (
		session          models.TradingSession
		lossLimit        string
		lossPct          string
		pnl              string
		status           string
		start, end, done sql.NullTime
		reason           sql.NullString
	)

	err := row.Scan(&session.ID, &session.UserID, &session.DurationMinutes,
		&lossLimit, &lossPct, &status, &session.CreatedAt,
		&start, &end, &done, &pnl, &session.TradeCount, &reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	session.Status = models.SessionStatus(status)
	if session.LossLimitAmount, err = decimal.NewFromString(lossLimit); err != nil {
		return nil, fmt.Errorf("invalid loss_limit_amount %q: %w", lossLimit, err)
	}
	if session.LossLimitPercent, err = decimal.NewFromString(lossPct); err != nil {
		return nil, fmt.Errorf("invalid loss_limit_percent %q: %w", lossPct, err)
	}
	if session.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
		return nil, fmt.Errorf("invalid realized_pnl %q: %w", pnl, err)
	}
	if start.Valid {
		t := start.Time
		session.StartTime = &t
	}
	if end.Valid {
		t := end.Time
		session.EndTime = &t
	}
	if done.Valid {
		t := done.Time
		session.ActualEndTime = &t
	}
	if reason.Valid {
		r := models.TerminationReason(reason.String)
		session.TerminationReason = &r
	}

	return &session, nil
}

func scanSessions(rows Rows) ([]*models.TradingSession, error) {
	var sessions []*models.TradingSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session rows iteration failed: %w", err)
	}
	return sessions, nil
}
