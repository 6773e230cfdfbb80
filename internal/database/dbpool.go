package database

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Rows, Row, Result and Tx abstract the pgx and database/sql result types so
// repositories work unchanged over Postgres and SQLite.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close()
	Err() error
}

type Row interface {
	Scan(dest ...any) error
}

type Result interface {
	RowsAffected() (int64, error)
}

// Querier is the statement-level surface shared by pools and open
// transactions, so a repository bound to a Tx runs the same code paths.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Exec(ctx context.Context, query string, args ...any) (Result, error)
}

type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DBPool is the querying surface repositories depend on.
type DBPool interface {
	Querier
	Begin(ctx context.Context) (Tx, error)
}

type PgxRows struct{ pgx.Rows }

func (r PgxRows) Scan(dest ...any) error { return r.Rows.Scan(dest...) }
func (r PgxRows) Close()                 { r.Rows.Close() }
func (r PgxRows) Err() error             { return r.Rows.Err() }
func (r PgxRows) Next() bool             { return r.Rows.Next() }

type PgxRow struct{ pgx.Row }

func (r PgxRow) Scan(dest ...any) error { return r.Row.Scan(dest...) }

type PgxResult struct{ pgconn.CommandTag }

func (r PgxResult) RowsAffected() (int64, error) { return r.CommandTag.RowsAffected(), nil }

type PgxTx struct{ pgx.Tx }

func (t PgxTx) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := t.Tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return PgxRows{Rows: rows}, nil
}

func (t PgxTx) QueryRow(ctx context.Context, query string, args ...any) Row {
	return PgxRow{Row: t.Tx.QueryRow(ctx, query, args...)}
}

func (t PgxTx) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	tag, err := t.Tx.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return PgxResult{CommandTag: tag}, nil
}

func (t PgxTx) Commit(ctx context.Context) error   { return t.Tx.Commit(ctx) }
func (t PgxTx) Rollback(ctx context.Context) error { return t.Tx.Rollback(ctx) }

type SQLRows struct{ *sql.Rows }

func (r SQLRows) Scan(dest ...any) error { return r.Rows.Scan(dest...) }
func (r SQLRows) Close()                 { _ = r.Rows.Close() }
func (r SQLRows) Err() error             { return r.Rows.Err() }
func (r SQLRows) Next() bool             { return r.Rows.Next() }

type SQLRow struct{ *sql.Row }

func (r SQLRow) Scan(dest ...any) error { return r.Row.Scan(dest...) }

type SQLResult struct{ sql.Result }

func (r SQLResult) RowsAffected() (int64, error) { return r.Result.RowsAffected() }

type SQLTx struct{ *sql.Tx }

func (t SQLTx) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := t.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return SQLRows{Rows: rows}, nil
}

func (t SQLTx) QueryRow(ctx context.Context, query string, args ...any) Row {
	return SQLRow{Row: t.QueryRowContext(ctx, query, args...)}
}

func (t SQLTx) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := t.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return SQLResult{Result: res}, nil
}

func (t SQLTx) Commit(ctx context.Context) error   { return t.Tx.Commit() }
func (t SQLTx) Rollback(ctx context.Context) error { return t.Tx.Rollback() }

// PgxQuerier is the raw pgx surface a pool or mock exposes. pgxmock satisfies
// this, which lets repository tests run against mocked Postgres.
type PgxQuerier interface {
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type wrappedPgxPool struct {
	pool PgxQuerier
}

func (w wrappedPgxPool) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := w.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return PgxRows{Rows: rows}, nil
}

func (w wrappedPgxPool) QueryRow(ctx context.Context, query string, args ...any) Row {
	return PgxRow{Row: w.pool.QueryRow(ctx, query, args...)}
}

func (w wrappedPgxPool) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	tag, err := w.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return PgxResult{CommandTag: tag}, nil
}

func (w wrappedPgxPool) Begin(ctx context.Context) (Tx, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return PgxTx{Tx: tx}, nil
}

// WrapPgxPool adapts a pgx pool (or pgxmock) to the DBPool interface.
func WrapPgxPool(pool PgxQuerier) DBPool {
	return wrappedPgxPool{pool: pool}
}
