// Package sqldb adapts database/sql handles to storage.DB.
//
// The sqlite and mssql backends open a *sql.DB with their driver and wrap it
// here. Tests wrap a go-sqlmock handle the same way.
package sqldb

import (
	"context"
	"database/sql"

	"github.com/shotam27/souchiJohoKanri/internal/storage"
)

// DB wraps a *sql.DB.
type DB struct {
	db      *sql.DB
	dialect storage.Dialect
}

// New wraps db. The caller keeps ownership until Close.
func New(db *sql.DB, d storage.Dialect) *DB {
	return &DB{db: db, dialect: d}
}

// SQL returns the underlying handle.
func (d *DB) SQL() *sql.DB { return d.db }

func (d *DB) Dialect() storage.Dialect { return d.dialect }

func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

func (d *DB) Close() { _ = d.db.Close() }

func (d *DB) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execResult(d.db.ExecContext(ctx, query, args...))
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (storage.Rows, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &sqlRows{rows}, nil
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) storage.Row {
	return d.db.QueryRowContext(ctx, query, args...)
}

// Begin opens a transaction. The transaction is bound to ctx by database/sql,
// so callers that must not be interrupted pass a non-cancellable context.
func (d *DB) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx wraps a *sql.Tx.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execResult(t.tx.ExecContext(ctx, query, args...))
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (storage.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &sqlRows{rows}, nil
}

func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) storage.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *Tx) Commit(context.Context) error { return t.tx.Commit() }

func (t *Tx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return err
	}
	return nil
}

// sqlRows drops the error from (*sql.Rows).Close; Err reports iteration errors.
type sqlRows struct {
	*sql.Rows
}

func (r *sqlRows) Close() { _ = r.Rows.Close() }

func execResult(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
