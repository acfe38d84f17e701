// Package sqlite binds workflow repositories to one SQLite handle and carries
// the open transaction through context.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/port"
)

type txKey struct{}

// DB is the transaction manager shared by the SQLite repositories
type DB struct {
	*sql.DB
	logger      *zap.Logger
	busyRetries int
	busyBackoff time.Duration
}

// Option configures DB
type Option func(*DB)

// WithBusyRetries sets how often a transaction is rerun after losing the
// write lock to another connection.
func WithBusyRetries(n int, backoff time.Duration) Option {
	return func(db *DB) {
		if n >= 0 {
			db.busyRetries = n
		}
		if backoff > 0 {
			db.busyBackoff = backoff
		}
	}
}

// NewDB wraps an open handle
func NewDB(sqlDB *sql.DB, logger *zap.Logger, opts ...Option) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	db := &DB{
		DB:          sqlDB,
		logger:      logger,
		busyRetries: 3,
		busyBackoff: 20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// WithTransaction runs fn in a transaction carried by the ctx it receives.
// A call inside an open transaction joins it. A top-level transaction that
// fails with SQLITE_BUSY or SQLITE_LOCKED is rolled back and rerun.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTransaction(ctx) {
		return fn(ctx)
	}

	for attempt := 0; ; attempt++ {
		err := db.runTx(ctx, fn)
		if err == nil || !IsBusy(err) || attempt >= db.busyRetries {
			return err
		}
		db.logger.Info("Database busy, retrying transaction", zap.Int("attempt", attempt+1), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(db.busyBackoff * time.Duration(attempt+1)):
		}
	}
}

func (db *DB) runTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			db.logger.Error("Transaction panicked, rolled back", zap.Any("panic", p))
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			db.logger.Error("Rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsBusy reports whether err means another connection held the lock
func IsBusy(err error) bool {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	return sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked
}

// InTransaction reports whether ctx carries an open transaction
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sql.Tx)
	return ok
}

// Executor returns the transaction bound to ctx, or the pool when there is none
func (db *DB) Executor(ctx context.Context) Execer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db.DB
}

// Execer is satisfied by *sql.DB and *sql.Tx
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var _ port.TransactionManager = (*DB)(nil)
