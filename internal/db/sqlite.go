package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// OpenSQLite opens (creating if needed) the SQLite database at path.
//
// A single connection is kept open so writers inside this process queue up on
// the pool instead of racing for the file lock; the busy timeout and the
// retry in WithRetryTx cover other processes sharing the file.
func OpenSQLite(path string) (*sqlx.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

type TxFn func(tx *sqlx.Tx) error

// WithRetryTx runs fn in a transaction, committing on success and rolling
// back on error. Busy and locked errors are retried with exponential backoff;
// anything else is returned as is.
func WithRetryTx(ctx context.Context, db *sqlx.DB, fn TxFn) error {
	operation := func() error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return classify(fmt.Errorf("create transaction: %w", err))
		}

		defer func() {
			if p := recover(); p != nil {
				_ = tx.Rollback()
				panic(p)
			}
		}()

		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				return backoff.Permanent(fmt.Errorf("rollback after %v: %w", err, rbErr))
			}
			return classify(err)
		}

		if err := tx.Commit(); err != nil {
			return classify(fmt.Errorf("commit transaction: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}

func classify(err error) error {
	if retryable(err) {
		return err
	}
	return backoff.Permanent(err)
}

func retryable(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
