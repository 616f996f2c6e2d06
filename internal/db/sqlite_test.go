package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *sqlx.DB {
	conn, err := OpenSQLite(filepath.Join(t.TempDir(), "sub", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = conn.Exec(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)
	return conn
}

func TestWithRetryTx_Commit(t *testing.T) {
	conn := openTestSQLite(t)

	err := WithRetryTx(context.Background(), conn, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`INSERT INTO kv (k, v) VALUES ('a', '1')`)
		return err
	})
	require.NoError(t, err)

	var v string
	require.NoError(t, conn.Get(&v, `SELECT v FROM kv WHERE k = 'a'`))
	assert.Equal(t, "1", v)
}

func TestWithRetryTx_Rollback(t *testing.T) {
	conn := openTestSQLite(t)
	boom := errors.New("boom")

	calls := 0
	err := WithRetryTx(context.Background(), conn, func(tx *sqlx.Tx) error {
		calls++
		if _, err := tx.Exec(`INSERT INTO kv (k, v) VALUES ('a', '1')`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "non-sqlite errors are not retried")

	var n int
	require.NoError(t, conn.Get(&n, `SELECT COUNT(*) FROM kv`))
	assert.Equal(t, 0, n)
}

func TestWithRetryTx_RetriesBusy(t *testing.T) {
	conn := openTestSQLite(t)

	calls := 0
	err := WithRetryTx(context.Background(), conn, func(tx *sqlx.Tx) error {
		calls++
		if calls < 3 {
			return sqlite3.Error{Code: sqlite3.ErrBusy}
		}
		_, err := tx.Exec(`INSERT INTO kv (k, v) VALUES ('a', '1')`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}
