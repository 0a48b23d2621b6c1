package dbx

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// One in-memory database per test, not per pooled connection.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE lockers (id INTEGER PRIMARY KEY, state TEXT);`)
	require.NoError(t, err)
	return db
}

func countLockers(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM lockers`).Scan(&n))
	return n
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO lockers(state) VALUES ('free')`)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 1, countLockers(t, db))
}

func TestWithTx_RollsBackWhenFnFails(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		_, e := tx.ExecContext(ctx, `INSERT INTO lockers(state) VALUES ('reserved')`)
		require.NoError(t, e)
		return errors.New("transition rejected")
	})
	require.Error(t, err)
	require.Equal(t, 0, countLockers(t, db), "insert must not survive the failed fn")
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	db := setupDB(t)

	defer func() {
		require.NotNil(t, recover(), "panic must propagate to the caller")
		require.Equal(t, 0, countLockers(t, db))
	}()

	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		_, e := tx.ExecContext(ctx, `INSERT INTO lockers(state) VALUES ('owned')`)
		require.NoError(t, e)
		panic("mid-transaction failure")
	})
}

func TestWithTx_BeginErrorIsReturned(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.Close())

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		return nil
	})
	require.Error(t, err)
}
