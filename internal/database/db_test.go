package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "monitor.db"),
		Profile: ProfileDurable,
		Name:    "monitor",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrate_CreatesTables(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate())

	for _, table := range []string{"monitoring_jobs", "monitoring_records", "analysis_results"} {
		var name string
		err := db.Conn().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate())
	assert.NoError(t, db.Migrate())
}

func TestMigrate_UnknownDatabaseSkipped(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "x.db"), Name: "scratch"})
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Migrate())
	assert.Equal(t, ProfileStandard, db.Profile())
}

func TestActiveJobUniqueIndex(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate())

	insert := `INSERT INTO monitoring_jobs (job_id, security_id, interval_minutes, status, started_at, updated_at)
		VALUES (?, ?, 10, ?, 0, 0)`

	_, err := db.Exec(insert, "a", "600000", "RUNNING")
	require.NoError(t, err)

	_, err = db.Exec(insert, "b", "600000", "PAUSED")
	assert.Error(t, err, "second active job for the same security must be rejected")

	_, err = db.Exec(insert, "c", "600000", "STOPPED")
	assert.NoError(t, err, "stopped jobs do not count as active")
}

func TestWithTransaction(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	t.Run("commits on success", func(t *testing.T) {
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			_, err := tx.Exec("INSERT INTO t (v) VALUES (1)")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 1, countRows(t, db))
	})

	t.Run("rolls back on error", func(t *testing.T) {
		errBoom := errors.New("boom")
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			_, _ = tx.Exec("INSERT INTO t (v) VALUES (2)")
			return errBoom
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, countRows(t, db))
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			_, _ = tx.Exec("INSERT INTO t (v) VALUES (3)")
			panic("kaboom")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic in transaction")
		assert.Equal(t, 1, countRows(t, db))
	})

	t.Run("nil connection", func(t *testing.T) {
		assert.Error(t, WithTransaction(nil, func(*sql.Tx) error { return nil }))
	})
}

func TestHealthCheckAndSnapshot(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate())
	ctx := context.Background()

	require.NoError(t, db.HealthCheck(ctx))
	require.NoError(t, db.WALCheckpoint(""))

	dest := filepath.Join(t.TempDir(), "snap", "monitor.db")
	require.NoError(t, db.SnapshotTo(ctx, dest))

	snap, err := New(Config{Path: dest, Name: "snapshot"})
	require.NoError(t, err)
	defer snap.Close()

	var n int
	require.NoError(t, snap.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name='monitoring_jobs'").Scan(&n))
	assert.Equal(t, 1, n)

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Positive(t, stats.PageCount)
}

func countRows(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&n))
	return n
}
