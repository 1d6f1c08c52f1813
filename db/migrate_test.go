package db

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateCreatesSchema(t *testing.T) {
	db := openTestDB(t)

	err := Migrate(db, nil)
	require.NoError(t, err)

	// schema_migrations must exist and record every migration
	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 2)

	// tracker_snapshot must exist
	_, err = db.Exec("INSERT INTO tracker_snapshot (id, active_job_id, polling_enabled) VALUES (1, 'J1', 1)")
	require.NoError(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, Migrate(db, nil))
	require.NoError(t, Migrate(db, nil))

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = '001'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIsDatabaseClosed(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Close())

	err := db.Ping()
	assert.True(t, IsDatabaseClosed(err))
	assert.False(t, IsDatabaseClosed(nil))
}
