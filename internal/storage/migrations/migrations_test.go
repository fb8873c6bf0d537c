package migrations

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableCount(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('sub_records', 'processed_entities', 'checkpoints')`,
	).Scan(&n))
	return n
}

func TestSQLiteUpDownRoundTrip(t *testing.T) {
	t.Parallel()

	db := openSQLite(t)

	v, dirty, err := Version(db, SQLite)
	require.NoError(t, err)
	require.False(t, dirty)
	require.Zero(t, v)

	require.NoError(t, Up(db, SQLite))
	require.NoError(t, Up(db, SQLite), "a current schema is not an error")
	v, _, err = Version(db, SQLite)
	require.NoError(t, err)
	require.Equal(t, uint(3), v)
	require.Equal(t, 3, tableCount(t, db))

	require.NoError(t, Down(db, SQLite))
	v, _, err = Version(db, SQLite)
	require.NoError(t, err)
	require.Zero(t, v)
	require.Zero(t, tableCount(t, db))

	require.NoError(t, db.Ping(), "the caller's handle stays open")
}

func TestUnsupportedDialect(t *testing.T) {
	t.Parallel()

	require.ErrorContains(t, Up(openSQLite(t), Dialect("mysql")), "unsupported migration dialect")
}
