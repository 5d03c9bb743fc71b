// Package testdb opens migrated SQLite databases for tests.
//
// It uses the pure-Go driver so tests run without cgo:
//
//	func TestSomething(t *testing.T) {
//	    sqlDB := testdb.New(t) // closed on cleanup
//	}
package testdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orderflow/backend/internal/db"
)

// New returns a fresh database in a temporary directory with all migrations
// applied.
func New(t testing.TB) *sql.DB {
	t.Helper()

	sqlDB, err := db.Open(db.Config{
		Driver: db.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "orderflow.db"),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return sqlDB
}
