package tests

import (
	"path/filepath"
	"testing"
)

// Sqlite3URL returns the URL of a new database file that lives as long as the test.
func Sqlite3URL(t testing.TB) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "tradesubmit.db") + "?_foreign_keys=on&_busy_timeout=5000"
}
