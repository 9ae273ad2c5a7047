package testsqlite

import (
	"fmt"
	"path/filepath"
	"testing"
)

// DSN returns a connection string for a fresh SQLite database file inside the test's temp dir.
func DSN(tb testing.TB) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "chat.db")
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
}
