package sqlite

import (
	"path/filepath"
	"testing"
)

// newTestDB opens a fresh on-disk database in a per-test temp dir.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
