package database

import (
	"errors"
	"testing"
)

func TestOpenSQLite_CreatesSchemaAndLocks(t *testing.T) {
	dir := t.TempDir()

	db, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	// Migrated tables must exist.
	for _, table := range []string{"embedding_vectors", "conversations"} {
		var name string
		err := db.DB.QueryRow(
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %q missing after migration: %v", table, err)
		}
	}

	// A second open of the same data dir must fail on the lock.
	if _, err := OpenSQLite(dir); !errors.Is(err, ErrLocked) {
		t.Errorf("second open error = %v, want ErrLocked", err)
	}
}

func TestOpenSQLite_ReopenAfterClose(t *testing.T) {
	dir := t.TempDir()

	db, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	_ = db2.Close()
}
