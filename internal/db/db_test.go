package db

import (
	"io/fs"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestPragmasApplied verifies that essential PRAGMAs are set on every connection
func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	// force a second pooled connection so the check is not just the first one
	db.SetMaxIdleConns(0)

	checks := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"busy_timeout", "5000"},
		{"synchronous", "1"},
		{"temp_store", "2"},
		{"foreign_keys", "1"},
	}
	for _, c := range checks {
		for i := 0; i < 2; i++ {
			var got string
			if err := db.QueryRow("PRAGMA " + c.pragma).Scan(&got); err != nil {
				t.Fatalf("Failed to query %s: %v", c.pragma, err)
			}
			if got != c.want {
				t.Errorf("PRAGMA %s = %s, want %s", c.pragma, got, c.want)
			}
		}
	}
}

func TestNewDB_AppliesEmbeddedMigrations(t *testing.T) {
	db := newTestDB(t)

	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS() failed: %v", err)
	}
	latest, err := GetLatestMigrationVersion(migFS)
	if err != nil {
		t.Fatalf("GetLatestMigrationVersion() failed: %v", err)
	}
	version, dirty, err := db.MigrateVersion(migFS)
	if err != nil {
		t.Fatalf("MigrateVersion() failed: %v", err)
	}
	if version != latest || dirty {
		t.Errorf("version = %d (dirty %v), want %d clean", version, dirty, latest)
	}

	for _, table := range []string{"kv", "documents", "schema_migrations"} {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		if err != nil || n != 1 {
			t.Errorf("table %s missing (n=%d, err=%v)", table, n, err)
		}
	}
}

func TestNewDB_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	first, err := NewDB(path)
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	first.Close()

	second, err := NewDB(path)
	if err != nil {
		t.Fatalf("second NewDB failed: %v", err)
	}
	second.Close()
}

func TestEmbeddedMigrationsFS(t *testing.T) {
	origDevMode := DevMode
	DevMode = false
	defer func() { DevMode = origDevMode }()

	migFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS() failed: %v", err)
	}
	ups, err := fs.Glob(migFS, "*.up.sql")
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	downs, err := fs.Glob(migFS, "*.down.sql")
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(ups) == 0 || len(ups) != len(downs) {
		t.Errorf("expected matching up/down migrations, got %d up and %d down", len(ups), len(downs))
	}
}
