package db

import (
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"000001_create_test_table.up.sql": &fstest.MapFile{Data: []byte(`
			CREATE TABLE IF NOT EXISTS test_table (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL);`)},
		"000001_create_test_table.down.sql": &fstest.MapFile{Data: []byte(`DROP TABLE IF EXISTS test_table;`)},
		"000002_add_test_column.up.sql":     &fstest.MapFile{Data: []byte(`ALTER TABLE test_table ADD COLUMN description TEXT;`)},
		"000002_add_test_column.down.sql":   &fstest.MapFile{Data: []byte(`ALTER TABLE test_table DROP COLUMN description;`)},
	}
}

func openBareDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "bare.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateUpDown(t *testing.T) {
	db := openBareDB(t)
	migFS := testMigrations()

	version, _, err := db.MigrateVersion(migFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 0 {
		t.Errorf("fresh database version = %d, want 0", version)
	}

	if err := db.MigrateUp(migFS); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	// no change is not an error
	if err := db.MigrateUp(migFS); err != nil {
		t.Fatalf("second MigrateUp failed: %v", err)
	}
	if version, _, _ = db.MigrateVersion(migFS); version != 2 {
		t.Errorf("version after up = %d, want 2", version)
	}

	if err := db.MigrateDown(migFS); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	if version, _, _ = db.MigrateVersion(migFS); version != 1 {
		t.Errorf("version after down = %d, want 1", version)
	}

	if err := db.MigrateTo(migFS, 2); err != nil {
		t.Fatalf("MigrateTo failed: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO test_table (name, description) VALUES ('a', 'b')`); err != nil {
		t.Errorf("column from migration 2 missing: %v", err)
	}
}

func TestMigrateForce(t *testing.T) {
	db := openBareDB(t)
	migFS := testMigrations()

	if err := db.MigrateForce(migFS, 1); err != nil {
		t.Fatalf("MigrateForce failed: %v", err)
	}
	version, dirty, err := db.MigrateVersion(migFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("after force: version %d dirty %v, want 1 clean", version, dirty)
	}
	exists, err := db.SchemaMigrationsExists()
	if err != nil || !exists {
		t.Errorf("SchemaMigrationsExists() = %v, %v", exists, err)
	}
}

func TestNewMigrate_ClosedDB(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	db.Close()

	err = db.MigrateUp(testMigrations())
	if err == nil {
		t.Fatal("expected error from MigrateUp on closed DB, got nil")
	}
	if !strings.Contains(err.Error(), "failed to create sqlite driver") {
		t.Errorf("expected 'failed to create sqlite driver' in error, got: %v", err)
	}
}

func TestGetLatestMigrationVersion(t *testing.T) {
	v, err := GetLatestMigrationVersion(testMigrations())
	if err != nil {
		t.Fatalf("GetLatestMigrationVersion failed: %v", err)
	}
	if v != 2 {
		t.Errorf("latest = %d, want 2", v)
	}

	if _, err := GetLatestMigrationVersion(fstest.MapFS{}); err == nil {
		t.Error("expected error for empty migrations")
	}
}
