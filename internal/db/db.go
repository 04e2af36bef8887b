// Package db wraps the SQLite database that backs local persistence and the
// document API. The schema is managed by embedded golang-migrate migrations.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DevMode makes the migration commands read internal/db/migrations from the
// working directory instead of the embedded copy.
var DevMode = false

// pragmas are applied to every pooled connection through the DSN.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(ON)",
}

type DB struct {
	*sql.DB
}

// OpenDB opens the database at path with the standard pragmas but does not
// touch the schema.
func OpenDB(path string) (*DB, error) {
	params := make([]string, 0, len(pragmas))
	for _, p := range pragmas {
		params = append(params, "_pragma="+p)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	sqlDB, err := sql.Open("sqlite", path+sep+strings.Join(params, "&"))
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &DB{sqlDB}, nil
}

// NewDB opens the database at path and applies all pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	migFS, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(migFS); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// getMigrationsFS returns the migration files, embedded unless DevMode is set.
func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		return os.DirFS(filepath.Join("internal", "db", "migrations")), nil
	}
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return sub, nil
}
