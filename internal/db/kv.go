package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// KVGet returns the value stored under key and whether it exists.
func (db *DB) KVGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get %q: %w", key, err)
	}
	return value, true, nil
}

// KVPut stores value under key, replacing any previous value.
func (db *DB) KVPut(ctx context.Context, key, value string) error {
	return kvPut(ctx, db.DB, key, value)
}

// KVPutMany stores several keys in one transaction.
func (db *DB) KVPutMany(ctx context.Context, values map[string]string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv begin: %w", err)
	}
	defer tx.Rollback()

	for k, v := range values {
		if err := kvPut(ctx, tx, k, v); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("kv commit: %w", err)
	}
	return nil
}

// KVDelete removes keys. Missing keys are ignored.
func (db *DB) KVDelete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if _, err := db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, k); err != nil {
			return fmt.Errorf("kv delete %q: %w", k, err)
		}
	}
	return nil
}

// KVUpdate reads key, passes the current value to fn and stores the result,
// all inside one transaction. ok is false when the key does not exist.
func (db *DB) KVUpdate(ctx context.Context, key string, fn func(current string, ok bool) (string, error)) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv begin: %w", err)
	}
	defer tx.Rollback()

	var current string
	ok := true
	err = tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		ok = false
	} else if err != nil {
		return fmt.Errorf("kv get %q: %w", key, err)
	}

	next, err := fn(current, ok)
	if err != nil {
		return err
	}
	if err := kvPut(ctx, tx, key, next); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("kv commit: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func kvPut(ctx context.Context, ex execer, key, value string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("kv put %q: %w", key, err)
	}
	return nil
}
