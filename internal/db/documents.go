package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNoDocument is returned when a document does not exist.
var ErrNoDocument = errors.New("document not found")

// Document is one stored JSON body within a collection.
type Document struct {
	Collection string
	ID         string
	Body       []byte
	UpdatedAt  time.Time
}

// GetDocument returns the document collection/id or ErrNoDocument.
func (db *DB) GetDocument(ctx context.Context, collection, id string) (Document, error) {
	d := Document{Collection: collection, ID: id}
	var body string
	var updated int64
	err := db.QueryRowContext(ctx,
		`SELECT body, updated_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id).Scan(&body, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNoDocument
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document %s/%s: %w", collection, id, err)
	}
	d.Body = []byte(body)
	d.UpdatedAt = time.UnixMilli(updated).UTC()
	return d, nil
}

// PutDocument creates or replaces a document. Replacing keeps the document's
// position in its collection.
func (db *DB) PutDocument(ctx context.Context, collection, id string, body []byte) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		collection, id, string(body), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put document %s/%s: %w", collection, id, err)
	}
	return nil
}

// DeleteDocument removes a document and reports whether it existed.
func (db *DB) DeleteDocument(ctx context.Context, collection, id string) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return false, fmt.Errorf("delete document %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListDocuments returns every document in collection in insertion order.
func (db *DB) ListDocuments(ctx context.Context, collection string) ([]Document, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, body, updated_at FROM documents WHERE collection = ? ORDER BY seq`, collection)
	if err != nil {
		return nil, fmt.Errorf("list documents %s: %w", collection, err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var (
			id      string
			body    string
			updated int64
		)
		if err := rows.Scan(&id, &body, &updated); err != nil {
			return nil, err
		}
		docs = append(docs, Document{
			Collection: collection,
			ID:         id,
			Body:       []byte(body),
			UpdatedAt:  time.UnixMilli(updated).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}
