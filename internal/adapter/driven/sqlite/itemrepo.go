package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
	"github.com/ericfisherdev/notionwidgets/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ItemStore = (*ItemRepo)(nil)

const itemColumns = `id, credential_id, parent_collection_id, title, is_completed, due_date, url, updated_at, last_synced_at`

// ItemRepo is the SQLite implementation of the ItemStore port interface.
type ItemRepo struct {
	db *DB
}

// NewItemRepo creates a new ItemRepo backed by the given DB.
func NewItemRepo(db *DB) *ItemRepo {
	return &ItemRepo{db: db}
}

// UpsertBatch inserts or replaces all items in a single transaction. Items carry
// no local-only fields, so every column is overwritten on conflict.
func (r *ItemRepo) UpsertBatch(ctx context.Context, items []model.RemoteItem) error {
	if len(items) == 0 {
		return nil
	}

	const query = `
		INSERT INTO items (` + itemColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			credential_id = excluded.credential_id,
			parent_collection_id = excluded.parent_collection_id,
			title = excluded.title,
			is_completed = excluded.is_completed,
			due_date = excluded.due_date,
			url = excluded.url,
			updated_at = excluded.updated_at,
			last_synced_at = excluded.last_synced_at
	`

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare item upsert: %w", err)
		}
		defer stmt.Close()

		for _, item := range items {
			_, err := stmt.ExecContext(ctx,
				item.ID, item.CredentialID, item.ParentCollectionID, item.Title,
				boolToInt(item.IsCompleted), nullTimePtr(item.DueDate), nullString(item.URL),
				nullTime(item.UpdatedAt), formatTime(item.LastSyncedAt),
			)
			if err != nil {
				return fmt.Errorf("upsert item %q: %w", item.ID, err)
			}
		}
		return nil
	})
}

// Get retrieves an item by id. Returns nil, nil if it does not exist.
func (r *ItemRepo) Get(ctx context.Context, id string) (*model.RemoteItem, error) {
	const query = `SELECT ` + itemColumns + ` FROM items WHERE id = ?`

	item, err := scanItem(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item %q: %w", id, err)
	}

	return item, nil
}

// ListByCollection returns the items of a collection: open items first, then by
// due date (undated last) and title.
func (r *ItemRepo) ListByCollection(ctx context.Context, collectionID string) ([]model.RemoteItem, error) {
	const query = `
		SELECT ` + itemColumns + `
		FROM items
		WHERE parent_collection_id = ?
		ORDER BY is_completed, due_date IS NULL, due_date, title COLLATE NOCASE, id
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, collectionID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []model.RemoteItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}

	return items, nil
}

func scanItem(s scanner) (*model.RemoteItem, error) {
	var item model.RemoteItem
	var isCompleted int
	var dueDate, url, updatedAt sql.NullString
	var lastSyncedAt string

	err := s.Scan(
		&item.ID, &item.CredentialID, &item.ParentCollectionID, &item.Title,
		&isCompleted, &dueDate, &url, &updatedAt, &lastSyncedAt,
	)
	if err != nil {
		return nil, err
	}

	item.IsCompleted = isCompleted != 0
	item.URL = url.String

	if dueDate.Valid {
		due, err := parseTime(dueDate.String)
		if err != nil {
			return nil, fmt.Errorf("parse due_date: %w", err)
		}
		item.DueDate = &due
	}
	if item.UpdatedAt, err = parseNullTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if item.LastSyncedAt, err = parseTime(lastSyncedAt); err != nil {
		return nil, fmt.Errorf("parse last_synced_at: %w", err)
	}

	return &item, nil
}
