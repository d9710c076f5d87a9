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
var _ driven.CollectionStore = (*CollectionRepo)(nil)

const collectionColumns = `id, credential_id, title, description, url, created_at, updated_at, widget_enabled, widget_kind, last_synced_at`

// CollectionRepo is the SQLite implementation of the CollectionStore port interface.
type CollectionRepo struct {
	db *DB
}

// NewCollectionRepo creates a new CollectionRepo backed by the given DB.
func NewCollectionRepo(db *DB) *CollectionRepo {
	return &CollectionRepo{db: db}
}

// Upsert inserts a collection or overwrites its remote-sourced fields, and
// records that c.CredentialID can see it. On insert the widget is disabled; on
// update widget_enabled and widget_kind keep their stored values regardless of
// what c carries. An existing owner is kept unless it no longer exists.
func (r *CollectionRepo) Upsert(ctx context.Context, c model.RemoteCollection) error {
	const upsertQuery = `
		INSERT INTO collections (
			id, credential_id, title, description, url, created_at, updated_at,
			widget_enabled, widget_kind, last_synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL, ?)
		ON CONFLICT(id) DO UPDATE SET
			credential_id = CASE
				WHEN EXISTS (SELECT 1 FROM credentials WHERE id = collections.credential_id)
				THEN collections.credential_id
				ELSE excluded.credential_id
			END,
			title = excluded.title,
			description = excluded.description,
			url = excluded.url,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			last_synced_at = excluded.last_synced_at
	`
	const accessQuery = `INSERT INTO collection_access (credential_id, collection_id) VALUES (?, ?) ON CONFLICT DO NOTHING`

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertQuery,
			c.ID, c.CredentialID, c.Title, nullString(c.Description), nullString(c.URL),
			nullTime(c.CreatedAt), nullTime(c.UpdatedAt), formatTime(c.LastSyncedAt),
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, accessQuery, c.CredentialID, c.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert collection %q: %w", c.ID, err)
	}

	return nil
}

// Get retrieves a collection by id. Returns nil, nil if it does not exist.
func (r *CollectionRepo) Get(ctx context.Context, id string) (*model.RemoteCollection, error) {
	const query = `SELECT ` + collectionColumns + ` FROM collections WHERE id = ?`

	c, err := scanCollection(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get collection %q: %w", id, err)
	}

	return c, nil
}

// ListByCredential returns the collections a credential can see, ordered by
// title. Shared collections appear under every credential that synced them.
func (r *CollectionRepo) ListByCredential(ctx context.Context, credentialID string) ([]model.RemoteCollection, error) {
	const query = `SELECT ` + collectionColumns + ` FROM collections
		WHERE id IN (SELECT collection_id FROM collection_access WHERE credential_id = ?)
		ORDER BY title COLLATE NOCASE, id`
	return r.queryCollections(ctx, query, credentialID)
}

// HasAccess reports whether the credential has synced the collection.
func (r *CollectionRepo) HasAccess(ctx context.Context, credentialID, collectionID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM collection_access WHERE credential_id = ? AND collection_id = ?)`

	var found int
	if err := r.db.Reader.QueryRowContext(ctx, query, credentialID, collectionID).Scan(&found); err != nil {
		return false, fmt.Errorf("check access to collection %q: %w", collectionID, err)
	}
	return found != 0, nil
}

// ListWidgetEnabled returns every collection with its widget enabled.
func (r *CollectionRepo) ListWidgetEnabled(ctx context.Context) ([]model.RemoteCollection, error) {
	const query = `SELECT ` + collectionColumns + ` FROM collections WHERE widget_enabled = 1 ORDER BY credential_id, title COLLATE NOCASE, id`
	return r.queryCollections(ctx, query)
}

// SetWidget writes the local-only widget fields of a collection.
func (r *CollectionRepo) SetWidget(ctx context.Context, id string, enabled bool, kind string) error {
	const query = `UPDATE collections SET widget_enabled = ?, widget_kind = ? WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, boolToInt(enabled), nullString(kind), id)
	if err != nil {
		return fmt.Errorf("set widget for collection %q: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("set widget for collection %q: %w", id, driven.ErrCollectionNotFound)
	}

	return nil
}

func (r *CollectionRepo) queryCollections(ctx context.Context, query string, args ...any) ([]model.RemoteCollection, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query collections: %w", err)
	}
	defer rows.Close()

	var collections []model.RemoteCollection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		collections = append(collections, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}

	return collections, nil
}

func scanCollection(s scanner) (*model.RemoteCollection, error) {
	var c model.RemoteCollection
	var description, url, createdAt, updatedAt, widgetKind sql.NullString
	var widgetEnabled int
	var lastSyncedAt string

	err := s.Scan(
		&c.ID, &c.CredentialID, &c.Title, &description, &url,
		&createdAt, &updatedAt, &widgetEnabled, &widgetKind, &lastSyncedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Description = description.String
	c.URL = url.String
	c.WidgetEnabled = widgetEnabled != 0
	c.WidgetKind = widgetKind.String

	if c.CreatedAt, err = parseNullTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = parseNullTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if c.LastSyncedAt, err = parseTime(lastSyncedAt); err != nil {
		return nil, fmt.Errorf("parse last_synced_at: %w", err)
	}

	return &c, nil
}
