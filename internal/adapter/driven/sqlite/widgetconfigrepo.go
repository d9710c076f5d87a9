package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
	"github.com/ericfisherdev/notionwidgets/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.WidgetConfigStore = (*WidgetConfigRepo)(nil)

const widgetColumns = `id, name, credential_id, collection_id, kind, settings, created_at, updated_at`

// WidgetConfigRepo is the SQLite implementation of the WidgetConfigStore port interface.
type WidgetConfigRepo struct {
	db *DB
}

// NewWidgetConfigRepo creates a new WidgetConfigRepo backed by the given DB.
func NewWidgetConfigRepo(db *DB) *WidgetConfigRepo {
	return &WidgetConfigRepo{db: db}
}

// Create inserts a new widget configuration.
func (r *WidgetConfigRepo) Create(ctx context.Context, w model.WidgetConfiguration) error {
	const query = `INSERT INTO widget_configurations (` + widgetColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now()
	createdAt := w.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := w.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		w.ID, w.Name, w.CredentialID, nullString(w.CollectionID), string(w.Kind), w.Settings,
		formatTime(createdAt), formatTime(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("create widget configuration %q: %w", w.Name, err)
	}

	return nil
}

// Get retrieves a widget configuration by id. Returns nil, nil if it does not exist.
func (r *WidgetConfigRepo) Get(ctx context.Context, id string) (*model.WidgetConfiguration, error) {
	const query = `SELECT ` + widgetColumns + ` FROM widget_configurations WHERE id = ?`

	w, err := scanWidget(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get widget configuration %q: %w", id, err)
	}

	return w, nil
}

// ListAll returns every widget configuration ordered by name.
func (r *WidgetConfigRepo) ListAll(ctx context.Context) ([]model.WidgetConfiguration, error) {
	const query = `SELECT ` + widgetColumns + ` FROM widget_configurations ORDER BY name COLLATE NOCASE, id`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list widget configurations: %w", err)
	}
	defer rows.Close()

	var widgets []model.WidgetConfiguration
	for rows.Next() {
		w, err := scanWidget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan widget configuration: %w", err)
		}
		widgets = append(widgets, *w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate widget configurations: %w", err)
	}

	return widgets, nil
}

// Delete removes a widget configuration by id.
func (r *WidgetConfigRepo) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM widget_configurations WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete widget configuration %q: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("delete widget configuration %q: %w", id, driven.ErrWidgetNotFound)
	}

	return nil
}

func scanWidget(s scanner) (*model.WidgetConfiguration, error) {
	var w model.WidgetConfiguration
	var collectionID sql.NullString
	var kind string
	var settings []byte
	var createdAt, updatedAt string

	err := s.Scan(&w.ID, &w.Name, &w.CredentialID, &collectionID, &kind, &settings, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	w.CollectionID = collectionID.String
	w.Kind = model.WidgetKind(kind)
	w.Settings = settings

	if w.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if w.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &w, nil
}
