package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
	"github.com/ericfisherdev/notionwidgets/internal/domain/port/driven"
)

// WidgetService manages named widget configurations.
type WidgetService struct {
	widgets     driven.WidgetConfigStore
	creds       driven.CredentialStore
	collections driven.CollectionStore
	changes     *ChangeFeed
	ids         IDProvider
	now         func() time.Time
}

// NewWidgetService creates a new WidgetService with all required dependencies.
func NewWidgetService(
	widgets driven.WidgetConfigStore,
	creds driven.CredentialStore,
	collections driven.CollectionStore,
	changes *ChangeFeed,
	opts ...Option,
) *WidgetService {
	o := buildOptions(opts)
	return &WidgetService{
		widgets:     widgets,
		creds:       creds,
		collections: collections,
		changes:     changes,
		ids:         o.ids,
		now:         o.now,
	}
}

// Create validates and stores a new widget configuration. The credential
// must exist, and the collection, when given, must belong to it. Settings
// must be empty or valid JSON.
func (s *WidgetService) Create(ctx context.Context, w model.WidgetConfiguration) (*model.WidgetConfiguration, error) {
	w.Name = strings.TrimSpace(w.Name)
	if w.Name == "" {
		return nil, fmt.Errorf("create widget: name is required: %w", ErrInvalidInput)
	}
	if !w.Kind.Valid() {
		return nil, fmt.Errorf("create widget: kind %q: %w", w.Kind, ErrInvalidInput)
	}
	if len(w.Settings) > 0 && !json.Valid(w.Settings) {
		return nil, fmt.Errorf("create widget: settings must be JSON: %w", ErrInvalidInput)
	}

	cred, err := s.creds.Get(ctx, w.CredentialID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, fmt.Errorf("create widget: credential %q: %w", w.CredentialID, driven.ErrCredentialNotFound)
	}

	if w.CollectionID != "" {
		visible, err := s.collections.HasAccess(ctx, cred.ID, w.CollectionID)
		if err != nil {
			return nil, err
		}
		if !visible {
			return nil, fmt.Errorf("create widget: collection %q: %w", w.CollectionID, driven.ErrCollectionNotFound)
		}
	}

	id, err := s.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate widget id: %w", err)
	}
	w.ID = id
	w.CreatedAt = s.now()
	w.UpdatedAt = w.CreatedAt

	if err := s.widgets.Create(ctx, w); err != nil {
		return nil, err
	}

	slog.Info("widget configuration created", "widget", w.ID, "kind", w.Kind, "credential", w.CredentialID)
	s.changes.Publish(ChangeEvent{Kind: ChangeWidgets, CredentialID: w.CredentialID, IDs: []string{w.ID}, At: w.CreatedAt})

	return &w, nil
}

// List returns every widget configuration, orphaned ones included.
func (s *WidgetService) List(ctx context.Context) ([]model.WidgetConfiguration, error) {
	return s.widgets.ListAll(ctx)
}

// Delete removes a widget configuration.
func (s *WidgetService) Delete(ctx context.Context, id string) error {
	if err := s.widgets.Delete(ctx, id); err != nil {
		return err
	}

	slog.Info("widget configuration deleted", "widget", id)
	s.changes.Publish(ChangeEvent{Kind: ChangeWidgets, IDs: []string{id}, At: s.now()})
	return nil
}
