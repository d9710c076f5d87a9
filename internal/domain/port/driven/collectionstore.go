package driven

import (
	"context"

	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
)

// CollectionStore defines the driven port for RemoteCollection persistence.
// Upsert writes remote-sourced fields only; WidgetEnabled and WidgetKind are
// written exclusively by SetWidget. A collection visible to several
// credentials is stored once, with the first credential as its owner.
type CollectionStore interface {
	Upsert(ctx context.Context, c model.RemoteCollection) error
	Get(ctx context.Context, id string) (*model.RemoteCollection, error)

	// ListByCredential returns every collection the credential has synced,
	// including ones owned by another credential.
	ListByCredential(ctx context.Context, credentialID string) ([]model.RemoteCollection, error)
	HasAccess(ctx context.Context, credentialID, collectionID string) (bool, error)
	ListWidgetEnabled(ctx context.Context) ([]model.RemoteCollection, error)

	// SetWidget updates the local-only widget fields. Returns ErrCollectionNotFound
	// if the collection does not exist.
	SetWidget(ctx context.Context, id string, enabled bool, kind string) error
}

// ItemStore defines the driven port for RemoteItem persistence.
type ItemStore interface {
	// UpsertBatch writes all items in one transaction.
	UpsertBatch(ctx context.Context, items []model.RemoteItem) error
	Get(ctx context.Context, id string) (*model.RemoteItem, error)
	ListByCollection(ctx context.Context, collectionID string) ([]model.RemoteItem, error)
}

// WidgetConfigStore defines the driven port for WidgetConfiguration persistence.
type WidgetConfigStore interface {
	Create(ctx context.Context, w model.WidgetConfiguration) error
	Get(ctx context.Context, id string) (*model.WidgetConfiguration, error)
	ListAll(ctx context.Context) ([]model.WidgetConfiguration, error)

	// Delete removes the configuration. Returns ErrWidgetNotFound if absent.
	Delete(ctx context.Context, id string) error
}
