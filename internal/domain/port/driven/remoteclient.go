package driven

import (
	"context"

	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
)

// RemoteClient defines the driven port for the remote workspace API. Every
// call takes the credential's secret explicitly; there is no ambient session.
//
// Errors wrap ErrUnauthorized, ErrNotFound or ErrTransport so callers can
// apply the recovery policy for each class.
type RemoteClient interface {
	ValidateIdentity(ctx context.Context, secret string) (model.Identity, error)
	ListCollections(ctx context.Context, secret string) ([]model.CollectionSummary, error)
	GetCollection(ctx context.Context, secret, id string) (model.RemoteCollection, error)
	ListItems(ctx context.Context, secret, collectionID string, pageSize int, cursor string) (model.ItemPage, error)
	GetItem(ctx context.Context, secret, id string) (model.ItemPayload, error)
}
