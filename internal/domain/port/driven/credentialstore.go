package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
)

// CredentialStore defines the driven port for Credential record persistence.
// Implementations must keep activated => connected true for every row; the
// Mark and Toggle methods are single atomic updates for that reason.
type CredentialStore interface {
	// Insert adds a new credential. Returns ErrCredentialExists on duplicate id.
	Insert(ctx context.Context, cred model.Credential) error

	// Get returns the credential with the given id, or nil, nil if absent.
	Get(ctx context.Context, id string) (*model.Credential, error)

	ListAll(ctx context.Context) ([]model.Credential, error)
	ListActivated(ctx context.Context) ([]model.Credential, error)

	// MarkValidated sets connected and records the identity and validation time.
	MarkValidated(ctx context.Context, id string, identity model.Identity, at time.Time) error

	// MarkDisconnected clears connected and activated together.
	MarkDisconnected(ctx context.Context, id string) error

	// MarkConnected sets connected without touching the validation time.
	MarkConnected(ctx context.Context, id string) error

	// ToggleActivation flips activated only when connected is set. It reports
	// whether a row changed. Returns ErrCredentialNotFound if id is unknown.
	ToggleActivation(ctx context.Context, id string) (bool, error)

	// Delete removes the credential. Returns ErrCredentialNotFound if absent.
	Delete(ctx context.Context, id string) error
}
