package driven

import "context"

// SecretStore defines the driven port for opaque secret persistence keyed by
// credential id. The adapter layer is responsible for encryption; this
// interface operates on plaintext values at the domain boundary.
type SecretStore interface {
	// Put stores or replaces the secret for id. Returns ErrEncryptionKeyNotSet
	// if the adapter was constructed without an encryption key.
	Put(ctx context.Context, id, secret string) error

	// Get retrieves the plaintext secret for id.
	// Returns ("", nil) if no secret exists for that id.
	Get(ctx context.Context, id string) (string, error)

	// Delete removes the secret for id. Deleting a missing secret is not an error.
	Delete(ctx context.Context, id string) error

	// ListIDs returns the ids of all stored secrets.
	ListIDs(ctx context.Context) ([]string, error)
}
