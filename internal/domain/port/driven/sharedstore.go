package driven

import "context"

// SharedStore defines the driven port for the cross-process key-value store
// read by rendering surfaces. It offers last-write-wins per key and nothing
// more; it is a derived cache, never a source of truth.
type SharedStore interface {
	Put(ctx context.Context, key string, value []byte) error

	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys beginning with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// ReloadNotifier tells the rendering-surface host that shared data changed.
type ReloadNotifier interface {
	NotifyReload(ctx context.Context, reason string) error
}
