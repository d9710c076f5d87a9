package application

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/notionwidgets/internal/adapter/driven/sharedfs"
	"github.com/ericfisherdev/notionwidgets/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
	"github.com/ericfisherdev/notionwidgets/internal/domain/port/driven"
)

// --- Real stores backed by a temp-file database ---

type testStores struct {
	db          *sqlite.DB
	creds       *sqlite.CredentialRepo
	secrets     *sqlite.SecretRepo
	collections *sqlite.CollectionRepo
	items       *sqlite.ItemRepo
	widgets     *sqlite.WidgetConfigRepo
}

func newTestStores(t *testing.T) *testStores {
	t.Helper()

	ctx := context.Background()
	db, err := sqlite.NewDB(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, sqlite.RunMigrations(db.Writer))

	key, err := sqlite.DeriveKey("test passphrase")
	require.NoError(t, err)

	return &testStores{
		db:          db,
		creds:       sqlite.NewCredentialRepo(db),
		secrets:     sqlite.NewSecretRepo(db, key),
		collections: sqlite.NewCollectionRepo(db),
		items:       sqlite.NewItemRepo(db),
		widgets:     sqlite.NewWidgetConfigRepo(db),
	}
}

func newTestShared(t *testing.T) *sharedfs.Store {
	t.Helper()
	store, err := sharedfs.NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

// requireInvariant asserts activated => connected for every stored credential.
func requireInvariant(t *testing.T, creds driven.CredentialStore) {
	t.Helper()
	all, err := creds.ListAll(context.Background())
	require.NoError(t, err)
	for _, c := range all {
		if c.Activated {
			require.True(t, c.Connected, "credential %s is activated but disconnected", c.ID)
		}
	}
}

// --- Fakes ---

type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (s *sequentialIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("id-%d", s.next), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type mockRemote struct {
	mu sync.Mutex

	validate        func(secret string) (model.Identity, error)
	listCollections func(secret string) ([]model.CollectionSummary, error)
	getCollection   func(secret, id string) (model.RemoteCollection, error)
	listItems       func(secret, collectionID string, pageSize int, cursor string) (model.ItemPage, error)
	getItem         func(secret, id string) (model.ItemPayload, error)

	validateCalls map[string]int
}

func (m *mockRemote) ValidateIdentity(_ context.Context, secret string) (model.Identity, error) {
	m.mu.Lock()
	if m.validateCalls == nil {
		m.validateCalls = map[string]int{}
	}
	m.validateCalls[secret]++
	m.mu.Unlock()

	if m.validate == nil {
		return model.Identity{ID: "bot"}, nil
	}
	return m.validate(secret)
}

func (m *mockRemote) ListCollections(_ context.Context, secret string) ([]model.CollectionSummary, error) {
	if m.listCollections == nil {
		return nil, nil
	}
	return m.listCollections(secret)
}

func (m *mockRemote) GetCollection(_ context.Context, secret, id string) (model.RemoteCollection, error) {
	if m.getCollection == nil {
		return model.RemoteCollection{ID: id, Title: id}, nil
	}
	return m.getCollection(secret, id)
}

func (m *mockRemote) ListItems(_ context.Context, secret, collectionID string, pageSize int, cursor string) (model.ItemPage, error) {
	if m.listItems == nil {
		return model.ItemPage{}, nil
	}
	return m.listItems(secret, collectionID, pageSize, cursor)
}

func (m *mockRemote) GetItem(_ context.Context, secret, id string) (model.ItemPayload, error) {
	if m.getItem == nil {
		return model.ItemPayload{}, fmt.Errorf("get item %q: %w", id, driven.ErrNotFound)
	}
	return m.getItem(secret, id)
}

func (m *mockRemote) calls(secret string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validateCalls[secret]
}

// flakySecrets wraps a SecretStore and fails selected operations.
type flakySecrets struct {
	driven.SecretStore
	putErr    error
	deleteErr error
}

func (f *flakySecrets) Put(ctx context.Context, id, secret string) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.SecretStore.Put(ctx, id, secret)
}

func (f *flakySecrets) Delete(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.SecretStore.Delete(ctx, id)
}

// flakyCreds wraps a CredentialStore and fails selected operations.
type flakyCreds struct {
	driven.CredentialStore
	insertErr error
}

func (f *flakyCreds) Insert(ctx context.Context, cred model.Credential) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.CredentialStore.Insert(ctx, cred)
}

type recordingNotifier struct {
	mu      sync.Mutex
	reasons []string
}

func (n *recordingNotifier) NotifyReload(_ context.Context, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reasons = append(n.reasons, reason)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.reasons)
}

// titleProps builds a property bag with a title property and optional extras.
func titleProps(title string, extra map[string]map[string]any) model.PropertyBag {
	props := model.PropertyBag{
		"Name": {"type": "title", "title": []any{map[string]any{"plain_text": title}}},
	}
	for k, v := range extra {
		props[k] = v
	}
	return props
}
