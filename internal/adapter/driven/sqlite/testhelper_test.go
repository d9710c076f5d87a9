package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
)

// setupTestDB creates a named shared in-memory SQLite database for testing.
// Writer and reader connections share the same in-memory database via cache=shared.
// A unique name derived from t.Name() ensures isolation between parallel tests.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// Percent-encode the test name so it's a safe SQLite URI filename component
	// and cannot be misinterpreted as query parameters in the "file:%s?..." DSN.
	safeName := url.PathEscape(t.Name())
	// WAL mode is not applicable to in-memory databases; omit journal_mode pragma.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		safeName,
	)

	db, err := open(context.Background(), dsn, dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// insertCredential adds a credential row with the given flags for use as a
// foreign key target.
func insertCredential(t *testing.T, db *DB, id string, connected, activated bool) {
	t.Helper()

	err := NewCredentialRepo(db).Insert(context.Background(), model.Credential{
		ID:        id,
		Name:      "cred " + id,
		SecretRef: id,
		Connected: connected,
		Activated: activated,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
}

// insertCollection adds a collection owned by credentialID.
func insertCollection(t *testing.T, db *DB, id, credentialID, title string) {
	t.Helper()

	err := NewCollectionRepo(db).Upsert(context.Background(), model.RemoteCollection{
		ID:           id,
		CredentialID: credentialID,
		Title:        title,
		LastSyncedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
}
