package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
	"github.com/ericfisherdev/notionwidgets/internal/domain/port/driven"
)

func TestCredentialRepo_InsertAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	ctx := context.Background()

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	err := repo.Insert(ctx, model.Credential{
		ID:        "c1",
		Name:      "Work",
		SecretRef: "c1",
		CreatedAt: created,
	})
	require.NoError(t, err)

	cred, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "Work", cred.Name)
	assert.Equal(t, "c1", cred.SecretRef)
	assert.False(t, cred.Connected)
	assert.False(t, cred.Activated)
	assert.True(t, cred.LastValidated.IsZero())
	assert.Equal(t, created, cred.CreatedAt)
}

func TestCredentialRepo_GetMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)

	cred, err := repo.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestCredentialRepo_InsertDuplicate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	ctx := context.Background()

	insertCredential(t, db, "c1", false, false)

	err := repo.Insert(ctx, model.Credential{ID: "c1", Name: "again", SecretRef: "c1"})
	require.ErrorIs(t, err, driven.ErrCredentialExists)
}

func TestCredentialRepo_CheckConstraintRejectsActivatedDisconnected(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)

	err := repo.Insert(context.Background(), model.Credential{
		ID: "bad", Name: "bad", SecretRef: "bad", Connected: false, Activated: true,
	})
	require.Error(t, err)

	cred, err := repo.Get(context.Background(), "bad")
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestCredentialRepo_MarkValidated(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	ctx := context.Background()

	insertCredential(t, db, "c1", false, false)

	at := time.Date(2024, 3, 2, 8, 30, 0, 0, time.UTC)
	err := repo.MarkValidated(ctx, "c1", model.Identity{WorkspaceID: "ws", WorkspaceName: "Acme"}, at)
	require.NoError(t, err)

	cred, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, cred.Connected)
	assert.False(t, cred.Activated)
	assert.Equal(t, at, cred.LastValidated)
	assert.Equal(t, "ws", cred.WorkspaceID)
	assert.Equal(t, "Acme", cred.WorkspaceName)

	// An identity without workspace details keeps the recorded ones.
	err = repo.MarkValidated(ctx, "c1", model.Identity{}, at.Add(time.Hour))
	require.NoError(t, err)

	cred, err = repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", cred.WorkspaceName)
	assert.Equal(t, at.Add(time.Hour), cred.LastValidated)
}

func TestCredentialRepo_MarkDisconnectedDemotes(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	ctx := context.Background()

	insertCredential(t, db, "c1", true, true)

	require.NoError(t, repo.MarkDisconnected(ctx, "c1"))

	cred, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, cred.Connected)
	assert.False(t, cred.Activated)
}

func TestCredentialRepo_MarkMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	ctx := context.Background()

	assert.ErrorIs(t, repo.MarkDisconnected(ctx, "x"), driven.ErrCredentialNotFound)
	assert.ErrorIs(t, repo.MarkConnected(ctx, "x"), driven.ErrCredentialNotFound)
	assert.ErrorIs(t, repo.MarkValidated(ctx, "x", model.Identity{}, time.Now()), driven.ErrCredentialNotFound)
}

func TestCredentialRepo_ToggleActivation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	ctx := context.Background()

	insertCredential(t, db, "on", true, false)
	insertCredential(t, db, "off", false, false)

	changed, err := repo.ToggleActivation(ctx, "on")
	require.NoError(t, err)
	assert.True(t, changed)

	cred, err := repo.Get(ctx, "on")
	require.NoError(t, err)
	assert.True(t, cred.Activated)

	changed, err = repo.ToggleActivation(ctx, "on")
	require.NoError(t, err)
	assert.True(t, changed)

	cred, err = repo.Get(ctx, "on")
	require.NoError(t, err)
	assert.False(t, cred.Activated)

	// Disconnected credentials are left alone.
	changed, err = repo.ToggleActivation(ctx, "off")
	require.NoError(t, err)
	assert.False(t, changed)

	cred, err = repo.Get(ctx, "off")
	require.NoError(t, err)
	assert.False(t, cred.Activated)

	_, err = repo.ToggleActivation(ctx, "missing")
	assert.ErrorIs(t, err, driven.ErrCredentialNotFound)
}

func TestCredentialRepo_ListActivated(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	ctx := context.Background()

	insertCredential(t, db, "a", true, true)
	insertCredential(t, db, "b", true, false)
	insertCredential(t, db, "c", true, true)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := repo.ListActivated(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "c", active[1].ID)
}

func TestCredentialRepo_DeleteKeepsCollections(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	collections := NewCollectionRepo(db)
	ctx := context.Background()

	insertCredential(t, db, "c1", true, false)
	insertCollection(t, db, "db1", "c1", "Tasks")
	require.NoError(t, collections.SetWidget(ctx, "db1", true, "progress"))
	require.NoError(t, NewItemRepo(db).UpsertBatch(ctx, []model.RemoteItem{
		{ID: "p1", CredentialID: "c1", ParentCollectionID: "db1", Title: "one", LastSyncedAt: time.Now()},
	}))

	require.NoError(t, repo.Delete(ctx, "c1"))

	coll, err := collections.Get(ctx, "db1")
	require.NoError(t, err)
	require.NotNil(t, coll)
	assert.True(t, coll.WidgetEnabled)
	assert.Equal(t, "progress", coll.WidgetKind)

	list, err := collections.ListByCredential(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, list)

	item, err := NewItemRepo(db).Get(ctx, "p1")
	require.NoError(t, err)
	assert.NotNil(t, item)

	assert.ErrorIs(t, repo.Delete(ctx, "c1"), driven.ErrCredentialNotFound)
}

func TestCredentialRepo_DeleteReassignsSharedCollection(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	collections := NewCollectionRepo(db)
	ctx := context.Background()

	insertCredential(t, db, "c1", true, true)
	insertCredential(t, db, "c2", true, true)
	insertCollection(t, db, "db1", "c1", "Shared")
	insertCollection(t, db, "db1", "c2", "Shared")
	require.NoError(t, NewItemRepo(db).UpsertBatch(ctx, []model.RemoteItem{
		{ID: "p1", CredentialID: "c1", ParentCollectionID: "db1", Title: "one", LastSyncedAt: time.Now()},
	}))

	require.NoError(t, repo.Delete(ctx, "c1"))

	coll, err := collections.Get(ctx, "db1")
	require.NoError(t, err)
	require.NotNil(t, coll)
	assert.Equal(t, "c2", coll.CredentialID)

	item, err := NewItemRepo(db).Get(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "c2", item.CredentialID)
}
