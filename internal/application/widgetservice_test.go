package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
	"github.com/ericfisherdev/notionwidgets/internal/domain/port/driven"
)

func newWidgetServiceForTest(t *testing.T) (*WidgetService, *testStores, *ChangeFeed) {
	t.Helper()
	st := newTestStores(t)
	seedCredential(t, st, "cred-1", true, true)
	seedCredential(t, st, "cred-2", true, true)
	require.NoError(t, st.collections.Upsert(context.Background(),
		model.RemoteCollection{ID: "coll-1", CredentialID: "cred-1", Title: "Tasks"}))

	feed := NewChangeFeed()
	svc := NewWidgetService(st.widgets, st.creds, st.collections, feed,
		WithIDProvider(&sequentialIDs{}), WithClock(newFakeClock().Now))
	return svc, st, feed
}

func TestWidgetService_CreateListDelete(t *testing.T) {
	svc, _, feed := newWidgetServiceForTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, unsubscribe := feed.Subscribe(ctx)
	defer unsubscribe()

	w, err := svc.Create(ctx, model.WidgetConfiguration{
		Name:         " Board ",
		CredentialID: "cred-1",
		CollectionID: "coll-1",
		Kind:         model.WidgetKindProgress,
		Settings:     []byte(`{"color":"blue"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "id-1", w.ID)
	assert.Equal(t, "Board", w.Name)
	assert.False(t, w.CreatedAt.IsZero())

	ev := <-events
	assert.Equal(t, ChangeWidgets, ev.Kind)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.JSONEq(t, `{"color":"blue"}`, string(list[0].Settings))

	require.NoError(t, svc.Delete(ctx, w.ID))
	assert.ErrorIs(t, svc.Delete(ctx, w.ID), driven.ErrWidgetNotFound)
}

func TestWidgetService_CreateValidation(t *testing.T) {
	svc, _, _ := newWidgetServiceForTest(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		widget  model.WidgetConfiguration
		wantErr error
	}{
		{"blank name", model.WidgetConfiguration{Name: " ", CredentialID: "cred-1", Kind: model.WidgetKindTaskList}, ErrInvalidInput},
		{"unknown kind", model.WidgetConfiguration{Name: "x", CredentialID: "cred-1", Kind: "pie"}, ErrInvalidInput},
		{"bad settings", model.WidgetConfiguration{Name: "x", CredentialID: "cred-1", Kind: model.WidgetKindTaskList, Settings: []byte("{")}, ErrInvalidInput},
		{"unknown credential", model.WidgetConfiguration{Name: "x", CredentialID: "nope", Kind: model.WidgetKindTaskList}, driven.ErrCredentialNotFound},
		{"unknown collection", model.WidgetConfiguration{Name: "x", CredentialID: "cred-1", CollectionID: "nope", Kind: model.WidgetKindTaskList}, driven.ErrCollectionNotFound},
		{"collection of another credential", model.WidgetConfiguration{Name: "x", CredentialID: "cred-2", CollectionID: "coll-1", Kind: model.WidgetKindTaskList}, driven.ErrCollectionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.widget)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWidgetService_CreateOnSharedCollection(t *testing.T) {
	svc, st, _ := newWidgetServiceForTest(t)
	ctx := context.Background()

	require.NoError(t, st.collections.Upsert(ctx,
		model.RemoteCollection{ID: "coll-1", CredentialID: "cred-2", Title: "Tasks"}))

	w, err := svc.Create(ctx, model.WidgetConfiguration{
		Name: "Shared", CredentialID: "cred-2", CollectionID: "coll-1", Kind: model.WidgetKindTaskList,
	})
	require.NoError(t, err)
	assert.Equal(t, "coll-1", w.CollectionID)
}
