package httphandler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httphandler "github.com/ericfisherdev/notionwidgets/internal/adapter/driving/http"
	"github.com/ericfisherdev/notionwidgets/internal/application"
	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
	"github.com/ericfisherdev/notionwidgets/internal/domain/port/driven"
)

// --- Mock implementations ---

type mockCredentials struct {
	creds      []model.Credential
	created    *model.Credential
	createErr  error
	listErr    error
	updateErr  error
	valid      bool
	validErr   error
	toggled    *model.Credential
	toggleErr  error
	deleteErr  error
	lastSecret string
}

func (m *mockCredentials) Create(_ context.Context, name, secret string) (*model.Credential, error) {
	m.lastSecret = secret
	if m.createErr != nil {
		return nil, m.createErr
	}
	if m.created != nil {
		return m.created, nil
	}
	return &model.Credential{ID: "cred-new", Name: name, CreatedAt: testTime}, nil
}

func (m *mockCredentials) List(_ context.Context) ([]model.Credential, error) {
	return m.creds, m.listErr
}

func (m *mockCredentials) UpdateSecret(_ context.Context, _, secret string) error {
	m.lastSecret = secret
	return m.updateErr
}

func (m *mockCredentials) Validate(_ context.Context, _ string) (bool, error) {
	return m.valid, m.validErr
}

func (m *mockCredentials) ToggleActivation(_ context.Context, _ string) (*model.Credential, error) {
	return m.toggled, m.toggleErr
}

func (m *mockCredentials) Delete(_ context.Context, _ string) error {
	return m.deleteErr
}

type mockCollections struct {
	stored    []model.RemoteCollection
	synced    []model.RemoteCollection
	items     []model.RemoteItem
	updated   *model.RemoteCollection
	err       error
	syncCalls int
	pageSize  int
}

func (m *mockCollections) SyncCollections(_ context.Context, _ string) ([]model.RemoteCollection, error) {
	m.syncCalls++
	return m.synced, m.err
}

func (m *mockCollections) ListCollections(_ context.Context, _ string) ([]model.RemoteCollection, error) {
	return m.stored, m.err
}

func (m *mockCollections) SyncItems(_ context.Context, _, _ string, pageSize int) ([]model.RemoteItem, error) {
	m.pageSize = pageSize
	return m.items, m.err
}

func (m *mockCollections) SetCollectionWidget(_ context.Context, _ string, _ bool, _ string) (*model.RemoteCollection, error) {
	return m.updated, m.err
}

type mockWidgets struct {
	widgets   []model.WidgetConfiguration
	created   model.WidgetConfiguration
	createErr error
	deleteErr error
}

func (m *mockWidgets) Create(_ context.Context, w model.WidgetConfiguration) (*model.WidgetConfiguration, error) {
	m.created = w
	if m.createErr != nil {
		return nil, m.createErr
	}
	w.ID = "w-1"
	w.CreatedAt = testTime
	return &w, nil
}

func (m *mockWidgets) List(_ context.Context) ([]model.WidgetConfiguration, error) {
	return m.widgets, nil
}

func (m *mockWidgets) Delete(_ context.Context, _ string) error {
	return m.deleteErr
}

type mockRefresher struct {
	report model.RunReport
	err    error
}

func (m *mockRefresher) RefreshNow(_ context.Context) (model.RunReport, error) {
	return m.report, m.err
}

type mockHealth struct {
	summary *application.HealthSummary
	err     error
}

func (m *mockHealth) Summary(_ context.Context) (*application.HealthSummary, error) {
	return m.summary, m.err
}

// --- Helpers ---

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type deps struct {
	creds       *mockCredentials
	collections *mockCollections
	widgets     *mockWidgets
	refresher   httphandler.Refresher
	health      *mockHealth
}

func newDeps() *deps {
	return &deps{
		creds:       &mockCredentials{},
		collections: &mockCollections{},
		widgets:     &mockWidgets{},
		refresher:   &mockRefresher{},
		health:      &mockHealth{summary: &application.HealthSummary{State: model.RunStateIdle}},
	}
}

func (d *deps) serve(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	h := httphandler.NewHandler(d.creds, d.collections, d.widgets, d.refresher, d.health, logger)
	mux := httphandler.NewServeMux(h, logger)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

// --- Tests ---

func TestHealth(t *testing.T) {
	d := newDeps()
	d.health.summary = &application.HealthSummary{
		Credentials: 2,
		Connected:   2,
		Activated:   1,
		State:       model.RunStateSyncing,
		LastRun: &model.RunReport{
			StartedAt:   testTime,
			FinishedAt:  testTime.Add(1500 * time.Millisecond),
			State:       model.RunStateIdle,
			ItemsSynced: 9,
		},
	}

	rec := d.serve(t, http.MethodGet, "/api/v1/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(2), resp["credentials"])
	assert.Equal(t, float64(1), resp["activated"])
	assert.Equal(t, "syncing", resp["state"])

	lastRun, ok := resp["last_run"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(9), lastRun["items_synced"])
	assert.Equal(t, float64(1500), lastRun["duration_ms"])
	assert.Equal(t, []any{}, lastRun["invalid_credentials"])
}

func TestHealth_Error(t *testing.T) {
	d := newDeps()
	d.health.err = errors.New("db fail")

	rec := d.serve(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListCredentials(t *testing.T) {
	d := newDeps()
	d.creds.creds = []model.Credential{
		{ID: "a", Name: "Work", SecretRef: "a", Connected: true, Activated: true, WorkspaceName: "Acme", LastValidated: testTime, CreatedAt: testTime},
		{ID: "b", Name: "Home", SecretRef: "b", CreatedAt: testTime},
	}

	rec := d.serve(t, http.MethodGet, "/api/v1/credentials", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "secret")

	var resp []map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "Work", resp[0]["name"])
	assert.Equal(t, true, resp[0]["activated"])
	assert.Equal(t, "Acme", resp[0]["workspace_name"])
	assert.Equal(t, "2024-03-01T12:00:00Z", resp[0]["last_validated"])
	_, hasValidated := resp[1]["last_validated"]
	assert.False(t, hasValidated)
}

func TestListCredentials_Empty(t *testing.T) {
	d := newDeps()

	rec := d.serve(t, http.MethodGet, "/api/v1/credentials", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestCreateCredential(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		createErr  error
		wantStatus int
	}{
		{"created", `{"name":"Work","secret":"secret_abc"}`, nil, http.StatusCreated},
		{"malformed body", `{`, nil, http.StatusBadRequest},
		{"invalid input", `{"name":"","secret":"x"}`, fmt.Errorf("name is required: %w", application.ErrInvalidInput), http.StatusBadRequest},
		{"no encryption key", `{"name":"Work","secret":"x"}`, fmt.Errorf("store secret: %w: %w", driven.ErrSecretStore, driven.ErrEncryptionKeyNotSet), http.StatusServiceUnavailable},
		{"store failure", `{"name":"Work","secret":"x"}`, errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDeps()
			d.creds.createErr = tt.createErr

			rec := d.serve(t, http.MethodPost, "/api/v1/credentials", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.NotContains(t, rec.Body.String(), "secret_abc")
			if tt.wantStatus == http.StatusCreated {
				assert.Equal(t, "secret_abc", d.creds.lastSecret)
				var resp map[string]any
				decodeJSON(t, rec, &resp)
				assert.Equal(t, "cred-new", resp["id"])
				assert.Equal(t, false, resp["connected"])
			}
		})
	}
}

func TestDeleteCredential(t *testing.T) {
	d := newDeps()
	rec := d.serve(t, http.MethodDelete, "/api/v1/credentials/a", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	d.creds.deleteErr = fmt.Errorf("delete: %w", driven.ErrCredentialNotFound)
	rec = d.serve(t, http.MethodDelete, "/api/v1/credentials/a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateSecret(t *testing.T) {
	d := newDeps()
	rec := d.serve(t, http.MethodPut, "/api/v1/credentials/a/secret", `{"secret":"rotated"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "rotated", d.creds.lastSecret)

	rec = d.serve(t, http.MethodPut, "/api/v1/credentials/a/secret", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateCredential(t *testing.T) {
	tests := []struct {
		name       string
		valid      bool
		err        error
		wantStatus int
		wantValid  bool
		wantError  bool
	}{
		{"valid", true, nil, http.StatusOK, true, false},
		{"rejected", false, nil, http.StatusOK, false, false},
		{"transport", false, fmt.Errorf("validate: %w", driven.ErrTransport), http.StatusOK, false, true},
		{"missing secret", false, fmt.Errorf("validate: %w", driven.ErrSecretMissing), http.StatusOK, false, true},
		{"unknown credential", false, fmt.Errorf("get: %w", driven.ErrCredentialNotFound), http.StatusNotFound, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDeps()
			d.creds.valid = tt.valid
			d.creds.validErr = tt.err

			rec := d.serve(t, http.MethodPost, "/api/v1/credentials/a/validate", "")

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp map[string]any
			decodeJSON(t, rec, &resp)
			assert.Equal(t, tt.wantValid, resp["valid"])
			_, hasError := resp["error"]
			assert.Equal(t, tt.wantError, hasError)
		})
	}
}

func TestToggleActivation(t *testing.T) {
	d := newDeps()
	d.creds.toggled = &model.Credential{ID: "a", Connected: true, Activated: true, CreatedAt: testTime}

	rec := d.serve(t, http.MethodPost, "/api/v1/credentials/a/activation", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, true, resp["activated"])
}

func TestListCollections(t *testing.T) {
	d := newDeps()
	d.collections.stored = []model.RemoteCollection{{ID: "stored", Title: "Stored", WidgetEnabled: true, WidgetKind: "progress"}}
	d.collections.synced = []model.RemoteCollection{{ID: "fresh", Title: "Fresh"}}

	rec := d.serve(t, http.MethodGet, "/api/v1/credentials/a/collections", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp []map[string]any
	decodeJSON(t, rec, &resp)
	require.Len(t, resp, 1)
	assert.Equal(t, "stored", resp[0]["id"])
	assert.Equal(t, true, resp[0]["widget_enabled"])
	assert.Zero(t, d.collections.syncCalls)

	rec = d.serve(t, http.MethodGet, "/api/v1/credentials/a/collections?refresh=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &resp)
	require.Len(t, resp, 1)
	assert.Equal(t, "fresh", resp[0]["id"])
	assert.Equal(t, 1, d.collections.syncCalls)
}

func TestListCollections_InactiveCredential(t *testing.T) {
	d := newDeps()
	d.collections.err = fmt.Errorf("credential: %w", application.ErrCredentialInactive)

	rec := d.serve(t, http.MethodGet, "/api/v1/credentials/a/collections?refresh=1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSyncItems(t *testing.T) {
	due := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	d := newDeps()
	d.collections.items = []model.RemoteItem{{ID: "i-1", Title: "Task", DueDate: &due}}

	rec := d.serve(t, http.MethodPost, "/api/v1/credentials/a/collections/c/sync?page_size=25", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 25, d.collections.pageSize)

	var resp []map[string]any
	decodeJSON(t, rec, &resp)
	require.Len(t, resp, 1)
	assert.Equal(t, "2024-03-01T00:00:00Z", resp[0]["due_date"])

	rec = d.serve(t, http.MethodPost, "/api/v1/credentials/a/collections/c/sync?page_size=500", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	d.collections.err = fmt.Errorf("list items: %w", driven.ErrTransport)
	rec = d.serve(t, http.MethodPost, "/api/v1/credentials/a/collections/c/sync", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSetCollectionWidget(t *testing.T) {
	d := newDeps()
	d.collections.updated = &model.RemoteCollection{ID: "c", WidgetEnabled: true, WidgetKind: "calendar"}

	rec := d.serve(t, http.MethodPut, "/api/v1/collections/c/widget", `{"enabled":true,"kind":"calendar"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "calendar", resp["widget_kind"])

	d.collections.err = fmt.Errorf("set widget: %w", driven.ErrCollectionNotFound)
	rec = d.serve(t, http.MethodPut, "/api/v1/collections/c/widget", `{"enabled":false}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWidgets(t *testing.T) {
	d := newDeps()
	d.widgets.widgets = []model.WidgetConfiguration{
		{ID: "w-1", Name: "Board", CredentialID: "a", Kind: model.WidgetKindProgress, Settings: []byte(`{"color":"blue"}`), CreatedAt: testTime},
	}

	rec := d.serve(t, http.MethodGet, "/api/v1/widgets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	decodeJSON(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, map[string]any{"color": "blue"}, list[0]["settings"])

	rec = d.serve(t, http.MethodPost, "/api/v1/widgets",
		`{"name":"Tasks","credential_id":"a","collection_id":"c","kind":"task_list","settings":{"limit":5}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, model.WidgetKindTaskList, d.widgets.created.Kind)
	assert.JSONEq(t, `{"limit":5}`, string(d.widgets.created.Settings))

	d.widgets.createErr = fmt.Errorf("kind: %w", application.ErrInvalidInput)
	rec = d.serve(t, http.MethodPost, "/api/v1/widgets", `{"name":"x","credential_id":"a","kind":"pie"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = d.serve(t, http.MethodDelete, "/api/v1/widgets/w-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	d.widgets.deleteErr = driven.ErrWidgetNotFound
	rec = d.serve(t, http.MethodDelete, "/api/v1/widgets/w-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefresh(t *testing.T) {
	d := newDeps()
	d.refresher = &mockRefresher{report: model.RunReport{State: model.RunStateExpired, InvalidCredentials: []string{"b"}, Retried: true}}

	rec := d.serve(t, http.MethodPost, "/api/v1/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "expired", resp["state"])
	assert.Equal(t, []any{"b"}, resp["invalid_credentials"])

	d.refresher = &mockRefresher{err: context.DeadlineExceeded}
	rec = d.serve(t, http.MethodPost, "/api/v1/refresh", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	d.refresher = nil
	rec = d.serve(t, http.MethodPost, "/api/v1/refresh", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	d := newDeps()
	d.health.summary = nil // Summary returns nil, nil: the handler dereferences it.

	rec := d.serve(t, http.MethodGet, "/api/v1/health", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}
