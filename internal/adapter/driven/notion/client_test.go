package notion_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/notionwidgets/internal/adapter/driven/notion"
	"github.com/ericfisherdev/notionwidgets/internal/domain/port/driven"
)

// newTestClient creates a Client backed by the given httptest handler.
func newTestClient(t *testing.T, handler http.Handler) *notion.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := notion.NewClientWithHTTPClient(server.Client(), notion.Options{
		BaseURL:    server.URL,
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	})
	require.NoError(t, err)

	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestValidateIdentity_Success(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/users/me", r.URL.Path)
		assert.Equal(t, "Bearer secret-abc", r.Header.Get("Authorization"))
		assert.Equal(t, "2022-06-28", r.Header.Get("Notion-Version"))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"object": "user",
			"id":     "bot-1",
			"name":   "Widgets",
			"type":   "bot",
			"bot": map[string]any{
				"workspace_name": "Acme",
				"workspace_id":   "ws-1",
			},
		})
	}))

	identity, err := client.ValidateIdentity(context.Background(), "secret-abc")
	require.NoError(t, err)
	assert.Equal(t, "bot-1", identity.ID)
	assert.Equal(t, "Widgets", identity.Name)
	assert.Equal(t, "ws-1", identity.WorkspaceID)
	assert.Equal(t, "Acme", identity.WorkspaceName)
}

func TestValidateIdentity_Unauthorized(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(t, w, http.StatusUnauthorized, map[string]any{
			"object": "error", "status": 401, "code": "unauthorized", "message": "API token is invalid.",
		})
	}))

	_, err := client.ValidateIdentity(context.Background(), "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, driven.ErrUnauthorized)
	assert.NotErrorIs(t, err, driven.ErrTransport)
	assert.Equal(t, int32(1), calls.Load(), "auth failures are not retried")

	var apiErr *notion.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "unauthorized", apiErr.Code)
	assert.Equal(t, "API token is invalid.", apiErr.Message)
}

func TestValidateIdentity_EmptySecret(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	_, err := client.ValidateIdentity(context.Background(), "  ")
	assert.ErrorIs(t, err, driven.ErrUnauthorized)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(t, w, http.StatusBadGateway, map[string]any{"code": "bad_gateway", "message": "upstream"})
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{"id": "bot-1", "bot": map[string]any{}})
	}))

	identity, err := client.ValidateIdentity(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, "bot-1", identity.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryExhaustedIsTransport(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(t, w, http.StatusServiceUnavailable, map[string]any{"code": "service_unavailable", "message": "down"})
	}))

	_, err := client.ValidateIdentity(context.Background(), "s")
	require.Error(t, err)
	assert.ErrorIs(t, err, driven.ErrTransport)
	assert.NotErrorIs(t, err, driven.ErrUnauthorized)
	assert.Equal(t, int32(3), calls.Load(), "one attempt plus two retries")
}

func TestNetworkErrorIsTransport(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := notion.NewClientWithHTTPClient(http.DefaultClient, notion.Options{
		BaseURL:    url,
		MaxRetries: -1,
	})
	require.NoError(t, err)

	_, err = client.ValidateIdentity(context.Background(), "s")
	require.Error(t, err)
	assert.ErrorIs(t, err, driven.ErrTransport)
}

func TestListCollections_Paginates(t *testing.T) {
	var bodies []map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/search", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)

		if body["start_cursor"] == nil {
			writeJSON(t, w, http.StatusOK, map[string]any{
				"object": "list",
				"results": []map[string]any{
					{"object": "database", "id": "db1", "title": []map[string]any{{"plain_text": "Tasks"}}, "url": "https://notion.so/db1", "last_edited_time": "2024-03-01T10:00:00.000Z"},
					{"object": "database", "id": "gone", "archived": true, "title": []map[string]any{{"plain_text": "Old"}}},
				},
				"has_more":    true,
				"next_cursor": "cur-2",
			})
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"object": "list",
			"results": []map[string]any{
				{"object": "database", "id": "db2", "title": []map[string]any{{"text": map[string]any{"content": "Habits"}}}},
			},
			"has_more": false,
		})
	}))

	summaries, err := client.ListCollections(context.Background(), "s")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "db1", summaries[0].ID)
	assert.Equal(t, "Tasks", summaries[0].Title)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), summaries[0].UpdatedAt.UTC())
	assert.Equal(t, "Habits", summaries[1].Title)

	require.Len(t, bodies, 2)
	filter := bodies[0]["filter"].(map[string]any)
	assert.Equal(t, "database", filter["value"])
	assert.Equal(t, "cur-2", bodies[1]["start_cursor"])
}

func TestGetCollection(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/databases/db1", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"object":           "database",
			"id":               "db1",
			"title":            []map[string]any{{"plain_text": "Road"}, {"plain_text": "map"}},
			"description":      []map[string]any{{"plain_text": "Q3 plan"}},
			"url":              "https://notion.so/db1",
			"created_time":     "2024-01-01T00:00:00.000Z",
			"last_edited_time": "2024-02-01T00:00:00.000Z",
		})
	}))

	coll, err := client.GetCollection(context.Background(), "s", "db1")
	require.NoError(t, err)
	assert.Equal(t, "Roadmap", coll.Title)
	assert.Equal(t, "Q3 plan", coll.Description)
	assert.Equal(t, "https://notion.so/db1", coll.URL)
	assert.False(t, coll.CreatedAt.IsZero())
	assert.Empty(t, coll.CredentialID)
}

func TestGetCollection_NotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]any{"code": "object_not_found", "message": "Could not find database"})
	}))

	_, err := client.GetCollection(context.Background(), "s", "db1")
	assert.ErrorIs(t, err, driven.ErrNotFound)
	assert.NotErrorIs(t, err, driven.ErrTransport)
}

func TestListItems(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/databases/db1/query", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 25, body["page_size"])
		assert.Equal(t, "cur-1", body["start_cursor"])

		writeJSON(t, w, http.StatusOK, map[string]any{
			"object": "list",
			"results": []map[string]any{{
				"object":           "page",
				"id":               "p1",
				"url":              "https://notion.so/p1",
				"last_edited_time": "2024-03-01T00:00:00.000Z",
				"parent":           map[string]any{"type": "database_id", "database_id": "db1"},
				"properties": map[string]any{
					"Name": map[string]any{"type": "title", "title": []map[string]any{{"plain_text": "Ship it"}}},
					"Done": map[string]any{"type": "checkbox", "checkbox": true},
				},
			}},
			"has_more":    true,
			"next_cursor": "cur-2",
		})
	}))

	page, err := client.ListItems(context.Background(), "s", "db1", 25, "cur-1")
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	assert.Equal(t, "cur-2", page.NextCursor)
	require.Len(t, page.Items, 1)

	item := page.Items[0]
	assert.Equal(t, "p1", item.ID)
	assert.Equal(t, "db1", item.ParentID)
	assert.Equal(t, true, item.Properties["Done"]["checkbox"])
	assert.Contains(t, item.Properties, "Name")
}

func TestGetItem(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/pages/p1", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"object":   "page",
			"id":       "p1",
			"in_trash": true,
			"parent":   map[string]any{"type": "database_id", "database_id": "db1"},
		})
	}))

	item, err := client.GetItem(context.Background(), "s", "p1")
	require.NoError(t, err)
	assert.Equal(t, "db1", item.ParentID)
	assert.True(t, item.Archived)
}

func TestAPIError_Classification(t *testing.T) {
	tests := []struct {
		status       int
		unauthorized bool
		notFound     bool
		transport    bool
	}{
		{http.StatusUnauthorized, true, false, false},
		{http.StatusForbidden, true, false, false},
		{http.StatusNotFound, false, true, false},
		{http.StatusBadRequest, false, false, false},
		{http.StatusRequestTimeout, false, false, true},
		{http.StatusTooManyRequests, false, false, true},
		{http.StatusInternalServerError, false, false, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := &notion.APIError{StatusCode: tt.status}
			assert.Equal(t, tt.unauthorized, err.Is(driven.ErrUnauthorized))
			assert.Equal(t, tt.notFound, err.Is(driven.ErrNotFound))
			assert.Equal(t, tt.transport, err.Is(driven.ErrTransport))
		})
	}
}
