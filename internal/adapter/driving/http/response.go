package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/notionwidgets/internal/application"
	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// CredentialResponse is the JSON representation of a credential. It never
// carries the secret.
type CredentialResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Connected     bool   `json:"connected"`
	Activated     bool   `json:"activated"`
	WorkspaceID   string `json:"workspace_id,omitempty"`
	WorkspaceName string `json:"workspace_name,omitempty"`
	LastValidated string `json:"last_validated,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// CreateCredentialRequest is the JSON body for creating a credential.
type CreateCredentialRequest struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

// UpdateSecretRequest is the JSON body for replacing a credential's secret.
type UpdateSecretRequest struct {
	Secret string `json:"secret"`
}

// ValidateResponse reports a validation outcome.
type ValidateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// CollectionResponse is the JSON representation of a remote collection.
type CollectionResponse struct {
	ID            string `json:"id"`
	CredentialID  string `json:"credential_id"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	URL           string `json:"url,omitempty"`
	WidgetEnabled bool   `json:"widget_enabled"`
	WidgetKind    string `json:"widget_kind,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
	LastSyncedAt  string `json:"last_synced_at,omitempty"`
}

// SetWidgetRequest is the JSON body for toggling a collection's widget.
type SetWidgetRequest struct {
	Enabled bool   `json:"enabled"`
	Kind    string `json:"kind"`
}

// ItemResponse is the JSON representation of a remote item.
type ItemResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	IsCompleted bool   `json:"is_completed"`
	DueDate     string `json:"due_date,omitempty"`
	URL         string `json:"url,omitempty"`
}

// WidgetResponse is the JSON representation of a widget configuration.
type WidgetResponse struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	CredentialID string          `json:"credential_id"`
	CollectionID string          `json:"collection_id,omitempty"`
	Kind         string          `json:"kind"`
	Settings     json.RawMessage `json:"settings,omitempty"`
	CreatedAt    string          `json:"created_at"`
}

// CreateWidgetRequest is the JSON body for creating a widget configuration.
type CreateWidgetRequest struct {
	Name         string          `json:"name"`
	CredentialID string          `json:"credential_id"`
	CollectionID string          `json:"collection_id"`
	Kind         string          `json:"kind"`
	Settings     json.RawMessage `json:"settings"`
}

// RunResponse is the JSON representation of a refresh run report.
type RunResponse struct {
	State              string   `json:"state"`
	StartedAt          string   `json:"started_at"`
	FinishedAt         string   `json:"finished_at"`
	DurationMS         int64    `json:"duration_ms"`
	InvalidCredentials []string `json:"invalid_credentials"`
	Retried            bool     `json:"retried"`
	CollectionsSynced  int      `json:"collections_synced"`
	ItemsSynced        int      `json:"items_synced"`
	SyncErrors         int      `json:"sync_errors"`
	EntriesSwept       int      `json:"entries_swept"`
}

// HealthResponse is the JSON response for the health check endpoint.
type HealthResponse struct {
	Status      string       `json:"status"`
	Time        string       `json:"time"`
	Credentials int          `json:"credentials"`
	Connected   int          `json:"connected"`
	Activated   int          `json:"activated"`
	State       string       `json:"state"`
	LastRun     *RunResponse `json:"last_run,omitempty"`
}

// formatTime renders t as RFC 3339 in UTC, or "" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toCredentialResponse(c model.Credential) CredentialResponse {
	return CredentialResponse{
		ID:            c.ID,
		Name:          c.Name,
		Connected:     c.Connected,
		Activated:     c.Activated,
		WorkspaceID:   c.WorkspaceID,
		WorkspaceName: c.WorkspaceName,
		LastValidated: formatTime(c.LastValidated),
		CreatedAt:     formatTime(c.CreatedAt),
	}
}

func toCollectionResponse(c model.RemoteCollection) CollectionResponse {
	return CollectionResponse{
		ID:            c.ID,
		CredentialID:  c.CredentialID,
		Title:         c.Title,
		Description:   c.Description,
		URL:           c.URL,
		WidgetEnabled: c.WidgetEnabled,
		WidgetKind:    c.WidgetKind,
		UpdatedAt:     formatTime(c.UpdatedAt),
		LastSyncedAt:  formatTime(c.LastSyncedAt),
	}
}

func toItemResponse(i model.RemoteItem) ItemResponse {
	resp := ItemResponse{
		ID:          i.ID,
		Title:       i.Title,
		IsCompleted: i.IsCompleted,
		URL:         i.URL,
	}
	if i.DueDate != nil {
		resp.DueDate = formatTime(*i.DueDate)
	}
	return resp
}

func toWidgetResponse(w model.WidgetConfiguration) WidgetResponse {
	resp := WidgetResponse{
		ID:           w.ID,
		Name:         w.Name,
		CredentialID: w.CredentialID,
		CollectionID: w.CollectionID,
		Kind:         string(w.Kind),
		CreatedAt:    formatTime(w.CreatedAt),
	}
	if len(w.Settings) > 0 {
		resp.Settings = json.RawMessage(w.Settings)
	}
	return resp
}

func toRunResponse(r model.RunReport) RunResponse {
	invalid := r.InvalidCredentials
	if invalid == nil {
		invalid = []string{}
	}
	return RunResponse{
		State:              string(r.State),
		StartedAt:          formatTime(r.StartedAt),
		FinishedAt:         formatTime(r.FinishedAt),
		DurationMS:         r.Duration().Milliseconds(),
		InvalidCredentials: invalid,
		Retried:            r.Retried,
		CollectionsSynced:  r.CollectionsSynced,
		ItemsSynced:        r.ItemsSynced,
		SyncErrors:         r.SyncErrors,
		EntriesSwept:       r.EntriesSwept,
	}
}

func toHealthResponse(s *application.HealthSummary, now time.Time) HealthResponse {
	resp := HealthResponse{
		Status:      "ok",
		Time:        formatTime(now),
		Credentials: s.Credentials,
		Connected:   s.Connected,
		Activated:   s.Activated,
		State:       string(s.State),
	}
	if s.LastRun != nil {
		run := toRunResponse(*s.LastRun)
		resp.LastRun = &run
	}
	return resp
}
