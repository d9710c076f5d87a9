package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/notionwidgets/internal/application"
	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
	"github.com/ericfisherdev/notionwidgets/internal/domain/port/driven"
)

// CredentialManager is the credential lifecycle surface the API drives.
type CredentialManager interface {
	Create(ctx context.Context, name, secret string) (*model.Credential, error)
	List(ctx context.Context) ([]model.Credential, error)
	UpdateSecret(ctx context.Context, id, secret string) error
	Validate(ctx context.Context, id string) (bool, error)
	ToggleActivation(ctx context.Context, id string) (*model.Credential, error)
	Delete(ctx context.Context, id string) error
}

// CollectionManager is the synchronization surface the API drives.
type CollectionManager interface {
	SyncCollections(ctx context.Context, credentialID string) ([]model.RemoteCollection, error)
	ListCollections(ctx context.Context, credentialID string) ([]model.RemoteCollection, error)
	SyncItems(ctx context.Context, credentialID, collectionID string, pageSize int) ([]model.RemoteItem, error)
	SetCollectionWidget(ctx context.Context, collectionID string, enabled bool, kind string) (*model.RemoteCollection, error)
}

// WidgetManager manages widget configurations.
type WidgetManager interface {
	Create(ctx context.Context, w model.WidgetConfiguration) (*model.WidgetConfiguration, error)
	List(ctx context.Context) ([]model.WidgetConfiguration, error)
	Delete(ctx context.Context, id string) error
}

// Refresher triggers an out-of-schedule refresh run.
type Refresher interface {
	RefreshNow(ctx context.Context) (model.RunReport, error)
}

// HealthReporter produces the health summary.
type HealthReporter interface {
	Summary(ctx context.Context) (*application.HealthSummary, error)
}

// Handler is the HTTP driving adapter that serves the local control API.
type Handler struct {
	creds       CredentialManager
	collections CollectionManager
	widgets     WidgetManager
	refresher   Refresher
	health      HealthReporter
	logger      *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. refresher may
// be nil when no scheduler runs in this process.
func NewHandler(
	creds CredentialManager,
	collections CollectionManager,
	widgets WidgetManager,
	refresher Refresher,
	health HealthReporter,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		creds:       creds,
		collections: collections,
		widgets:     widgets,
		refresher:   refresher,
		health:      health,
		logger:      logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)

	mux.HandleFunc("GET /api/v1/credentials", h.ListCredentials)
	mux.HandleFunc("POST /api/v1/credentials", h.CreateCredential)
	mux.HandleFunc("DELETE /api/v1/credentials/{id}", h.DeleteCredential)
	mux.HandleFunc("PUT /api/v1/credentials/{id}/secret", h.UpdateSecret)
	mux.HandleFunc("POST /api/v1/credentials/{id}/validate", h.ValidateCredential)
	mux.HandleFunc("POST /api/v1/credentials/{id}/activation", h.ToggleActivation)
	mux.HandleFunc("GET /api/v1/credentials/{id}/collections", h.ListCollections)
	mux.HandleFunc("POST /api/v1/credentials/{id}/collections/{collectionID}/sync", h.SyncItems)

	mux.HandleFunc("PUT /api/v1/collections/{id}/widget", h.SetCollectionWidget)

	mux.HandleFunc("GET /api/v1/widgets", h.ListWidgets)
	mux.HandleFunc("POST /api/v1/widgets", h.CreateWidget)
	mux.HandleFunc("DELETE /api/v1/widgets/{id}", h.DeleteWidget)

	mux.HandleFunc("POST /api/v1/refresh", h.Refresh)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health returns the credential counts and scheduler state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	summary, err := h.health.Summary(r.Context())
	if err != nil {
		h.logger.Error("failed to build health summary", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toHealthResponse(summary, time.Now()))
}

// ListCredentials returns all credentials. Secrets are never included.
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := h.creds.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list credentials", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]CredentialResponse, 0, len(creds))
	for _, cred := range creds {
		resp = append(resp, toCredentialResponse(cred))
	}

	writeJSON(w, http.StatusOK, resp)
}

// CreateCredential stores a new, not yet validated credential.
func (h *Handler) CreateCredential(w http.ResponseWriter, r *http.Request) {
	var req CreateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cred, err := h.creds.Create(r.Context(), req.Name, req.Secret)
	if err != nil {
		h.writeServiceError(w, "failed to create credential", err)
		return
	}

	writeJSON(w, http.StatusCreated, toCredentialResponse(*cred))
}

// DeleteCredential removes a credential and its secret.
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.creds.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, "failed to delete credential", err, "credential", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpdateSecret replaces a credential's secret.
func (h *Handler) UpdateSecret(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req UpdateSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.creds.UpdateSecret(r.Context(), id, req.Secret); err != nil {
		h.writeServiceError(w, "failed to update secret", err, "credential", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ValidateCredential checks a credential against the remote. A rejected or
// unreachable credential is a successful request with valid=false.
func (h *Handler) ValidateCredential(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	valid, err := h.creds.Validate(r.Context(), id)
	resp := ValidateResponse{Valid: valid}
	if err != nil {
		if !errors.Is(err, driven.ErrTransport) && !errors.Is(err, driven.ErrSecretMissing) {
			h.writeServiceError(w, "failed to validate credential", err, "credential", id)
			return
		}
		resp.Error = err.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}

// ToggleActivation flips activation for a connected credential.
func (h *Handler) ToggleActivation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	cred, err := h.creds.ToggleActivation(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "failed to toggle activation", err, "credential", id)
		return
	}

	writeJSON(w, http.StatusOK, toCredentialResponse(*cred))
}

// ListCollections returns the stored collections of a credential, or syncs
// them from the remote first when refresh=true.
func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var (
		colls []model.RemoteCollection
		err   error
	)
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		colls, err = h.collections.SyncCollections(r.Context(), id)
	} else {
		colls, err = h.collections.ListCollections(r.Context(), id)
	}
	if err != nil {
		h.writeServiceError(w, "failed to list collections", err, "credential", id)
		return
	}

	resp := make([]CollectionResponse, 0, len(colls))
	for _, coll := range colls {
		resp = append(resp, toCollectionResponse(coll))
	}

	writeJSON(w, http.StatusOK, resp)
}

// SyncItems fetches and stores the items of one collection.
func (h *Handler) SyncItems(w http.ResponseWriter, r *http.Request) {
	credentialID := r.PathValue("id")
	collectionID := r.PathValue("collectionID")

	pageSize := 0
	if v := r.URL.Query().Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "page_size must be between 1 and 100")
			return
		}
		pageSize = n
	}

	items, err := h.collections.SyncItems(r.Context(), credentialID, collectionID, pageSize)
	if err != nil {
		h.writeServiceError(w, "failed to sync items", err, "credential", credentialID, "collection", collectionID)
		return
	}

	resp := make([]ItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toItemResponse(item))
	}

	writeJSON(w, http.StatusOK, resp)
}

// SetCollectionWidget enables or disables the widget of a collection.
func (h *Handler) SetCollectionWidget(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req SetWidgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	coll, err := h.collections.SetCollectionWidget(r.Context(), id, req.Enabled, req.Kind)
	if err != nil {
		h.writeServiceError(w, "failed to set collection widget", err, "collection", id)
		return
	}

	writeJSON(w, http.StatusOK, toCollectionResponse(*coll))
}

// Refresh runs validate, sync and publish now and returns the run report.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}

	report, err := h.refresher.RefreshNow(r.Context())
	if err != nil {
		h.logger.Warn("refresh request abandoned", "error", err)
		writeError(w, http.StatusServiceUnavailable, "refresh did not complete")
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(report))
}

// writeServiceError maps application and port errors to status codes.
// Unexpected errors are logged and reported as 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, msg string, err error, attrs ...any) {
	switch {
	case errors.Is(err, application.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, driven.ErrCredentialNotFound):
		writeError(w, http.StatusNotFound, "credential not found")
	case errors.Is(err, driven.ErrCollectionNotFound):
		writeError(w, http.StatusNotFound, "collection not found")
	case errors.Is(err, driven.ErrWidgetNotFound):
		writeError(w, http.StatusNotFound, "widget not found")
	case errors.Is(err, driven.ErrCredentialExists):
		writeError(w, http.StatusConflict, "credential already exists")
	case errors.Is(err, application.ErrCredentialInactive):
		writeError(w, http.StatusConflict, "credential is not connected and activated")
	case errors.Is(err, driven.ErrEncryptionKeyNotSet):
		writeError(w, http.StatusServiceUnavailable, "secret storage unavailable: encryption key not configured")
	case errors.Is(err, driven.ErrUnauthorized):
		writeError(w, http.StatusBadGateway, "remote rejected credential")
	case errors.Is(err, driven.ErrNotFound):
		writeError(w, http.StatusNotFound, "remote object not found")
	case errors.Is(err, driven.ErrTransport):
		writeError(w, http.StatusBadGateway, "remote unavailable")
	default:
		h.logger.Error(msg, append(attrs, "error", err)...)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
