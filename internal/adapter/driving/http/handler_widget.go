package httphandler

import (
	"encoding/json"
	"net/http"

	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
)

// ListWidgets returns all widget configurations.
func (h *Handler) ListWidgets(w http.ResponseWriter, r *http.Request) {
	widgets, err := h.widgets.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list widgets", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]WidgetResponse, 0, len(widgets))
	for _, widget := range widgets {
		resp = append(resp, toWidgetResponse(widget))
	}

	writeJSON(w, http.StatusOK, resp)
}

// CreateWidget adds a new widget configuration.
func (h *Handler) CreateWidget(w http.ResponseWriter, r *http.Request) {
	var req CreateWidgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	widget := model.WidgetConfiguration{
		Name:         req.Name,
		CredentialID: req.CredentialID,
		CollectionID: req.CollectionID,
		Kind:         model.WidgetKind(req.Kind),
	}
	if len(req.Settings) > 0 && string(req.Settings) != "null" {
		widget.Settings = req.Settings
	}

	saved, err := h.widgets.Create(r.Context(), widget)
	if err != nil {
		h.writeServiceError(w, "failed to create widget", err, "name", req.Name)
		return
	}

	writeJSON(w, http.StatusCreated, toWidgetResponse(*saved))
}

// DeleteWidget removes a widget configuration.
func (h *Handler) DeleteWidget(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.widgets.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, "failed to delete widget", err, "widget", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
