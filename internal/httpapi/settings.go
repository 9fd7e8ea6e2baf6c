package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/summitflow/summitflow-term/internal/store"
)

func (h *handlers) listProjectSettings(w http.ResponseWriter, r *http.Request) {
	all, err := h.d.Store.GetAllSettings()
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *handlers) getProjectSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.d.Store.GetSettings(chi.URLParam(r, "projectId"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

type upsertSettingsRequest struct {
	Enabled      *bool   `json:"enabled"`
	ActiveMode   *string `json:"active_mode"`
	DisplayOrder *int    `json:"display_order"`
}

func (h *handlers) upsertProjectSettings(w http.ResponseWriter, r *http.Request) {
	var req upsertSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	settings, err := h.d.Store.UpsertSettings(chi.URLParam(r, "projectId"), store.SettingsUpdate{
		Enabled:      req.Enabled,
		ActiveMode:   req.ActiveMode,
		DisplayOrder: req.DisplayOrder,
	})
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// bulkUpdateSettingsOrder handles POST /api/settings/order with a body of
// {"project_ids": [...]}, ordered front to back.
func (h *handlers) bulkUpdateSettingsOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectIDs []string `json:"project_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.d.Store.BulkUpdateOrder(req.ProjectIDs); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
