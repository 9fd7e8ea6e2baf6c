package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/summitflow/summitflow-term/internal/panes"
)

func (h *handlers) listPanes(w http.ResponseWriter, r *http.Request) {
	list, err := h.d.Panes.List()
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) countPanes(w http.ResponseWriter, r *http.Request) {
	count, err := h.d.Panes.Count()
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (h *handlers) getPane(w http.ResponseWriter, r *http.Request) {
	pane, err := h.d.Panes.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pane)
}

type createPaneRequest struct {
	PaneType   string  `json:"pane_type"`
	PaneName   string  `json:"pane_name"`
	ProjectID  *string `json:"project_id"`
	WorkingDir *string `json:"working_dir"`
	PaneOrder  *int    `json:"pane_order"`
}

func (h *handlers) createPane(w http.ResponseWriter, r *http.Request) {
	var req createPaneRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pane, err := h.d.Panes.CreateWithSessions(panes.CreateParams{
		PaneType:   req.PaneType,
		PaneName:   req.PaneName,
		ProjectID:  req.ProjectID,
		WorkingDir: req.WorkingDir,
		PaneOrder:  req.PaneOrder,
	})
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pane)
}

type updatePaneRequest struct {
	PaneName      *string  `json:"pane_name"`
	PaneOrder     *int     `json:"pane_order"`
	ActiveMode    *string  `json:"active_mode"`
	WidthPercent  *float64 `json:"width_percent"`
	HeightPercent *float64 `json:"height_percent"`
	GridRow       *int     `json:"grid_row"`
	GridCol       *int     `json:"grid_col"`
}

func (h *handlers) updatePane(w http.ResponseWriter, r *http.Request) {
	var req updatePaneRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pane, err := h.d.Panes.Update(chi.URLParam(r, "id"), panes.UpdateParams{
		PaneName:      req.PaneName,
		PaneOrder:     req.PaneOrder,
		ActiveMode:    req.ActiveMode,
		WidthPercent:  req.WidthPercent,
		HeightPercent: req.HeightPercent,
		GridRow:       req.GridRow,
		GridCol:       req.GridCol,
	})
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pane)
}

func (h *handlers) deletePane(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Panes.Delete(chi.URLParam(r, "id")); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) swapPanes(w http.ResponseWriter, r *http.Request) {
	idA, idB := chi.URLParam(r, "idA"), chi.URLParam(r, "idB")
	if err := h.d.Panes.SwapPositions(idA, idB); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// updatePaneOrder handles POST /api/panes/order with a body of
// {"orders": {"<pane_id>": <order>, ...}}.
func (h *handlers) updatePaneOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Orders map[string]int `json:"orders"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.d.Panes.UpdateOrder(req.Orders); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type layoutUpdateRequest struct {
	PaneID        string   `json:"pane_id"`
	WidthPercent  *float64 `json:"width_percent"`
	HeightPercent *float64 `json:"height_percent"`
	GridRow       *int     `json:"grid_row"`
	GridCol       *int     `json:"grid_col"`
}

// updatePaneLayouts handles POST /api/panes/layout with a body of
// {"updates": [...]}, applied as one retried batch.
func (h *handlers) updatePaneLayouts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Updates []layoutUpdateRequest `json:"updates"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updates := make([]panes.LayoutUpdate, len(req.Updates))
	for i, u := range req.Updates {
		updates[i] = panes.LayoutUpdate{
			PaneID:        u.PaneID,
			WidthPercent:  u.WidthPercent,
			HeightPercent: u.HeightPercent,
			GridRow:       u.GridRow,
			GridCol:       u.GridCol,
		}
	}

	if err := h.d.Panes.UpdateLayouts(updates); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
