package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/summitflow/summitflow-term/internal/store"
)

// listSessions handles GET /api/sessions. Dead sessions are included only
// when ?include_dead=true, since most callers only care about live ones.
func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	includeDead := r.URL.Query().Get("include_dead") == "true"
	sessions, err := h.d.Store.ListSessions(includeDead)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.d.Store.GetSession(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type updateSessionRequest struct {
	Name         *string `json:"name"`
	DisplayOrder *int    `json:"display_order"`
	WorkingDir   *string `json:"working_dir"`
}

// updateSession handles PATCH /api/sessions/{id}. is_alive is deliberately
// not settable here: a client marks a session dead only via delete or
// reset, never a direct flip, so lifecycle transitions stay centralized in
// LifecycleCore.
func (h *handlers) updateSession(w http.ResponseWriter, r *http.Request) {
	var req updateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.d.Store.UpdateSession(chi.URLParam(r, "id"), store.SessionUpdate{
		Name:         req.Name,
		DisplayOrder: req.DisplayOrder,
		WorkingDir:   req.WorkingDir,
	})
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// deleteSession handles DELETE /api/sessions/{id}: kills the live mux
// session (if any) before removing the row, via LifecycleCore.Delete so the
// two stay in lockstep. An id with no row answers 404.
func (h *handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.d.Store.GetSession(id); err != nil {
		writeStoreErr(w, err)
		return
	}
	if err := h.d.Core.Delete(r.Context(), id); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) resetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.d.Batch.Reset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *handlers) resetAllSessions(w http.ResponseWriter, r *http.Request) {
	count, err := h.d.Batch.ResetAll(r.Context())
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reset_count": count})
}
