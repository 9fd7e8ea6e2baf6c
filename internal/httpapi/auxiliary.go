package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/summitflow/summitflow-term/internal/muxdriver"
)

func (h *handlers) getAuxiliaryState(w http.ResponseWriter, r *http.Request) {
	state, err := h.d.Auxiliary.State(chi.URLParam(r, "sessionId"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": state})
}

// startAuxiliary handles POST /api/auxiliary/{sessionId}/start. Start is
// idempotent: a caller that loses the not_started->starting race still
// gets a 200 describing the state another caller's request already moved
// it to.
func (h *handlers) startAuxiliary(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	result, err := h.d.Auxiliary.Start(r.Context(), sessionID, muxdriver.SessionName(sessionID))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"started": result.Started,
		"state":   result.State,
	})
}
