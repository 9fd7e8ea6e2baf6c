package httpapi

import (
	"net/http"

	"github.com/summitflow/summitflow-term/internal/sessionlog"
)

// Logs is the subset of *sessionlog.RingBuffer the REST surface needs.
type Logs interface {
	Snapshot() []sessionlog.Entry
}

// getLogs handles GET /api/internal/logs: the recent Warn+ level records
// captured by the process's TeeHandler, for an operator who has no
// terminal attached to the running service's stderr.
func (h *handlers) getLogs(w http.ResponseWriter, r *http.Request) {
	if h.d.Logs == nil {
		writeJSON(w, http.StatusOK, []sessionlog.Entry{})
		return
	}
	writeJSON(w, http.StatusOK, h.d.Logs.Snapshot())
}
