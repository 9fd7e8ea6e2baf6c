package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/summitflow/summitflow-term/internal/panes"
	"github.com/summitflow/summitflow-term/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("[httpapi] failed to encode response", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeStoreErr maps a collaborator error to the response conventions:
// not-found becomes 404, the panes package's validation sentinels and a bad
// request body become 400, everything else is an opaque 500.
func writeStoreErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, panes.ErrMaxPanesReached),
		errors.Is(err, panes.ErrInvalidPaneType),
		errors.Is(err, panes.ErrProjectIDRequired),
		errors.Is(err, panes.ErrProjectIDForbidden),
		errors.Is(err, panes.ErrAuxiliaryOnAdhoc):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("[httpapi] request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
