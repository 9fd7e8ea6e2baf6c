// Package hook implements SwitchHookReceiver: a localhost-only HTTP handler
// the multiplexer invokes in the background on every client-session-change,
// so the service learns what a user is viewing without polling for it.
package hook

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/summitflow/summitflow-term/internal/muxdriver"
	"github.com/summitflow/summitflow-term/internal/store"
)

// Store is the subset of *store.Store the hook receiver needs.
type Store interface {
	UpdateTargetSession(sessionID string, target *string) error
}

// Receiver handles the switch-hook callback.
type Receiver struct {
	Store Store
}

// New builds a Receiver from a store.
func New(st Store) *Receiver {
	return &Receiver{Store: st}
}

type response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ServeHTTP implements GET /api/internal/session-switch?from=<name>&to=<name>:
// localhost-only, validates both names, ignores anything whose from isn't a
// service-prefixed base session, and persists or clears last_target_session
// accordingly. tmux invokes this fire-and-forget and ignores the response
// body, so every outcome short of a non-loopback peer answers 200 with a
// status field rather than a non-2xx the caller will never see.
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !isLoopback(req.RemoteAddr) {
		slog.Warn("[hook] rejected request from non-loopback peer", "remote_addr", req.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	from := req.URL.Query().Get("from")
	to := req.URL.Query().Get("to")

	// Empty from is the initial attach, not a switch. Nothing to record.
	if from == "" {
		writeJSON(w, response{Status: "ignored", Message: "empty from: initial attach"})
		return
	}

	if !muxdriver.ValidateName(from) || (to != "" && !muxdriver.ValidateName(to)) {
		writeJSON(w, response{Status: "rejected", Message: "invalid session name"})
		return
	}

	terminalID, ok := muxdriver.StripSessionPrefix(from)
	if !ok {
		// from isn't one of ours; nothing to do.
		writeJSON(w, response{Status: "ignored", Message: "from is not a service session"})
		return
	}

	var target *string
	status := "stored"
	if to == "" || muxdriver.IsServiceSession(to) {
		status = "cleared"
	} else {
		t := to
		target = &t
	}

	if err := r.Store.UpdateTargetSession(terminalID, target); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The hook fires fire-and-forget from the multiplexer; a
			// terminal deleted between switch and callback isn't an error.
			writeJSON(w, response{Status: "ignored", Message: "unknown terminal id"})
			return
		}
		slog.Warn("[hook] update target session failed", "terminal_id", terminalID, "err", err)
		writeJSON(w, response{Status: "rejected", Message: "store update failed"})
		return
	}

	slog.Debug("[hook] switch recorded", "terminal_id", terminalID, "from", from, "to", to, "status", status)
	writeJSON(w, response{Status: status})
}

func writeJSON(w http.ResponseWriter, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("[hook] failed to encode response", "error", err)
	}
}

// isLoopback reports whether remoteAddr (as found on http.Request.RemoteAddr)
// names a loopback peer. Rejects anything that doesn't parse as an IP,
// including requests arriving through a reverse proxy that didn't normalize
// RemoteAddr.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
