// Package httpapi is the thin REST collaborator around the lifecycle/panes/
// auxiliary core: sessions, panes, project settings, and auxiliary state.
// None of this is the subject of the service — it exists so a browser
// frontend has somewhere to call other than the WebSocket terminal itself.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/summitflow/summitflow-term/internal/auxiliary"
	"github.com/summitflow/summitflow-term/internal/lifecycle"
	"github.com/summitflow/summitflow-term/internal/metrics"
	"github.com/summitflow/summitflow-term/internal/panes"
	"github.com/summitflow/summitflow-term/internal/store"
)

// Deps are the collaborators the REST surface calls into. None of it owns
// logic of its own beyond request validation and response shaping.
type Deps struct {
	Store     *store.Store
	Core      *lifecycle.Core
	Batch     *lifecycle.Batch
	Panes     *panes.Manager
	Auxiliary *auxiliary.Manager
	Hook      http.Handler
	WSHandler http.HandlerFunc
	Logs      Logs
}

// NewRouter builds the full HTTP surface: REST API, the switch-hook
// endpoint, the WebSocket terminal endpoint, and /metrics.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	h := &handlers{d: d}

	r.Route("/api", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.listSessions)
			r.Post("/reset-all", h.resetAllSessions)
			r.Get("/{id}", h.getSession)
			r.Patch("/{id}", h.updateSession)
			r.Delete("/{id}", h.deleteSession)
			r.Post("/{id}/reset", h.resetSession)
		})

		r.Route("/panes", func(r chi.Router) {
			r.Get("/", h.listPanes)
			r.Get("/count", h.countPanes)
			r.Post("/", h.createPane)
			r.Post("/order", h.updatePaneOrder)
			r.Post("/layout", h.updatePaneLayouts)
			r.Get("/{id}", h.getPane)
			r.Patch("/{id}", h.updatePane)
			r.Delete("/{id}", h.deletePane)
			r.Post("/{idA}/swap/{idB}", h.swapPanes)
		})

		r.Route("/projects/{projectId}/settings", func(r chi.Router) {
			r.Get("/", h.getProjectSettings)
			r.Put("/", h.upsertProjectSettings)
		})
		r.Get("/settings", h.listProjectSettings)
		r.Post("/settings/order", h.bulkUpdateSettingsOrder)

		r.Route("/auxiliary/{sessionId}", func(r chi.Router) {
			r.Get("/", h.getAuxiliaryState)
			r.Post("/start", h.startAuxiliary)
		})

		r.Get("/internal/session-switch", d.Hook.ServeHTTP)
		r.Get("/internal/logs", h.getLogs)
	})

	if d.WSHandler != nil {
		r.Get("/ws/terminal/{id}", d.WSHandler)
	}

	r.Handle("/metrics", metrics.Handler())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
	})

	return r
}

type handlers struct {
	d Deps
}
