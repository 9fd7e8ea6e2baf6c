package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/summitflow/summitflow-term/internal/auxiliary"
	"github.com/summitflow/summitflow-term/internal/config"
	"github.com/summitflow/summitflow-term/internal/hook"
	"github.com/summitflow/summitflow-term/internal/httpapi"
	"github.com/summitflow/summitflow-term/internal/lifecycle"
	"github.com/summitflow/summitflow-term/internal/metrics"
	"github.com/summitflow/summitflow-term/internal/muxdriver"
	"github.com/summitflow/summitflow-term/internal/panes"
	"github.com/summitflow/summitflow-term/internal/ptybridge"
	"github.com/summitflow/summitflow-term/internal/reconcile"
	"github.com/summitflow/summitflow-term/internal/sessionlog"
	"github.com/summitflow/summitflow-term/internal/store"
	"github.com/summitflow/summitflow-term/internal/workerutil"
	"github.com/summitflow/summitflow-term/internal/wsserver"
)

// shutdownTimeout bounds graceful teardown: the HTTP server's own drain,
// then the background worker WaitGroups.
const shutdownTimeout = 10 * time.Second

// logRingCapacity bounds the in-memory Warn+ log surface exposed at
// /api/internal/logs.
const logRingCapacity = 200

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// runServe is the service's startup/shutdown sequence: load config, open
// the store, run one guaranteed reconcile pass before accepting
// connections, wire every collaborator, start background workers, serve
// until signalled, then tear down in reverse order.
func runServe(ctx context.Context) error {
	// Install the log ring buffer before any other subsystem starts so that
	// their own startup warnings are captured by /api/internal/logs too.
	logRing := sessionlog.NewRingBuffer(logRingCapacity)
	baseHandler := slog.NewTextHandler(os.Stderr, nil)
	slog.SetDefault(slog.New(sessionlog.NewTeeHandler(baseHandler, slog.LevelWarn, func(ts time.Time, level slog.Level, msg, group string) {
		logRing.Push(sessionlog.Entry{
			Timestamp: ts.UTC().Format(time.RFC3339Nano),
			Level:     level.String(),
			Message:   msg,
			Source:    group,
		})
	})))

	path := resolveConfigPath()
	cfg := loadConfigOrDefaults(path)

	// No running parameter is actually live-reloadable yet (the listen
	// address and database path only take effect at startup), so the
	// watcher only logs for now rather than mutating cfg out from under
	// the goroutines already reading it.
	watcher, err := config.WatchFile(path, func(next config.Config) {
		slog.Info("[serve] config file changed on disk, restart to apply", "path", path)
	})
	if err != nil {
		slog.Warn("[serve] config hot-reload unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("serve: open store: %w", err)
	}
	defer st.Close()

	mux := muxdriver.New(cfg.MuxBin)
	mux.SecretDenyList = cfg.SecretDenyList

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reconciler := reconcile.New(st, mux, cfg.PurgeAfterDays)
	if stats, err := reconciler.Run(runCtx); err != nil {
		slog.Error("[serve] startup reconcile failed, continuing", "error", err)
	} else {
		slog.Info("[serve] startup reconcile complete", "orphans_killed", stats.OrphansKilled, "purged", stats.Purged)
	}

	core := lifecycle.NewCore(st, mux)
	batch := lifecycle.NewBatch(st, core)
	paneMgr := panes.New(st)
	auxMgr := auxiliary.New(st, mux)
	hookReceiver := hook.New(st)

	var wg sync.WaitGroup

	metrics.Poll(runCtx, &wg,
		ptybridge.ActiveCount,
		func() int {
			sessions, err := st.ListSessions(false)
			if err != nil {
				return 0
			}
			return len(sessions)
		},
		func() int {
			n, err := st.CountPanes()
			if err != nil {
				return 0
			}
			return n
		},
	)

	if cfg.ReconcileInterval > 0 {
		startReconcileLoop(runCtx, &wg, reconciler, cfg.ReconcileInterval)
	}

	bridge := ptybridge.New(ptybridge.Deps{Store: st, Mux: mux, Lifecycle: core})

	router := httpapi.NewRouter(httpapi.Deps{
		Store:     st,
		Core:      core,
		Batch:     batch,
		Panes:     paneMgr,
		Auxiliary: auxMgr,
		Hook:      hookReceiver,
		WSHandler: terminalWebSocketHandler(bridge),
		Logs:      logRing,
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		slog.Info("[serve] listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	select {
	case <-runCtx.Done():
		slog.Info("[serve] shutdown signal received")
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("serve: listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("[serve] http server shutdown error", "error", err)
	}

	if !waitWithTimeout(auxMgr.Wait, shutdownTimeout) {
		slog.Warn("[serve] timed out waiting for auxiliary verification during shutdown")
	}
	if !waitWithTimeout(wg.Wait, shutdownTimeout) {
		slog.Warn("[serve] timed out waiting for background workers during shutdown")
	}

	return nil
}

// terminalWebSocketHandler resolves the session id from the URL, upgrades
// the connection, and runs one Bridge for its lifetime.
func terminalWebSocketHandler(bridge *ptybridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")
		if sessionID == "" {
			http.Error(w, "missing session id", http.StatusBadRequest)
			return
		}

		conn, err := wsserver.Upgrade(w, r)
		if err != nil {
			slog.Warn("[serve] websocket upgrade failed", "session_id", sessionID, "error", err)
			return
		}
		defer conn.Close()

		if err := bridge.Run(r.Context(), conn, sessionID); err != nil {
			slog.Info("[serve] bridge exited", "session_id", sessionID, "error", err)
		}
	}
}

func startReconcileLoop(ctx context.Context, wg *sync.WaitGroup, r *reconcile.Reconciler, interval time.Duration) {
	workerutil.RunWithPanicRecovery(ctx, "reconcile-loop", wg, func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if stats, err := r.Run(ctx); err != nil {
					slog.Error("[serve] periodic reconcile failed", "error", err)
				} else {
					slog.Debug("[serve] periodic reconcile complete", "orphans_killed", stats.OrphansKilled, "purged", stats.Purged)
				}
			}
		}
	}, workerutil.RecoveryOptions{})
}

func waitWithTimeout(waitFn func(), timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		waitFn()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
