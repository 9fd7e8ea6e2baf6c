// Package reconcile syncs store state with mux state once at startup,
// before any client can connect: sessions the mux lost are marked dead,
// sessions the mux still has are marked alive, long-dead rows are purged,
// and mux sessions with no matching row are killed as orphans.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/summitflow/summitflow-term/internal/metrics"
	"github.com/summitflow/summitflow-term/internal/store"
)

// MuxDriver is the subset of *muxdriver.Driver the reconciler needs.
type MuxDriver interface {
	ListPrefixed(ctx context.Context) (map[string]struct{}, error)
	Kill(ctx context.Context, id string, ignoreMissing bool) (bool, error)
}

// Stats summarizes one reconciliation pass, logged and optionally exposed
// as metrics by the caller.
type Stats struct {
	TotalStoreSessions int
	TotalMuxSessions   int
	MarkedAlive        int
	MarkedDead         int
	Purged             int
	OrphansKilled      int
}

// Reconciler holds the dependencies needed to run one reconciliation pass.
type Reconciler struct {
	Store          *store.Store
	Mux            MuxDriver
	PurgeAfterDays int
}

// New builds a Reconciler. purgeAfterDays is how old (by last_accessed_at)
// a dead session must be before it is permanently deleted; spec defaults
// this to 7.
func New(st *store.Store, mux MuxDriver, purgeAfterDays int) *Reconciler {
	if purgeAfterDays <= 0 {
		purgeAfterDays = 7
	}
	return &Reconciler{Store: st, Mux: mux, PurgeAfterDays: purgeAfterDays}
}

// Run executes one reconciliation pass. It is intended to run once at
// service startup, before the HTTP/WebSocket surface accepts connections:
// running it concurrently with live traffic would race with sessions being
// created or torn down mid-reconciliation.
func (r *Reconciler) Run(ctx context.Context) (Stats, error) {
	slog.Info("[reconcile] starting")
	start := time.Now()
	defer func() { metrics.Get().ReconcileDuration.Observe(time.Since(start).Seconds()) }()

	dbSessions, err := r.Store.ListSessions(true)
	if err != nil {
		return Stats{}, fmt.Errorf("reconcile: list sessions: %w", err)
	}
	muxSessions, err := r.Mux.ListPrefixed(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("reconcile: list mux sessions: %w", err)
	}

	stats := Stats{
		TotalStoreSessions: len(dbSessions),
		TotalMuxSessions:   len(muxSessions),
	}

	for _, sess := range dbSessions {
		_, inMux := muxSessions[sess.ID]
		switch {
		case inMux && !sess.IsAlive:
			if _, err := r.Store.UpdateSession(sess.ID, store.SessionUpdate{IsAlive: boolPtr(true)}); err != nil {
				slog.Error("[reconcile] mark alive failed", "id", sess.ID, "error", err)
				continue
			}
			stats.MarkedAlive++
			slog.Info("[reconcile] marked alive", "id", sess.ID)
		case !inMux && sess.IsAlive:
			if err := r.Store.MarkDead(sess.ID); err != nil {
				slog.Error("[reconcile] mark dead failed", "id", sess.ID, "error", err)
				continue
			}
			stats.MarkedDead++
			slog.Info("[reconcile] marked dead", "id", sess.ID)
		}
	}

	purged, err := r.Store.PurgeDead(r.PurgeAfterDays)
	if err != nil {
		return stats, fmt.Errorf("reconcile: purge dead: %w", err)
	}
	stats.Purged = purged
	if purged > 0 {
		slog.Info("[reconcile] purged dead sessions", "count", purged)
	}

	// Orphan detection must run after purge: a session purged above must
	// not save its mux counterpart from being killed as an orphan.
	remaining, err := r.Store.ListSessions(true)
	if err != nil {
		return stats, fmt.Errorf("reconcile: list sessions (post-purge): %w", err)
	}
	remainingIDs := make(map[string]struct{}, len(remaining))
	for _, sess := range remaining {
		remainingIDs[sess.ID] = struct{}{}
	}

	for id := range muxSessions {
		if _, ok := remainingIDs[id]; ok {
			continue
		}
		if _, err := r.Mux.Kill(ctx, id, true); err != nil {
			slog.Warn("[reconcile] orphan kill failed", "id", id, "error", err)
			continue
		}
		stats.OrphansKilled++
		metrics.Get().OrphansKilledTotal.Inc()
		slog.Info("[reconcile] orphan mux session killed", "id", id)
	}

	slog.Info("[reconcile] complete",
		"total_store_sessions", stats.TotalStoreSessions,
		"total_mux_sessions", stats.TotalMuxSessions,
		"marked_alive", stats.MarkedAlive,
		"marked_dead", stats.MarkedDead,
		"purged", stats.Purged,
		"orphans_killed", stats.OrphansKilled,
	)

	return stats, nil
}

func boolPtr(b bool) *bool { return &b }
