// Package auxiliary implements AuxiliaryLifecycle: the state machine that
// tracks the auxiliary helper's run state per session, starts it on demand,
// and verifies the start asynchronously. Concurrency is owned entirely by
// the store's conditional update, not an in-process lock: when two starts
// race, exactly one wins the not_started -> starting transition and only the
// winner schedules verification.
package auxiliary

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/summitflow/summitflow-term/internal/metrics"
	"github.com/summitflow/summitflow-term/internal/workerutil"
)

// Auxiliary state values, mirroring the store schema's CHECK constraint.
const (
	StateNotStarted = "not_started"
	StateStarting   = "starting"
	StateRunning    = "running"
	StateStopped    = "stopped"
	StateError      = "error"
)

// verificationDelay is how long the background verifier waits after a
// winning start before checking whether the auxiliary process actually
// appeared. Long enough for a shell to fork/exec the helper, short enough
// that a client polling session state sees a settled result quickly.
const verificationDelay = 2 * time.Second

// Store is the subset of *store.Store AuxiliaryLifecycle needs.
type Store interface {
	UpdateAuxiliaryState(id, newState, expected string) (bool, error)
	GetAuxiliaryState(id string) (string, error)
}

// MuxDriver is the subset of *muxdriver.Driver AuxiliaryLifecycle needs.
type MuxDriver interface {
	IsAuxiliaryRunning(ctx context.Context, name string) bool
}

// Manager is the AuxiliaryLifecycle component.
type Manager struct {
	Store Store
	Mux   MuxDriver

	// bgWG tracks in-flight verification goroutines so Wait can wait for
	// them to finish rather than leaving them to race a closing Store.
	bgWG sync.WaitGroup
}

// New builds a Manager.
func New(st Store, mux MuxDriver) *Manager {
	return &Manager{Store: st, Mux: mux}
}

// StartResult is the outcome of a Start call.
type StartResult struct {
	Started bool   // true only for the task that won the not_started->starting race
	State   string // the state observed/reached
}

// Start attempts the not_started -> starting transition for sessionID. Only
// the caller that wins the race gets Started=true and triggers background
// verification; every other concurrent caller observes the post-race state
// and returns immediately.
func (m *Manager) Start(ctx context.Context, sessionID, muxName string) (StartResult, error) {
	won, err := m.Store.UpdateAuxiliaryState(sessionID, StateStarting, StateNotStarted)
	if err != nil {
		return StartResult{}, fmt.Errorf("auxiliary: start %s: %w", sessionID, err)
	}
	if !won {
		metrics.Get().AuxiliaryRacesLost.Inc()
		state, err := m.Store.GetAuxiliaryState(sessionID)
		if err != nil {
			return StartResult{}, fmt.Errorf("auxiliary: start %s: observe state: %w", sessionID, err)
		}
		return StartResult{Started: false, State: state}, nil
	}

	slog.Info("[aux] auxiliary starting", "session_id", sessionID, "mux_name", muxName)
	workerutil.RunWithPanicRecovery(ctx, "aux-verify-"+sessionID, &m.bgWG,
		func(ctx context.Context) { m.verify(ctx, sessionID, muxName) },
		workerutil.RecoveryOptions{MaxRetries: 1})

	return StartResult{Started: true, State: StateStarting}, nil
}

// verify waits for the auxiliary process to have a chance to appear, then
// conditionally advances starting -> running or starting -> error. A lost
// race here (state already moved on, e.g. the session died) is not an
// error: the conditional update simply reports no rows affected.
func (m *Manager) verify(ctx context.Context, sessionID, muxName string) {
	timer := time.NewTimer(verificationDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	running := m.Mux.IsAuxiliaryRunning(ctx, muxName)
	next := StateError
	if running {
		next = StateRunning
	}

	applied, err := m.Store.UpdateAuxiliaryState(sessionID, next, StateStarting)
	if err != nil {
		slog.Warn("[aux] verification update failed", "session_id", sessionID, "err", err)
		return
	}
	if !applied {
		slog.Debug("[aux] verification skipped, state already advanced", "session_id", sessionID)
		return
	}
	metrics.Get().AuxiliaryVerifications.WithLabelValues(next).Inc()
	slog.Info("[aux] auxiliary verified", "session_id", sessionID, "state", next)
}

// Stop marks a session's auxiliary helper stopped unconditionally. Used on
// session deletion/reset, not gated behind a CAS since nothing is racing
// for ownership of a teardown.
func (m *Manager) Stop(sessionID string) error {
	if _, err := m.Store.UpdateAuxiliaryState(sessionID, StateStopped, ""); err != nil {
		return fmt.Errorf("auxiliary: stop %s: %w", sessionID, err)
	}
	return nil
}

// State reports the current auxiliary state for a session.
func (m *Manager) State(sessionID string) (string, error) {
	return m.Store.GetAuxiliaryState(sessionID)
}

// Wait blocks until every in-flight verification goroutine has returned.
// Called during service shutdown after the root context is cancelled.
func (m *Manager) Wait() {
	m.bgWG.Wait()
}
