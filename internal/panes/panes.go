// Package panes implements PaneManager: pane CRUD that atomically creates
// the 1-2 sessions a pane owns, enforces the fleet-wide pane cap, and
// persists ordering/grid-layout.
package panes

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/summitflow/summitflow-term/internal/store"
)

// Errors surfaced to the REST collaborator as 400s.
var (
	ErrMaxPanesReached    = errors.New("panes: maximum 4 panes allowed")
	ErrInvalidPaneType    = errors.New("panes: pane_type must be \"project\" or \"adhoc\"")
	ErrProjectIDRequired  = errors.New("panes: project_id is required for project panes")
	ErrProjectIDForbidden = errors.New("panes: project_id is not allowed for adhoc panes")
	ErrAuxiliaryOnAdhoc   = errors.New("panes: adhoc panes cannot have active_mode \"auxiliary\"")
)

// layoutRetryDelays are the linear backoff delays UpdateLayouts uses between
// retries on storage contention: first retry after 100ms, second after
// 200ms, then give up.
var layoutRetryDelays = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}

// Store is the subset of *store.Store PaneManager needs.
type Store interface {
	CountPanes() (int, error)
	CreatePaneWithSessions(p store.NewPaneParams) (store.PaneWithSessions, error)
	GetPane(id string) (store.Pane, error)
	GetPaneWithSessions(id string) (store.PaneWithSessions, error)
	ListPanesWithSessions() ([]store.PaneWithSessions, error)
	UpdatePane(id string, u store.PaneUpdate) (store.Pane, error)
	DeletePane(id string) error
	SwapPanePositions(idA, idB string) error
	UpdatePaneOrder(orders map[string]int) error
	UpdatePaneLayouts(updates []store.PaneLayoutUpdate) error
}

// Manager is the PaneManager component.
type Manager struct {
	Store Store

	// createMu serializes pane creation so the count-then-insert cap check
	// in CreateWithSessions can't race with itself across goroutines within
	// this process. Mirrors the teacher's panestate lock-ordering discipline
	// (coarse lock held across a sequence of otherwise-independent calls)
	// even though panestate itself guards in-memory replay state rather than
	// persisted rows.
	createMu sync.Mutex
}

// New builds a Manager from a store.
func New(st Store) *Manager {
	return &Manager{Store: st}
}

// CreateParams are the caller-supplied fields for CreateWithSessions.
type CreateParams struct {
	PaneType   string // "project" | "adhoc"
	PaneName   string
	ProjectID  *string
	WorkingDir *string
	PaneOrder  *int
}

// CreateWithSessions validates type/project consistency, enforces the
// fleet-wide cap of 4 panes, then atomically creates the pane and its 1-2
// owned sessions (shell always, plus auxiliary for project panes).
func (m *Manager) CreateWithSessions(p CreateParams) (store.PaneWithSessions, error) {
	switch p.PaneType {
	case "project":
		if p.ProjectID == nil || *p.ProjectID == "" {
			return store.PaneWithSessions{}, ErrProjectIDRequired
		}
	case "adhoc":
		if p.ProjectID != nil && *p.ProjectID != "" {
			return store.PaneWithSessions{}, ErrProjectIDForbidden
		}
	default:
		return store.PaneWithSessions{}, ErrInvalidPaneType
	}

	m.createMu.Lock()
	defer m.createMu.Unlock()

	count, err := m.Store.CountPanes()
	if err != nil {
		return store.PaneWithSessions{}, fmt.Errorf("panes: count panes: %w", err)
	}
	if count >= store.MaxPanes {
		return store.PaneWithSessions{}, ErrMaxPanesReached
	}

	pane, err := m.Store.CreatePaneWithSessions(store.NewPaneParams{
		PaneType:   p.PaneType,
		PaneName:   p.PaneName,
		ProjectID:  p.ProjectID,
		WorkingDir: p.WorkingDir,
		PaneOrder:  p.PaneOrder,
	})
	if err != nil {
		return store.PaneWithSessions{}, fmt.Errorf("panes: create: %w", err)
	}

	slog.Info("[panes] pane created", "id", pane.ID, "type", pane.PaneType, "sessions", len(pane.Sessions))
	return pane, nil
}

// UpdateParams are the caller-supplied fields for Update; nil fields are
// left untouched.
type UpdateParams struct {
	PaneName      *string
	PaneOrder     *int
	ActiveMode    *string
	WidthPercent  *float64
	HeightPercent *float64
	GridRow       *int
	GridCol       *int
}

// Update applies a partial update, rejecting active_mode="auxiliary" on
// adhoc panes before it ever reaches the store.
func (m *Manager) Update(id string, p UpdateParams) (store.Pane, error) {
	if p.ActiveMode != nil && *p.ActiveMode == "auxiliary" {
		pane, err := m.Store.GetPane(id)
		if err != nil {
			return store.Pane{}, err
		}
		if pane.PaneType == "adhoc" {
			return store.Pane{}, ErrAuxiliaryOnAdhoc
		}
	}

	return m.Store.UpdatePane(id, store.PaneUpdate{
		PaneName:      p.PaneName,
		PaneOrder:     p.PaneOrder,
		ActiveMode:    p.ActiveMode,
		WidthPercent:  p.WidthPercent,
		HeightPercent: p.HeightPercent,
		GridRow:       p.GridRow,
		GridCol:       p.GridCol,
	})
}

// Delete cascade-deletes a pane and every session it owns.
func (m *Manager) Delete(id string) error {
	if err := m.Store.DeletePane(id); err != nil {
		return fmt.Errorf("panes: delete %s: %w", id, err)
	}
	slog.Info("[panes] pane deleted", "id", id)
	return nil
}

// Get fetches one pane with its sessions.
func (m *Manager) Get(id string) (store.PaneWithSessions, error) {
	return m.Store.GetPaneWithSessions(id)
}

// List fetches every pane with its sessions.
func (m *Manager) List() ([]store.PaneWithSessions, error) {
	return m.Store.ListPanesWithSessions()
}

// Count reports the total pane count, for cap-aware UI.
func (m *Manager) Count() (int, error) {
	return m.Store.CountPanes()
}

// SwapPositions exchanges pane_order between two panes in a single
// transaction.
func (m *Manager) SwapPositions(idA, idB string) error {
	if err := m.Store.SwapPanePositions(idA, idB); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("panes: swap: one or both panes not found: %w", err)
		}
		return fmt.Errorf("panes: swap: %w", err)
	}
	return nil
}

// UpdateOrder applies a best-effort batch of (id, order) updates.
func (m *Manager) UpdateOrder(orders map[string]int) error {
	return m.Store.UpdatePaneOrder(orders)
}

// LayoutUpdate is one entry in an UpdateLayouts batch.
type LayoutUpdate struct {
	PaneID        string
	WidthPercent  *float64
	HeightPercent *float64
	GridRow       *int
	GridCol       *int
}

// UpdateLayouts applies a batch of layout changes, retrying the whole batch
// up to 3 attempts total with linear backoff (100ms, 200ms) on storage
// contention before giving up.
func (m *Manager) UpdateLayouts(updates []LayoutUpdate) error {
	storeUpdates := make([]store.PaneLayoutUpdate, len(updates))
	for i, u := range updates {
		storeUpdates[i] = store.PaneLayoutUpdate{
			PaneID:        u.PaneID,
			WidthPercent:  u.WidthPercent,
			HeightPercent: u.HeightPercent,
			GridRow:       u.GridRow,
			GridCol:       u.GridCol,
		}
	}

	var lastErr error
	for attempt := 0; attempt <= len(layoutRetryDelays); attempt++ {
		lastErr = m.Store.UpdatePaneLayouts(storeUpdates)
		if lastErr == nil {
			return nil
		}
		if attempt == len(layoutRetryDelays) {
			break
		}
		slog.Warn("[panes] layout update contention, retrying", "attempt", attempt+1, "error", lastErr)
		time.Sleep(layoutRetryDelays[attempt])
	}
	return fmt.Errorf("panes: update layouts: exhausted retries: %w", lastErr)
}
