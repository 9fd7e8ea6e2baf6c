package store

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Pane groups 1-2 sessions under one layout slot.
type Pane struct {
	ID            string
	PaneType      string // "project" | "adhoc"
	ProjectID     *string
	PaneOrder     int
	PaneName      string
	ActiveMode    string // "shell" | "auxiliary"
	CreatedAt     string
	WidthPercent  float64
	HeightPercent float64
	GridRow       int
	GridCol       int
}

// PaneWithSessions bundles a pane with the sessions that belong to it.
type PaneWithSessions struct {
	Pane
	Sessions []Session
}

// MaxPanes is the hard cap on total panes, enforced by the caller (internal/panes)
// before every creation path reaches the Store.
const MaxPanes = 4

const paneFields = `id, pane_type, project_id, pane_order, pane_name, active_mode, created_at,
	width_percent, height_percent, grid_row, grid_col`

func scanPane(scan func(dest ...any) error) (Pane, error) {
	var p Pane
	if err := scan(&p.ID, &p.PaneType, &p.ProjectID, &p.PaneOrder, &p.PaneName, &p.ActiveMode,
		&p.CreatedAt, &p.WidthPercent, &p.HeightPercent, &p.GridRow, &p.GridCol); err != nil {
		return Pane{}, err
	}
	return p, nil
}

// ListPanes lists all panes ordered by pane_order.
func (s *Store) ListPanes() ([]Pane, error) {
	rows, err := s.db.Query("SELECT " + paneFields + " FROM terminal_panes ORDER BY pane_order")
	if err != nil {
		return nil, fmt.Errorf("store: list panes: %w", err)
	}
	defer rows.Close()

	var out []Pane
	for rows.Next() {
		p, err := scanPane(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("store: scan pane: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPane fetches a pane by id, or ErrNotFound.
func (s *Store) GetPane(id string) (Pane, error) {
	row := s.db.QueryRow("SELECT "+paneFields+" FROM terminal_panes WHERE id = ?", id)
	p, err := scanPane(row.Scan)
	if isNoRows(err) {
		return Pane{}, ErrNotFound
	}
	if err != nil {
		return Pane{}, fmt.Errorf("store: get pane: %w", err)
	}
	return p, nil
}

func (s *Store) sessionsForPane(paneID string) ([]Session, error) {
	rows, err := s.db.Query("SELECT "+sessionFields+` FROM terminal_sessions
		WHERE pane_id = ? ORDER BY mode`, paneID)
	if err != nil {
		return nil, fmt.Errorf("store: sessions for pane: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetPaneWithSessions fetches a pane and every session that belongs to it,
// dead or alive — dead sessions can still be resurrected from a pane.
func (s *Store) GetPaneWithSessions(id string) (PaneWithSessions, error) {
	p, err := s.GetPane(id)
	if err != nil {
		return PaneWithSessions{}, err
	}
	sessions, err := s.sessionsForPane(id)
	if err != nil {
		return PaneWithSessions{}, err
	}
	return PaneWithSessions{Pane: p, Sessions: sessions}, nil
}

// ListPanesWithSessions lists every pane together with its sessions.
func (s *Store) ListPanesWithSessions() ([]PaneWithSessions, error) {
	panes, err := s.ListPanes()
	if err != nil {
		return nil, err
	}
	out := make([]PaneWithSessions, 0, len(panes))
	for _, p := range panes {
		sessions, err := s.sessionsForPane(p.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, PaneWithSessions{Pane: p, Sessions: sessions})
	}
	return out, nil
}

// CountPanes returns the total number of panes, used to enforce MaxPanes.
func (s *Store) CountPanes() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM terminal_panes").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count panes: %w", err)
	}
	return n, nil
}

// NewPaneParams are the caller-supplied fields for CreatePaneWithSessions.
type NewPaneParams struct {
	PaneType   string // "project" | "adhoc"
	PaneName   string
	ProjectID  *string
	WorkingDir *string
	PaneOrder  *int // auto-assigned (MAX+1) when nil
}

// CreatePaneWithSessions atomically creates a pane and its owned sessions:
// a shell session always, plus an auxiliary session when paneType is
// "project". The caller (internal/panes) is responsible for the MaxPanes
// cap check and pane_type/project_id consistency validation before calling
// this; the CHECK constraint on terminal_panes is the last line of defense.
func (s *Store) CreatePaneWithSessions(p NewPaneParams) (PaneWithSessions, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return PaneWithSessions{}, fmt.Errorf("store: create pane: %w", err)
	}
	defer tx.Rollback()

	order := 0
	if p.PaneOrder != nil {
		order = *p.PaneOrder
	} else {
		row := tx.QueryRow("SELECT COALESCE(MAX(pane_order), -1) + 1 FROM terminal_panes")
		if err := row.Scan(&order); err != nil {
			return PaneWithSessions{}, fmt.Errorf("store: compute pane_order: %w", err)
		}
	}

	paneID := uuid.NewString()
	ts := now()
	_, err = tx.Exec(`
		INSERT INTO terminal_panes (id, pane_type, project_id, pane_order, pane_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, paneID, p.PaneType, p.ProjectID, order, p.PaneName, ts)
	if err != nil {
		return PaneWithSessions{}, fmt.Errorf("store: insert pane: %w", err)
	}

	sessionNumber := 1
	if p.ProjectID != nil {
		row := tx.QueryRow(`
			SELECT COALESCE(MAX(session_number), 0) + 1
			FROM terminal_sessions WHERE project_id = ? AND is_alive = 1
		`, *p.ProjectID)
		if err := row.Scan(&sessionNumber); err != nil {
			return PaneWithSessions{}, fmt.Errorf("store: compute session_number: %w", err)
		}
	}

	insertSession := func(mode string) (string, error) {
		id := uuid.NewString()
		_, err := tx.Exec(`
			INSERT INTO terminal_sessions
				(id, name, project_id, working_dir, mode, session_number, is_alive,
				 created_at, last_accessed_at, auxiliary_state, pane_id)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, 'not_started', ?)
		`, id, p.PaneName, p.ProjectID, p.WorkingDir, mode, sessionNumber, ts, ts, paneID)
		return id, err
	}

	shellID, err := insertSession("shell")
	if err != nil {
		return PaneWithSessions{}, fmt.Errorf("store: insert shell session: %w", err)
	}
	sessionIDs := []string{shellID}

	if p.PaneType == "project" {
		auxID, err := insertSession("auxiliary")
		if err != nil {
			return PaneWithSessions{}, fmt.Errorf("store: insert auxiliary session: %w", err)
		}
		sessionIDs = append(sessionIDs, auxID)
	}

	if err := tx.Commit(); err != nil {
		return PaneWithSessions{}, fmt.Errorf("store: create pane: %w", err)
	}

	pane, err := s.GetPane(paneID)
	if err != nil {
		return PaneWithSessions{}, err
	}
	sessions := make([]Session, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		sess, err := s.GetSession(id)
		if err != nil {
			return PaneWithSessions{}, err
		}
		sessions = append(sessions, sess)
	}
	return PaneWithSessions{Pane: pane, Sessions: sessions}, nil
}

// PaneUpdate holds the optional fields UpdatePane may change.
type PaneUpdate struct {
	PaneName      *string
	PaneOrder     *int
	ActiveMode    *string
	WidthPercent  *float64
	HeightPercent *float64
	GridRow       *int
	GridCol       *int
}

// UpdatePane applies a partial update and returns the refreshed row. The
// caller is responsible for rejecting active_mode="auxiliary" on adhoc
// panes before calling this.
func (s *Store) UpdatePane(id string, u PaneUpdate) (Pane, error) {
	set := map[string]any{}
	if u.PaneName != nil {
		set["pane_name"] = *u.PaneName
	}
	if u.PaneOrder != nil {
		set["pane_order"] = *u.PaneOrder
	}
	if u.ActiveMode != nil {
		set["active_mode"] = *u.ActiveMode
	}
	if u.WidthPercent != nil {
		set["width_percent"] = *u.WidthPercent
	}
	if u.HeightPercent != nil {
		set["height_percent"] = *u.HeightPercent
	}
	if u.GridRow != nil {
		set["grid_row"] = *u.GridRow
	}
	if u.GridCol != nil {
		set["grid_col"] = *u.GridCol
	}
	if len(set) == 0 {
		return s.GetPane(id)
	}
	if err := rowsAffectedOrNotFound(s.applyCoalesceUpdate("terminal_panes", "id", id, set)); err != nil {
		return Pane{}, err
	}
	return s.GetPane(id)
}

// DeletePane deletes a pane and cascades the delete to every session that
// belongs to it. The cascade is done explicitly in the same transaction
// rather than relied on via sqlite's FK pragma, which is off by default per
// connection in a pooled database/sql setup.
func (s *Store) DeletePane(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: delete pane: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM terminal_sessions WHERE pane_id = ?", id); err != nil {
		return fmt.Errorf("store: delete pane sessions: %w", err)
	}
	res, err := tx.Exec("DELETE FROM terminal_panes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("store: delete pane: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// UpdatePaneOrder batch-updates pane_order for a set of panes. Best-effort:
// a missing id is silently skipped rather than aborting the batch.
func (s *Store) UpdatePaneOrder(orders map[string]int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: update pane order: %w", err)
	}
	defer tx.Rollback()

	for id, order := range orders {
		if _, err := tx.Exec("UPDATE terminal_panes SET pane_order = ? WHERE id = ?", order, id); err != nil {
			return fmt.Errorf("store: update pane order for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// SwapPanePositions swaps pane_order between two panes in one transaction.
// Returns ErrNotFound if either id is missing.
func (s *Store) SwapPanePositions(idA, idB string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: swap panes: %w", err)
	}
	defer tx.Rollback()

	var orderA, orderB int
	if err := tx.QueryRow("SELECT pane_order FROM terminal_panes WHERE id = ?", idA).Scan(&orderA); err != nil {
		if isNoRows(err) {
			return ErrNotFound
		}
		return fmt.Errorf("store: swap panes: %w", err)
	}
	if err := tx.QueryRow("SELECT pane_order FROM terminal_panes WHERE id = ?", idB).Scan(&orderB); err != nil {
		if isNoRows(err) {
			return ErrNotFound
		}
		return fmt.Errorf("store: swap panes: %w", err)
	}

	if _, err := tx.Exec("UPDATE terminal_panes SET pane_order = ? WHERE id = ?", orderB, idA); err != nil {
		return fmt.Errorf("store: swap panes: %w", err)
	}
	if _, err := tx.Exec("UPDATE terminal_panes SET pane_order = ? WHERE id = ?", orderA, idB); err != nil {
		return fmt.Errorf("store: swap panes: %w", err)
	}
	return tx.Commit()
}

// PaneLayoutUpdate is one entry in a batch UpdatePaneLayouts call. Nil
// fields are left untouched via COALESCE.
type PaneLayoutUpdate struct {
	PaneID        string
	WidthPercent  *float64
	HeightPercent *float64
	GridRow       *int
	GridCol       *int
}

// UpdatePaneLayouts applies a batch of layout changes in one transaction,
// each row through its own COALESCE update (the same shape as
// applyCoalesceUpdate, built inline against the transaction). The caller (internal/panes) retries the whole
// batch up to 3 times with linear backoff on storage contention; this
// method itself makes no retry decision.
func (s *Store) UpdatePaneLayouts(updates []PaneLayoutUpdate) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: update pane layouts: %w", err)
	}
	defer tx.Rollback()

	for _, u := range updates {
		set := map[string]any{}
		if u.WidthPercent != nil {
			set["width_percent"] = *u.WidthPercent
		}
		if u.HeightPercent != nil {
			set["height_percent"] = *u.HeightPercent
		}
		if u.GridRow != nil {
			set["grid_row"] = *u.GridRow
		}
		if u.GridCol != nil {
			set["grid_col"] = *u.GridCol
		}
		if len(set) == 0 {
			continue
		}
		cols := make([]string, 0, len(set))
		args := make([]any, 0, len(set)+1)
		for col, val := range set {
			cols = append(cols, col+" = COALESCE(?, "+col+")")
			args = append(args, val)
		}
		args = append(args, u.PaneID)
		q := "UPDATE terminal_panes SET " + strings.Join(cols, ", ") + " WHERE id = ?"
		if _, err := tx.Exec(q, args...); err != nil {
			return fmt.Errorf("store: update pane layout for %s: %w", u.PaneID, err)
		}
	}
	return tx.Commit()
}
