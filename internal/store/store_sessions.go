package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session is a durable record of one terminal, shell or auxiliary.
type Session struct {
	ID                string
	Name              string
	ProjectID         *string
	WorkingDir        *string
	DisplayOrder      int
	Mode              string // "shell" | "auxiliary"
	SessionNumber     int
	IsAlive           bool
	CreatedAt         string
	LastAccessedAt    string
	LastTargetSession *string
	AuxiliaryState    string // not_started | starting | running | stopped | error
	PaneID            *string
}

const sessionFields = `id, name, project_id, working_dir, display_order, mode, session_number,
	is_alive, created_at, last_accessed_at, last_target_session, auxiliary_state, pane_id`

func scanSession(scan func(dest ...any) error) (Session, error) {
	var s Session
	var isAlive int
	if err := scan(&s.ID, &s.Name, &s.ProjectID, &s.WorkingDir, &s.DisplayOrder, &s.Mode,
		&s.SessionNumber, &isAlive, &s.CreatedAt, &s.LastAccessedAt, &s.LastTargetSession,
		&s.AuxiliaryState, &s.PaneID); err != nil {
		return Session{}, err
	}
	s.IsAlive = isAlive != 0
	return s, nil
}

// ListSessions lists sessions ordered by display_order, created_at.
// Dead sessions are included only when includeDead is true.
func (s *Store) ListSessions(includeDead bool) ([]Session, error) {
	q := "SELECT " + sessionFields + " FROM terminal_sessions"
	if !includeDead {
		q += " WHERE is_alive = 1"
	}
	q += " ORDER BY display_order, created_at"

	rows, err := s.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
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

// GetSession fetches a session by id, or ErrNotFound.
func (s *Store) GetSession(id string) (Session, error) {
	row := s.db.QueryRow("SELECT "+sessionFields+" FROM terminal_sessions WHERE id = ?", id)
	sess, err := scanSession(row.Scan)
	if isNoRows(err) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("store: get session: %w", err)
	}
	return sess, nil
}

func isNoRows(err error) bool { return err == sql.ErrNoRows }

// NewSessionParams are the caller-supplied fields for CreateSession;
// SessionNumber, IsAlive, the timestamps, and AuxiliaryState are computed.
type NewSessionParams struct {
	Name       string
	ProjectID  *string
	WorkingDir *string
	Mode       string
	PaneID     *string
}

// CreateSession inserts a new session row, computing session_number as
// COALESCE(MAX, 0) + 1 scoped to (project_id, mode, is_alive=true), or 1 if
// project_id is nil. The id is generated here, server-side, so a client can
// never collide or choose its own identifier.
func (s *Store) CreateSession(p NewSessionParams) (Session, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Session{}, fmt.Errorf("store: create session: %w", err)
	}
	defer tx.Rollback()

	sessionNumber := 1
	if p.ProjectID != nil {
		row := tx.QueryRow(`
			SELECT COALESCE(MAX(session_number), 0) + 1
			FROM terminal_sessions
			WHERE project_id = ? AND mode = ? AND is_alive = 1
		`, *p.ProjectID, p.Mode)
		if err := row.Scan(&sessionNumber); err != nil {
			return Session{}, fmt.Errorf("store: compute session_number: %w", err)
		}
	}

	id := uuid.NewString()
	ts := now()
	_, err = tx.Exec(`
		INSERT INTO terminal_sessions
			(id, name, project_id, working_dir, mode, session_number, is_alive,
			 created_at, last_accessed_at, auxiliary_state, pane_id)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, 'not_started', ?)
	`, id, p.Name, p.ProjectID, p.WorkingDir, p.Mode, sessionNumber, ts, ts, p.PaneID)
	if err != nil {
		return Session{}, fmt.Errorf("store: insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Session{}, fmt.Errorf("store: create session: %w", err)
	}
	return s.GetSession(id)
}

// SessionUpdate holds the optional fields UpdateSession may change. A nil
// field leaves the column untouched, via applyCoalesceUpdate.
type SessionUpdate struct {
	Name         *string
	DisplayOrder *int
	IsAlive      *bool
	WorkingDir   *string
}

// UpdateSession applies a partial update and returns the refreshed row.
func (s *Store) UpdateSession(id string, u SessionUpdate) (Session, error) {
	set := map[string]any{}
	if u.Name != nil {
		set["name"] = *u.Name
	}
	if u.DisplayOrder != nil {
		set["display_order"] = *u.DisplayOrder
	}
	if u.IsAlive != nil {
		set["is_alive"] = boolToInt(*u.IsAlive)
	}
	if u.WorkingDir != nil {
		set["working_dir"] = *u.WorkingDir
	}
	if len(set) == 0 {
		return s.GetSession(id)
	}
	if err := rowsAffectedOrNotFound(s.applyCoalesceUpdate("terminal_sessions", "id", id, set)); err != nil {
		return Session{}, err
	}
	return s.GetSession(id)
}

// DeleteSession hard-deletes a session. Returns ErrNotFound if absent.
func (s *Store) DeleteSession(id string) error {
	return rowsAffectedOrNotFound(s.db.Exec("DELETE FROM terminal_sessions WHERE id = ?", id))
}

// MarkDead flips is_alive to false, preserving the row for resurrection.
func (s *Store) MarkDead(id string) error {
	alive := false
	_, err := s.UpdateSession(id, SessionUpdate{IsAlive: &alive})
	return err
}

// Touch updates last_accessed_at to now. Call on every WebSocket connect.
func (s *Store) Touch(id string) error {
	return rowsAffectedOrNotFound(s.db.Exec(
		"UPDATE terminal_sessions SET last_accessed_at = ? WHERE id = ?", now(), id))
}

// PurgeDead permanently deletes dead sessions whose last_accessed_at is
// older than olderThanDays. Returns the number of rows deleted.
func (s *Store) PurgeDead(olderThanDays int) (int, error) {
	cutoff := addDays(-olderThanDays)
	res, err := s.db.Exec(`
		DELETE FROM terminal_sessions WHERE is_alive = 0 AND last_accessed_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: purge dead: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListOrphaned returns sessions not accessed within olderThanDays, dead or
// alive — used by cleanup to find abandoned sessions.
func (s *Store) ListOrphaned(olderThanDays int) ([]Session, error) {
	cutoff := addDays(-olderThanDays)
	rows, err := s.db.Query("SELECT "+sessionFields+` FROM terminal_sessions
		WHERE last_accessed_at < ? ORDER BY last_accessed_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: list orphaned: %w", err)
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

// GetSessionByProject returns the most recent live session for
// (projectID, mode), or ErrNotFound.
func (s *Store) GetSessionByProject(projectID, mode string) (Session, error) {
	row := s.db.QueryRow("SELECT "+sessionFields+` FROM terminal_sessions
		WHERE project_id = ? AND mode = ? AND is_alive = 1
		ORDER BY created_at DESC LIMIT 1`, projectID, mode)
	sess, err := scanSession(row.Scan)
	if isNoRows(err) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("store: get session by project: %w", err)
	}
	return sess, nil
}

// GetDeadSessionByProject returns the most recent dead session for
// (projectID, mode), or ErrNotFound. Used by LifecycleCore's resurrection
// fast path.
func (s *Store) GetDeadSessionByProject(projectID, mode string) (Session, error) {
	row := s.db.QueryRow("SELECT "+sessionFields+` FROM terminal_sessions
		WHERE project_id = ? AND mode = ? AND is_alive = 0
		ORDER BY created_at DESC LIMIT 1`, projectID, mode)
	sess, err := scanSession(row.Scan)
	if isNoRows(err) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("store: get dead session by project: %w", err)
	}
	return sess, nil
}

// ProjectSessions holds the canonical shell/auxiliary pair for a project.
type ProjectSessions struct {
	Shell     *Session
	Auxiliary *Session
}

// GetProjectSessions returns the most recent live shell and auxiliary
// session for a project. When multiple live rows exist for a mode, the most
// recent by created_at wins.
func (s *Store) GetProjectSessions(projectID string) (ProjectSessions, error) {
	var out ProjectSessions
	if sess, err := s.GetSessionByProject(projectID, "shell"); err == nil {
		out.Shell = &sess
	} else if err != ErrNotFound {
		return out, err
	}
	if sess, err := s.GetSessionByProject(projectID, "auxiliary"); err == nil {
		out.Auxiliary = &sess
	} else if err != ErrNotFound {
		return out, err
	}
	return out, nil
}

// GetAllProjectSessions returns every live session row for a project,
// including duplicates beyond the canonical shell/auxiliary pair. Used by
// cleanup to detect and log orphans.
func (s *Store) GetAllProjectSessions(projectID string) ([]Session, error) {
	rows, err := s.db.Query("SELECT "+sessionFields+` FROM terminal_sessions
		WHERE project_id = ? AND is_alive = 1 ORDER BY mode, created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: get all project sessions: %w", err)
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

// UpdateTargetSession stores the auxiliary mux session name the user last
// switched to, or clears it when name is nil/empty.
func (s *Store) UpdateTargetSession(id string, name *string) error {
	var v any
	if name != nil && *name != "" {
		v = *name
	}
	return rowsAffectedOrNotFound(s.db.Exec(
		"UPDATE terminal_sessions SET last_target_session = ? WHERE id = ?", v, id))
}

// UpdateAuxiliaryState transitions auxiliary_state to newState. When
// expected is non-empty, the update is conditional: it applies, and returns
// true, only if the row's current auxiliary_state equals expected. This is
// the sole mechanism used for atomic auxiliary-state transitions — no
// in-process lock is involved, so concurrent callers race safely at the
// database layer.
func (s *Store) UpdateAuxiliaryState(id, newState, expected string) (bool, error) {
	var res sql.Result
	var err error
	if expected == "" {
		res, err = s.db.Exec(
			"UPDATE terminal_sessions SET auxiliary_state = ? WHERE id = ?", newState, id)
	} else {
		res, err = s.db.Exec(
			"UPDATE terminal_sessions SET auxiliary_state = ? WHERE id = ? AND auxiliary_state = ?",
			newState, id, expected)
	}
	if err != nil {
		return false, fmt.Errorf("store: update auxiliary state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetAuxiliaryState returns the current auxiliary_state for a session.
func (s *Store) GetAuxiliaryState(id string) (string, error) {
	var state string
	err := s.db.QueryRow("SELECT auxiliary_state FROM terminal_sessions WHERE id = ?", id).Scan(&state)
	if isNoRows(err) {
		return "", ErrNotFound
	}
	return state, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// applyCoalesceUpdate builds and runs `UPDATE table SET col = COALESCE(?,
// col), ... WHERE idColumn = ?` from set, so callers only bind the fields
// they want changed; anything absent from the map keeps its stored value.
// Shared by session and pane partial updates.
func (s *Store) applyCoalesceUpdate(table, idColumn, id string, set map[string]any) (sql.Result, error) {
	cols := make([]string, 0, len(set))
	args := make([]any, 0, len(set)+1)
	for col, val := range set {
		cols = append(cols, fmt.Sprintf("%s = COALESCE(?, %s)", col, col))
		args = append(args, val)
	}
	args = append(args, id)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", table, strings.Join(cols, ", "), idColumn)
	return s.db.Exec(q, args...)
}

// addDays returns a stored-timestamp cutoff for "days" days from now
// (negative for the past), in the same layout used by now().
func addDays(days int) string {
	return time.Now().UTC().AddDate(0, 0, days).Format(time.RFC3339Nano)
}
