package store

import "fmt"

// ProjectSettings is per-project terminal configuration, upserted
// idempotently and synced across devices via the active_mode column.
type ProjectSettings struct {
	ProjectID    string
	Enabled      bool
	ActiveMode   string // "shell" | "auxiliary"
	DisplayOrder int
	CreatedAt    string
	UpdatedAt    string
}

func scanProjectSettings(scan func(dest ...any) error) (ProjectSettings, error) {
	var ps ProjectSettings
	var enabled int
	if err := scan(&ps.ProjectID, &enabled, &ps.ActiveMode, &ps.DisplayOrder, &ps.CreatedAt, &ps.UpdatedAt); err != nil {
		return ProjectSettings{}, err
	}
	ps.Enabled = enabled != 0
	return ps, nil
}

const settingsFields = `project_id, enabled, active_mode, display_order, created_at, updated_at`

// GetAllSettings returns every project's settings, ordered for tab display.
func (s *Store) GetAllSettings() ([]ProjectSettings, error) {
	rows, err := s.db.Query("SELECT " + settingsFields + `
		FROM terminal_project_settings ORDER BY display_order, project_id`)
	if err != nil {
		return nil, fmt.Errorf("store: get all settings: %w", err)
	}
	defer rows.Close()

	var out []ProjectSettings
	for rows.Next() {
		ps, err := scanProjectSettings(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("store: scan settings: %w", err)
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

// GetSettings fetches settings for one project, or ErrNotFound.
func (s *Store) GetSettings(projectID string) (ProjectSettings, error) {
	row := s.db.QueryRow("SELECT "+settingsFields+`
		FROM terminal_project_settings WHERE project_id = ?`, projectID)
	ps, err := scanProjectSettings(row.Scan)
	if isNoRows(err) {
		return ProjectSettings{}, ErrNotFound
	}
	if err != nil {
		return ProjectSettings{}, fmt.Errorf("store: get settings: %w", err)
	}
	return ps, nil
}

// SettingsUpdate holds the optional fields UpsertSettings may set. Unset
// fields take the defaults below on first insert and are left untouched on
// conflict.
type SettingsUpdate struct {
	Enabled      *bool
	ActiveMode   *string
	DisplayOrder *int
}

// UpsertSettings creates or updates a project's settings row atomically.
// sqlite's ON CONFLICT DO UPDATE plays the same role as the original
// Postgres upsert.
func (s *Store) UpsertSettings(projectID string, u SettingsUpdate) (ProjectSettings, error) {
	enabled := false
	if u.Enabled != nil {
		enabled = *u.Enabled
	}
	mode := "shell"
	if u.ActiveMode != nil {
		mode = *u.ActiveMode
	}
	order := 0
	if u.DisplayOrder != nil {
		order = *u.DisplayOrder
	}
	ts := now()

	_, err := s.db.Exec(`
		INSERT INTO terminal_project_settings
			(project_id, enabled, active_mode, display_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id) DO UPDATE SET
			enabled = excluded.enabled,
			active_mode = excluded.active_mode,
			display_order = excluded.display_order,
			updated_at = excluded.updated_at
	`, projectID, boolToInt(enabled), mode, order, ts, ts)
	if err != nil {
		return ProjectSettings{}, fmt.Errorf("store: upsert settings: %w", err)
	}
	return s.GetSettings(projectID)
}

// BulkUpdateOrder sets display_order for each project to its index in the
// ordered list.
func (s *Store) BulkUpdateOrder(projectIDs []string) error {
	if len(projectIDs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: bulk update order: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	for i, id := range projectIDs {
		if _, err := tx.Exec(`
			UPDATE terminal_project_settings SET display_order = ?, updated_at = ?
			WHERE project_id = ?
		`, i, ts, id); err != nil {
			return fmt.Errorf("store: bulk update order for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// SetActiveMode sets a project's active_mode, used when the user switches
// between shell and auxiliary; the value syncs across devices via the row.
func (s *Store) SetActiveMode(projectID, mode string) (ProjectSettings, error) {
	if err := rowsAffectedOrNotFound(s.db.Exec(`
		UPDATE terminal_project_settings SET active_mode = ?, updated_at = ?
		WHERE project_id = ?
	`, mode, now(), projectID)); err != nil {
		return ProjectSettings{}, err
	}
	return s.GetSettings(projectID)
}
