package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/summitflow/summitflow-term/internal/store"
)

// sessionModes lists every mode a project carries a canonical session for.
var sessionModes = []string{"shell", "auxiliary"}

// Batch provides multi-session lifecycle operations layered on Core.
type Batch struct {
	Store *store.Store
	Core  *Core
}

// NewBatch builds a Batch from a store and a Core sharing the same store.
func NewBatch(st *store.Store, core *Core) *Batch {
	return &Batch{Store: st, Core: core}
}

// Reset deletes and recreates a session, preserving its name, project,
// working directory, mode, and pane. Because Create may resurrect a
// different dead row for the same (project, mode), the returned id need
// not equal a freshly generated UUID. Returns (Session{}, ErrNotFound) if
// the original session does not exist.
func (b *Batch) Reset(ctx context.Context, id string) (store.Session, error) {
	orig, err := b.Store.GetSession(id)
	if err != nil {
		return store.Session{}, err
	}

	if err := b.Core.Delete(ctx, id); err != nil {
		return store.Session{}, fmt.Errorf("lifecycle: reset: delete: %w", err)
	}

	next, err := b.Core.Create(ctx, CreateParams{
		Name:       orig.Name,
		ProjectID:  orig.ProjectID,
		WorkingDir: orig.WorkingDir,
		Mode:       orig.Mode,
		PaneID:     orig.PaneID,
	})
	if err != nil {
		return store.Session{}, fmt.Errorf("lifecycle: reset: create: %w", err)
	}

	slog.Info("[lifecycle] session reset", "old_id", id, "new_id", next.ID, "mode", orig.Mode)
	return next, nil
}

// ResetProject deletes every live session for a project (including
// duplicates/orphans beyond the canonical pair) and recreates exactly one
// per mode in {shell, auxiliary}. workingDir, when non-nil, overrides each
// recreated session's working directory; otherwise the prior session's own
// working_dir for that mode is reused.
func (b *Batch) ResetProject(ctx context.Context, projectID string, workingDir *string) (store.ProjectSessions, error) {
	all, err := b.Store.GetAllProjectSessions(projectID)
	if err != nil {
		return store.ProjectSessions{}, fmt.Errorf("lifecycle: reset project: list: %w", err)
	}

	byMode := make(map[string]store.Session, 2)
	for _, sess := range all {
		if _, ok := byMode[sess.Mode]; !ok {
			byMode[sess.Mode] = sess
		}
	}

	for _, sess := range all {
		if err := b.Core.Delete(ctx, sess.ID); err != nil {
			return store.ProjectSessions{}, fmt.Errorf("lifecycle: reset project: delete %s: %w", sess.ID, err)
		}
	}
	if extra := len(all) - 2; extra > 0 {
		slog.Warn("[lifecycle] orphan sessions cleaned during project reset", "project_id", projectID, "deleted", len(all), "extra", extra)
	}

	var out store.ProjectSessions
	for _, mode := range sessionModes {
		prior, hadPrior := byMode[mode]
		dir := workingDir
		if dir == nil && hadPrior {
			dir = prior.WorkingDir
		}
		name := fmt.Sprintf("Project: %s (%s)", projectID, mode)
		if hadPrior && prior.Name != "" {
			name = prior.Name
		}

		var paneID *string
		if hadPrior {
			paneID = prior.PaneID
		}

		sess, err := b.Core.Create(ctx, CreateParams{
			Name:       name,
			ProjectID:  &projectID,
			WorkingDir: dir,
			Mode:       mode,
			PaneID:     paneID,
		})
		if err != nil {
			return store.ProjectSessions{}, fmt.Errorf("lifecycle: reset project: create %s: %w", mode, err)
		}

		switch mode {
		case "shell":
			s := sess
			out.Shell = &s
		case "auxiliary":
			s := sess
			out.Auxiliary = &s
		}
	}

	slog.Info("[lifecycle] project sessions reset", "project_id", projectID)
	return out, nil
}

// ResetAll resets every live session. Returns the number reset.
func (b *Batch) ResetAll(ctx context.Context) (int, error) {
	sessions, err := b.Store.ListSessions(false)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: reset all: list: %w", err)
	}

	count := 0
	for _, sess := range sessions {
		if _, err := b.Reset(ctx, sess.ID); err != nil {
			slog.Error("[lifecycle] reset all: individual reset failed, continuing", "id", sess.ID, "error", err)
			continue
		}
		count++
	}

	slog.Info("[lifecycle] all sessions reset", "count", count)
	return count, nil
}

// DisableProject deletes every live session for a project and upserts
// enabled=false on its settings row.
func (b *Batch) DisableProject(ctx context.Context, projectID string) error {
	all, err := b.Store.GetAllProjectSessions(projectID)
	if err != nil {
		return fmt.Errorf("lifecycle: disable project: list: %w", err)
	}
	for _, sess := range all {
		if err := b.Core.Delete(ctx, sess.ID); err != nil {
			return fmt.Errorf("lifecycle: disable project: delete %s: %w", sess.ID, err)
		}
	}

	enabled := false
	if _, err := b.Store.UpsertSettings(projectID, store.SettingsUpdate{Enabled: &enabled}); err != nil {
		return fmt.Errorf("lifecycle: disable project: upsert settings: %w", err)
	}

	slog.Info("[lifecycle] project terminal disabled", "project_id", projectID, "deleted_sessions", len(all))
	return nil
}
