// Package lifecycle owns single-session and batch session lifecycle
// operations: atomic create/delete against both the store and the mux,
// ensure-alive resurrection on reconnect, and project/global reset.
//
// The store row is the source of truth; the mux session is an
// implementation detail that can always be recreated from it.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/summitflow/summitflow-term/internal/metrics"
	"github.com/summitflow/summitflow-term/internal/muxdriver"
	"github.com/summitflow/summitflow-term/internal/store"
)

// MuxDriver is the subset of *muxdriver.Driver the lifecycle package needs.
// Defined as an interface so tests can substitute a fake mux.
type MuxDriver interface {
	Create(ctx context.Context, id string, workingDir string) error
	Exists(ctx context.Context, id string) bool
	Kill(ctx context.Context, id string, ignoreMissing bool) (bool, error)
}

var _ MuxDriver = (*muxdriver.Driver)(nil)

// Core provides atomic single-session operations with strict rollback
// rules: resurrection preserves the pre-existing row's identity, new
// creation must not leave a phantom id behind.
type Core struct {
	Store *store.Store
	Mux   MuxDriver
}

// NewCore builds a Core from a store and mux driver.
func NewCore(st *store.Store, mux MuxDriver) *Core {
	return &Core{Store: st, Mux: mux}
}

// CreateParams are the caller-supplied fields for Create.
type CreateParams struct {
	Name       string
	ProjectID  *string
	WorkingDir *string
	Mode       string
	PaneID     *string
}

// Create creates a new session atomically against the store and the mux.
//
// If ProjectID is set and a dead row already exists for (project_id, mode),
// that row is resurrected instead of inserting a new one, to avoid leaving
// a duplicate live row for the same project+mode. The two paths roll back
// differently on mux failure: resurrection marks the row dead again (it
// pre-existed and must not be deleted out from under a client that may
// still reference its id), new creation deletes the row it just inserted
// (nothing can reference a phantom id yet).
func (c *Core) Create(ctx context.Context, p CreateParams) (store.Session, error) {
	if p.ProjectID != nil {
		dead, err := c.Store.GetDeadSessionByProject(*p.ProjectID, p.Mode)
		if err == nil {
			return c.resurrect(ctx, dead, p)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return store.Session{}, fmt.Errorf("lifecycle: create: check dead session: %w", err)
		}
	}
	return c.createNew(ctx, p)
}

func (c *Core) resurrect(ctx context.Context, dead store.Session, p CreateParams) (store.Session, error) {
	slog.Info("[lifecycle] resurrecting dead session", "id", dead.ID, "project_id", deref(p.ProjectID), "mode", p.Mode)

	sess, err := c.Store.UpdateSession(dead.ID, store.SessionUpdate{
		Name:       &p.Name,
		WorkingDir: p.WorkingDir,
		IsAlive:    boolPtr(true),
	})
	if err != nil {
		return store.Session{}, fmt.Errorf("lifecycle: resurrect: update session: %w", err)
	}

	if err := c.Mux.Create(ctx, sess.ID, deref(p.WorkingDir)); err != nil {
		slog.Error("[lifecycle] mux create failed during resurrection, rolling back to dead", "id", sess.ID, "error", err)
		if markErr := c.Store.MarkDead(sess.ID); markErr != nil {
			slog.Error("[lifecycle] rollback mark_dead also failed", "id", sess.ID, "error", markErr)
		}
		return store.Session{}, fmt.Errorf("lifecycle: resurrect: mux create: %w", err)
	}

	metrics.Get().ResurrectionsTotal.Inc()
	slog.Info("[lifecycle] session resurrected", "id", sess.ID, "mode", p.Mode)
	return sess, nil
}

func (c *Core) createNew(ctx context.Context, p CreateParams) (store.Session, error) {
	sess, err := c.Store.CreateSession(store.NewSessionParams{
		Name:       p.Name,
		ProjectID:  p.ProjectID,
		WorkingDir: p.WorkingDir,
		Mode:       p.Mode,
		PaneID:     p.PaneID,
	})
	if err != nil {
		return store.Session{}, fmt.Errorf("lifecycle: create: insert session: %w", err)
	}

	if err := c.Mux.Create(ctx, sess.ID, deref(p.WorkingDir)); err != nil {
		slog.Error("[lifecycle] mux create failed for new session, rolling back delete", "id", sess.ID, "error", err)
		if delErr := c.Store.DeleteSession(sess.ID); delErr != nil {
			slog.Error("[lifecycle] rollback delete also failed", "id", sess.ID, "error", delErr)
		}
		return store.Session{}, fmt.Errorf("lifecycle: create: mux create: %w", err)
	}

	slog.Info("[lifecycle] session created", "id", sess.ID, "project_id", deref(p.ProjectID), "mode", p.Mode)
	return sess, nil
}

// Delete deletes a session idempotently: best-effort mux kill (a missing
// mux session is not an error), then store delete. Always returns nil —
// deleting something that is already gone is a success, not a failure.
func (c *Core) Delete(ctx context.Context, id string) error {
	if _, err := c.Mux.Kill(ctx, id, true); err != nil {
		slog.Warn("[lifecycle] mux kill failed during delete, continuing", "id", id, "error", err)
	}
	if err := c.Store.DeleteSession(id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("lifecycle: delete: %w", err)
	}
	return nil
}

// EnsureAlive is called on WebSocket connect. It reports whether the
// session is usable, resurrecting the mux session from the store row if
// the mux lost it.
func (c *Core) EnsureAlive(ctx context.Context, id string) bool {
	sess, err := c.Store.GetSession(id)
	if err != nil {
		slog.Warn("[lifecycle] ensure_alive: no row", "id", id)
		return false
	}

	if c.Mux.Exists(ctx, id) {
		if !sess.IsAlive {
			if _, err := c.Store.UpdateSession(id, store.SessionUpdate{IsAlive: boolPtr(true)}); err != nil {
				slog.Error("[lifecycle] ensure_alive: mark alive failed", "id", id, "error", err)
			}
		}
		return true
	}

	slog.Info("[lifecycle] ensure_alive: mux missing, attempting resurrection", "id", id)
	if err := c.Mux.Create(ctx, id, deref(sess.WorkingDir)); err != nil {
		slog.Error("[lifecycle] ensure_alive: mux create failed, marking dead", "id", id, "error", err)
		if markErr := c.Store.MarkDead(id); markErr != nil {
			slog.Error("[lifecycle] ensure_alive: mark_dead also failed", "id", id, "error", markErr)
		}
		return false
	}

	if _, err := c.Store.UpdateSession(id, store.SessionUpdate{IsAlive: boolPtr(true)}); err != nil {
		slog.Error("[lifecycle] ensure_alive: mark alive after resurrection failed", "id", id, "error", err)
	}
	metrics.Get().ResurrectionsTotal.Inc()
	return true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func boolPtr(b bool) *bool { return &b }
