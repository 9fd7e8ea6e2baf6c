package lifecycle

import (
	"context"
	"testing"

	"github.com/summitflow/summitflow-term/internal/store"
)

// fakeMux is an in-memory stand-in for muxdriver.Driver, letting tests
// force create failures to exercise rollback paths.
type fakeMux struct {
	existing   map[string]bool
	failCreate map[string]bool
}

func newFakeMux() *fakeMux {
	return &fakeMux{existing: map[string]bool{}, failCreate: map[string]bool{}}
}

func (f *fakeMux) Create(ctx context.Context, id string, workingDir string) error {
	if f.failCreate[id] {
		return errMuxCreateFailed
	}
	f.existing[id] = true
	return nil
}

func (f *fakeMux) Exists(ctx context.Context, id string) bool {
	return f.existing[id]
}

func (f *fakeMux) Kill(ctx context.Context, id string, ignoreMissing bool) (bool, error) {
	if !f.existing[id] {
		return false, nil
	}
	delete(f.existing, id)
	return true, nil
}

type muxCreateError struct{}

func (muxCreateError) Error() string { return "fake mux create failed" }

var errMuxCreateFailed = muxCreateError{}

func newTestCore(t *testing.T) (*Core, *store.Store, *fakeMux) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	mux := newFakeMux()
	return NewCore(st, mux), st, mux
}

func TestCreateNewSessionHappyPath(t *testing.T) {
	core, st, mux := newTestCore(t)
	ctx := context.Background()

	sess, err := core.Create(ctx, CreateParams{Name: "shell-1", Mode: "shell"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !mux.Exists(ctx, sess.ID) {
		t.Fatalf("expected mux session to exist after create")
	}

	got, err := st.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !got.IsAlive {
		t.Fatalf("expected new session to be alive")
	}
}

func TestCreateNewSessionRollsBackDeleteOnFailure(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	mux := &alwaysFailMux{}
	core := NewCore(st, mux)

	_, err = core.Create(context.Background(), CreateParams{Name: "doomed", Mode: "shell"})
	if err == nil {
		t.Fatalf("expected Create to fail")
	}

	sessions, err := st.ListSessions(true)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected rolled-back row to be deleted, found %d rows", len(sessions))
	}
}

func TestCreateResurrectsDeadSessionAndMarksDeadOnFailure(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	project := "proj-1"
	mux := newFakeMux()
	core := NewCore(st, mux)
	ctx := context.Background()

	sess, err := core.Create(ctx, CreateParams{Name: "orig", ProjectID: &project, Mode: "shell"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := st.MarkDead(sess.ID); err != nil {
		t.Fatalf("MarkDead: %v", err)
	}
	delete(mux.existing, sess.ID)

	// Resurrection succeeds: same id, now alive again.
	resurrected, err := core.Create(ctx, CreateParams{Name: "orig-renamed", ProjectID: &project, Mode: "shell"})
	if err != nil {
		t.Fatalf("Create (resurrect): %v", err)
	}
	if resurrected.ID != sess.ID {
		t.Fatalf("expected resurrection to reuse id %s, got %s", sess.ID, resurrected.ID)
	}
	if !resurrected.IsAlive {
		t.Fatalf("expected resurrected session to be alive")
	}

	// Now force resurrection's mux create to fail and confirm mark_dead
	// (not delete) is the rollback.
	if err := st.MarkDead(sess.ID); err != nil {
		t.Fatalf("MarkDead: %v", err)
	}
	delete(mux.existing, sess.ID)
	mux.failCreate[sess.ID] = true

	if _, err := core.Create(ctx, CreateParams{Name: "orig-again", ProjectID: &project, Mode: "shell"}); err == nil {
		t.Fatalf("expected resurrection create to fail")
	}

	got, err := st.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("expected row to still exist after failed resurrection, got err: %v", err)
	}
	if got.IsAlive {
		t.Fatalf("expected row to be marked dead again after failed resurrection")
	}
}

func TestEnsureAliveResurrectsMissingMuxSession(t *testing.T) {
	core, st, mux := newTestCore(t)
	ctx := context.Background()

	sess, err := core.Create(ctx, CreateParams{Name: "s", Mode: "shell"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	delete(mux.existing, sess.ID) // simulate mux losing the session without the row knowing

	if !core.EnsureAlive(ctx, sess.ID) {
		t.Fatalf("expected EnsureAlive to resurrect and return true")
	}
	if !mux.Exists(ctx, sess.ID) {
		t.Fatalf("expected mux session to be recreated")
	}
	got, err := st.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !got.IsAlive {
		t.Fatalf("expected row to be alive after EnsureAlive")
	}
}

func TestEnsureAliveReturnsFalseForUnknownSession(t *testing.T) {
	core, _, _ := newTestCore(t)
	if core.EnsureAlive(context.Background(), "no-such-id") {
		t.Fatalf("expected EnsureAlive to return false for unknown id")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	core, _, _ := newTestCore(t)
	ctx := context.Background()

	sess, err := core.Create(ctx, CreateParams{Name: "s", Mode: "shell"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := core.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := core.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("second Delete (idempotent) returned error: %v", err)
	}
}

// alwaysFailMux fails every Create call, used to exercise the new-creation
// rollback path distinctly from resurrection's.
type alwaysFailMux struct{}

func (alwaysFailMux) Create(ctx context.Context, id string, workingDir string) error {
	return errMuxCreateFailed
}
func (alwaysFailMux) Exists(ctx context.Context, id string) bool                      { return false }
func (alwaysFailMux) Kill(ctx context.Context, id string, ignoreMissing bool) (bool, error) {
	return false, nil
}
