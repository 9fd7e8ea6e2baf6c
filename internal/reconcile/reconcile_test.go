package reconcile

import (
	"context"
	"testing"

	"github.com/summitflow/summitflow-term/internal/store"
)

type fakeMux struct {
	sessions map[string]struct{}
	killed   []string
}

func newFakeMux(ids ...string) *fakeMux {
	m := &fakeMux{sessions: map[string]struct{}{}}
	for _, id := range ids {
		m.sessions[id] = struct{}{}
	}
	return m
}

func (f *fakeMux) ListPrefixed(ctx context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(f.sessions))
	for id := range f.sessions {
		out[id] = struct{}{}
	}
	return out, nil
}

func (f *fakeMux) Kill(ctx context.Context, id string, ignoreMissing bool) (bool, error) {
	if _, ok := f.sessions[id]; !ok {
		return false, nil
	}
	delete(f.sessions, id)
	f.killed = append(f.killed, id)
	return true, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunMarksDeadWhenMuxMissing(t *testing.T) {
	st := newTestStore(t)
	sess, err := st.CreateSession(store.NewSessionParams{Name: "s", Mode: "shell"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	mux := newFakeMux() // mux has nothing
	r := New(st, mux, 7)

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.MarkedDead != 1 {
		t.Fatalf("MarkedDead = %d, want 1", stats.MarkedDead)
	}

	got, err := st.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.IsAlive {
		t.Fatalf("expected session to be marked dead")
	}
}

func TestRunMarksAliveWhenMuxHasIt(t *testing.T) {
	st := newTestStore(t)
	sess, err := st.CreateSession(store.NewSessionParams{Name: "s", Mode: "shell"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := st.MarkDead(sess.ID); err != nil {
		t.Fatalf("MarkDead: %v", err)
	}

	mux := newFakeMux(sess.ID) // ListPrefixed already returns ids with the mux prefix stripped
	r := New(st, mux, 7)
	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.MarkedAlive != 1 {
		t.Fatalf("MarkedAlive = %d, want 1", stats.MarkedAlive)
	}

	got, err := st.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !got.IsAlive {
		t.Fatalf("expected session to be marked alive")
	}
}

func TestRunPurgesBeforeKillingOrphans(t *testing.T) {
	st := newTestStore(t)
	sess, err := st.CreateSession(store.NewSessionParams{Name: "s", Mode: "shell"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := st.MarkDead(sess.ID); err != nil {
		t.Fatalf("MarkDead: %v", err)
	}

	// The mux still has a session for this now-dead, about-to-be-purged row.
	// Because purge runs before orphan detection, it must be killed as an
	// orphan once the row is gone.
	mux := newFakeMux(sess.ID)
	// Built directly: New would replace -1 with its 7-day default.
	r := &Reconciler{Store: st, Mux: mux, PurgeAfterDays: -1} // purge everything dead regardless of age

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Purged != 1 {
		t.Fatalf("Purged = %d, want 1", stats.Purged)
	}
	if stats.OrphansKilled != 1 {
		t.Fatalf("OrphansKilled = %d, want 1", stats.OrphansKilled)
	}
	if len(mux.sessions) != 0 {
		t.Fatalf("expected orphan mux session to be killed")
	}
}

func TestRunKillsOrphanWithNoRowAtAll(t *testing.T) {
	st := newTestStore(t)
	mux := newFakeMux("ghost-id")
	r := New(st, mux, 7)

	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.OrphansKilled != 1 {
		t.Fatalf("OrphansKilled = %d, want 1", stats.OrphansKilled)
	}
}
