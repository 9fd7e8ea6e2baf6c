package store

import "testing"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateSessionComputesSessionNumber(t *testing.T) {
	s := newTestStore(t)
	project := "proj-1"

	first, err := s.CreateSession(NewSessionParams{Name: "shell", ProjectID: &project, Mode: "shell"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if first.SessionNumber != 1 {
		t.Fatalf("first session_number = %d, want 1", first.SessionNumber)
	}

	second, err := s.CreateSession(NewSessionParams{Name: "shell-2", ProjectID: &project, Mode: "shell"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if second.SessionNumber != 2 {
		t.Fatalf("second session_number = %d, want 2", second.SessionNumber)
	}

	aux, err := s.CreateSession(NewSessionParams{Name: "aux", ProjectID: &project, Mode: "auxiliary"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if aux.SessionNumber != 1 {
		t.Fatalf("auxiliary session_number = %d, want 1 (scoped per mode)", aux.SessionNumber)
	}

	none, err := s.CreateSession(NewSessionParams{Name: "adhoc", Mode: "shell"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if none.SessionNumber != 1 {
		t.Fatalf("no-project session_number = %d, want 1", none.SessionNumber)
	}
}

func TestUpdateSessionLeavesUnsetFieldsAlone(t *testing.T) {
	s := newTestStore(t)
	sess, err := s.CreateSession(NewSessionParams{Name: "orig", Mode: "shell"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	newName := "renamed"
	updated, err := s.UpdateSession(sess.ID, SessionUpdate{Name: &newName})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if updated.Name != "renamed" {
		t.Fatalf("Name = %q, want renamed", updated.Name)
	}
	if !updated.IsAlive {
		t.Fatalf("IsAlive changed unexpectedly")
	}
}

func TestMarkDeadAndPurgeDead(t *testing.T) {
	s := newTestStore(t)
	sess, err := s.CreateSession(NewSessionParams{Name: "dying", Mode: "shell"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.MarkDead(sess.ID); err != nil {
		t.Fatalf("MarkDead: %v", err)
	}

	got, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.IsAlive {
		t.Fatalf("IsAlive = true, want false after MarkDead")
	}

	// Not old enough yet: purge(7) should not remove it.
	n, err := s.PurgeDead(7)
	if err != nil {
		t.Fatalf("PurgeDead: %v", err)
	}
	if n != 0 {
		t.Fatalf("PurgeDead(7) removed %d rows, want 0 (not old enough)", n)
	}

	// purge(-1) treats "older than -1 days from now" as "everything dead".
	n, err = s.PurgeDead(-1)
	if err != nil {
		t.Fatalf("PurgeDead: %v", err)
	}
	if n != 1 {
		t.Fatalf("PurgeDead(-1) removed %d rows, want 1", n)
	}
}

func TestUpdateAuxiliaryStateConditional(t *testing.T) {
	s := newTestStore(t)
	sess, err := s.CreateSession(NewSessionParams{Name: "aux-host", Mode: "auxiliary"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.AuxiliaryState != "not_started" {
		t.Fatalf("initial auxiliary_state = %q, want not_started", sess.AuxiliaryState)
	}

	ok, err := s.UpdateAuxiliaryState(sess.ID, "starting", "not_started")
	if err != nil {
		t.Fatalf("UpdateAuxiliaryState: %v", err)
	}
	if !ok {
		t.Fatalf("expected conditional update to succeed")
	}

	// A second racer expecting the old state now loses.
	ok, err = s.UpdateAuxiliaryState(sess.ID, "starting", "not_started")
	if err != nil {
		t.Fatalf("UpdateAuxiliaryState: %v", err)
	}
	if ok {
		t.Fatalf("expected second conditional update (stale expected state) to fail")
	}

	state, err := s.GetAuxiliaryState(sess.ID)
	if err != nil {
		t.Fatalf("GetAuxiliaryState: %v", err)
	}
	if state != "starting" {
		t.Fatalf("auxiliary_state = %q, want starting", state)
	}
}

func TestCreatePaneWithSessionsProject(t *testing.T) {
	s := newTestStore(t)
	project := "proj-pane"

	pane, err := s.CreatePaneWithSessions(NewPaneParams{
		PaneType:  "project",
		PaneName:  "Proj",
		ProjectID: &project,
	})
	if err != nil {
		t.Fatalf("CreatePaneWithSessions: %v", err)
	}
	if len(pane.Sessions) != 2 {
		t.Fatalf("project pane has %d sessions, want 2", len(pane.Sessions))
	}

	modes := map[string]bool{}
	for _, sess := range pane.Sessions {
		modes[sess.Mode] = true
		if sess.PaneID == nil || *sess.PaneID != pane.ID {
			t.Fatalf("session %s not linked to pane", sess.ID)
		}
	}
	if !modes["shell"] || !modes["auxiliary"] {
		t.Fatalf("expected shell and auxiliary sessions, got %v", modes)
	}
}

func TestCreatePaneWithSessionsAdhoc(t *testing.T) {
	s := newTestStore(t)
	pane, err := s.CreatePaneWithSessions(NewPaneParams{PaneType: "adhoc", PaneName: "Adhoc"})
	if err != nil {
		t.Fatalf("CreatePaneWithSessions: %v", err)
	}
	if len(pane.Sessions) != 1 {
		t.Fatalf("adhoc pane has %d sessions, want 1", len(pane.Sessions))
	}
	if pane.Sessions[0].Mode != "shell" {
		t.Fatalf("adhoc session mode = %q, want shell", pane.Sessions[0].Mode)
	}
}

func TestDeletePaneCascadesSessions(t *testing.T) {
	s := newTestStore(t)
	pane, err := s.CreatePaneWithSessions(NewPaneParams{PaneType: "adhoc", PaneName: "Adhoc"})
	if err != nil {
		t.Fatalf("CreatePaneWithSessions: %v", err)
	}
	sessID := pane.Sessions[0].ID

	if err := s.DeletePane(pane.ID); err != nil {
		t.Fatalf("DeletePane: %v", err)
	}
	if _, err := s.GetSession(sessID); err != ErrNotFound {
		t.Fatalf("GetSession after cascade = %v, want ErrNotFound", err)
	}
}

func TestSwapPanePositions(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreatePaneWithSessions(NewPaneParams{PaneType: "adhoc", PaneName: "A"})
	if err != nil {
		t.Fatalf("CreatePaneWithSessions: %v", err)
	}
	b, err := s.CreatePaneWithSessions(NewPaneParams{PaneType: "adhoc", PaneName: "B"})
	if err != nil {
		t.Fatalf("CreatePaneWithSessions: %v", err)
	}

	if err := s.SwapPanePositions(a.ID, b.ID); err != nil {
		t.Fatalf("SwapPanePositions: %v", err)
	}

	gotA, err := s.GetPane(a.ID)
	if err != nil {
		t.Fatalf("GetPane: %v", err)
	}
	gotB, err := s.GetPane(b.ID)
	if err != nil {
		t.Fatalf("GetPane: %v", err)
	}
	if gotA.PaneOrder != b.PaneOrder || gotB.PaneOrder != a.PaneOrder {
		t.Fatalf("orders not swapped: a=%d b=%d", gotA.PaneOrder, gotB.PaneOrder)
	}
}

func TestUpsertSettingsIdempotent(t *testing.T) {
	s := newTestStore(t)
	enabled := true
	mode := "auxiliary"

	ps, err := s.UpsertSettings("proj-x", SettingsUpdate{Enabled: &enabled, ActiveMode: &mode})
	if err != nil {
		t.Fatalf("UpsertSettings: %v", err)
	}
	if !ps.Enabled || ps.ActiveMode != "auxiliary" {
		t.Fatalf("unexpected settings after insert: %+v", ps)
	}

	order := 3
	ps2, err := s.UpsertSettings("proj-x", SettingsUpdate{DisplayOrder: &order})
	if err != nil {
		t.Fatalf("UpsertSettings (update): %v", err)
	}
	if ps2.DisplayOrder != 3 {
		t.Fatalf("DisplayOrder = %d, want 3", ps2.DisplayOrder)
	}
}

func TestGetProjectSessionsMostRecentWins(t *testing.T) {
	s := newTestStore(t)
	project := "proj-dup"

	if _, err := s.CreateSession(NewSessionParams{Name: "shell-1", ProjectID: &project, Mode: "shell"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	newest, err := s.CreateSession(NewSessionParams{Name: "shell-2", ProjectID: &project, Mode: "shell"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	ps, err := s.GetProjectSessions(project)
	if err != nil {
		t.Fatalf("GetProjectSessions: %v", err)
	}
	if ps.Shell == nil || ps.Shell.ID != newest.ID {
		t.Fatalf("GetProjectSessions did not return most recent shell session")
	}

	all, err := s.GetAllProjectSessions(project)
	if err != nil {
		t.Fatalf("GetAllProjectSessions: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("GetAllProjectSessions returned %d rows, want 2", len(all))
	}
}
