package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/summitflow/summitflow-term/internal/auxiliary"
	"github.com/summitflow/summitflow-term/internal/hook"
	"github.com/summitflow/summitflow-term/internal/lifecycle"
	"github.com/summitflow/summitflow-term/internal/panes"
	"github.com/summitflow/summitflow-term/internal/store"
)

// fakeMux is a no-op mux driver: tests exercise the REST/store contract,
// not tmux itself.
type fakeMux struct {
	running bool
}

func (f *fakeMux) Create(ctx context.Context, id string, workingDir string) error { return nil }
func (f *fakeMux) Exists(ctx context.Context, id string) bool                     { return true }
func (f *fakeMux) Kill(ctx context.Context, id string, ignoreMissing bool) (bool, error) {
	return true, nil
}
func (f *fakeMux) IsAuxiliaryRunning(ctx context.Context, name string) bool { return f.running }

func newTestRouter(t *testing.T) (http.Handler, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mux := &fakeMux{}
	core := lifecycle.NewCore(st, mux)
	batch := lifecycle.NewBatch(st, core)
	paneMgr := panes.New(st)
	auxMgr := auxiliary.New(st, mux)

	r := NewRouter(Deps{
		Store:     st,
		Core:      core,
		Batch:     batch,
		Panes:     paneMgr,
		Auxiliary: auxMgr,
		Hook:      hook.New(st),
	})
	return r, st
}

func doRequest(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doRequest(t, r, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
}

func TestCreateAndListPanes(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doRequest(t, r, http.MethodPost, "/api/panes", createPaneRequest{
		PaneType: "adhoc",
		PaneName: "scratch",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create pane: got %d body=%s", rec.Code, rec.Body.String())
	}
	var created store.PaneWithSessions
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(created.Sessions) != 1 {
		t.Fatalf("adhoc pane should own exactly one shell session, got %d", len(created.Sessions))
	}

	rec = doRequest(t, r, http.MethodGet, "/api/panes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list panes: got %d", rec.Code)
	}
	var list []store.PaneWithSessions
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d panes, want 1", len(list))
	}
}

func TestCreatePaneRejectsProjectIDOnAdhoc(t *testing.T) {
	r, _ := newTestRouter(t)
	projectID := "proj-1"

	rec := doRequest(t, r, http.MethodPost, "/api/panes", createPaneRequest{
		PaneType:  "adhoc",
		PaneName:  "scratch",
		ProjectID: &projectID,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestDeleteSessionNotFound(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doRequest(t, r, http.MethodDelete, "/api/sessions/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rec.Code)
	}
}

func TestProjectSettingsUpsertAndFetch(t *testing.T) {
	r, _ := newTestRouter(t)

	enabled := true
	rec := doRequest(t, r, http.MethodPut, "/api/projects/proj-9/settings", upsertSettingsRequest{
		Enabled: &enabled,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert: got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, r, http.MethodGet, "/api/projects/proj-9/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: got %d", rec.Code)
	}
	var settings store.ProjectSettings
	if err := json.Unmarshal(rec.Body.Bytes(), &settings); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !settings.Enabled {
		t.Fatalf("expected enabled=true")
	}
}

func TestAuxiliaryStartAndState(t *testing.T) {
	r, st := newTestRouter(t)

	sess, err := st.CreateSession(store.NewSessionParams{Name: "aux", Mode: "auxiliary"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	rec := doRequest(t, r, http.MethodPost, "/api/auxiliary/"+sess.ID+"/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: got %d body=%s", rec.Code, rec.Body.String())
	}
	var startResp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &startResp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if started, _ := startResp["started"].(bool); !started {
		t.Fatalf("expected started=true on first call, got %+v", startResp)
	}

	rec = doRequest(t, r, http.MethodGet, "/api/auxiliary/"+sess.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state: got %d", rec.Code)
	}
}

func TestNoFileUploadEndpointMounted(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doRequest(t, r, http.MethodPost, "/api/upload", nil)
	if rec.Code == http.StatusOK || rec.Code == http.StatusCreated {
		t.Fatalf("file upload is a non-goal and must not be served, got %d", rec.Code)
	}
}
