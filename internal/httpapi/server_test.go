package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vibetunnel/internal/auth"
	"vibetunnel/internal/buffer"
	"vibetunnel/internal/manager"
	"vibetunnel/internal/session"
	"vibetunnel/internal/sessionlog"
	"vibetunnel/internal/stream"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	agg := buffer.New()
	return New(Config{
		Bind:    "127.0.0.1",
		Port:    0,
		Authn:   auth.New(auth.Config{NoAuth: true}),
		Manager: manager.New(store, agg),
		Watcher: stream.New(),
		Agg:     agg,
	})
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %v", timeout)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if ok, _ := body["ok"].(bool); !ok {
		t.Fatalf("expected ok=true, got %+v", body)
	}
}

func TestHealthEndpointReportsRecentErrors(t *testing.T) {
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	agg := buffer.New()
	ring := sessionlog.NewRing(10)
	logger := slog.New(sessionlog.NewTeeHandler(slog.NewTextHandler(io.Discard, nil), slog.LevelWarn, ring.Callback()))
	logger.Warn("disk usage above threshold", "session", "sess-1")

	s := New(Config{
		Bind:    "127.0.0.1",
		Port:    0,
		Authn:   auth.New(auth.Config{NoAuth: true}),
		Manager: manager.New(store, agg),
		Watcher: stream.New(),
		Agg:     agg,
		Logs:    ring,
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		RecentErrors []sessionlog.Entry `json:"recentErrors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.RecentErrors) != 1 || body.RecentErrors[0].Message != "disk usage above threshold" {
		t.Fatalf("expected 1 recent error entry, got %+v", body.RecentErrors)
	}
}

func TestCreateListAndKillSessionOverHTTP(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	createBody := `{"command":["/bin/sleep","30"],"workingDir":"/tmp"}`
	resp, err := http.Post(srv.URL+"/api/sessions", "application/json", strings.NewReader(createBody))
	if err != nil {
		t.Fatalf("POST /api/sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var created map[string]string
	json.NewDecoder(resp.Body).Decode(&created)
	id := created["sessionId"]
	if id == "" {
		t.Fatal("expected a sessionId in response")
	}

	listResp, err := http.Get(srv.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("GET /api/sessions: %v", err)
	}
	defer listResp.Body.Close()
	var sessions []session.Snapshot
	json.NewDecoder(listResp.Body).Decode(&sessions)
	if len(sessions) != 1 || sessions[0].ID != id {
		t.Fatalf("expected session %s in list, got %+v", id, sessions)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/sessions/"+id, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /api/sessions/%s: %v", id, err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", delResp.StatusCode)
	}

	waitForCondition(t, 2*time.Second, func() bool {
		snap, err := s.mgr.List()
		if err != nil || len(snap) != 1 {
			return false
		}
		return snap[0].Status == session.StatusExited
	})
}
