package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"vibetunnel/internal/session"
)

func TestListRemoteSessionsMergesAndTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]session.Snapshot{
			{ID: "sess-1", Status: session.StatusRunning},
		})
	}))
	defer srv.Close()

	r := NewRegistry()
	r.Register("remote-1", "Remote One", srv.URL, "tok")

	p := NewProxy(r)
	sessions := p.ListRemoteSessions(context.Background())
	if len(sessions) != 1 {
		t.Fatalf("expected 1 merged session, got %d", len(sessions))
	}
	if sessions[0].Source != session.SourceRemote || sessions[0].RemoteID != "remote-1" {
		t.Fatalf("expected session tagged with remote source, got %+v", sessions[0])
	}

	owner, ok := r.OwnerOf("sess-1")
	if !ok || owner != "remote-1" {
		t.Fatalf("expected OwnedSessionIDs to be updated after fan-out, got %q", owner)
	}
}

func TestListRemoteSessionsToleratesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRegistry()
	r.Register("remote-1", "Remote One", srv.URL, "tok")

	p := NewProxy(r)
	sessions := p.ListRemoteSessions(context.Background())
	if len(sessions) != 0 {
		t.Fatalf("expected empty result for a failing remote, got %d", len(sessions))
	}
}
