package session

import (
	"os"
	"testing"
	"time"

	"vibetunnel/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestCreateSessionDirAtomicLayout(t *testing.T) {
	store := newTestStore(t)
	info := Info{
		ID:         GenerateID(),
		Command:    []string{"/bin/echo", "hi"},
		WorkingDir: "/tmp",
		Status:     StatusStarting,
		StartedAt:  time.Now(),
		Term:       "xterm-256color",
		Cols:       80,
		Rows:       24,
	}
	if err := store.CreateSessionDir(info); err != nil {
		t.Fatalf("CreateSessionDir: %v", err)
	}

	got, err := store.ReadSession(info.ID)
	if err != nil {
		t.Fatalf("ReadSession: %v", err)
	}
	if got.ID != info.ID || got.Status != StatusStarting {
		t.Fatalf("unexpected session: %+v", got)
	}

	if err := store.CreateSessionDir(info); err == nil {
		t.Fatal("expected AlreadyExists on duplicate create")
	}
}

func TestUpdateSessionMonotonicStatus(t *testing.T) {
	store := newTestStore(t)
	id := GenerateID()
	info := Info{ID: id, Status: StatusStarting, StartedAt: time.Now(), Command: []string{"sh"}}
	if err := store.CreateSessionDir(info); err != nil {
		t.Fatalf("CreateSessionDir: %v", err)
	}

	if err := store.UpdateSession(id, func(i *Info) error {
		i.Status = StatusRunning
		i.PID = 1234
		return nil
	}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	got, err := store.ReadSession(id)
	if err != nil {
		t.Fatalf("ReadSession: %v", err)
	}
	if got.Status != StatusRunning || got.PID != 1234 {
		t.Fatalf("update did not persist: %+v", got)
	}
}

func TestListSessionsSkipsCorrupt(t *testing.T) {
	store := newTestStore(t)
	id := GenerateID()
	if err := store.CreateSessionDir(Info{ID: id, Status: StatusStarting, StartedAt: time.Now(), Command: []string{"sh"}}); err != nil {
		t.Fatalf("CreateSessionDir: %v", err)
	}

	// A directory with no session.json at all must be skipped, not fatal.
	if err := os.Mkdir(store.Dir("corrupt-session"), 0o700); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	infos, err := store.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != id {
		t.Fatalf("expected exactly the one valid session, got %+v", infos)
	}
}

func TestDeleteSessionRefusesRunning(t *testing.T) {
	store := newTestStore(t)
	id := GenerateID()
	if err := store.CreateSessionDir(Info{ID: id, Status: StatusRunning, StartedAt: time.Now(), Command: []string{"sh"}}); err != nil {
		t.Fatalf("CreateSessionDir: %v", err)
	}
	if err := store.DeleteSession(id); err == nil {
		t.Fatal("expected delete to be refused while running")
	}
	if err := store.UpdateSession(id, func(i *Info) error {
		i.Status = StatusExited
		i.ExitCode = testutil.Ptr(0)
		return nil
	}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if err := store.DeleteSession(id); err != nil {
		t.Fatalf("DeleteSession after exit: %v", err)
	}
}
