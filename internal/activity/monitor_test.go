package activity

import (
	"os"
	"testing"
	"time"

	"vibetunnel/internal/session"
)

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

func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestTickMarksActiveOnGrowth(t *testing.T) {
	store := newTestStore(t)
	id := session.GenerateID()
	info := session.Info{
		ID: id, Command: []string{"bash"}, WorkingDir: "/tmp",
		Status: session.StatusRunning, StartedAt: time.Now(), Cols: 80, Rows: 24,
	}
	if err := store.CreateSessionDir(info); err != nil {
		t.Fatalf("CreateSessionDir: %v", err)
	}

	m := New(store)
	m.tick() // establish baseline size

	f, err := os.OpenFile(store.StreamOutPath(id), os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		t.Fatalf("open stream-out: %v", err)
	}
	if _, err := f.WriteString("some output\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	m.tick()

	status, err := store.ReadActivity(id)
	if err != nil {
		t.Fatalf("ReadActivity: %v", err)
	}
	if !status.IsActive {
		t.Fatal("expected isActive=true after file growth")
	}
}

func TestTickMarksInactiveAfterQuiesce(t *testing.T) {
	store := newTestStore(t)
	id := session.GenerateID()
	info := session.Info{
		ID: id, Command: []string{"bash"}, WorkingDir: "/tmp",
		Status: session.StatusRunning, StartedAt: time.Now(), Cols: 80, Rows: 24,
	}
	if err := store.CreateSessionDir(info); err != nil {
		t.Fatalf("CreateSessionDir: %v", err)
	}

	m := New(store)
	m.mu.Lock()
	m.states[id] = &trackedState{lastSize: 0, lastGrowth: time.Now().Add(-time.Second), isActive: true}
	m.mu.Unlock()

	m.tick()

	status, err := store.ReadActivity(id)
	if err != nil {
		t.Fatalf("ReadActivity: %v", err)
	}
	if status.IsActive {
		t.Fatal("expected isActive=false once quiesce window elapsed")
	}
}

func TestStartStop(t *testing.T) {
	store := newTestStore(t)
	m := New(store)
	m.Start()
	waitForCondition(t, time.Second, func() bool { return true })
	m.Stop()
}
