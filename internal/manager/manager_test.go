package manager

import (
	"testing"
	"time"

	"vibetunnel/internal/apierr"
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

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return New(store, nil)
}

func TestCreateListAndKill(t *testing.T) {
	m := newTestManager(t)

	snap, err := m.Create(CreateSpec{Command: []string{"/bin/sleep", "30"}, WorkingDir: "/tmp"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if snap.Status != session.StatusRunning {
		t.Fatalf("expected running status, got %s", snap.Status)
	}

	list, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != snap.ID {
		t.Fatalf("expected one session %s in list, got %+v", snap.ID, list)
	}

	if err := m.Kill(snap.ID, "TERM"); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	waitForCondition(t, 2*time.Second, func() bool {
		info, err := m.store.ReadSession(snap.ID)
		return err == nil && info.Status == session.StatusExited
	})
}

func TestCreateRejectsEmptyCommand(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Create(CreateSpec{WorkingDir: "/tmp"}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestCreateRejectsRemoteRouted(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(CreateSpec{Command: []string{"/bin/true"}, WorkingDir: "/tmp", RemoteID: "r1"})
	if err == nil {
		t.Fatal("expected error for remote-routed create")
	}
}

func TestSubmitResizeAppliesToLiveSession(t *testing.T) {
	m := newTestManager(t)

	snap, err := m.Create(CreateSpec{Command: []string{"/bin/sleep", "30"}, WorkingDir: "/tmp", Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Kill(snap.ID, "KILL")

	if err := m.SubmitResize(snap.ID, 120, 40); err != nil {
		t.Fatalf("SubmitResize: %v", err)
	}

	waitForCondition(t, 2*time.Second, func() bool {
		info, err := m.store.ReadSession(snap.ID)
		return err == nil && info.Cols == 120 && info.Rows == 40
	})
}

func TestSubmitInputAndResizeFailFastAfterExit(t *testing.T) {
	m := newTestManager(t)

	snap, err := m.Create(CreateSpec{Command: []string{"/bin/true"}, WorkingDir: "/tmp"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	waitForCondition(t, 2*time.Second, func() bool {
		info, err := m.store.ReadSession(snap.ID)
		return err == nil && info.Status == session.StatusExited
	})

	done := make(chan error, 2)
	go func() { done <- m.SubmitInput(snap.ID, []byte("hi")) }()
	go func() { done <- m.SubmitResize(snap.ID, 10, 10) }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if apierr.KindOf(err) != apierr.KindSessionExited {
				t.Fatalf("expected KindSessionExited, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("SubmitInput/SubmitResize did not return promptly after exit")
		}
	}
}

func TestCleanupAllExited(t *testing.T) {
	m := newTestManager(t)

	snap, err := m.Create(CreateSpec{Command: []string{"/bin/true"}, WorkingDir: "/tmp"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	waitForCondition(t, 2*time.Second, func() bool {
		info, err := m.store.ReadSession(snap.ID)
		return err == nil && info.Status == session.StatusExited
	})

	removed, err := m.CleanupAllExited()
	if err != nil {
		t.Fatalf("CleanupAllExited: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
}
