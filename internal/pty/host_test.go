package pty

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vibetunnel/internal/castfile"
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

func TestSpawnEchoExitsAndWritesCast(t *testing.T) {
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	id := session.GenerateID()
	if err := store.CreateSessionDir(session.Info{
		ID:        id,
		Command:   []string{"/bin/echo", "hello"},
		Status:    session.StatusStarting,
		StartedAt: time.Now(),
		Term:      "xterm-256color",
		Cols:      80,
		Rows:      24,
	}); err != nil {
		t.Fatalf("CreateSessionDir: %v", err)
	}

	var exitCode int
	var exited bool
	host, err := Spawn(store, Config{
		SessionID: id,
		Command:   []string{"/bin/echo", "hello"},
		Cols:      80,
		Rows:      24,
		Term:      "xterm-256color",
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	host.OnExit(func(code int) {
		exitCode = code
		exited = true
	})

	waitForCondition(t, 2*time.Second, func() bool { return exited })
	if exitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", exitCode)
	}

	_, records, err := castfile.ReadAll(filepath.Join(store.Dir(id), "stream-out"))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) == 0 || !records[len(records)-1].IsExit() {
		t.Fatalf("expected a final exit record, got %+v", records)
	}

	var sawHello bool
	for _, r := range records {
		if r.Kind == "o" && strings.Contains(r.Output, "hello") {
			sawHello = true
		}
	}
	if !sawHello {
		t.Fatalf("expected output to contain hello, records: %+v", records)
	}
}
