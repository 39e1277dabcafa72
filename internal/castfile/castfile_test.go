package castfile

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream-out")
	start := time.Now()
	w, err := Create(path, 80, 24, map[string]string{"TERM": "xterm-256color"}, start)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.WriteOutput([]byte("hello\n")); err != nil {
		t.Fatalf("WriteOutput: %v", err)
	}
	if err := w.WriteResize(100, 30); err != nil {
		t.Fatalf("WriteResize: %v", err)
	}
	if err := w.WriteInput([]byte("ls\n")); err != nil {
		t.Fatalf("WriteInput: %v", err)
	}
	if err := w.WriteExit(0, "sess-1"); err != nil {
		t.Fatalf("WriteExit: %v", err)
	}

	if err := w.WriteOutput([]byte("too late")); err == nil {
		t.Fatal("expected write after exit to fail")
	}

	header, records, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if header.Width != 80 || header.Height != 24 {
		t.Fatalf("unexpected header: %+v", header)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d: %+v", len(records), records)
	}
	if records[0].Kind != "o" || records[0].Output != "hello\n" {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[1].Kind != "r" || records[1].Resize != "100x30" {
		t.Fatalf("unexpected resize record: %+v", records[1])
	}
	if records[2].Kind != "i" || records[2].Output != "ls\n" {
		t.Fatalf("unexpected input record: %+v", records[2])
	}
	if !records[3].IsExit() || records[3].ExitCode != 0 || records[3].ExitSessionID != "sess-1" {
		t.Fatalf("unexpected exit record: %+v", records[3])
	}
	for i := 1; i < len(records)-1; i++ {
		if records[i].Time < records[i-1].Time {
			t.Fatalf("timestamps not monotone: %v before %v", records[i-1].Time, records[i].Time)
		}
	}
}

// TestConcurrentWritesStayMonotone exercises the output and input pumps
// writing from separate goroutines, as internal/pty does: the recorded
// timestamp must reflect write order, not the order each goroutine
// happened to read the clock before acquiring the writer lock.
func TestConcurrentWritesStayMonotone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream-out")
	w, err := Create(path, 80, 24, nil, time.Now())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if err := w.WriteOutput([]byte("o")); err != nil {
				t.Errorf("WriteOutput: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if err := w.WriteInput([]byte("i")); err != nil {
				t.Errorf("WriteInput: %v", err)
				return
			}
		}
	}()
	wg.Wait()
	if err := w.WriteExit(0, "sess-concurrent"); err != nil {
		t.Fatalf("WriteExit: %v", err)
	}

	_, records, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	// The exit record carries no timestamp, so only the timestamped
	// records before it are compared.
	last := len(records) - 1
	if last < 0 || !records[last].IsExit() {
		t.Fatalf("last record is not the exit record")
	}
	for i := 1; i < last; i++ {
		if records[i].Time < records[i-1].Time {
			t.Fatalf("timestamps not monotone at record %d: %v before %v", i, records[i-1].Time, records[i].Time)
		}
	}
}
