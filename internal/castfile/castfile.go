// Package castfile implements the Cast Writer (C2): an append-only
// asciinema-v2 writer for one session's stream-out file, with a custom
// exit record. Only internal/pty may hold a Writer for a given session —
// that single-writer invariant is enforced by construction, not locking.
package castfile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"vibetunnel/internal/apierr"
)

// flushEveryRecords and flushEveryInterval mirror the teacher's
// OutputFlushManager dual-trigger idiom (size OR quiet-time), adapted here
// to govern fsync cadence on a durable append-only file instead of an
// in-memory broadcast buffer.
const (
	flushEveryRecords  = 64
	flushEveryInterval = 100 * time.Millisecond
)

// Header is the first line of a cast file: the asciinema v2 header object.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// Writer serializes CastRecord lines to one session's stream-out file.
// Safe for concurrent use: the PTY host's three pumps funnel
// output/input/resize writes through one Writer instance, and every write
// takes its mutex (matching spec.md §5's "one per-session mutex"
// requirement).
type Writer struct {
	mu sync.Mutex

	file   *os.File
	buf    *bufio.Writer
	start  time.Time
	closed bool

	pendingRecords int
	lastFlush      time.Time
}

// Create opens path for append and writes the asciinema v2 header as the
// first line. start is the monotonic reference point CastRecord
// timestamps are measured from.
func Create(path string, cols, rows int, env map[string]string, start time.Time) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindIOError, err, "open stream-out")
	}
	w := &Writer{
		file:      f,
		buf:       bufio.NewWriter(f),
		start:     start,
		lastFlush: start,
	}
	header := Header{Version: 2, Width: cols, Height: rows, Timestamp: start.Unix(), Env: env}
	if err := w.writeLine(header); err != nil {
		f.Close()
		return nil, err
	}
	if err := w.maybeFlush(true); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) elapsed() float64 {
	return time.Since(w.start).Seconds()
}

// WriteOutput appends an "o" record for bytes produced by the child.
func (w *Writer) WriteOutput(data []byte) error {
	return w.writeRecord("o", string(data))
}

// WriteInput appends an "i" record for bytes sent by a client.
func (w *Writer) WriteInput(data []byte) error {
	return w.writeRecord("i", string(data))
}

// WriteResize appends an "r" record.
func (w *Writer) WriteResize(cols, rows int) error {
	return w.writeRecord("r", fmt.Sprintf("%dx%d", cols, rows))
}

// WriteExit appends the terminal exit record and marks the writer closed:
// any further write fails. Must be the final call on this Writer.
func (w *Writer) WriteExit(code int, sessionID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apierr.New(apierr.KindIOError, "cast writer already closed")
	}
	if err := w.writeLineLocked([3]any{"exit", code, sessionID}); err != nil {
		return err
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.closed = true
	return w.file.Close()
}

// writeRecord captures the elapsed timestamp under the writer lock, so
// concurrent callers (e.g. the output and input pumps) can't serialize
// their records out of monotonic-t order between computing the
// timestamp and acquiring the lock to write it.
func (w *Writer) writeRecord(kind, payload string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apierr.New(apierr.KindIOError, "cast writer is closed")
	}
	record := [3]any{w.elapsed(), kind, payload}
	if err := w.writeLineLocked(record); err != nil {
		return err
	}
	w.pendingRecords++
	return w.maybeFlush(false)
}

func (w *Writer) writeLine(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeLineLocked(v)
}

func (w *Writer) writeLineLocked(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apierr.Wrap(apierr.KindIOError, err, "encode cast record")
	}
	data = append(data, '\n')
	if _, err := w.buf.Write(data); err != nil {
		return apierr.Wrap(apierr.KindIOError, err, "append cast record")
	}
	return nil
}

// maybeFlush implements the dual trigger from spec.md §4.2: fsync every
// flushEveryRecords records or flushEveryInterval, whichever comes first.
func (w *Writer) maybeFlush(force bool) error {
	if !force && w.pendingRecords < flushEveryRecords && time.Since(w.lastFlush) < flushEveryInterval {
		return nil
	}
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if err := w.buf.Flush(); err != nil {
		return apierr.Wrap(apierr.KindIOError, err, "flush cast buffer")
	}
	if err := w.file.Sync(); err != nil {
		return apierr.Wrap(apierr.KindIOError, err, "fsync cast file")
	}
	w.pendingRecords = 0
	w.lastFlush = time.Now()
	return nil
}

// Close flushes and closes the underlying file without writing an exit
// record; used only on abnormal shutdown paths where WriteExit could not
// be reached.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return apierr.Wrap(apierr.KindIOError, err, "flush cast buffer on close")
	}
	return w.file.Close()
}
