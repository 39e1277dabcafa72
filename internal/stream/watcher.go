// Package stream implements the Stream Watcher (C5): per-session file
// tailing with SSE fan-out to many subscribers, replaying existing
// content with timestamps rewritten to 0 so late joiners don't see a
// fake time gap.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"vibetunnel/internal/castfile"
)

const (
	pollInterval     = 50 * time.Millisecond
	heartbeatInterval = 30 * time.Second
)

// Event is one item delivered to a subscriber: either a cast record or a
// heartbeat.
type Event struct {
	Record      castfile.Record
	IsHeader    bool
	Header      castfile.Header
	IsHeartbeat bool
}

type subscriber struct {
	ch     chan Event
	closed bool
}

// tailer is the single per-session file watcher, shared and refcounted
// across all of that session's subscribers.
type tailer struct {
	mu          sync.Mutex
	path        string
	offset      int64
	subscribers map[*subscriber]struct{}
	stopCh      chan struct{}
	watcher     *fsnotify.Watcher // best-effort wake-up; poll loop is authoritative
	refs        int
}

// Watcher owns one tailer per session with at least one subscriber.
type Watcher struct {
	mu      sync.Mutex
	tailers map[string]*tailer
}

// New creates a Watcher.
func New() *Watcher {
	return &Watcher{tailers: make(map[string]*tailer)}
}

// Subscribe attaches a new subscriber to sessionId's cast file, per the
// contract in spec.md §4.5: header event, then the existing file replayed
// with t=0, then live records with real timestamps, then a heartbeat
// every 30s, closing after the exit record. The returned channel is
// closed once the exit record is delivered or the returned unsubscribe
// func runs; cancelling ctx stops the replay but does not close it.
func (w *Watcher) Subscribe(ctx context.Context, sessionID, path string) (<-chan Event, func()) {
	t := w.acquireTailer(sessionID, path)
	sub := &subscriber{ch: make(chan Event, 64)}

	t.mu.Lock()
	t.subscribers[sub] = struct{}{}
	t.mu.Unlock()

	go t.replay(ctx, sub)

	unsubscribe := func() {
		t.mu.Lock()
		_, stillRegistered := t.subscribers[sub]
		delete(t.subscribers, sub)
		if stillRegistered && !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		t.mu.Unlock()
		w.releaseTailer(sessionID)
	}
	return sub.ch, unsubscribe
}

func (w *Watcher) acquireTailer(sessionID, path string) *tailer {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tailers[sessionID]
	if ok {
		t.refs++
		return t
	}
	t = &tailer{
		path:        path,
		subscribers: make(map[*subscriber]struct{}),
		stopCh:      make(chan struct{}),
		refs:        1,
	}
	// Seed offset to the file's current size before any subscriber is
	// registered, so pollLoop's first tick only broadcasts bytes written
	// after this point. replay() independently re-reads the whole file
	// from byte 0 with t=0 for each new subscriber; without this seed,
	// pollLoop would also broadcast the existing backlog with real
	// timestamps to the subscriber replay just registered, duplicating
	// it and racing ahead of the t=0 replay.
	if info, err := os.Stat(path); err == nil {
		t.offset = info.Size()
	}
	if fw, err := fsnotify.NewWatcher(); err == nil {
		if err := fw.Add(path); err == nil {
			t.watcher = fw
		} else {
			fw.Close()
		}
	}
	w.tailers[sessionID] = t
	go t.pollLoop()
	return t
}

func (w *Watcher) releaseTailer(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tailers[sessionID]
	if !ok {
		return
	}
	t.refs--
	if t.refs > 0 {
		return
	}
	close(t.stopCh)
	if t.watcher != nil {
		t.watcher.Close()
	}
	delete(w.tailers, sessionID)
}

// replay sends the header, the backlog with t=0, then switches to live
// delivery by registering on the tailer (already done by the caller
// before replay starts, so no records are lost between the two phases).
func (t *tailer) replay(ctx context.Context, sub *subscriber) {
	f, err := os.Open(t.path)
	if err != nil {
		slog.Warn("[stream] open cast file for replay failed", "error", err)
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		return
	}
	var header castfile.Header
	if err := json.Unmarshal(bytes.TrimSpace(scanner.Bytes()), &header); err != nil {
		slog.Warn("[stream] parse cast header failed", "error", err)
		return
	}
	if !deliver(ctx, sub, Event{IsHeader: true, Header: header}) {
		return
	}

	var bytesRead int64 = int64(len(scanner.Bytes())) + 1
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		bytesRead += int64(len(scanner.Bytes())) + 1
		if len(line) == 0 {
			continue
		}
		rec, err := castfile.ParseLine(line)
		if err != nil {
			continue
		}
		rec.Time = 0 // late-joiner rewrite: replay segment always reads t=0
		if !deliver(ctx, sub, Event{Record: rec}) {
			return
		}
		if rec.IsExit() {
			t.mu.Lock()
			delete(t.subscribers, sub)
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
			t.mu.Unlock()
			return
		}
	}

	t.mu.Lock()
	t.offset = max64(t.offset, bytesRead)
	t.mu.Unlock()
}

func deliver(ctx context.Context, sub *subscriber, ev Event) bool {
	select {
	case sub.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// pollLoop is the platform-agnostic tail implementation from spec.md
// §4.5: poll file size plus read-from-last-offset every ~50ms. fsnotify
// is a permissible optimization that only wakes the loop early; the poll
// ticker remains authoritative so this never depends on inotify/kqueue.
func (t *tailer) pollLoop() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var fsEvents <-chan fsnotify.Event
	if t.watcher != nil {
		fsEvents = t.watcher.Events
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.tick()
		case <-fsEvents:
			t.tick()
		case <-heartbeat.C:
			t.broadcastHeartbeat()
		}
	}
}

func (t *tailer) tick() {
	f, err := os.Open(t.path)
	if err != nil {
		return
	}
	defer f.Close()

	t.mu.Lock()
	offset := t.offset
	t.mu.Unlock()

	if _, err := f.Seek(offset, 0); err != nil {
		return
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var newOffset = offset
	var exited bool
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		newOffset += int64(len(scanner.Bytes())) + 1
		if len(line) == 0 {
			continue
		}
		rec, err := castfile.ParseLine(line)
		if err != nil {
			continue
		}
		t.broadcast(Event{Record: rec})
		if rec.IsExit() {
			exited = true
		}
	}

	t.mu.Lock()
	t.offset = newOffset
	t.mu.Unlock()

	if exited {
		t.broadcastAndCloseAll()
	}
}

func (t *tailer) broadcast(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sub := range t.subscribers {
		select {
		case sub.ch <- ev:
		default:
			// SSE backpressure is handled by the HTTP handler blocking on
			// socket write (spec.md §5); a full buffered channel here
			// means that handler hasn't drained yet, so drop rather than
			// stall the whole tailer for one slow subscriber.
		}
	}
}

func (t *tailer) broadcastHeartbeat() {
	t.broadcast(Event{IsHeartbeat: true})
}

func (t *tailer) broadcastAndCloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sub := range t.subscribers {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	t.subscribers = make(map[*subscriber]struct{})
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
