package vt

import (
	"sync"
	"time"
)

// changeSignalInterval is the throttle window from spec.md §4.4/§4.6:
// the change signal fires at most once per 16ms while bytes are
// continuously flowing. A trailing-edge debounce (fire only once input
// goes quiet) was considered and rejected: it would starve the live view
// during sustained output (e.g. `yes`), never firing until the stream
// paused. A leading-edge throttle with a floor matches "at most once per
// 16ms while flowing" instead.
const changeSignalInterval = 16 * time.Millisecond

// Emulator is the public C4 surface: it consumes raw child output and
// exposes a BufferSnapshot plus a throttled change notification channel
// that the Buffer Aggregator subscribes to (spec.md §4.6: "when C4
// signals changed").
type Emulator struct {
	mu     sync.Mutex
	screen *Screen
	parser *parser

	changeCh   chan struct{}
	lastSignal time.Time
}

// NewEmulator creates an emulator for a cols x rows viewport.
func NewEmulator(cols, rows int) *Emulator {
	screen := NewScreen(cols, rows)
	return &Emulator{
		screen:   screen,
		parser:   newParser(screen),
		changeCh: make(chan struct{}, 1),
	}
}

// Feed processes a chunk of child output, updating the viewport.
func (e *Emulator) Feed(data []byte) {
	e.mu.Lock()
	e.parser.feed(data)
	e.mu.Unlock()
	e.signalChange()
}

// Resize updates the viewport dimensions in lock-step with the real PTY.
func (e *Emulator) Resize(cols, rows int) {
	e.mu.Lock()
	e.screen.Resize(cols, rows)
	e.mu.Unlock()
	e.signalChange()
}

func (e *Emulator) signalChange() {
	e.mu.Lock()
	now := time.Now()
	if now.Sub(e.lastSignal) < changeSignalInterval {
		e.mu.Unlock()
		return
	}
	e.lastSignal = now
	e.mu.Unlock()
	e.notify()
}

func (e *Emulator) notify() {
	select {
	case e.changeCh <- struct{}{}:
	default:
	}
}

// ChangeSignal returns the channel that receives a value whenever the
// viewport has changed, throttled to at most once per 16ms.
func (e *Emulator) ChangeSignal() <-chan struct{} {
	return e.changeCh
}

// Close releases the change-signal channel once no further output will
// be fed, so subscribers (e.g. internal/manager's publish loop) stop.
func (e *Emulator) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.changeCh:
	default:
	}
	close(e.changeCh)
}

// Snapshot returns the current viewport. Recomputed on demand, never
// persisted, per spec.md §3.
func (e *Emulator) Snapshot() BufferSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.screen
	rows := make([][]Cell, len(s.grid))
	for i, row := range s.grid {
		rows[i] = append([]Cell(nil), row...)
	}
	return BufferSnapshot{
		Cols:      s.cols,
		Rows:      s.rows,
		CursorX:   s.cursorX,
		CursorY:   s.cursorY,
		ViewportY: 0,
		Cells:     rows,
	}
}

// BufferSnapshot is the viewport entity from spec.md §3: dimensions,
// cursor position, and a row-major Cell grid. No scrollback.
type BufferSnapshot struct {
	Cols      int
	Rows      int
	CursorX   int
	CursorY   int
	ViewportY int
	Cells     [][]Cell
}
