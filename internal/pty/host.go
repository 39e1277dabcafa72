// Package pty implements the PTY Host (C3): spawning, resizing and
// killing PTY child processes, and the three long-lived pumps that move
// bytes between the child, the cast file, and the stdin/control
// transports in a session's directory.
package pty

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	ptylib "github.com/creack/pty"

	"vibetunnel/internal/apierr"
	"vibetunnel/internal/castfile"
	"vibetunnel/internal/procutil"
	"vibetunnel/internal/session"
)

const (
	statusPromotionGrace = 100 * time.Millisecond
	killGrace            = 3 * time.Second
)

// Config is the creation contract from spec.md §4.3.
type Config struct {
	SessionID  string
	Command    []string
	WorkingDir string
	Env        []string
	Cols       int
	Rows       int
	Term       string
}

// Host owns one PTY child process, its master fd, and the cast writer it
// feeds. Only Host writes to the cast file; only Host touches the PTY
// master.
type Host struct {
	id    string
	store *session.Store
	cast  *castfile.Writer

	mu      sync.RWMutex
	cmd     *exec.Cmd
	ptmx    *os.File // nil once pipe-mode fallback is in effect
	stdin   *os.File // pipe-mode fallback input
	stdout  *os.File
	stderr  *os.File
	closed  bool
	cols    int
	rows    int

	stdinTransport   *os.File
	controlTransport *os.File

	onOutput func([]byte) // fan-out to C4/C6, set by caller via OnOutput
	onExit   func(code int)

	stopPumps chan struct{}
	pumpsDone sync.WaitGroup
}

// Spawn starts the PTY child for cfg, opens the session's cast writer,
// and starts the child-reader pump. The caller (internal/manager) is
// responsible for starting the stdin/control pumps once the
// SessionDirectory's transports are ready, via StartTransportPumps.
func Spawn(store *session.Store, cfg Config) (*Host, error) {
	if len(cfg.Command) == 0 {
		return nil, apierr.New(apierr.KindInvalidInput, "command must not be empty")
	}
	cols, rows := cfg.Cols, cfg.Rows
	if cols <= 0 {
		cols = 120
	}
	if rows <= 0 {
		rows = 40
	}

	program, args := resolveCommand(cfg.Command)
	cmd := exec.Command(program, args...)
	cmd.Dir = cfg.WorkingDir
	if len(cfg.Env) > 0 {
		cmd.Env = cfg.Env
	}
	// Only takes effect in pipe-mode fallback (ptylib.StartWithSize below
	// already allocates a real console on Windows); suppresses the console
	// window flash that exec.Command would otherwise show.
	procutil.HideWindow(cmd)

	h := &Host{
		id:        cfg.SessionID,
		store:     store,
		cols:      cols,
		rows:      rows,
		stopPumps: make(chan struct{}),
	}

	ptmx, err := ptylib.StartWithSize(cmd, &ptylib.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err == nil {
		h.cmd = cmd
		h.ptmx = ptmx
	} else if errors.Is(err, ptylib.ErrUnsupported) {
		if err := h.startPipeMode(cmd); err != nil {
			return nil, apierr.Wrap(apierr.KindIOError, err, "start pipe-mode fallback").WithSession(cfg.SessionID)
		}
	} else {
		return nil, apierr.Wrap(apierr.KindIOError, err, "spawn pty").WithSession(cfg.SessionID)
	}

	env := map[string]string{"TERM": cfg.Term}
	cast, err := castfile.Create(store.StreamOutPath(cfg.SessionID), cols, rows, env, time.Now())
	if err != nil {
		h.killImmediate()
		return nil, err
	}
	h.cast = cast

	h.pumpsDone.Add(1)
	go h.childReaderPump()

	return h, nil
}

func (h *Host) startPipeMode(cmd *exec.Cmd) error {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	h.cmd = cmd
	h.stdin = stdin.(*os.File)
	h.stdout = stdout.(*os.File)
	h.stderr = stderr.(*os.File)
	return nil
}

// PID returns the OS process id of the child, once spawned.
func (h *Host) PID() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// OnOutput registers the callback invoked with each chunk of child
// output, in addition to the cast write. Used to feed C4 (emulator) and
// wake C6 (aggregator).
func (h *Host) OnOutput(fn func([]byte)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onOutput = fn
}

// OnExit registers the callback invoked once the child process exits.
func (h *Host) OnExit(fn func(code int)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onExit = fn
}

func (h *Host) childReaderPump() {
	defer h.pumpsDone.Done()

	h.mu.RLock()
	ptmx := h.ptmx
	stdout := h.stdout
	h.mu.RUnlock()

	var reader readerCloser
	if ptmx != nil {
		reader = ptmx
	} else {
		reader = stdout
	}
	if reader == nil {
		return
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if werr := h.cast.WriteOutput(chunk); werr != nil {
				slog.Warn("[pty] write output to cast failed", "session", h.id, "error", werr)
			}
			h.mu.RLock()
			cb := h.onOutput
			h.mu.RUnlock()
			if cb != nil {
				cb(chunk)
			}
		}
		if err != nil {
			h.onChildExit()
			return
		}
	}
}

type readerCloser interface {
	Read([]byte) (int, error)
}

// onChildExit runs once, when the reader pump observes EOF on the
// child's output. It writes the exit record and closes pumps in the
// fixed order spec.md §4.3 requires: child-reader first (already done,
// we are it), then input pumps.
func (h *Host) onChildExit() {
	code := h.waitExitCode()

	if err := h.cast.WriteExit(code, h.id); err != nil {
		slog.Warn("[pty] write exit record failed", "session", h.id, "error", err)
	}

	close(h.stopPumps)
	h.closeTransportPumps()

	h.mu.RLock()
	cb := h.onExit
	h.mu.RUnlock()
	if cb != nil {
		cb(code)
	}
}

func (h *Host) waitExitCode() int {
	h.mu.RLock()
	cmd := h.cmd
	h.mu.RUnlock()
	if cmd == nil {
		return -1
	}
	err := cmd.Wait()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Write sends input bytes to the PTY master and appends an "i" cast
// record, per spec.md §4.3 pump 2. The stdin transport pump calls it, and
// so do callers that drive the Host directly (cmd/fwd).
func (h *Host) Write(data []byte) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return 0, apierr.New(apierr.KindSessionExited, "session has exited").WithSession(h.id)
	}
	var n int
	var err error
	if h.ptmx != nil {
		n, err = h.ptmx.Write(data)
	} else if h.stdin != nil {
		n, err = h.stdin.Write(data)
	} else {
		return 0, apierr.New(apierr.KindIOError, "no input transport available").WithSession(h.id)
	}
	if err == nil {
		if werr := h.cast.WriteInput(data[:n]); werr != nil {
			slog.Warn("[pty] write input to cast failed", "session", h.id, "error", werr)
		}
	}
	return n, err
}

// Resize updates the PTY window size, persists it to session.json, and
// appends an "r" cast record.
func (h *Host) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return apierr.New(apierr.KindInvalidInput, "cols and rows must be positive").WithSession(h.id)
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return apierr.New(apierr.KindSessionExited, "session has exited").WithSession(h.id)
	}
	ptmx := h.ptmx
	h.cols, h.rows = cols, rows
	h.mu.Unlock()

	if ptmx != nil {
		if err := ptylib.Setsize(ptmx, &ptylib.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
			return apierr.Wrap(apierr.KindIOError, err, "resize pty").WithSession(h.id)
		}
	}

	if err := h.store.UpdateSession(h.id, func(info *session.Info) error {
		info.Cols, info.Rows = cols, rows
		return nil
	}); err != nil {
		return err
	}
	return h.cast.WriteResize(cols, rows)
}

// Kill escalates per spec.md §4.3: SIGTERM, then SIGKILL if still alive
// after killGrace.
func (h *Host) Kill(signal string) error {
	h.mu.RLock()
	cmd := h.cmd
	h.mu.RUnlock()
	if cmd == nil || cmd.Process == nil {
		return apierr.New(apierr.KindNotFound, "no process to kill").WithSession(h.id)
	}

	if signal == "KILL" {
		return cmd.Process.Kill()
	}

	if err := signalTerminate(cmd.Process); err != nil {
		return cmd.Process.Kill()
	}

	go func() {
		time.Sleep(killGrace)
		h.mu.RLock()
		closed := h.closed
		h.mu.RUnlock()
		if !closed {
			_ = cmd.Process.Kill()
		}
	}()
	return nil
}

func (h *Host) killImmediate() {
	h.mu.RLock()
	cmd := h.cmd
	h.mu.RUnlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// Close releases the PTY master fd and any pipe-mode fds. It does not
// write an exit record (the child-reader pump does that on EOF); Close
// is for abnormal teardown where the pump never observed EOF.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	ptmx, stdin, stdout, stderr := h.ptmx, h.stdin, h.stdout, h.stderr
	h.mu.Unlock()

	var firstErr error
	if ptmx != nil {
		if err := ptmx.Close(); err != nil {
			firstErr = err
		}
	}
	for _, f := range []*os.File{stdin, stdout, stderr} {
		if f != nil {
			if err := f.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Wait blocks until the child-reader pump (and thus the child process)
// has fully exited.
func (h *Host) Wait() {
	h.pumpsDone.Wait()
}
