package pty

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os"
)

// controlCommand mirrors spec.md §4.3's control-pipe JSON shape.
type controlCommand struct {
	Cmd    string `json:"cmd"`
	Cols   int    `json:"cols"`
	Rows   int    `json:"rows"`
	Signal string `json:"signal"`
}

// StartTransportPumps starts pump 2 (disk→child via the stdin transport
// file) and pump 3 (control→action via the control transport file). Both
// read their transport until Read returns an error or EOF. On Unix the
// transport is a FIFO held open read-write, so Read blocks for more data;
// on Windows it is a plain file, which is read once to EOF and not polled
// afterwards. onChildExit closes the underlying file descriptors to
// unblock and terminate these pumps once the child has exited, matching
// spec.md §4.3's fixed pump shutdown order.
func (h *Host) StartTransportPumps(stdinPath, controlPath string) error {
	stdinFile, err := openTransportForRead(stdinPath)
	if err != nil {
		return err
	}
	controlFile, err := openTransportForRead(controlPath)
	if err != nil {
		stdinFile.Close()
		return err
	}

	h.mu.Lock()
	h.stdinTransport = stdinFile
	h.controlTransport = controlFile
	h.mu.Unlock()

	h.pumpsDone.Add(2)
	go h.stdinPump(stdinFile)
	go h.controlPump(controlFile)
	return nil
}

func (h *Host) stdinPump(f *os.File) {
	defer h.pumpsDone.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := h.Write(buf[:n]); werr != nil {
				slog.Warn("[pty] stdin pump write to pty failed", "session", h.id, "error", werr)
			}
		}
		if err != nil {
			if err != io.EOF {
				slog.Debug("[pty] stdin pump read ended", "session", h.id, "error", err)
			}
			return
		}
	}
}

func (h *Host) controlPump(f *os.File) {
	defer h.pumpsDone.Done()
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			h.dispatchControl(line)
		}
		if err != nil {
			if err != io.EOF {
				slog.Debug("[pty] control pump read ended", "session", h.id, "error", err)
			}
			return
		}
	}
}

func (h *Host) dispatchControl(line []byte) {
	var cmd controlCommand
	if err := json.Unmarshal(line, &cmd); err != nil {
		slog.Warn("[pty] control command not valid JSON, ignoring", "session", h.id, "error", err)
		return
	}
	switch cmd.Cmd {
	case "resize":
		if err := h.Resize(cmd.Cols, cmd.Rows); err != nil {
			slog.Warn("[pty] control resize failed", "session", h.id, "error", err)
		}
	case "kill":
		if err := h.Kill(cmd.Signal); err != nil {
			slog.Warn("[pty] control kill failed", "session", h.id, "error", err)
		}
	default:
		slog.Warn("[pty] unknown control command, ignoring", "session", h.id, "cmd", cmd.Cmd)
	}
}

// closeTransportPumps closes the stdin/control transport file descriptors,
// unblocking their pump goroutines' in-flight Read calls.
func (h *Host) closeTransportPumps() {
	h.mu.RLock()
	stdinTransport, controlTransport := h.stdinTransport, h.controlTransport
	h.mu.RUnlock()
	if stdinTransport != nil {
		stdinTransport.Close()
	}
	if controlTransport != nil {
		controlTransport.Close()
	}
}

// openTransportForRead opens path for reading. It uses O_RDWR rather than
// O_RDONLY: opening a Unix FIFO read-only blocks until some writer opens
// it, which would wedge pump startup whenever no client has sent input
// yet. Opening read-write never blocks on a FIFO regardless of whether a
// writer exists yet; this file's write half is simply never used.
func openTransportForRead(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR, 0)
}
