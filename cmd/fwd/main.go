// Command fwd spawns a PTY session directly against a CONTROL_DIR, using
// the same Session Store and Cast Writer contracts the server uses, but
// without going through HTTP. Grounded on the pack's own vibetunnel
// forwarder: raw-mode stdin passthrough, terminal-size detection, exit
// code mirroring the child's.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/term"

	"vibetunnel/internal/apierr"
	"vibetunnel/internal/pty"
	"vibetunnel/internal/session"
)

func main() {
	os.Exit(run())
}

func run() int {
	sessionID := flag.String("session-id", "", "pre-chosen session id")
	controlDir := flag.String("control-dir", defaultControlDir(), "CONTROL_DIR root")
	flag.Parse()

	command := flag.Args()
	if len(command) == 0 {
		fmt.Fprintln(os.Stderr, "usage: fwd [--session-id ID] [--control-dir PATH] <command> [args...]")
		return 1
	}

	store, err := session.NewStore(*controlDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fwd: open session store: %v\n", err)
		return 1
	}

	id := *sessionID
	if id == "" {
		id = session.GenerateID()
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fwd: getwd: %v\n", err)
		return 1
	}
	cols, rows := terminalSize()
	termType := os.Getenv("TERM")
	if termType == "" {
		termType = "xterm-256color"
	}

	info := session.Info{
		ID:         id,
		Name:       filepath.Base(command[0]),
		Command:    command,
		WorkingDir: cwd,
		Status:     session.StatusStarting,
		StartedAt:  time.Now(),
		Term:       termType,
		Cols:       cols,
		Rows:       rows,
		Source:     session.SourceLocal,
	}
	if err := store.CreateSessionDir(info); err != nil {
		fmt.Fprintf(os.Stderr, "fwd: create session dir: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "fwd: session %s\n", id)

	host, err := pty.Spawn(store, pty.Config{
		SessionID:  id,
		Command:    command,
		WorkingDir: cwd,
		Cols:       cols,
		Rows:       rows,
		Term:       termType,
	})
	if err != nil {
		markExited(store, id, -1)
		fmt.Fprintf(os.Stderr, "fwd: spawn: %v\n", err)
		return 1
	}

	exitCode := make(chan int, 1)
	host.OnOutput(func(data []byte) {
		os.Stdout.Write(data)
	})
	host.OnExit(func(code int) {
		markExited(store, id, code)
		exitCode <- code
	})

	store.UpdateSession(id, func(i *session.Info) error {
		i.Status = session.StatusRunning
		i.PID = host.PID()
		return nil
	})

	restoreStdin := enterRawMode()
	defer restoreStdin()

	go forwardStdin(host)
	go forwardResizeSignals(host)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)

	select {
	case code := <-exitCode:
		return code
	case s := <-sig:
		forwardSignal(host, s)
		return <-exitCode
	}
}

func forwardStdin(host *pty.Host) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if _, werr := host.Write(buf[:n]); werr != nil {
				if apierr.KindOf(werr) == apierr.KindSessionExited {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func forwardSignal(host *pty.Host, s os.Signal) {
	name := "TERM"
	if s == syscall.SIGINT {
		name = "INT"
	}
	host.Kill(name)
}

func forwardResizeSignals(host *pty.Host) {
	ch := make(chan os.Signal, 1)
	notifyWinch(ch)
	for range ch {
		cols, rows := terminalSize()
		host.Resize(cols, rows)
	}
}

func markExited(store *session.Store, id string, code int) {
	store.UpdateSession(id, func(i *session.Info) error {
		i.Status = session.StatusExited
		i.ExitCode = &code
		i.PID = 0
		return nil
	})
}

func terminalSize() (int, int) {
	if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
		if w, h, err := term.GetSize(fd); err == nil {
			return w, h
		}
	}
	return 80, 24
}

func enterRawMode() func() {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return func() {}
	}
	return func() { term.Restore(fd, old) }
}

func defaultControlDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".vibetunnel", "control")
}
