//go:build windows

package pty

import (
	"os"
	"os/exec"
)

// userShell picks the login shell per spec.md §4.3: $SHELL (COMSPEC
// doesn't apply to interactive-shell aliasing), then the fallback chain
// pwsh -> powershell -> cmd.
func userShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	for _, candidate := range []string{"pwsh", "powershell", "cmd"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path
		}
	}
	return "cmd"
}

func shellInteractiveLoginArgs() []string {
	return []string{"/C"}
}

func signalTerminate(p *os.Process) error {
	return p.Kill()
}

// ProcessAlive reports whether pid still has a live process. Windows has
// no signal-0 probe; FindProcess always succeeds, so callers should
// prefer session.json's recorded status plus a wait-based check where
// possible. This conservative check only detects the handle is invalid.
func ProcessAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
