//go:build !windows

package session

import "golang.org/x/sys/unix"

// createTransport creates a Unix FIFO for the stdin/control channels, per
// spec.md's filesystem layout.
func createTransport(path string) error {
	return unix.Mkfifo(path, 0o600)
}
