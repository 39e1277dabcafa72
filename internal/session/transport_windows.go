//go:build windows

package session

import "os"

// createTransport creates a plain file on Windows, where FIFOs don't
// exist. internal/pty's pumps read it to EOF once and then stop; bytes
// appended after that are not read, and the file is never truncated.
func createTransport(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return err
	}
	return f.Close()
}
