//go:build windows

package main

import "os"

// Windows has no SIGWINCH, so this is a no-op and fwd does not follow
// terminal-size changes there.
func notifyWinch(ch chan<- os.Signal) {}
