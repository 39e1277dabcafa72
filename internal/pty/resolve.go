package pty

import (
	"os"
	"os/exec"
	"strings"
)

// resolveCommand implements the command resolution rule from spec.md §4.3
// and §9: if the program exists directly (path separator + file exists,
// or found on PATH), run it directly; otherwise wrap it under the user's
// interactive login shell so aliases and functions work.
func resolveCommand(command []string) (string, []string) {
	program := command[0]
	args := command[1:]

	if strings.ContainsAny(program, "/\\") {
		if info, err := os.Stat(program); err == nil && !info.IsDir() {
			return program, args
		}
	} else if path, err := exec.LookPath(program); err == nil {
		return path, args
	}

	shell := userShell()
	quoted := make([]string, 0, len(command))
	for _, part := range command {
		quoted = append(quoted, shellQuote(part))
	}
	return shell, append(shellInteractiveLoginArgs(), strings.Join(quoted, " "))
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
