package pty

import "testing"

func TestResolveCommandDirectExecutable(t *testing.T) {
	program, args := resolveCommand([]string{"/bin/echo", "hello"})
	if program != "/bin/echo" {
		t.Fatalf("expected direct execution of /bin/echo, got %q", program)
	}
	if len(args) != 1 || args[0] != "hello" {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestResolveCommandPathLookup(t *testing.T) {
	program, args := resolveCommand([]string{"echo", "hi"})
	if program == "echo" {
		t.Fatalf("expected PATH-resolved absolute path, got %q", program)
	}
	if len(args) != 1 || args[0] != "hi" {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestResolveCommandAliasFallsBackToShell(t *testing.T) {
	program, args := resolveCommand([]string{"definitely-not-a-real-binary-xyz", "--flag"})
	if program != userShell() {
		t.Fatalf("expected shell wrapping with %q, got %q", userShell(), program)
	}
	if len(args) < 2 {
		t.Fatalf("expected login-shell args plus command string, got %v", args)
	}
	last := args[len(args)-1]
	if last != "'definitely-not-a-real-binary-xyz' '--flag'" {
		t.Fatalf("unexpected quoted command: %q", last)
	}
}
