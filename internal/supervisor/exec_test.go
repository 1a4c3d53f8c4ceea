package supervisor

import (
	"context"
	"strings"
	"testing"
)

func TestNeedsShell(t *testing.T) {
	if !needsShell("go test ./... | tee out.log") {
		t.Fatalf("pipe should require a shell")
	}
	if !needsShell("make lint && make test") {
		t.Fatalf("&& should require a shell")
	}
	if needsShell("go test ./...") {
		t.Fatalf("a plain command should not require a shell")
	}
}

func TestTail(t *testing.T) {
	if got := tail("short", 10); got != "short" {
		t.Fatalf("tail of a short string should be unchanged, got %q", got)
	}
	long := strings.Repeat("x", 20)
	if got := tail(long, 5); got != strings.Repeat("x", 5) {
		t.Fatalf("tail should keep only the last n bytes, got %q", got)
	}
}

func TestRunCommand_DirectAndShell(t *testing.T) {
	ctx := context.Background()

	res, err := runCommand(ctx, t.TempDir(), "echo hello")
	if err != nil {
		t.Fatalf("runCommand: %v", err)
	}
	if res.UsedShell {
		t.Fatalf("a plain argv command should not use a shell")
	}
	if !strings.Contains(res.StdoutTail, "hello") {
		t.Fatalf("stdout tail should contain the echoed text, got %q", res.StdoutTail)
	}

	res, err = runCommand(ctx, t.TempDir(), "echo a && echo b")
	if err != nil {
		t.Fatalf("runCommand with shell operators: %v", err)
	}
	if !res.UsedShell {
		t.Fatalf("a command with && should use a shell")
	}

	res, err = runCommand(ctx, t.TempDir(), "true; exit 3")
	if err != nil {
		t.Fatalf("runCommand with a non-zero exit should not itself error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code: got %d, want 3", res.ExitCode)
	}
}
