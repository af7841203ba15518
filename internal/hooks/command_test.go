package hooks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func runCommand(t *testing.T, command string, timeout time.Duration) (*Output, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return CommandExecutor{}.Execute(ctx, Handler{Kind: KindCommand, Command: command}, Input{
		Event:     PreToolUse,
		ToolName:  "exec",
		ToolInput: map[string]any{"command": "rm -rf /"},
	})
}

func TestCommandExitZeroJSONVerdict(t *testing.T) {
	out, err := runCommand(t, `echo '{"permissionDecision":"deny","permissionDecisionReason":"no rm"}'`, 5*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out == nil || out.PermissionDecision != DecisionDeny || out.Reason() != "no rm" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestCommandHookSpecificOutput(t *testing.T) {
	out, err := runCommand(t, `echo '{"hookSpecificOutput":{"permissionDecision":"ask","updatedInput":{"command":"ls"}}}'`, 5*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out == nil || out.PermissionDecision != DecisionAsk || out.UpdatedInput["command"] != "ls" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestCommandExitZeroPlainTextIsContext(t *testing.T) {
	out, err := runCommand(t, `echo "remember the style guide"`, 5*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out == nil || out.AdditionalContext != "remember the style guide" || out.Decisive() {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestCommandExitTwoBlocksWithStderr(t *testing.T) {
	out, err := runCommand(t, `echo "dangerous command" >&2; exit 2`, 5*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Blocked() || out.Reason() != "dangerous command" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestCommandOtherExitIsNoop(t *testing.T) {
	out, err := runCommand(t, `echo '{"continue":false}'; exit 1`, 5*time.Second)
	if err != nil || out != nil {
		t.Fatalf("expected no-op, got %+v, %v", out, err)
	}
}

func TestCommandTimeoutIsError(t *testing.T) {
	start := time.Now()
	out, err := runCommand(t, `sleep 5`, 200*time.Millisecond)
	if err == nil || out != nil {
		t.Fatalf("expected timeout error, got %+v, %v", out, err)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("command was not killed promptly")
	}
}

func TestCommandReceivesPayloadOnStdin(t *testing.T) {
	dir := t.TempDir()
	dump := filepath.Join(dir, "payload.json")
	_, err := runCommand(t, "cat > "+dump, 5*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	data, err := os.ReadFile(dump)
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"hook_event_name":"PreToolUse"`) || !strings.Contains(s, `"tool_name":"exec"`) {
		t.Fatalf("unexpected payload: %s", s)
	}
}

func TestParseCommandOutputLegacyBlock(t *testing.T) {
	out := parseCommandOutput([]byte(`{"decision":"block","reason":"tests failing"}`))
	if !out.Blocked() || out.Reason() != "tests failing" {
		t.Fatalf("unexpected output: %+v", out)
	}
	if parseCommandOutput([]byte(`{}`)) != nil {
		t.Fatal("empty object should be a no-op")
	}
	if out := parseCommandOutput([]byte(`{"permissionDecision":"maybe"}`)); out != nil {
		t.Fatalf("unknown decision should be dropped, got %+v", out)
	}
}
