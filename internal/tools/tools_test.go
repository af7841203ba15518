package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/KafClaw/agentcore/internal/provider"
)

type panicTool struct{}

func (panicTool) Name() string               { return "boom" }
func (panicTool) Description() string        { return "panics" }
func (panicTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (panicTool) Execute(context.Context, map[string]any) (string, error) {
	panic("kaboom")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(NewReadFileTool())
	r.Register(NewListDirTool())

	got, ok := r.Get("read_file")
	if !ok || got.Name() != "read_file" {
		t.Fatalf("expected read_file, got %v %v", got, ok)
	}
	if _, ok := r.Get("nonexistent"); ok {
		t.Error("expected not to find nonexistent tool")
	}
	names := r.Names()
	if len(names) != 2 || names[0] != "list_dir" {
		t.Fatalf("unexpected names: %v", names)
	}
	defs := r.Definitions([]string{"read_file", "ghost"})
	if len(defs) != 1 || defs[0].Function.Name != "read_file" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}

	c := r.Clone()
	c.Register(panicTool{})
	if _, ok := r.Get("boom"); ok {
		t.Fatal("registering on a clone leaked into the original")
	}
	if len(c.Names()) != 3 {
		t.Fatalf("clone names: %v", c.Names())
	}
}

func TestRegistryExecuteNeverFails(t *testing.T) {
	r := NewRegistry()
	r.Register(panicTool{})

	res := r.Execute(context.Background(), provider.ToolCall{ID: "c1", Name: "ghost"})
	if !res.IsError || res.ToolCallID != "c1" {
		t.Fatalf("unknown tool should be an error result: %+v", res)
	}
	res = r.Execute(context.Background(), provider.ToolCall{ID: "c2", Name: "boom"})
	if !res.IsError || !strings.Contains(res.Content, "kaboom") {
		t.Fatalf("panic should be an error result: %+v", res)
	}
	if res.ToolName != "boom" {
		t.Fatalf("expected tool name on result, got %q", res.ToolName)
	}
}

func TestPermissionGate(t *testing.T) {
	g := NewPermissionGate(nil)
	if !g.IsToolAllowed("anything") || !g.Unrestricted() {
		t.Fatal("no lists means allow all")
	}

	g.SetSessionAllow([]string{"read_file", "exec", "list_dir"})
	if g.IsToolAllowed("write_file") {
		t.Fatal("session list should restrict")
	}
	g.SetTurnOverride([]string{"exec", "write_file"})
	if !g.IsToolAllowed("exec") {
		t.Fatal("exec is in both lists")
	}
	if g.IsToolAllowed("write_file") || g.IsToolAllowed("read_file") {
		t.Fatal("effective set must be the intersection")
	}
	got := g.FilterAllowedTools([]string{"read_file", "exec", "write_file"})
	if len(got) != 1 || got[0] != "exec" {
		t.Fatalf("unexpected filter: %v", got)
	}

	g.ClearTurnOverride()
	g.SetSessionAllow(nil)
	g.SetTurnOverride([]string{"read_file"})
	if !g.IsToolAllowed("read_file") || g.IsToolAllowed("exec") {
		t.Fatal("turn override alone should restrict")
	}
	g.SetTurnOverride([]string{})
	if g.IsToolAllowed("read_file") {
		t.Fatal("empty override allows nothing")
	}
}

func TestFileToolsResolveAgainstWorkingDir(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	write := NewWriteFileTool(dir)
	if _, err := write.Execute(ctx, map[string]any{"path": "sub/a.txt", "content": "hello world", WorkingDirKey: dir}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := write.Execute(ctx, map[string]any{"path": "/etc/evil", "content": "x", WorkingDirKey: dir}); err == nil {
		t.Fatal("write outside root should fail")
	}

	edit := NewEditFileTool(dir)
	if _, err := edit.Execute(ctx, map[string]any{"path": "sub/a.txt", "old_text": "world", "new_text": "there", WorkingDirKey: dir}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if _, err := edit.Execute(ctx, map[string]any{"path": "sub/a.txt", "old_text": "missing", "new_text": "x", WorkingDirKey: dir}); err == nil {
		t.Fatal("edit with missing text should fail")
	}

	read := NewReadFileTool()
	got, err := read.Execute(ctx, map[string]any{"path": "sub/a.txt", WorkingDirKey: dir})
	if err != nil || got != "hello there" {
		t.Fatalf("read = %q, %v", got, err)
	}
	if _, err := read.Execute(ctx, map[string]any{"path": "nope.txt", WorkingDirKey: dir}); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found, got %v", err)
	}

	list, err := NewListDirTool().Execute(ctx, map[string]any{WorkingDirKey: dir})
	if err != nil || list != "sub/" {
		t.Fatalf("list = %q, %v", list, err)
	}
}

func TestExecTool(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0o644)
	tool := NewExecTool(5 * time.Second)
	ctx := context.Background()

	out, err := tool.Execute(ctx, map[string]any{"command": "ls", WorkingDirKey: dir})
	if err != nil || !strings.Contains(out, "marker.txt") {
		t.Fatalf("ls in working dir = %q, %v", out, err)
	}
	if _, err := tool.Execute(ctx, map[string]any{"command": "exit 3"}); err == nil || !strings.Contains(err.Error(), "exit code 3") {
		t.Fatalf("expected exit code error, got %v", err)
	}
	if _, err := tool.Execute(ctx, map[string]any{"command": "rm -rf /tmp/x"}); err == nil {
		t.Fatal("expected guard refusal")
	}
	short := NewExecTool(100 * time.Millisecond)
	if _, err := short.Execute(ctx, map[string]any{"command": "sleep 3"}); err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestExecToolRestrictedToWorkspace(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	tool := NewExecTool(5 * time.Second)
	tool.WorkDir = root
	tool.RestrictToWorkspace = true
	ctx := context.Background()

	out, err := tool.Execute(ctx, map[string]any{"command": "pwd", WorkingDirKey: "sub"})
	if err != nil || filepath.Base(strings.TrimSpace(out)) != "sub" {
		t.Fatalf("relative working_dir = %q, %v", out, err)
	}
	if _, err := tool.Execute(ctx, map[string]any{"command": "pwd", WorkingDirKey: t.TempDir()}); err == nil || !strings.Contains(err.Error(), "outside the workspace") {
		t.Fatalf("expected refusal outside the workspace, got %v", err)
	}
	if _, err := tool.Execute(ctx, map[string]any{"command": "pwd", WorkingDirKey: "../"}); err == nil {
		t.Fatal("expected refusal for a parent directory")
	}
	out, err = tool.Execute(ctx, map[string]any{"command": "ls"})
	if err != nil || !strings.Contains(out, "sub") {
		t.Fatalf("default dir should be the workspace: %q, %v", out, err)
	}
}

func TestSpawnAgentTool(t *testing.T) {
	var got SpawnRequest
	tool := NewSpawnAgentTool(func(_ context.Context, req SpawnRequest) (string, error) {
		got = req
		if req.Task == "fail" {
			return "", errors.New("refused")
		}
		return "done", nil
	})
	out, err := tool.Execute(context.Background(), map[string]any{
		"task":      "summarize logs",
		"tools":     []any{"read_file", 7},
		"max_turns": float64(3),
	})
	if err != nil || out != "done" {
		t.Fatalf("Execute = %q, %v", out, err)
	}
	if len(got.Tools) != 1 || got.MaxTurns != 3 {
		t.Fatalf("unexpected request: %+v", got)
	}
	if _, err := tool.Execute(context.Background(), map[string]any{}); err == nil {
		t.Fatal("missing task should fail")
	}
	if _, err := tool.Execute(context.Background(), map[string]any{"task": "fail"}); err == nil {
		t.Fatal("spawn error should surface")
	}
}

func TestScheduleCommandTool(t *testing.T) {
	var got ScheduleRequest
	tool := NewScheduleCommandTool(func(_ context.Context, req ScheduleRequest) (string, error) {
		got = req
		return "sched-1", nil
	})

	out, err := tool.Execute(context.Background(), map[string]any{"command": "/digest", "every": "30m"})
	if err != nil || out != "Scheduled sched-1" {
		t.Fatalf("Execute = %q, %v", out, err)
	}
	if got.Every != 30*time.Minute || got.Command != "/digest" {
		t.Fatalf("unexpected request: %+v", got)
	}

	if _, err := tool.Execute(context.Background(), map[string]any{"command": "x", "at": "2026-03-01T09:00:00Z"}); err != nil {
		t.Fatalf("at: %v", err)
	}
	if got.At.IsZero() {
		t.Fatal("at should be parsed")
	}

	for name, params := range map[string]map[string]any{
		"no command": {"cron": "* * * * *"},
		"no timing":  {"command": "x"},
		"two timing": {"command": "x", "cron": "* * * * *", "every": "1h"},
		"bad at":     {"command": "x", "at": "tomorrow"},
		"tiny every": {"command": "x", "every": "10ms"},
	} {
		if _, err := tool.Execute(context.Background(), params); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
