package contextwindow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/KafClaw/agentcore/internal/provider"
)

type cannedProvider struct {
	text string
	err  error
	req  *provider.ChatRequest
}

func (c *cannedProvider) ChatStream(_ context.Context, req *provider.ChatRequest) (<-chan provider.StreamChunk, error) {
	c.req = req
	if c.err != nil {
		return nil, c.err
	}
	ch := make(chan provider.StreamChunk, 2)
	ch <- provider.StreamChunk{Type: provider.ChunkText, Text: c.text}
	ch <- provider.StreamChunk{Type: provider.ChunkDone}
	close(ch)
	return ch, nil
}

func (c *cannedProvider) DefaultModel() string { return "m" }

func sampleWork() []provider.Message {
	return []provider.Message{
		{Role: provider.RoleUser, Content: "fix the bug in internal/agent/loop.go please"},
		{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{
			{ID: "1", Name: "read_file", Arguments: map[string]any{"path": "internal/agent/loop.go"}},
			{ID: "2", Name: "exec", Arguments: map[string]any{"command": "go test ./internal/agent/"}},
		}},
		{Role: provider.RoleUser, ToolResults: []provider.ToolResult{
			{ToolCallID: "1", Content: "package agent", ToolName: "read_file"},
			{ToolCallID: "2", Content: "exit code 1\n--- FAIL: TestLoop", IsError: true, ToolName: "exec"},
		}},
		{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{{ID: "3", Name: "exec", Arguments: map[string]any{"command": "go vet ./..."}}}},
		{Role: provider.RoleUser, ToolResults: []provider.ToolResult{
			{ToolCallID: "3", Content: "ok\nloop.go:12: error: unused variable", ToolName: "exec"},
		}},
	}
}

func TestExtractFacts(t *testing.T) {
	f := Extract(sampleWork())
	if len(f.Files) == 0 || f.Files[0] != "internal/agent/loop.go" {
		t.Fatalf("unexpected files: %v", f.Files)
	}
	if len(f.Files) != 1 {
		t.Fatalf("duplicate paths should collapse: %v", f.Files)
	}
	if len(f.Commands) != 2 || f.Commands[1] != "go vet ./..." {
		t.Fatalf("unexpected commands: %v", f.Commands)
	}
	if len(f.Tools) != 2 || f.Tools[0] != "exec" || f.Tools[1] != "read_file" {
		t.Fatalf("unexpected tools: %v", f.Tools)
	}
	if len(f.Errors) != 2 || f.Errors[0] != "exit code 1" || !strings.Contains(f.Errors[1], "unused variable") {
		t.Fatalf("unexpected errors: %v", f.Errors)
	}
}

func TestHybridStrategyCombines(t *testing.T) {
	prov := &cannedProvider{text: "Investigated a failing test."}
	s := HybridStrategy{Text: TextStrategy{Provider: prov}}
	out, err := s.Summarize(context.Background(), sampleWork())
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !strings.HasPrefix(out, "## Files referenced") || !strings.HasSuffix(out, "Investigated a failing test.") {
		t.Fatalf("unexpected summary:\n%s", out)
	}
	if !strings.Contains(prov.req.Messages[0].Content, "[tool call exec]") {
		t.Fatalf("transcript missing tool calls: %s", prov.req.Messages[0].Content)
	}
}

func TestHybridFallsBackToPreamble(t *testing.T) {
	s := HybridStrategy{Text: TextStrategy{Provider: &cannedProvider{err: errors.New("down")}}}
	out, err := s.Summarize(context.Background(), sampleWork())
	if err != nil || !strings.Contains(out, "## Commands run") {
		t.Fatalf("expected preamble-only summary, got %q, %v", out, err)
	}

	_, err = s.Summarize(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hello"}})
	if err == nil {
		t.Fatal("no facts and no text should fail")
	}
}

func TestTextStrategyTrims(t *testing.T) {
	s := TextStrategy{Provider: &cannedProvider{text: "  summary \n"}}
	out, err := s.Summarize(context.Background(), sampleWork())
	if err != nil || out != "summary" {
		t.Fatalf("got %q, %v", out, err)
	}
}

func TestTruncationKeepsValidUTF8(t *testing.T) {
	long := "a" + strings.Repeat("é", maxExcerpt)
	out := Transcript([]provider.Message{{Role: provider.RoleUser, Content: long}})
	if !utf8.ValidString(out) || !strings.Contains(out, "[truncated]") {
		t.Fatalf("transcript cut mid-rune or not truncated: %q", out[len(out)-40:])
	}

	set := newOrderedSet()
	set.add("x" + strings.Repeat("日", 100))
	if got := set.items(); len(got) != 1 || !utf8.ValidString(got[0]) || !strings.HasSuffix(got[0], "...") {
		t.Fatalf("fact cut mid-rune: %q", got)
	}
	if got := cutRunes("héllo", 2); got != "h" {
		t.Fatalf("cutRunes = %q", got)
	}
}
