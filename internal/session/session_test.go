package session

import (
	"strings"
	"testing"

	"github.com/KafClaw/agentcore/internal/provider"
)

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	s := NewSession("cli:default")
	got := s.Append(provider.Message{Role: provider.RoleUser, Content: "hi"})
	if got.ID == "" || got.Timestamp.IsZero() {
		t.Fatalf("expected id and timestamp, got %+v", got)
	}
	msgs := s.Messages()
	msgs[0].Content = "mutated"
	if s.Messages()[0].Content != "hi" {
		t.Fatal("Messages() must return a copy")
	}
}

func TestValidatePairing(t *testing.T) {
	msgs := []provider.Message{
		{Role: provider.RoleUser, ToolResults: []provider.ToolResult{{ToolCallID: "orphan"}}},
		{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{{ID: "c1"}}},
		{Role: provider.RoleUser, ToolResults: []provider.ToolResult{{ToolCallID: "c1"}}},
	}
	orphans := ValidatePairing(msgs)
	if len(orphans) != 1 || orphans[0] != "orphan" {
		t.Fatalf("unexpected orphans: %v", orphans)
	}
}

func TestManagerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	s := m.GetOrCreate("cli:default")
	s.Append(provider.Message{Role: provider.RoleUser, Content: "run ls"})
	s.Append(provider.Message{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{{ID: "c1", Name: "exec", Arguments: map[string]any{"command": "ls"}}}})
	s.Append(provider.Message{Role: provider.RoleUser, ToolResults: []provider.ToolResult{{ToolCallID: "c1", Content: "a.txt", ToolName: "exec"}}})
	s.SetMetadata("model", "m1")
	if err := m.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	fresh, _ := NewManager(dir)
	loaded := fresh.GetOrCreate("cli:default")
	if loaded.Len() != 3 {
		t.Fatalf("expected 3 messages, got %d", loaded.Len())
	}
	msgs := loaded.Messages()
	if msgs[1].ToolCalls[0].Arguments["command"] != "ls" {
		t.Fatalf("tool call not restored: %+v", msgs[1])
	}
	if msgs[2].ToolResults[0].ToolName != "exec" {
		t.Fatalf("tool result not restored: %+v", msgs[2])
	}
	if v, ok := loaded.GetMetadata("model"); !ok || v != "m1" {
		t.Fatalf("metadata not restored: %v", v)
	}

	infos := fresh.List()
	if len(infos) != 1 || infos[0].Key != "cli:default" {
		t.Fatalf("unexpected list: %+v", infos)
	}
	if !fresh.Delete("cli:default") {
		t.Fatal("expected delete to succeed")
	}
}

func TestSessionPathStripsTraversal(t *testing.T) {
	m, _ := NewManager(t.TempDir())
	p := m.sessionPath("../../etc/passwd")
	if p == "" || p[len(p)-6:] != ".jsonl" {
		t.Fatalf("unexpected path %q", p)
	}
	for _, bad := range []string{"/etc/", ".."} {
		if strings.Contains(p[len(m.sessionsDir):], bad) {
			t.Fatalf("path %q still contains %q", p, bad)
		}
	}
}
