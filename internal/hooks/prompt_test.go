package hooks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/KafClaw/agentcore/internal/provider"
)

type verdictProvider struct {
	reply   string
	lastReq *provider.ChatRequest
}

func (v *verdictProvider) ChatStream(_ context.Context, req *provider.ChatRequest) (<-chan provider.StreamChunk, error) {
	v.lastReq = req
	ch := make(chan provider.StreamChunk, 2)
	ch <- provider.StreamChunk{Type: provider.ChunkText, Text: v.reply}
	ch <- provider.StreamChunk{Type: provider.ChunkDone}
	close(ch)
	return ch, nil
}

func (v *verdictProvider) DefaultModel() string { return "judge" }

func TestPromptExecutorDeniesToolUse(t *testing.T) {
	prov := &verdictProvider{reply: "```json\n{\"ok\": false, \"reason\": \"touches /etc\"}\n```"}
	exec := PromptExecutor{Provider: prov}
	out, err := exec.Execute(context.Background(), Handler{Kind: KindPrompt, Prompt: "Check: $ARGUMENTS"}, Input{Event: PreToolUse, ToolName: "write_file"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out == nil || out.PermissionDecision != DecisionDeny || out.Reason() != "touches /etc" {
		t.Fatalf("unexpected output: %+v", out)
	}
	if !strings.Contains(prov.lastReq.Messages[0].Content, `"tool_name":"write_file"`) {
		t.Fatalf("payload not substituted: %s", prov.lastReq.Messages[0].Content)
	}
}

func TestPromptExecutorBlocksOtherEvents(t *testing.T) {
	exec := PromptExecutor{Provider: &verdictProvider{reply: `{"ok":false}`}}
	out, err := exec.Execute(context.Background(), Handler{Kind: KindPrompt, Prompt: "p"}, Input{Event: Stop})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Blocked() {
		t.Fatalf("expected block, got %+v", out)
	}
}

func TestPromptExecutorAllowIsNil(t *testing.T) {
	exec := PromptExecutor{Provider: &verdictProvider{reply: `{"ok":true}`}}
	out, err := exec.Execute(context.Background(), Handler{Kind: KindPrompt, Prompt: "p"}, Input{Event: Stop})
	if err != nil || out != nil {
		t.Fatalf("expected nil, got %+v, %v", out, err)
	}
}

func TestParseVerdictErrors(t *testing.T) {
	for _, text := range []string{"sure thing", `{"reason":"x"}`, `{"ok":`} {
		if _, _, err := ParseVerdict(text); err == nil {
			t.Errorf("ParseVerdict(%q) expected error", text)
		}
	}
}

type fakeVerifier struct {
	ok     bool
	reason string
	err    error
}

func (f fakeVerifier) Verify(context.Context, string, Input) (bool, string, error) {
	return f.ok, f.reason, f.err
}

func TestAgentExecutorThroughPipeline(t *testing.T) {
	p := NewPipeline(Options{})
	p.SetVerifier(fakeVerifier{ok: false, reason: "tests not run"})
	p.Register(Stop, Matcher{Hooks: []Handler{{Kind: KindAgent, Prompt: "verify the work"}}})

	out := p.Execute(context.Background(), Input{Event: Stop})
	if !out.Blocked() || out.Reason() != "tests not run" {
		t.Fatalf("unexpected output: %+v", out)
	}

	p.SetVerifier(fakeVerifier{err: errors.New("subagent failed")})
	if out := p.Execute(context.Background(), Input{Event: Stop}); out != nil {
		t.Fatalf("verifier error must be a no-op, got %+v", out)
	}
}

func TestBackgroundRegistryKillsAtTimeout(t *testing.T) {
	r := NewBackgroundRegistry()
	done := make(chan error, 1)
	_, err := r.Start(context.Background(), "slow", 50*time.Millisecond, func(ctx context.Context) {
		<-ctx.Done()
		done <- ctx.Err()
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task was not killed at timeout")
	}
}

func TestBackgroundRegistryCancelAndClose(t *testing.T) {
	r := NewBackgroundRegistry()
	parent, cancelParent := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	h, _ := r.Start(parent, "bg", time.Minute, func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	})
	cancelParent()
	select {
	case <-stopped:
		t.Fatal("task must be detached from parent cancellation")
	case <-time.After(50 * time.Millisecond):
	}
	if !r.Cancel(h) {
		t.Fatal("Cancel returned false for running task")
	}
	<-stopped

	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := r.Start(context.Background(), "late", time.Second, func(context.Context) {}); !errors.Is(err, ErrRegistryClosed) {
		t.Fatalf("expected ErrRegistryClosed, got %v", err)
	}
}
