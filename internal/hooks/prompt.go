package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/KafClaw/agentcore/internal/provider"
)

const verdictSystemPrompt = `You are a policy evaluator for an agent runtime.
Read the policy and the event payload. Reply with a single JSON object and nothing else:
{"ok": true} to allow, or {"ok": false, "reason": "<short reason>"} to refuse.`

// PromptExecutor asks a model to evaluate the handler prompt against the
// event payload. "$ARGUMENTS" in the prompt is replaced by the payload JSON;
// otherwise the payload is appended.
type PromptExecutor struct {
	Provider provider.LLMProvider
	Model    string
}

func (e PromptExecutor) Execute(ctx context.Context, h Handler, in Input) (*Output, error) {
	if e.Provider == nil {
		return nil, fmt.Errorf("prompt hook: no model provider configured")
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal hook input: %w", err)
	}
	prompt := renderPrompt(h.Prompt, payload)

	resp, err := provider.Collect(ctx, e.Provider, &provider.ChatRequest{
		SystemPrompt: verdictSystemPrompt,
		Messages:     []provider.Message{{Role: provider.RoleUser, Content: prompt}},
		Model:        e.Model,
		MaxTokens:    256,
	})
	if err != nil {
		return nil, fmt.Errorf("prompt hook: %w", err)
	}
	ok, reason, err := ParseVerdict(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("prompt hook: %w", err)
	}
	return verdictOutput(in.Event, ok, reason), nil
}

// AgentVerifier runs a verification sub-agent and reports its verdict.
type AgentVerifier interface {
	Verify(ctx context.Context, prompt string, in Input) (ok bool, reason string, err error)
}

// AgentExecutor delegates the verdict to a sub-agent.
type AgentExecutor struct {
	Verifier AgentVerifier
}

func (e AgentExecutor) Execute(ctx context.Context, h Handler, in Input) (*Output, error) {
	if e.Verifier == nil {
		return nil, fmt.Errorf("agent hook: no verifier configured")
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal hook input: %w", err)
	}
	ok, reason, err := e.Verifier.Verify(ctx, renderPrompt(h.Prompt, payload), in)
	if err != nil {
		return nil, fmt.Errorf("agent hook: %w", err)
	}
	return verdictOutput(in.Event, ok, reason), nil
}

func renderPrompt(tmpl string, payload []byte) string {
	if strings.Contains(tmpl, "$ARGUMENTS") {
		return strings.ReplaceAll(tmpl, "$ARGUMENTS", string(payload))
	}
	return tmpl + "\n\nEvent payload:\n" + string(payload)
}

// ParseVerdict extracts {"ok":bool,"reason":string} from model text,
// tolerating code fences and surrounding prose.
func ParseVerdict(text string) (bool, string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return false, "", fmt.Errorf("no JSON verdict in %q", truncate(text, 80))
	}
	var v struct {
		OK     *bool  `json:"ok"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return false, "", fmt.Errorf("parse verdict: %w", err)
	}
	if v.OK == nil {
		return false, "", fmt.Errorf("verdict missing ok field")
	}
	return *v.OK, v.Reason, nil
}

func verdictOutput(event Event, ok bool, reason string) *Output {
	if ok {
		return nil
	}
	if reason == "" {
		reason = "refused by policy evaluator"
	}
	if event == PreToolUse {
		return Deny(reason)
	}
	return Block(reason)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
