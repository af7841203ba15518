package contextwindow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/KafClaw/agentcore/internal/provider"
)

type fakeStrategy struct {
	summary string
	err     error
	calls   int
	got     []provider.Message
}

func (f *fakeStrategy) Name() string { return "fake" }

func (f *fakeStrategy) Summarize(_ context.Context, msgs []provider.Message) (string, error) {
	f.calls++
	f.got = msgs
	return f.summary, f.err
}

func filler(n int) string { return strings.Repeat("x", n) }

// history builds: system, then n user/assistant exchanges, each exchange
// being user text, assistant tool call, user tool result, assistant text.
func history(n int, size int) []provider.Message {
	msgs := []provider.Message{{Role: provider.RoleSystem, Content: "you are helpful"}}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("call-%d", i)
		msgs = append(msgs,
			provider.Message{Role: provider.RoleUser, Content: filler(size)},
			provider.Message{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{{ID: id, Name: "exec", Arguments: map[string]any{"command": "ls"}}}},
			provider.Message{Role: provider.RoleUser, ToolResults: []provider.ToolResult{{ToolCallID: id, Content: filler(size), ToolName: "exec"}}},
			provider.Message{Role: provider.RoleAssistant, Content: filler(size)},
		)
	}
	return msgs
}

func smallConfig() Config {
	return Config{MaxTokens: 1000, TargetTokens: 600, TriggerRatio: 0.8, KeepRecent: 4}
}

func TestThresholdIsMinOfRatioAndTarget(t *testing.T) {
	m := New(Config{MaxTokens: 1000, TargetTokens: 900, TriggerRatio: 0.5, KeepRecent: 2}, nil)
	if m.Threshold() != 500 {
		t.Fatalf("threshold = %d, want 500", m.Threshold())
	}
	m = New(smallConfig(), nil)
	if m.Threshold() != 600 {
		t.Fatalf("threshold = %d, want 600", m.Threshold())
	}
}

func TestBelowThresholdIsIdempotent(t *testing.T) {
	strat := &fakeStrategy{summary: "s"}
	m := New(smallConfig(), strat)
	msgs := history(1, 10)

	res := m.ProcessMessages(context.Background(), msgs)
	if res.Summarized || res.TokensBefore != res.TokensAfter {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !reflect.DeepEqual(res.Messages, msgs) {
		t.Fatal("messages changed below threshold")
	}
	if strat.calls != 0 {
		t.Fatal("strategy must not run below threshold")
	}
}

func TestCompactionLayoutAndCounters(t *testing.T) {
	strat := &fakeStrategy{summary: "earlier work"}
	m := New(smallConfig(), strat)
	msgs := history(6, 200)

	res := m.ProcessMessages(context.Background(), msgs)
	if !res.Summarized {
		t.Fatalf("expected compaction, tokens=%d", res.TokensBefore)
	}
	if res.TokensAfter >= res.TokensBefore {
		t.Fatalf("tokens did not shrink: %d -> %d", res.TokensBefore, res.TokensAfter)
	}
	out := res.Messages
	if out[0].Role != provider.RoleSystem || out[0].Summary {
		t.Fatalf("first message should be the original system prompt: %+v", out[0])
	}
	if !out[1].Summary || !strings.HasPrefix(out[1].Content, SummaryPrefix) {
		t.Fatalf("second message should be the summary: %+v", out[1])
	}
	if len(out) != 2+4 {
		t.Fatalf("expected system+summary+4 tail, got %d", len(out))
	}
	if res.SummarizedCount != len(msgs)-1-4 {
		t.Fatalf("summarized count = %d", res.SummarizedCount)
	}
	st := m.State()
	if st.SummaryCount != 1 || st.LastTokensBefore != res.TokensBefore || st.LastTokensAfter != res.TokensAfter || st.LastSummaryAt.IsZero() {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestTailWidenedToKeepToolPairs(t *testing.T) {
	strat := &fakeStrategy{summary: "s"}
	cfg := smallConfig()
	cfg.KeepRecent = 2 // would start at the tool result of the last exchange
	m := New(cfg, strat)

	res := m.ProcessMessages(context.Background(), history(6, 200))
	if !res.Summarized {
		t.Fatal("expected compaction")
	}
	tail := res.Messages[2:]
	if len(tail) != 3 {
		t.Fatalf("expected tail widened to 3, got %d", len(tail))
	}
	if len(tail[0].ToolCalls) == 0 {
		t.Fatalf("tail should begin with the tool call: %+v", tail[0])
	}
}

func TestNoOrphanedResultsAfterEviction(t *testing.T) {
	for keep := 1; keep <= 8; keep++ {
		cfg := smallConfig()
		cfg.KeepRecent = keep
		m := New(cfg, &fakeStrategy{summary: "s"})
		res := m.ProcessMessages(context.Background(), history(6, 200))
		seen := map[string]bool{}
		for _, msg := range res.Messages {
			if msg.Role == provider.RoleSystem {
				continue
			}
			for _, tc := range msg.ToolCalls {
				seen[tc.ID] = true
			}
			for _, tr := range msg.ToolResults {
				if !seen[tr.ToolCallID] {
					t.Fatalf("keep=%d: orphaned result %s", keep, tr.ToolCallID)
				}
			}
		}
	}
}

func TestSummaryFailureLeavesWindowUnchanged(t *testing.T) {
	for name, strat := range map[string]*fakeStrategy{
		"error": {err: errors.New("model down")},
		"empty": {summary: ""},
	} {
		m := New(smallConfig(), strat)
		msgs := history(6, 200)
		res := m.ProcessMessages(context.Background(), msgs)
		if res.Summarized || !reflect.DeepEqual(res.Messages, msgs) || res.TokensBefore != res.TokensAfter {
			t.Fatalf("%s: expected unchanged window, got %+v", name, res.Summarized)
		}
		if m.State().SummaryCount != 0 {
			t.Fatalf("%s: counters must not move on failure", name)
		}
	}
}

func TestPriorSummariesAreResummarized(t *testing.T) {
	strat := &fakeStrategy{summary: "second"}
	m := New(smallConfig(), strat)
	msgs := history(6, 200)
	msgs = append(msgs[:1], append([]provider.Message{{Role: provider.RoleSystem, Summary: true, Content: SummaryPrefix + "first"}}, msgs[1:]...)...)

	res := m.ProcessMessages(context.Background(), msgs)
	if !res.Summarized {
		t.Fatal("expected compaction")
	}
	summaries := 0
	for _, msg := range res.Messages {
		if msg.Summary {
			summaries++
		}
	}
	if summaries != 1 {
		t.Fatalf("expected exactly one summary, got %d", summaries)
	}
	if !strat.got[0].Summary {
		t.Fatal("prior summary should be fed to the strategy first")
	}
}

func TestGateCanSkipAndForceIgnoresThreshold(t *testing.T) {
	strat := &fakeStrategy{summary: "s"}
	m := New(smallConfig(), strat)
	var triggers []string
	allow := false
	m.SetGate(func(_ context.Context, trigger string) bool {
		triggers = append(triggers, trigger)
		return allow
	})

	res := m.ProcessMessages(context.Background(), history(6, 200))
	if res.Summarized || strat.calls != 0 {
		t.Fatal("gate should have skipped compaction")
	}
	allow = true
	res = m.Force(context.Background(), history(3, 10))
	if !res.Summarized {
		t.Fatal("Force should compact below threshold")
	}
	if len(triggers) != 2 || triggers[0] != TriggerAuto || triggers[1] != TriggerManual {
		t.Fatalf("unexpected triggers: %v", triggers)
	}
}
