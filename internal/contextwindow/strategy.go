package contextwindow

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/KafClaw/agentcore/internal/provider"
)

const summaryInstructions = `Summarize the following conversation so the assistant can continue the work.
Preserve decisions, open tasks, file paths, commands and their outcomes, and unresolved errors.
Keep the summary under 800 words. Reply with the summary only.`

// maxExcerpt bounds how much of one message goes into the transcript.
const maxExcerpt = 2000

// TextStrategy asks the model for a plain prose summary.
type TextStrategy struct {
	Provider  provider.LLMProvider
	Model     string
	MaxTokens int
}

func (s TextStrategy) Name() string { return "text" }

func (s TextStrategy) Summarize(ctx context.Context, msgs []provider.Message) (string, error) {
	if s.Provider == nil {
		return "", fmt.Errorf("no model provider for summarization")
	}
	maxTokens := s.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	resp, err := provider.Collect(ctx, s.Provider, &provider.ChatRequest{
		SystemPrompt: summaryInstructions,
		Messages:     []provider.Message{{Role: provider.RoleUser, Content: Transcript(msgs)}},
		Model:        s.Model,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// Transcript renders messages as plain text for a summarizer.
func Transcript(msgs []provider.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		if m.Content != "" {
			fmt.Fprintf(&sb, "[%s] %s\n\n", m.Role, excerpt(m.Content))
		}
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&sb, "[tool call %s] %v\n\n", tc.Name, tc.Arguments)
		}
		for _, tr := range m.ToolResults {
			status := "ok"
			if tr.IsError {
				status = "error"
			}
			fmt.Fprintf(&sb, "[tool result %s, %s] %s\n\n", tr.ToolName, status, excerpt(tr.Content))
		}
	}
	return sb.String()
}

func excerpt(s string) string {
	if len(s) <= maxExcerpt {
		return s
	}
	return cutRunes(s, maxExcerpt) + "... [truncated]"
}

// cutRunes returns at most n bytes of s without splitting a UTF-8 sequence.
func cutRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// HybridStrategy prefixes the text summary with facts extracted from the
// messages: referenced files, shell commands, tools used and error lines.
// When the model produces nothing, the extracted sections alone are the
// summary.
type HybridStrategy struct {
	Text TextStrategy
}

func (s HybridStrategy) Name() string { return "hybrid" }

func (s HybridStrategy) Summarize(ctx context.Context, msgs []provider.Message) (string, error) {
	facts := Extract(msgs)
	preamble := facts.Render()

	text, err := s.Text.Summarize(ctx, msgs)
	if err != nil || text == "" {
		if preamble == "" {
			if err == nil {
				err = fmt.Errorf("empty summary")
			}
			return "", err
		}
		return preamble, nil
	}
	if preamble == "" {
		return text, nil
	}
	return preamble + "\n" + text, nil
}

// Facts are the structured sections of a hybrid summary.
type Facts struct {
	Files    []string
	Commands []string
	Tools    []string
	Errors   []string
}

var (
	pathPattern  = regexp.MustCompile(`(?:^|[\s"'(=])((?:~|\.{1,2})?/?(?:[\w.-]+/)+[\w.-]+\.[A-Za-z0-9]{1,8})\b`)
	errorPattern = regexp.MustCompile(`(?i)\b(error|exception|panic|failed|fatal)\b`)
)

const maxFactsPerSection = 20

// Extract collects facts from messages in first-seen order.
func Extract(msgs []provider.Message) Facts {
	files := newOrderedSet()
	commands := newOrderedSet()
	toolNames := newOrderedSet()
	errs := newOrderedSet()

	scanText := func(s string) {
		for _, m := range pathPattern.FindAllStringSubmatch(s, -1) {
			files.add(m[1])
		}
	}
	for _, msg := range msgs {
		scanText(msg.Content)
		for _, tc := range msg.ToolCalls {
			toolNames.add(tc.Name)
			for _, key := range []string{"path", "file", "file_path"} {
				if p, ok := tc.Arguments[key].(string); ok && p != "" {
					files.add(p)
				}
			}
			if cmd, ok := tc.Arguments["command"].(string); ok && cmd != "" {
				commands.add(strings.TrimSpace(cmd))
			}
		}
		for _, tr := range msg.ToolResults {
			scanText(tr.Content)
			if tr.IsError {
				errs.add(firstLine(tr.Content))
				continue
			}
			for _, line := range strings.Split(tr.Content, "\n") {
				if errorPattern.MatchString(line) {
					errs.add(strings.TrimSpace(line))
				}
			}
		}
	}
	return Facts{
		Files:    files.items(),
		Commands: commands.items(),
		Tools:    sortedCopy(toolNames.items()),
		Errors:   errs.items(),
	}
}

// Render formats the non-empty sections as markdown.
func (f Facts) Render() string {
	var sb strings.Builder
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&sb, "## %s\n", title)
		for _, it := range items {
			fmt.Fprintf(&sb, "- %s\n", it)
		}
	}
	section("Files referenced", f.Files)
	section("Commands run", f.Commands)
	section("Tools used", f.Tools)
	section("Errors", f.Errors)
	return sb.String()
}

type orderedSet struct {
	seen  map[string]bool
	order []string
}

func newOrderedSet() *orderedSet { return &orderedSet{seen: map[string]bool{}} }

func (s *orderedSet) add(v string) {
	v = strings.TrimSpace(v)
	if len(v) > 200 {
		v = cutRunes(v, 200) + "..."
	}
	if v == "" || s.seen[v] || len(s.order) >= maxFactsPerSection {
		return
	}
	s.seen[v] = true
	s.order = append(s.order, v)
}

func (s *orderedSet) items() []string { return s.order }

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
