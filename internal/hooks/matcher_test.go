package hooks

import "testing"

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern, value string
		want           bool
	}{
		{"", "anything", true},
		{"*", "anything", true},
		{"exec", "exec", true},
		{"exec", "exec_remote", false},
		{"exec|write_file", "write_file", true},
		{"mcp__.*", "mcp__github__search", true},
		{"read", "read_file", false},
		{"[bad", "[bad", true},
		{"[bad", "bad", false},
	}
	for _, tt := range tests {
		if got := MatchPattern(tt.pattern, tt.value); got != tt.want {
			t.Errorf("MatchPattern(%q, %q) = %v, want %v", tt.pattern, tt.value, got, tt.want)
		}
	}
}

func TestDiscriminatorPerEvent(t *testing.T) {
	cases := []struct {
		in   Input
		want string
		ok   bool
	}{
		{Input{Event: PreToolUse, ToolName: "exec"}, "exec", true},
		{Input{Event: PostToolUseFailure, ToolName: "exec"}, "exec", true},
		{Input{Event: SessionStart, Source: "resume"}, "resume", true},
		{Input{Event: SessionEnd, Reason: "exit"}, "exit", true},
		{Input{Event: PreCompact, Trigger: "manual"}, "manual", true},
		{Input{Event: SubagentStop, AgentType: "researcher"}, "researcher", true},
		{Input{Event: UserPromptSubmit, Prompt: "x"}, "", false},
	}
	for _, c := range cases {
		got, ok := c.in.Discriminator()
		if got != c.want || ok != c.ok {
			t.Errorf("%s: got (%q,%v), want (%q,%v)", c.in.Event, got, ok, c.want, c.ok)
		}
	}
}

func TestMatcherIgnoredForEventsWithoutDiscriminator(t *testing.T) {
	m := Matcher{Matcher: "never"}
	if !m.matches(Input{Event: Stop}) {
		t.Fatal("Stop has no discriminator; matcher pattern must be ignored")
	}
	if m.matches(Input{Event: PreToolUse, ToolName: "exec"}) {
		t.Fatal("pattern should filter tool events")
	}
}
