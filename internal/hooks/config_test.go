package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
hooks:
  PreToolUse:
    - matcher: "exec|write_file"
      hooks:
        - type: command
          command: ./guard.sh
          timeout: 10
        - type: prompt
          prompt: "Refuse anything touching /etc. $ARGUMENTS"
          enabled: false
  Stop:
    - hooks:
        - type: command
          command: notify-send done
          async: true
`

func TestParseConfig(t *testing.T) {
	m, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	pre := m[PreToolUse]
	if len(pre) != 1 || len(pre[0].Hooks) != 2 {
		t.Fatalf("unexpected PreToolUse matchers: %+v", pre)
	}
	if pre[0].Hooks[0].Kind != KindCommand || pre[0].Hooks[0].Timeout != 10 {
		t.Fatalf("unexpected first handler: %+v", pre[0].Hooks[0])
	}
	if pre[0].Hooks[1].Kind != KindPrompt || pre[0].Hooks[1].IsEnabled() {
		t.Fatalf("unexpected second handler: %+v", pre[0].Hooks[1])
	}
	if !m[Stop][0].Hooks[0].Async {
		t.Fatal("expected async Stop handler")
	}
}

func TestParseConfigRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown event": "hooks:\n  Nope:\n    - hooks: []\n",
		"unknown type":  "hooks:\n  Stop:\n    - hooks:\n        - type: webhook\n",
		"no command":    "hooks:\n  Stop:\n    - hooks:\n        - type: command\n",
		"no prompt":     "hooks:\n  Stop:\n    - hooks:\n        - type: agent\n",
	}
	for name, doc := range cases {
		if _, err := ParseConfig([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadConfigMissingFileIsEmpty(t *testing.T) {
	m, err := LoadConfig(filepath.Join(t.TempDir(), "hooks.yaml"))
	if err != nil || len(m) != 0 {
		t.Fatalf("expected empty config, got %v, %v", m, err)
	}
}

func TestWatchReloadsMatchers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hooks.yaml")
	if err := os.WriteFile(path, []byte("hooks: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := NewPipeline(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := Watch(ctx, path, p); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(p.Matchers(PreToolUse)) == 1 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("matchers were not reloaded")
}
