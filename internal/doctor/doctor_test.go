package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/KafClaw/agentcore/internal/timeline"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("AGENTCORE_HOME", home)
	t.Setenv("AGENTCORE_CONFIG", "")
	t.Setenv("AGENTCORE_ENV_FILE", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	return home
}

func writeConfig(t *testing.T, home, body string) {
	t.Helper()
	dir := filepath.Join(home, ".agentcore")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func find(r Report, name string) (Check, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

func TestRunWithMissingConfigWarnsNoFailure(t *testing.T) {
	isolate(t)
	report := Run(context.Background(), Options{})
	if report.HasFailures() {
		t.Fatalf("expected no failures with missing config, got %#v", report)
	}
	if c, ok := find(report, "config_file"); !ok || c.Status != Warn {
		t.Fatalf("expected config_file warning, got %#v", c)
	}
	if c, ok := find(report, "api_key"); !ok || c.Status != Warn {
		t.Fatalf("expected api_key warning, got %#v", c)
	}
}

func TestRunWithInvalidConfigFails(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, `{"model":`)
	report := Run(context.Background(), Options{})
	if !report.HasFailures() {
		t.Fatalf("expected failures for invalid config, got %#v", report)
	}
	if _, ok := find(report, "timeline"); ok {
		t.Fatal("expected checks to stop after config load failure")
	}
}

func TestRunFixWritesConfigAndDirs(t *testing.T) {
	home := isolate(t)
	report := Run(context.Background(), Options{Fix: true})
	if report.HasFailures() {
		t.Fatalf("unexpected failures: %#v", report)
	}
	if _, err := os.Stat(filepath.Join(home, ".agentcore", "config.json")); err != nil {
		t.Fatalf("expected config written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, ".agentcore", "sessions")); err != nil {
		t.Fatalf("expected sessions dir created: %v", err)
	}
	if c, _ := find(report, "sessions_dir"); c.Status != Pass {
		t.Fatalf("expected sessions_dir pass, got %#v", c)
	}
}

func TestRunReportsInvalidHooks(t *testing.T) {
	home := isolate(t)
	hooksPath := filepath.Join(home, "hooks.yaml")
	if err := os.WriteFile(hooksPath, []byte("hooks:\n  Nope:\n    - hooks: []\n"), 0o600); err != nil {
		t.Fatalf("write hooks: %v", err)
	}
	writeConfig(t, home, `{"hooks":{"file":"`+hooksPath+`"}}`)
	report := Run(context.Background(), Options{})
	if c, _ := find(report, "hooks"); c.Status != Fail {
		t.Fatalf("expected hooks failure, got %#v", c)
	}
}

func TestRunWarnsOnFailedSchedules(t *testing.T) {
	home := isolate(t)
	dbDir := filepath.Join(home, ".agentcore")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	store, err := timeline.NewTimelineService(filepath.Join(dbDir, "timeline.db"))
	if err != nil {
		t.Fatalf("open timeline: %v", err)
	}
	sc := &timeline.ScheduledCommand{Command: "report", Kind: timeline.ScheduleOnce, Status: timeline.StatusError}
	if err := store.CreateSchedule(context.Background(), sc); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	_ = store.Close()

	report := Run(context.Background(), Options{})
	if c, _ := find(report, "timeline"); c.Status != Pass {
		t.Fatalf("expected timeline pass, got %#v", c)
	}
	if c, ok := find(report, "schedules"); !ok || c.Status != Warn {
		t.Fatalf("expected schedules warning, got %#v", c)
	}
}

func TestRunRejectsBadKafkaSecurity(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, `{"events":{"kafkaBrokers":"localhost:9092","kafkaSecurityProtocol":"SASL_SSL"}}`)
	report := Run(context.Background(), Options{})
	if c, _ := find(report, "kafka"); c.Status != Fail {
		t.Fatalf("expected kafka failure for SASL without mechanism, got %#v", c)
	}
}
