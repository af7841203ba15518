package config

import (
	"os"
	"path/filepath"
	"testing"
)

// unsetAfter removes keys that an env file may have set during the test.
func unsetAfter(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		_ = os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for _, k := range keys {
			_ = os.Unsetenv(k)
		}
	})
}

func TestLoadEnvFileParsesAndRespectsExistingValues(t *testing.T) {
	tmp := t.TempDir()
	envPath := filepath.Join(tmp, "env")
	content := `
# comment
export AC_FOO=bar
AC_QUOTED="hello world"
AC_SINGLE='x y'
INVALID_LINE
`
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	unsetAfter(t, "AC_QUOTED", "AC_SINGLE")
	t.Setenv("AC_FOO", "existing")

	if err := loadEnvFile(envPath); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv("AC_FOO"); got != "existing" {
		t.Fatalf("expected existing AC_FOO preserved, got %q", got)
	}
	if got := os.Getenv("AC_QUOTED"); got != "hello world" {
		t.Fatalf("expected AC_QUOTED loaded, got %q", got)
	}
	if got := os.Getenv("AC_SINGLE"); got != "x y" {
		t.Fatalf("expected AC_SINGLE loaded, got %q", got)
	}
}

func TestLoadUsesEnvFileCandidate(t *testing.T) {
	home := isolate(t)
	envDir := filepath.Join(home, ".config", "agentcore")
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		t.Fatalf("mkdir env dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(envDir, "env"), []byte("AGENTCORE_CONTEXT_KEEP_RECENT=11\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	unsetAfter(t, "AGENTCORE_CONTEXT_KEEP_RECENT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Context.KeepRecent != 11 {
		t.Fatalf("expected keepRecent from env file, got %d", cfg.Context.KeepRecent)
	}
}
