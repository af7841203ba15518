package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DenyPatterns contains regex patterns for destructive commands.
var DenyPatterns = []string{
	`\brm\s+(-[rf]+\s+)*[/~]`, // rm with root or home
	`\brm\s+-rf\b`,            // rm -rf anywhere
	`\bgit\s+rm\b`,            // git rm
	`\bfind\b.*\b-delete\b`,   // find -delete
	`\bdd\b.*\bof=/dev/`,      // dd to device
	`\bmkfs\b`,                // filesystem format
	`\bfdisk\b`,               // partition tool
	`>\s*/dev/sd`,             // redirect to disk
	`\bchmod\s+-R\s+777\b`,    // chmod 777 recursive

	`:\(\)\s*\{\s*:\|:&\s*\};:`, // fork bomb
	`\bshutdown\b`,
	`\breboot\b`,
	`\bhalt\b`,
	`\bsystemctl\s+(start|stop|restart|enable|disable)\b`,
}

// ExecTool executes shell commands in the call's working directory.
type ExecTool struct {
	Timeout   time.Duration
	MaxOutput int
	// WorkDir is the default directory. With RestrictToWorkspace set, a
	// working_dir outside it is refused and relative ones resolve under it.
	WorkDir             string
	RestrictToWorkspace bool
	denyRegexes         []*regexp.Regexp
}

// NewExecTool creates an ExecTool with the default deny list.
func NewExecTool(timeout time.Duration) *ExecTool {
	deny := make([]*regexp.Regexp, 0, len(DenyPatterns))
	for _, pattern := range DenyPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			deny = append(deny, re)
		}
	}
	return &ExecTool{Timeout: timeout, MaxOutput: 64 * 1024, denyRegexes: deny}
}

func (t *ExecTool) Name() string { return "exec" }
func (t *ExecTool) Tier() int    { return TierHighRisk }

func (t *ExecTool) Description() string {
	return "Execute a shell command and return its output."
}

func (t *ExecTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command":     map[string]any{"type": "string", "description": "The shell command to execute"},
			"working_dir": map[string]any{"type": "string", "description": "Optional working directory for the command"},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	command := GetString(params, "command", "")
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("command is required")
	}
	for _, re := range t.denyRegexes {
		if re.MatchString(command) {
			return "", fmt.Errorf("command refused by shell guard")
		}
	}

	timeout := t.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir, err := t.workingDir(params)
	if err != nil {
		return "", err
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.WaitDelay = 2 * time.Second
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()

	var result strings.Builder
	result.WriteString(stdout.String())
	if stderr.Len() > 0 {
		if result.Len() > 0 {
			result.WriteString("\n")
		}
		result.WriteString("STDERR:\n")
		result.WriteString(stderr.String())
	}
	out := result.String()
	if t.MaxOutput > 0 && len(out) > t.MaxOutput {
		out = out[:t.MaxOutput] + "\n... [output truncated]"
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("command timed out after %v\n%s", timeout, out)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("exit code %d\n%s", exitErr.ExitCode(), out)
		}
		return "", fmt.Errorf("executing command: %w", err)
	}
	if out == "" {
		return "(no output)", nil
	}
	return out, nil
}

func (t *ExecTool) workingDir(params map[string]any) (string, error) {
	wd := strings.TrimSpace(GetString(params, WorkingDirKey, ""))
	if !t.RestrictToWorkspace || t.WorkDir == "" {
		if wd == "" {
			return t.WorkDir, nil
		}
		return wd, nil
	}
	if wd == "" {
		return t.WorkDir, nil
	}
	if !filepath.IsAbs(wd) {
		wd = filepath.Join(t.WorkDir, wd)
	}
	wd = filepath.Clean(wd)
	if !isWithin(t.WorkDir, wd) {
		return "", fmt.Errorf("working_dir %s is outside the workspace", wd)
	}
	return wd, nil
}
