package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Executor runs one handler variant.
type Executor interface {
	Execute(ctx context.Context, h Handler, in Input) (*Output, error)
}

// CommandExecutor runs a shell command with the event payload on stdin.
// Exit 0 parses stdout as a JSON verdict (plain text becomes additional
// context), exit 2 blocks with stderr as the reason, any other exit code is
// a no-op.
type CommandExecutor struct {
	Shell string
}

func (e CommandExecutor) Execute(ctx context.Context, h Handler, in Input) (*Output, error) {
	if strings.TrimSpace(h.Command) == "" {
		return nil, fmt.Errorf("command hook has no command")
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal hook input: %w", err)
	}

	shell := e.Shell
	if shell == "" {
		shell = "sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", h.Command)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.WaitDelay = 2 * time.Second
	if in.Cwd != "" {
		cmd.Dir = in.Cwd
	}
	cmd.Env = append(os.Environ(),
		"AGENTCORE_HOOK_EVENT="+string(in.Event),
		"AGENTCORE_SESSION_ID="+in.SessionID,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("hook command %q: %w", h.Command, ctx.Err())
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			if exitErr.ExitCode() == 2 {
				reason := strings.TrimSpace(stderr.String())
				if reason == "" {
					reason = "blocked by hook command"
				}
				return Block(reason), nil
			}
			return nil, nil
		}
		return nil, fmt.Errorf("run hook command %q: %w", h.Command, runErr)
	}
	return parseCommandOutput(stdout.Bytes()), nil
}

type commandOutput struct {
	Output
	// Decision "block" with Reason is the short form of continue:false.
	Decision           string `json:"decision,omitempty"`
	Reason             string `json:"reason,omitempty"`
	HookSpecificOutput *struct {
		PermissionDecision       Decision       `json:"permissionDecision,omitempty"`
		PermissionDecisionReason string         `json:"permissionDecisionReason,omitempty"`
		UpdatedInput             map[string]any `json:"updatedInput,omitempty"`
		AdditionalContext        string         `json:"additionalContext,omitempty"`
	} `json:"hookSpecificOutput,omitempty"`
}

func parseCommandOutput(raw []byte) *Output {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil
	}
	if !strings.HasPrefix(text, "{") {
		return &Output{AdditionalContext: text}
	}
	var co commandOutput
	if err := json.Unmarshal([]byte(text), &co); err != nil {
		return &Output{AdditionalContext: text}
	}
	out := co.Output
	if strings.EqualFold(co.Decision, "block") {
		f := false
		out.Continue = &f
		if out.StopReason == "" {
			out.StopReason = co.Reason
		}
	}
	if hs := co.HookSpecificOutput; hs != nil {
		if hs.PermissionDecision != "" {
			out.PermissionDecision = hs.PermissionDecision
			out.PermissionDecisionReason = hs.PermissionDecisionReason
		}
		if len(hs.UpdatedInput) > 0 {
			out.UpdatedInput = hs.UpdatedInput
		}
		if hs.AdditionalContext != "" {
			out.AdditionalContext = hs.AdditionalContext
		}
	}
	switch out.PermissionDecision {
	case "", DecisionAllow, DecisionDeny, DecisionAsk:
	default:
		out.PermissionDecision = ""
	}
	if out.empty() {
		return nil
	}
	return &out
}
