package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/KafClaw/agentcore/internal/agent"
	"github.com/KafClaw/agentcore/internal/bus"
	"github.com/KafClaw/agentcore/internal/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	agentMessage   string
	agentSessionID string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Chat with the agent in the terminal",
	Long:  "Send one message with -m, or start an interactive session when no message is given.",
	RunE:  runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentMessage, "message", "m", "", "Message to send to the agent")
	agentCmd.Flags().StringVarP(&agentSessionID, "session", "s", "cli:default", "Session ID")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := newRuntime(ctx, cfg, agentSessionID)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	printer := &streamPrinter{w: out, session: agentSessionID}
	unsubscribe := rt.events.Subscribe(printer.handle)
	defer unsubscribe()

	// Ctrl-C stops a running turn; a second one while idle leaves.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				if rt.loop.IsRunning() {
					rt.loop.Stop()
					continue
				}
				cancel()
				return
			}
		}
	}()

	if agentMessage != "" {
		res, err := rt.loop.Process(ctx, agentMessage)
		printer.finish(res)
		return err
	}

	printHeader(out, fmt.Sprintf("agentcore (%s) session %s", cfg.Model.Name, agentSessionID))
	fmt.Fprintln(out, "Type /help for commands, /exit to leave.")
	rt.startCoordinator(ctx)
	return repl(ctx, cmd.InOrStdin(), out, rt.loop, printer)
}

// repl feeds lines from in to the loop until EOF, /exit or ctx ends.
func repl(ctx context.Context, in io.Reader, out io.Writer, loop *agent.Loop, printer *streamPrinter) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, color.CyanString("› "))
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		res, err := loop.Process(ctx, line)
		if errors.Is(err, agent.ErrAlreadyRunning) {
			fmt.Fprintln(out, color.YellowString("A scheduled command is running, try again shortly."))
			continue
		}
		printer.finish(res)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(out, color.RedString("Error: %v", err))
			continue
		}
		if res.Clear {
			fmt.Fprintln(out, color.HiBlackString("(conversation cleared)"))
		}
		if res.Exit {
			return nil
		}
	}
}

// streamPrinter writes streamed text and tool activity for one session.
type streamPrinter struct {
	w       io.Writer
	session string
	// streamed is set once any text of the current run was printed;
	// midLine while the cursor sits after streamed text.
	streamed atomic.Bool
	midLine  atomic.Bool
}

func (p *streamPrinter) handle(evt bus.Event) {
	if evt.SessionID != p.session {
		return
	}
	switch evt.Type {
	case bus.EventText:
		p.streamed.Store(true)
		p.midLine.Store(true)
		fmt.Fprint(p.w, evt.Text)
	case bus.EventToolCall:
		p.breakLine()
		fmt.Fprintln(p.w, color.HiBlackString("  → %s", evt.ToolName))
	case bus.EventToolResult:
		if evt.IsError {
			fmt.Fprintln(p.w, color.RedString("  ✗ %s %s", evt.ToolName, shorten(evt.Reason, 120)))
		}
	case bus.EventCompacted:
		p.breakLine()
		fmt.Fprintln(p.w, color.HiBlackString("  (context compacted)"))
	}
}

func (p *streamPrinter) breakLine() {
	if p.midLine.Swap(false) {
		fmt.Fprintln(p.w)
	}
}

// finish prints what streaming did not already show and the run outcome
// when it was not a plain completion.
func (p *streamPrinter) finish(res *agent.RunResult) {
	p.breakLine()
	streamed := p.streamed.Swap(false)
	if res == nil {
		return
	}
	if !streamed && res.Output != "" {
		fmt.Fprintln(p.w, res.Output)
	}
	if res.Outcome != agent.OutcomeCompleted && res.Outcome != agent.OutcomeCommand {
		fmt.Fprintf(p.w, "[%s] %s\n", outcomeColor(res.Outcome), res.Reason)
	}
}
