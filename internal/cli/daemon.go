package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/KafClaw/agentcore/internal/config"
	"github.com/spf13/cobra"
)

var daemonSessionID string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled commands unattended until interrupted",
	Long: "Starts an agent session that only runs due scheduled commands. Several daemons may\n" +
		"share one timeline database; each schedule is claimed by one of them at a time.",
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVarP(&daemonSessionID, "session", "s", "daemon:default", "Session ID the schedules run in")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.Scheduler.Enabled {
		return fmt.Errorf("scheduler is disabled (scheduler.enabled=false)")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, daemonSessionID)
	if err != nil {
		return err
	}
	defer rt.close(context.WithoutCancel(ctx))

	out := cmd.OutOrStdout()
	printHeader(out, "agentcore daemon")
	fmt.Fprintf(out, "Session:   %s\n", daemonSessionID)
	fmt.Fprintf(out, "Database:  %s\n", cfg.Paths.DBPath)
	fmt.Fprintf(out, "Heartbeat: %s\n", cfg.Scheduler.Heartbeat)

	slog.Info("Daemon started", "session", daemonSessionID, "owner", rt.coord.Owner())
	rt.startCoordinator(ctx)
	<-ctx.Done()
	rt.loop.Stop()
	slog.Info("Daemon stopping")
	return nil
}
