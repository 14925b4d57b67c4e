package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amansearch/internal/app"
	"github.com/Aman-CERP/amansearch/internal/daemon"
	"github.com/Aman-CERP/amansearch/internal/logging"
	"github.com/Aman-CERP/amansearch/internal/output"
)

const (
	daemonStartTimeout = 10 * time.Second
	daemonStopTimeout  = 5 * time.Second
)

func newDaemonCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background daemon",
		Long: `The daemon keeps the indexes open, indexes on a schedule, reloads
datasource files when they change and answers CLI searches over a local
socket.

Examples:
  amansearch daemon start      # start in the background
  amansearch daemon start -f   # run in the foreground
  amansearch daemon status
  amansearch daemon stop`,
	}
	cmd.AddCommand(newDaemonStartCmd(g), newDaemonStopCmd(g), newDaemonStatusCmd(g))
	return cmd
}

func newDaemonStartCmd(g *globalOptions) *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStart(cmd.Context(), cmd, g, foreground)
		},
	}
	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in the foreground")
	return cmd
}

func runDaemonStart(ctx context.Context, cmd *cobra.Command, g *globalOptions, foreground bool) error {
	out := output.New(cmd.OutOrStdout())
	cfg, path, err := g.loadConfig()
	if err != nil {
		return err
	}
	dcfg := daemon.FromConfig(cfg)
	client := daemon.NewClient(dcfg)
	if client.IsRunning() {
		out.Status("", "Daemon is already running")
		return nil
	}

	if foreground {
		logCfg := cfg.Logging
		if logCfg.File == "" {
			logCfg.File = logging.DefaultLogPath()
		}
		logCfg.Stderr = true
		if logger, cleanup, err := logging.Setup(logCfg); err == nil {
			slog.SetDefault(logger)
			defer cleanup()
		}
		out.Status("", "Starting daemon in the foreground")
		out.KeyValue("Socket", dcfg.SocketPath)
		out.KeyValue("Schedule", scheduleLabel(dcfg.Schedule))
		out.KeyValue("Logs", logCfg.File)
		out.Status("", "Press Ctrl+C to stop")

		return g.withApp(ctx, app.Options{}, func(a *app.App) error {
			d, err := daemon.NewDaemon(dcfg, a, daemon.WithLogger(slog.Default()))
			if err != nil {
				return err
			}
			return d.Start(ctx)
		})
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	bg := exec.Command(execPath, "--config", path, "daemon", "start", "--foreground")
	bg.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := bg.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- bg.Wait() }()

	deadline := time.After(daemonStartTimeout)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon exited during startup: %w", err)
			}
			return errors.New("daemon exited during startup")
		case <-deadline:
			return errors.New("daemon did not become ready in time")
		case <-tick.C:
			if client.IsRunning() {
				out.Successf("Daemon started (pid: %d)", bg.Process.Pid)
				return nil
			}
		}
	}
}

func scheduleLabel(spec string) string {
	if spec == "" {
		return "disabled"
	}
	return spec
}

func newDaemonStopCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			cfg, _, err := g.loadConfig()
			if err != nil {
				return err
			}
			pidPath := daemon.FromConfig(cfg).PIDPath
			pid, ok := daemon.RunningPID(pidPath)
			if !ok {
				out.Status("", "Daemon is not running")
				_ = os.Remove(pidPath)
				return nil
			}
			killed, err := daemon.Terminate(cmd.Context(), pid, daemonStopTimeout)
			if err != nil {
				return fmt.Errorf("failed to stop daemon: %w", err)
			}
			if killed {
				_ = os.Remove(pidPath)
				out.Warningf("Daemon did not stop in %s and was killed (was pid: %d)", daemonStopTimeout, pid)
				return nil
			}
			out.Successf("Daemon stopped (was pid: %d)", pid)
			return nil
		},
	}
}

func newDaemonStatusCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout()).WithColor(!g.noColor)
			cfg, _, err := g.loadConfig()
			if err != nil {
				return err
			}
			dcfg := daemon.FromConfig(cfg)
			client := daemon.NewClient(dcfg)
			if !client.IsRunning() {
				if jsonOutput {
					return out.JSON(daemon.StatusResult{Running: false})
				}
				out.Status("", "Daemon is not running")
				out.Status("", "Run 'amansearch daemon start' to start it")
				return nil
			}
			st, err := client.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			if jsonOutput {
				return out.JSON(st)
			}
			out.Status("", "Daemon is running")
			out.KeyValue("PID", st.PID)
			out.KeyValue("Uptime", st.Uptime)
			out.KeyValue("Socket", dcfg.SocketPath)
			out.KeyValue("Watcher", st.Watcher)
			out.KeyValue("Schedule", scheduleLabel(st.Schedule))
			if st.NextRun != "" {
				out.KeyValue("Next run", st.NextRun)
			}
			if st.LastCheck != "" {
				out.KeyValue("Last check", st.LastCheck)
			}
			rows := make([][]string, 0, len(st.Indexes))
			for _, idx := range st.Indexes {
				rows = append(rows, []string{idx.ID, idx.Server, idx.Status,
					fmt.Sprint(idx.Indexed), fmt.Sprint(idx.Total), fmt.Sprint(idx.Remaining)})
			}
			out.Newline()
			out.Table([]string{"INDEX", "SERVER", "STATUS", "INDEXED", "TOTAL", "REMAINING"}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
