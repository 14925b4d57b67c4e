package cmd

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amansearch/internal/logging"
)

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	since   time.Duration
	logFile string
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View the amansearch log",
		Long: `Show the last lines of the log file, optionally filtered by level or
pattern. With -f, new entries are printed as they are written.

Examples:
  amansearch logs
  amansearch logs -f --level warn
  amansearch logs --filter "index_(started|complete)"
  amansearch logs --since 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd.Context(), cmd, opts)
		},
	}
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow new log entries")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of entries to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Only entries matching this regular expression")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "Only entries newer than this (e.g. 30m, 2h)")
	cmd.Flags().StringVar(&opts.logFile, "file", "", "Log file (default: ~/.amansearch/logs/amansearch.log)")
	return cmd
}

func runLogs(ctx context.Context, cmd *cobra.Command, opts logsOptions) error {
	path, err := logging.FindLogFile(opts.logFile)
	if err != nil {
		return err
	}
	var pattern *regexp.Regexp
	if opts.filter != "" {
		if pattern, err = regexp.Compile(opts.filter); err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
	}
	filter := logging.Filter{Level: opts.level, Pattern: pattern}
	if opts.since > 0 {
		filter.Since = time.Now().Add(-opts.since)
	}
	viewer := logging.NewViewer(filter, cmd.OutOrStdout())

	entries, err := viewer.Tail(path, opts.lines)
	if err != nil {
		return err
	}
	viewer.Print(entries...)
	if !opts.follow {
		return nil
	}

	ch := make(chan logging.Entry, 100)
	errCh := make(chan error, 1)
	go func() { errCh <- viewer.Follow(ctx, path, ch) }()
	for {
		select {
		case e := <-ch:
			viewer.Print(e)
		case err := <-errCh:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case <-ctx.Done():
			return nil
		}
	}
}
