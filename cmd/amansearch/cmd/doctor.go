package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amansearch/internal/app"
	"github.com/Aman-CERP/amansearch/internal/async"
	"github.com/Aman-CERP/amansearch/internal/config"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/output"
	"github.com/Aman-CERP/amansearch/internal/preflight"
)

func newDoctorCmd(g *globalOptions) *cobra.Command {
	var (
		jsonOut bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment, configuration, storage and servers",
		Long: `Run the checks that must pass before indexing:

  config            the configuration loads and validates
  data_dir          the data directory is writable
  disk_space        the data directory has room for indexes
  file_descriptors  the open file limit is high enough
  storage           the database opens and datasources load
  server:<id>       each enabled server is available
  index:<id>        each index has no pending items

Exits non-zero when a required check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			report := preflight.NewReport(runDoctor(cmd.Context(), g))
			if jsonOut {
				if err := out.JSON(report); err != nil {
					return err
				}
			} else {
				report.Print(out.Out(), verbose)
			}
			if report.Failed() {
				return amanerrors.New(amanerrors.ErrCodeInternal, "doctor found failing checks", nil).
					WithSuggestion("Run 'amansearch doctor --verbose' for details")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details of each check")
	return cmd
}

// runDoctor runs the configuration and system checks, then, when none
// of them failed, the checks that need an open application.
func runDoctor(ctx context.Context, g *globalOptions) []preflight.Result {
	cfg, path, err := g.loadConfig()
	if err != nil {
		return preflight.Run(ctx, failed("config", err))
	}
	summary := fmt.Sprintf("%d servers, %d indexes, %d datasources", len(cfg.Servers), len(cfg.Indexes), len(cfg.Datasources))
	cfgCheck := found("config", true, preflight.Finding{Status: preflight.StatusPass, Message: path, Details: summary})
	checks := append([]preflight.Check{cfgCheck}, preflight.System(cfg.DataDir)...)
	results := preflight.Run(ctx, checks...)
	if preflight.NewReport(results).Failed() {
		return results
	}
	return append(results, preflight.Run(ctx, appChecks(ctx, cfg, path)...)...)
}

// appChecks opens the application and checks what it built. The App is
// closed before the checks are returned, so they only report captured
// state.
func appChecks(ctx context.Context, cfg *config.Config, path string) []preflight.Check {
	a, err := app.New(ctx, cfg, app.Options{ConfigPath: path, NoTelemetry: true})
	if err != nil {
		return []preflight.Check{failed("storage", err)}
	}
	defer func() { _ = a.Close() }()

	docs := 0
	for _, d := range a.Documents {
		docs += d.Count()
	}
	driver := a.DB.Dialect().Name()
	checks := []preflight.Check{pass("storage", true, fmt.Sprintf("%s, %d items loaded", driver, docs))}
	if async.Interrupted(cfg.DataDir) {
		checks = append(checks, warn("background_indexing", "a background indexing run was interrupted",
			"Run 'amansearch index' to finish it"))
	}

	for _, srv := range a.Manager.Servers() {
		name := "server:" + srv.ID()
		switch {
		case !srv.Status():
			checks = append(checks, warn(name, "disabled", ""))
		case srv.IsAvailable():
			checks = append(checks, pass(name, false, srv.Config().Backend))
		default:
			checks = append(checks, found(name, false, preflight.Fail(srv.Config().Backend+" is unavailable", "Indexes on this server cannot be searched")))
		}
	}

	for _, idx := range a.Manager.Indexes() {
		name := "index:" + idx.ID()
		st, err := a.IndexStatus(ctx, idx)
		switch {
		case err != nil:
			checks = append(checks, failed(name, err))
		case !st.Enabled:
			checks = append(checks, warn(name, "disabled", ""))
		case st.Remaining() > 0:
			checks = append(checks, warn(name, fmt.Sprintf("%d of %d items pending", st.Remaining(), st.Total),
				"Run 'amansearch index -i "+idx.ID()+"'"))
		default:
			checks = append(checks, pass(name, false, fmt.Sprintf("%d items indexed", st.Indexed)))
		}
	}
	return checks
}

// found wraps an already known finding as a check.
func found(name string, required bool, f preflight.Finding) preflight.Check {
	return preflight.Check{Name: name, Required: required, Run: func(context.Context) preflight.Finding { return f }}
}

func pass(name string, required bool, msg string) preflight.Check {
	return found(name, required, preflight.Pass(msg))
}

func warn(name, msg, details string) preflight.Check {
	return found(name, false, preflight.Warn(msg, details))
}

func failed(name string, err error) preflight.Check {
	details := ""
	if ae, ok := amanerrors.As(err); ok {
		details = ae.Suggestion
	}
	return found(name, true, preflight.Fail(strings.TrimSpace(err.Error()), details))
}
