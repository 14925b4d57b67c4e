// Package cmd implements the amansearch commands.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amansearch/internal/app"
	"github.com/Aman-CERP/amansearch/internal/config"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/logging"
	"github.com/Aman-CERP/amansearch/internal/profiling"
	"github.com/Aman-CERP/amansearch/pkg/version"
)

// globalOptions are the persistent flags of the root command.
type globalOptions struct {
	configPath string
	debug      bool
	noColor    bool
	profile    profiling.Options
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}
	var (
		loggingCleanup func()
		profiler       *profiling.Session
	)

	cmd := &cobra.Command{
		Use:   "amansearch",
		Short: "Configurable search indexes over structured content",
		Long: `amansearch indexes items from datasources into search servers and
answers fulltext queries with conditions, sorts and facets.

Indexes, servers and datasources are declared in .amansearch.yaml in the
current directory, or in the file given with --config.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if g.profile.Enabled() {
				s, err := profiling.Start(g.profile)
				if err != nil {
					return err
				}
				profiler = s
			}
			// The mcp command owns stdout and sets up its own logging.
			if cmd.Name() == "mcp" {
				return nil
			}
			cleanup, err := setupLogging(g)
			if err != nil {
				return err
			}
			loggingCleanup = cleanup
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if loggingCleanup != nil {
				loggingCleanup()
				loggingCleanup = nil
			}
			if profiler != nil {
				err := profiler.Stop()
				profiler = nil
				return err
			}
			return nil
		},
	}
	cmd.SetVersionTemplate("amansearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to the configuration file (default: .amansearch.yaml in the current directory)")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging to stderr")
	cmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().StringVar(&g.profile.CPUProfile, "cpuprofile", "", "Write a CPU profile to `file`")
	cmd.PersistentFlags().StringVar(&g.profile.MemProfile, "memprofile", "", "Write a heap profile to `file` on exit")
	cmd.PersistentFlags().StringVar(&g.profile.Trace, "trace", "", "Write an execution trace to `file`")

	cmd.AddCommand(
		newIndexCmd(g),
		newSearchCmd(g),
		newAutocompleteCmd(g),
		newStatusCmd(g),
		newReindexCmd(g),
		newClearCmd(g),
		newRebuildTrackerCmd(g),
		newCronCmd(g),
		newCheckCmd(g),
		newFieldCmd(g),
		newProcessorCmd(g),
		newServeCmd(g),
		newMCPCmd(g),
		newDaemonCmd(g),
		newConfigCmd(g),
		newDoctorCmd(g),
		newLogsCmd(),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// FormatError renders err with its suggestion, if any.
func FormatError(err error) string {
	if ae, ok := amanerrors.As(err); ok && ae.Suggestion != "" {
		return fmt.Sprintf("%s\n  %s", err.Error(), ae.Suggestion)
	}
	return err.Error()
}

// setupLogging writes logs to the log file, and to stderr with --debug.
func setupLogging(g *globalOptions) (func(), error) {
	cfg := logging.DefaultConfig()
	cfg.Stderr = false
	if g.debug {
		cfg.Level = "debug"
		cfg.Stderr = true
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		// An unwritable log directory must not break the command.
		logger, cleanup = logging.Discard(), func() {}
		if g.debug {
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		}
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

// resolveConfigPath returns the explicit config file or the project file
// of the working directory, which may not exist yet.
func (g *globalOptions) resolveConfigPath() (string, error) {
	if g.configPath != "" {
		return filepath.Abs(g.configPath)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if p := config.ProjectConfigPath(cwd); p != "" {
		return p, nil
	}
	return filepath.Join(cwd, config.ProjectConfigFile), nil
}

// loadConfig loads the configuration the flags select.
func (g *globalOptions) loadConfig() (*config.Config, string, error) {
	path, err := g.resolveConfigPath()
	if err != nil {
		return nil, "", err
	}
	if g.configPath != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, "", amanerrors.New(amanerrors.ErrCodeConfigNotFound, "config file not found: "+path, err).
				WithSuggestion("Run 'amansearch config init' to create one")
		}
		cfg, err := config.LoadFile(path)
		if err != nil {
			return nil, "", amanerrors.New(amanerrors.ErrCodeConfigInvalid, err.Error(), err)
		}
		return cfg, path, nil
	}
	cfg, err := config.Load(filepath.Dir(path))
	if err != nil {
		return nil, "", amanerrors.New(amanerrors.ErrCodeConfigInvalid, err.Error(), err)
	}
	return cfg, path, nil
}

// openApp loads the configuration and builds the application. The caller
// closes the App.
func (g *globalOptions) openApp(ctx context.Context, opts app.Options) (*app.App, error) {
	cfg, path, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	if len(cfg.Indexes) == 0 {
		return nil, amanerrors.New(amanerrors.ErrCodeConfigNotFound, "no indexes configured", nil).
			WithSuggestion("Declare indexes in " + path + " or run 'amansearch config init'")
	}
	opts.ConfigPath = path
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return app.New(ctx, cfg, opts)
}

// withApp runs fn against a freshly opened App and closes it afterwards.
func (g *globalOptions) withApp(ctx context.Context, opts app.Options, fn func(*app.App) error) (err error) {
	a, err := g.openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}
