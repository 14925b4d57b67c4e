package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amansearch/configs"
	"github.com/Aman-CERP/amansearch/internal/config"
	"github.com/Aman-CERP/amansearch/internal/output"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, inspect and validate the configuration",
		Long: `Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. User config (~/.config/amansearch/config.yaml)
  3. Project config (.amansearch.yaml, or the file given with --config)
  4. Environment variables (AMANSEARCH_*)`,
	}
	cmd.AddCommand(newConfigInitCmd(g), newConfigShowCmd(g), newConfigValidateCmd(g), newConfigPathCmd(g), newConfigRestoreCmd(g))
	return cmd
}

func newConfigInitCmd(g *globalOptions) *cobra.Command {
	var (
		force  bool
		sample bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a project configuration from the template",
		Long: `Write .amansearch.yaml (or the file given with --config) with one
datasource, a database server and a content index. With --sample, the
example content file the template reads is written next to it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			path, err := g.resolveConfigPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil {
				if !force {
					out.Warningf("Configuration already exists: %s", path)
					out.Status("", "Use --force to replace it (a backup is kept)")
					return nil
				}
				backup, err := config.BackupFile(path)
				if err != nil {
					return fmt.Errorf("failed to back up configuration: %w", err)
				}
				out.Statusf("", "Backup: %s", backup)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
				return fmt.Errorf("failed to write configuration: %w", err)
			}
			out.Successf("Created %s", path)

			if sample {
				samplePath := filepath.Join(filepath.Dir(path), configs.SampleContentFile)
				if _, err := os.Stat(samplePath); err == nil {
					out.Statusf("", "Keeping existing %s", samplePath)
				} else if err := os.WriteFile(samplePath, []byte(configs.SampleContent), 0o644); err != nil {
					return fmt.Errorf("failed to write sample content: %w", err)
				} else {
					out.Successf("Created %s", samplePath)
				}
			}
			out.Newline()
			out.Status("", "Next steps:")
			out.Status("", "  amansearch index")
			out.Status("", "  amansearch search <keys>")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing configuration")
	cmd.Flags().BoolVar(&sample, "sample", false, "Also write the sample content file")
	return cmd
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := g.loadConfig()
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.New(cmd.OutOrStdout()).JSON(cfg)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer func() { _ = enc.Close() }()
			return enc.Encode(cfg)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newConfigValidateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that the configuration loads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := g.loadConfig()
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("%s is valid (%d servers, %d indexes, %d datasources)",
				path, len(cfg.Servers), len(cfg.Indexes), len(cfg.Datasources))
			return nil
		},
	}
}

func newConfigPathCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := g.resolveConfigPath()
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			out.KeyValue("Project", path)
			out.KeyValue("User", config.GetUserConfigPath())
			return nil
		},
	}
}

func newConfigRestoreCmd(g *globalOptions) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "restore [backup]",
		Short: "Restore the project configuration from a backup",
		Long: `Every rewrite of the project configuration (config init --force, field
and processor changes) keeps a timestamped copy next to it. Without an
argument the newest copy is restored; the replaced file is backed up too.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout())
			path, err := g.resolveConfigPath()
			if err != nil {
				return err
			}
			if list {
				backups, err := config.Backups(path)
				if err != nil {
					return err
				}
				if len(backups) == 0 {
					out.Status("", "No backups")
					return nil
				}
				rows := make([][]string, 0, len(backups))
				for _, b := range backups {
					rows = append(rows, []string{b.Path, humanize.Time(b.Taken)})
				}
				out.Table([]string{"BACKUP", "TAKEN"}, rows)
				return nil
			}
			from := ""
			if len(args) == 1 {
				from = args[0]
			}
			from, err = config.Restore(path, from)
			if err != nil {
				return err
			}
			out.Successf("Restored %s from %s", path, from)
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "List backups instead of restoring")
	return cmd
}
