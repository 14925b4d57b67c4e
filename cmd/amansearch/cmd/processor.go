package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amansearch/internal/app"
	"github.com/Aman-CERP/amansearch/internal/index"
	"github.com/Aman-CERP/amansearch/internal/output"
)

func newProcessorCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "processor",
		Short: "Manage the processors of an index",
	}
	cmd.AddCommand(newProcessorListCmd(g), newProcessorEnableCmd(g), newProcessorDisableCmd(g))
	return cmd
}

func newProcessorListCmd(g *globalOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list <index>",
		Short: "List the processors available to an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout()).WithColor(!g.noColor)
			return g.withApp(cmd.Context(), app.Options{NoTelemetry: true}, func(a *app.App) error {
				idx, err := a.Index(args[0])
				if err != nil {
					return err
				}
				infos := idx.AvailableProcessors()
				sort.Slice(infos, func(i, j int) bool { return infos[i].Descriptor.ID < infos[j].Descriptor.ID })
				rows := make([][]string, 0, len(infos))
				for _, p := range infos {
					if p.Descriptor.Hidden && !all {
						continue
					}
					state := "disabled"
					switch {
					case p.Descriptor.Locked:
						state = "locked"
					case p.Enabled:
						state = "enabled"
					}
					stages := make([]string, 0, len(p.Weights))
					for s, w := range p.Weights {
						stages = append(stages, fmt.Sprintf("%s:%d", s, w))
					}
					sort.Strings(stages)
					rows = append(rows, []string{p.Descriptor.ID, state, strings.Join(stages, " "), p.Descriptor.Label})
				}
				out.Table([]string{"ID", "STATE", "STAGES", "LABEL"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include hidden processors")
	return cmd
}

func newProcessorEnableCmd(g *globalOptions) *cobra.Command {
	var (
		weights  map[string]int
		settings map[string]string
	)

	cmd := &cobra.Command{
		Use:   "enable <index> <processor>",
		Short: "Enable a processor or change its configuration",
		Long: `Enable a processor on an index. Stage weights override the processor
defaults. Setting values containing commas are passed as lists.

Example:
  amansearch processor enable content html_filter --setting tags=h1,h2 --weight preprocess_index=-10`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pc := index.ProcessorConfig{Weights: weights}
			if len(settings) > 0 {
				pc.Settings = make(map[string]any, len(settings))
				for k, v := range settings {
					pc.Settings[k] = settingValue(v)
				}
			}
			return saveIndexChange(cmd, g, args[0], func(idx *index.Index) (string, error) {
				if err := idx.EnableProcessor(args[1], pc); err != nil {
					return "", err
				}
				return fmt.Sprintf("Enabled processor %s on %s", args[1], idx.ID()), nil
			})
		},
	}
	cmd.Flags().StringToIntVar(&weights, "weight", nil, "Stage weight stage=weight (repeatable)")
	cmd.Flags().StringToStringVar(&settings, "setting", nil, "Processor setting key=value (repeatable)")
	return cmd
}

func newProcessorDisableCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <index> <processor>",
		Short: "Disable a processor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return saveIndexChange(cmd, g, args[0], func(idx *index.Index) (string, error) {
				if err := idx.DisableProcessor(args[1]); err != nil {
					return "", err
				}
				return fmt.Sprintf("Disabled processor %s on %s", args[1], idx.ID()), nil
			})
		},
	}
}

// settingValue turns a comma-separated flag value into a list.
func settingValue(v string) any {
	if !strings.Contains(v, ",") {
		return v
	}
	parts := strings.Split(v, ",")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
