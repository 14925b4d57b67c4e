package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amansearch/internal/app"
	"github.com/Aman-CERP/amansearch/internal/daemon"
	"github.com/Aman-CERP/amansearch/internal/ui"
)

func newStatusCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the indexing status of every index",
		Long: `Display each index with its server, tracked and indexed item counts and
the number of items still pending, plus database and daemon information.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return g.withApp(ctx, app.Options{NoTelemetry: true}, func(a *app.App) error {
				info, err := a.Status(ctx)
				if err != nil {
					return err
				}
				info.Daemon = "stopped"
				if client := daemon.NewClient(daemon.FromConfig(a.Config)); client.IsRunning() {
					info.Daemon = "running"
					if st, err := client.Status(ctx); err == nil && st.LastRun != "" {
						info.LastCron, _ = time.Parse(time.RFC3339, st.LastRun)
					}
				}
				r := ui.NewStatusRenderer(cmd.OutOrStdout(), g.noColor || ui.DetectNoColor())
				if jsonOutput {
					return r.RenderJSON(info)
				}
				return r.Render(info)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
