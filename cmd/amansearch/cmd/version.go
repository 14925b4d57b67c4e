package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amansearch/internal/output"
	"github.com/Aman-CERP/amansearch/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var jsonOutput, shortOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()
			switch {
			case shortOutput:
				_, err := fmt.Fprintln(cmd.OutOrStdout(), info.Version)
				return err
			case jsonOutput:
				return output.New(cmd.OutOrStdout()).JSON(info)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), info)
			return err
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&shortOutput, "short", false, "Output only the version number")
	return cmd
}
