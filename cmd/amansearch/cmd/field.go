package cmd

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amansearch/internal/app"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/index"
	"github.com/Aman-CERP/amansearch/internal/output"
)

func newFieldCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "field",
		Short: "Manage the fields of an index",
		Long: `Add, rename, remove and list index fields. Changes are applied to the
server and written back to the configuration file; items are queued for
reindexing when stored data becomes stale.`,
	}
	cmd.AddCommand(
		newFieldListCmd(g),
		newFieldAddCmd(g),
		newFieldRenameCmd(g),
		newFieldRemoveCmd(g),
		newFieldSetCmd(g),
	)
	return cmd
}

// saveIndexChange applies change to the index and saves it.
func saveIndexChange(cmd *cobra.Command, g *globalOptions, indexID string, change func(*index.Index) (string, error)) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())
	return g.withApp(ctx, app.Options{NoTelemetry: true}, func(a *app.App) error {
		idx, err := a.Index(indexID)
		if err != nil {
			return err
		}
		msg, err := change(idx)
		if err != nil {
			return err
		}
		res, err := a.SaveIndex(ctx, idx)
		if err != nil {
			return err
		}
		out.Success(msg)
		if res.Reindexed {
			out.Status("", "Items were queued for reindexing")
		}
		if res.Cleared {
			out.Status("", "Indexed data was cleared")
		}
		return nil
	})
}

func newFieldListCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list <index>",
		Short: "List the fields of an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout()).WithColor(!g.noColor)
			return g.withApp(cmd.Context(), app.Options{NoTelemetry: true}, func(a *app.App) error {
				idx, err := a.Index(args[0])
				if err != nil {
					return err
				}
				fields := idx.Fields()
				sort.Slice(fields, func(i, j int) bool { return fields[i].ID < fields[j].ID })
				if jsonOutput {
					return out.JSON(idx.Config().Fields)
				}
				rows := make([][]string, 0, len(fields))
				for _, f := range fields {
					ds := f.DatasourceID
					if ds == "" {
						ds = "-"
					}
					rows = append(rows, []string{f.ID, string(f.Type), ds, f.PropertyPath,
						strconv.FormatFloat(f.Boost, 'f', -1, 64), lockedFlags(f)})
				}
				out.Table([]string{"ID", "TYPE", "DATASOURCE", "PROPERTY", "BOOST", "FLAGS"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func lockedFlags(f *field.Field) string {
	var s string
	if f.IndexedLocked {
		s += "L"
	}
	if f.TypeLocked {
		s += "T"
	}
	if f.Hidden {
		s += "H"
	}
	if f.MultiValued {
		s += "M"
	}
	return s
}

func newFieldAddCmd(g *globalOptions) *cobra.Command {
	var (
		id         string
		typ        string
		datasource string
	)

	cmd := &cobra.Command{
		Use:   "add <index> <property-path>",
		Short: "Add a field for a datasource property",
		Long: `Add a field indexing a property of a datasource. Nested properties
are addressed with ':' (for example author:name). Without --datasource
the property must be datasource-independent.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return saveIndexChange(cmd, g, args[0], func(idx *index.Index) (string, error) {
				f, err := idx.AddFieldFromProperty(datasource, args[1], id, field.Type(typ))
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Added field %s (%s) to %s", f.ID, f.Type, idx.ID()), nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Field ID (default: derived from the property path)")
	cmd.Flags().StringVar(&typ, "type", "", "Field type (default: mapped from the property data type)")
	cmd.Flags().StringVarP(&datasource, "datasource", "d", "", "Datasource the property belongs to")
	return cmd
}

func newFieldRenameCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <index> <old-id> <new-id>",
		Short: "Rename a field",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return saveIndexChange(cmd, g, args[0], func(idx *index.Index) (string, error) {
				if err := idx.RenameField(args[1], args[2]); err != nil {
					return "", err
				}
				return fmt.Sprintf("Renamed field %s to %s", args[1], args[2]), nil
			})
		},
	}
}

func newFieldRemoveCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <index> <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a field",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return saveIndexChange(cmd, g, args[0], func(idx *index.Index) (string, error) {
				if err := idx.RemoveField(args[1]); err != nil {
					return "", err
				}
				return fmt.Sprintf("Removed field %s from %s", args[1], idx.ID()), nil
			})
		},
	}
}

func newFieldSetCmd(g *globalOptions) *cobra.Command {
	var (
		typ   string
		boost float64
	)

	cmd := &cobra.Command{
		Use:   "set <index> <id>",
		Short: "Change the type or boost of a field",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			boostSet := cmd.Flags().Changed("boost")
			if typ == "" && !boostSet {
				return fmt.Errorf("nothing to change: pass --type or --boost")
			}
			return saveIndexChange(cmd, g, args[0], func(idx *index.Index) (string, error) {
				if typ != "" {
					if err := idx.SetFieldType(args[1], field.Type(typ)); err != nil {
						return "", err
					}
				}
				if boostSet {
					if err := idx.SetFieldBoost(args[1], boost); err != nil {
						return "", err
					}
				}
				return fmt.Sprintf("Updated field %s", args[1]), nil
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "New field type")
	cmd.Flags().Float64Var(&boost, "boost", 1, "New boost of a fulltext field")
	return cmd
}
