package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amansearch/internal/app"
	"github.com/Aman-CERP/amansearch/internal/backend"
	"github.com/Aman-CERP/amansearch/internal/config"
	"github.com/Aman-CERP/amansearch/internal/daemon"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/output"
	"github.com/Aman-CERP/amansearch/internal/query"
)

type searchOptions struct {
	index      string
	limit      int
	offset     int
	parseMode  string
	fields     []string
	conditions []string
	sorts      []string
	facets     []string
	languages  []string
	format     string
	local      bool
}

func newSearchCmd(g *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search [keys...]",
		Short: "Search an index",
		Long: `Run a fulltext query against an index. Without keys, every item
matching the conditions is returned.

Conditions take the form field<op>value with op one of = <> < <= > >=.
Sorts take the form field or field:desc.

The query goes through the daemon when one is running, unless --local is set.

Examples:
  amansearch search -i content "search api"
  amansearch search -i content --condition type=article --sort created:desc
  amansearch search -i content go --facet type --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, g, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.index, "index", "i", "", "Index to search (default: the only configured index)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "Number of results to skip")
	cmd.Flags().StringVar(&opts.parseMode, "parse-mode", "", "Keys parse mode: terms, phrase or direct")
	cmd.Flags().StringSliceVar(&opts.fields, "field", nil, "Restrict fulltext search to a field (repeatable)")
	cmd.Flags().StringArrayVar(&opts.conditions, "condition", nil, "Filter condition field<op>value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.sorts, "sort", nil, "Sort by field[:asc|desc] (repeatable)")
	cmd.Flags().StringSliceVar(&opts.facets, "facet", nil, "Compute facet counts for a field (repeatable)")
	cmd.Flags().StringSliceVar(&opts.languages, "language", nil, "Restrict results to a language (repeatable)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Search in-process, bypassing the daemon")
	return cmd
}

// conditionOperators are tried in order, so two-character operators
// must precede their one-character prefixes.
var conditionOperators = []string{"<>", ">=", "<=", "=", ">", "<"}

func parseCondition(s string) (query.ConditionInput, error) {
	for _, op := range conditionOperators {
		if i := strings.Index(s, op); i > 0 {
			field := strings.TrimSpace(s[:i])
			value := strings.TrimSpace(s[i+len(op):])
			var v any = value
			if strings.EqualFold(value, "null") {
				v = nil
			}
			return query.ConditionInput{Field: field, Value: v, Operator: op}, nil
		}
	}
	return query.ConditionInput{}, amanerrors.New(amanerrors.ErrCodeInvalidQuery,
		fmt.Sprintf("invalid condition %q", s), nil).
		WithSuggestion("Use field<op>value with op one of = <> < <= > >=")
}

func parseSort(s string) (query.Sort, error) {
	field, dir, found := strings.Cut(s, ":")
	if field == "" {
		return query.Sort{}, amanerrors.New(amanerrors.ErrCodeInvalidQuery, "empty sort field", nil)
	}
	if !found {
		return query.Sort{Field: field, Direction: query.Asc}, nil
	}
	switch strings.ToUpper(dir) {
	case query.Asc, query.Desc:
		return query.Sort{Field: field, Direction: strings.ToUpper(dir)}, nil
	}
	return query.Sort{}, amanerrors.New(amanerrors.ErrCodeInvalidQuery,
		fmt.Sprintf("invalid sort direction %q", dir), nil)
}

func (o searchOptions) request(keys string) (*query.Request, error) {
	if o.limit < 0 || o.offset < 0 {
		return nil, amanerrors.New(amanerrors.ErrCodeInvalidValue, "--limit and --offset must not be negative", nil)
	}
	limit := o.limit
	req := &query.Request{
		ParseMode: o.parseMode,
		Fields:    o.fields,
		Offset:    o.offset,
		Limit:     &limit,
		Languages: o.languages,
	}
	if keys = strings.TrimSpace(keys); keys != "" {
		req.Keys = &query.KeysInput{Raw: keys}
	}
	for _, c := range o.conditions {
		ci, err := parseCondition(c)
		if err != nil {
			return nil, err
		}
		req.Conditions = append(req.Conditions, ci)
	}
	for _, s := range o.sorts {
		srt, err := parseSort(s)
		if err != nil {
			return nil, err
		}
		req.Sort = append(req.Sort, srt)
	}
	if len(o.facets) > 0 {
		req.Facets = make(map[string]query.FacetRequest, len(o.facets))
		for _, f := range o.facets {
			req.Facets[f] = query.FacetRequest{Field: f, MinCount: query.DefaultFacetMinCount, Operator: query.And}
		}
	}
	return req, nil
}

// defaultIndex picks the index to use when none was named.
func defaultIndex(cfg *config.Config, id string) (string, error) {
	if id != "" {
		return id, nil
	}
	if len(cfg.Indexes) == 1 {
		return cfg.Indexes[0].ID, nil
	}
	return "", amanerrors.New(amanerrors.ErrCodeInvalidInput, "more than one index is configured", nil).
		WithSuggestion("Select one with --index")
}

func runSearch(ctx context.Context, cmd *cobra.Command, g *globalOptions, keys string, opts searchOptions) error {
	req, err := opts.request(keys)
	if err != nil {
		return err
	}
	cfg, _, err := g.loadConfig()
	if err != nil {
		return err
	}
	indexID, err := defaultIndex(cfg, opts.index)
	if err != nil {
		return err
	}

	var resp *app.SearchResponse
	client := daemon.NewClient(daemon.FromConfig(cfg))
	if !opts.local && client.IsRunning() {
		resp, err = client.Search(ctx, daemon.SearchParams{Index: indexID, Query: *req})
		if err != nil {
			slog.Warn("daemon_search_failed", slog.String("error", err.Error()))
			resp = nil
		}
	}
	if resp == nil {
		err = g.withApp(ctx, app.Options{}, func(a *app.App) error {
			var serr error
			resp, serr = a.Search(ctx, indexID, req)
			return serr
		})
		if err != nil {
			return err
		}
	}

	out := output.New(cmd.OutOrStdout())
	if opts.format == "json" {
		return out.JSON(resp)
	}
	printSearchResponse(out, keys, resp)
	return nil
}

func printSearchResponse(out *output.Writer, keys string, resp *app.SearchResponse) {
	if resp.Count == 0 {
		if keys != "" {
			out.Statusf("", "No results for %q in %s", keys, resp.Index)
		} else {
			out.Statusf("", "No results in %s", resp.Index)
		}
	} else {
		out.Statusf("", "Showing %d of %d results (%s)", len(resp.Items), resp.Count, resp.Took)
		out.Newline()
		for i, it := range resp.Items {
			line := fmt.Sprintf("%d. %s  [%.2f]", i+1, it.ID, it.Score)
			if it.URL != "" {
				line += "  " + it.URL
			}
			out.Status("", line)
			if it.Excerpt != "" {
				out.Status("", "     "+it.Excerpt)
			}
		}
	}
	if len(resp.Facets) > 0 {
		out.Newline()
		names := make([]string, 0, len(resp.Facets))
		for name := range resp.Facets {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			parts := make([]string, 0, len(resp.Facets[name]))
			for _, t := range resp.Facets[name] {
				parts = append(parts, fmt.Sprintf("%s (%d)", t.Filter, t.Count))
			}
			out.Statusf("", "%s: %s", name, strings.Join(parts, ", "))
		}
	}
	for _, w := range resp.Warnings {
		out.Warning(w)
	}
	if len(resp.IgnoredKeys) > 0 {
		out.Warningf("Ignored keys: %s", strings.Join(resp.IgnoredKeys, ", "))
	}
}

func newAutocompleteCmd(g *globalOptions) *cobra.Command {
	var (
		indexID string
		limit   int
		local   bool
	)

	cmd := &cobra.Command{
		Use:   "autocomplete <input>",
		Short: "Suggest completions for partial search input",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			input := strings.Join(args, " ")
			cfg, _, err := g.loadConfig()
			if err != nil {
				return err
			}
			id, err := defaultIndex(cfg, indexID)
			if err != nil {
				return err
			}

			var suggestions []backend.Suggestion
			client := daemon.NewClient(daemon.FromConfig(cfg))
			if !local && client.IsRunning() {
				suggestions, err = client.Autocomplete(ctx, daemon.AutocompleteParams{Index: id, Input: input, Limit: limit})
			} else {
				err = g.withApp(ctx, app.Options{NoTelemetry: true}, func(a *app.App) error {
					var aerr error
					suggestions, aerr = a.Autocomplete(ctx, id, input, limit)
					return aerr
				})
			}
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			for _, s := range suggestions {
				text := s.Suggestion
				if text == "" {
					text = input + s.Suffix
				}
				if s.ResultCount > 0 {
					out.Statusf("", "%s (%d)", text, s.ResultCount)
				} else {
					out.Status("", text)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&indexID, "index", "i", "", "Index to complete against")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of suggestions")
	cmd.Flags().BoolVar(&local, "local", false, "Complete in-process, bypassing the daemon")
	return cmd
}
