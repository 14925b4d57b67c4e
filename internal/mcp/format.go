package mcp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Aman-CERP/amansearch/internal/app"
)

// FormatSearchResults renders search results as markdown.
func FormatSearchResults(keys string, out *SearchOutput) string {
	label := keys
	if label == "" {
		label = "*"
	}
	if out == nil || out.Count == 0 {
		return fmt.Sprintf("No results found for \"%s\"", label)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", label)
	fmt.Fprintf(&sb, "Showing %d of %d result", len(out.Results), out.Count)
	if out.Count != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range out.Results {
		formatResult(&sb, i+1, r)
	}
	if len(out.Facets) > 0 {
		formatFacets(&sb, out.Facets)
	}
	for _, w := range out.Warnings {
		fmt.Fprintf(&sb, "> %s\n", w)
	}
	return sb.String()
}

func formatResult(sb *strings.Builder, num int, r SearchResultOutput) {
	fmt.Fprintf(sb, "### %d. %s", num, r.ID)
	if r.URL != "" {
		fmt.Fprintf(sb, " (%s)", r.URL)
	}
	sb.WriteString("\n\n")
	fmt.Fprintf(sb, "**Score:** %.3f", r.Score)
	if r.Language != "" {
		fmt.Fprintf(sb, " | **Language:** %s", r.Language)
	}
	sb.WriteString("\n\n")
	if r.Excerpt != "" {
		fmt.Fprintf(sb, "%s\n\n", r.Excerpt)
	}
}

func formatFacets(sb *strings.Builder, facets map[string][]FacetOutput) {
	sb.WriteString("## Facets\n\n")
	names := make([]string, 0, len(facets))
	for name := range facets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(sb, "**%s:**", name)
		for _, t := range facets[name] {
			fmt.Fprintf(sb, " %s (%d)", t.Filter, t.Count)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}

func toSearchOutput(resp *app.SearchResponse) *SearchOutput {
	out := &SearchOutput{
		Index:    resp.Index,
		Count:    resp.Count,
		Results:  make([]SearchResultOutput, 0, len(resp.Items)),
		Warnings: resp.Warnings,
	}
	for _, it := range resp.Items {
		out.Results = append(out.Results, SearchResultOutput{
			ID:       it.ID,
			Score:    it.Score,
			URL:      it.URL,
			Excerpt:  it.Excerpt,
			Language: it.Language,
		})
	}
	if len(resp.Facets) > 0 {
		out.Facets = make(map[string][]FacetOutput, len(resp.Facets))
		for name, terms := range resp.Facets {
			ft := make([]FacetOutput, 0, len(terms))
			for _, t := range terms {
				ft = append(ft, FacetOutput{Filter: t.Filter, Count: t.Count})
			}
			out.Facets[name] = ft
		}
	}
	return out
}
