package mcp

import "github.com/Aman-CERP/amansearch/internal/async"

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Index      string         `json:"index" jsonschema:"ID of the index to search"`
	Keys       string         `json:"keys,omitempty" jsonschema:"fulltext search keys"`
	ParseMode  string         `json:"parse_mode,omitempty" jsonschema:"how keys are parsed: terms (default), phrase or direct"`
	Fields     []string       `json:"fields,omitempty" jsonschema:"fulltext fields to search, default all"`
	Conditions []ConditionArg `json:"conditions,omitempty" jsonschema:"filters combined with AND"`
	Sort       []SortArg      `json:"sort,omitempty" jsonschema:"sort order, default relevance"`
	Facets     []FacetArg     `json:"facets,omitempty" jsonschema:"fields to count values of"`
	Limit      int            `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Offset     int            `json:"offset,omitempty" jsonschema:"number of results to skip"`
	Languages  []string       `json:"languages,omitempty" jsonschema:"restrict results to these language codes"`
}

// ConditionArg is one filter of the search tool.
type ConditionArg struct {
	Field    string `json:"field" jsonschema:"index field ID"`
	Value    any    `json:"value,omitempty" jsonschema:"value to compare against; a two-element list for BETWEEN, a list for IN"`
	Operator string `json:"operator,omitempty" jsonschema:"one of = <> < <= > >= IN NOT IN BETWEEN NOT BETWEEN, default ="`
}

// SortArg is one sort of the search tool.
type SortArg struct {
	Field     string `json:"field" jsonschema:"index field ID or search_api_relevance"`
	Direction string `json:"direction,omitempty" jsonschema:"ASC or DESC"`
}

// FacetArg requests value counts for one field.
type FacetArg struct {
	Field    string `json:"field" jsonschema:"index field ID"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of values, 0 for all"`
	MinCount *int   `json:"min_count,omitempty" jsonschema:"minimum count of a value, 1 when omitted"`
	Missing  bool   `json:"missing,omitempty" jsonschema:"also count items without a value"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Index    string                   `json:"index"`
	Count    int                      `json:"count" jsonschema:"total number of matches"`
	Results  []SearchResultOutput     `json:"results" jsonschema:"the current page of results"`
	Facets   map[string][]FacetOutput `json:"facets,omitempty"`
	Warnings []string                 `json:"warnings,omitempty"`
}

// SearchResultOutput is one hit.
type SearchResultOutput struct {
	ID       string  `json:"id" jsonschema:"item ID: datasource/raw ID"`
	Score    float64 `json:"score"`
	URL      string  `json:"url,omitempty"`
	Excerpt  string  `json:"excerpt,omitempty"`
	Language string  `json:"language,omitempty"`
}

// FacetOutput is one facet value and its count. Filter is a quoted value,
// or "!" for items without a value.
type FacetOutput struct {
	Filter string `json:"filter"`
	Count  int    `json:"count"`
}

// AutocompleteInput defines the input schema for the autocomplete tool.
type AutocompleteInput struct {
	Index string `json:"index" jsonschema:"ID of the index"`
	Input string `json:"input" jsonschema:"user input; its last word is completed"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of suggestions, default 10"`
}

// AutocompleteOutput defines the output schema for the autocomplete tool.
type AutocompleteOutput struct {
	Suggestions []SuggestionOutput `json:"suggestions"`
}

// SuggestionOutput is one completion.
type SuggestionOutput struct {
	Suggestion  string `json:"suggestion"`
	ResultCount int    `json:"result_count,omitempty"`
}

// IndexStatusInput defines the input schema for the index_status tool.
type IndexStatusInput struct {
	Index string `json:"index,omitempty" jsonschema:"only report this index"`
}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Indexes      []IndexInfo `json:"indexes"`
	Driver       string      `json:"driver"`
	DatabaseSize int64       `json:"database_size_bytes"`

	// Background is the startup indexing run, when one was started.
	Background *async.IndexProgressSnapshot `json:"background_indexing,omitempty"`
}

// IndexInfo describes one index.
type IndexInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Server      string   `json:"server"`
	Backend     string   `json:"backend,omitempty"`
	Status      string   `json:"status" jsonschema:"ready, offline, error or disabled"`
	ReadOnly    bool     `json:"read_only,omitempty"`
	Datasources []string `json:"datasources"`
	Fields      int      `json:"fields"`
	Indexed     int      `json:"indexed"`
	Total       int      `json:"total"`
	ProgressPct float64  `json:"progress_pct"`
}

// IndexItemsInput defines the input schema for the index_items tool.
type IndexItemsInput struct{}

// IndexItemsOutput defines the output schema for the index_items tool.
type IndexItemsOutput struct {
	Indexed map[string]int `json:"indexed" jsonschema:"items indexed per index"`
	Total   int            `json:"total"`
}
