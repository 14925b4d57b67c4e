package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amansearch/internal/app"
	"github.com/Aman-CERP/amansearch/internal/async"
	"github.com/Aman-CERP/amansearch/internal/backend"
	amerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/query"
	"github.com/Aman-CERP/amansearch/internal/telemetry"
	"github.com/Aman-CERP/amansearch/internal/ui"
)

type mockService struct {
	mu        sync.Mutex
	lastIndex string
	lastReq   *query.Request
	resp      *app.SearchResponse
	err       error
	status    ui.StatusInfo
	cron      map[string]int
}

func (m *mockService) Search(_ context.Context, indexID string, req *query.Request) (*app.SearchResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastIndex, m.lastReq = indexID, req
	if m.err != nil {
		return nil, m.err
	}
	if m.resp != nil {
		return m.resp, nil
	}
	return &app.SearchResponse{Index: indexID, Items: []app.ResultItem{}}, nil
}

func (m *mockService) Autocomplete(_ context.Context, _ string, input string, limit int) ([]backend.Suggestion, error) {
	out := []backend.Suggestion{{Suggestion: input + "ing", ResultCount: 3}, {Suggestion: input + "es", ResultCount: 1}}
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockService) Status(context.Context) (ui.StatusInfo, error) {
	return m.status, nil
}

func (m *mockService) RunCron(context.Context) (map[string]int, error) {
	return m.cron, nil
}

func newTestServer(t *testing.T, svc Service) *Server {
	t.Helper()
	s, err := NewServer(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func sampleResponse() *app.SearchResponse {
	return &app.SearchResponse{
		Index: "content",
		Count: 12,
		Items: []app.ResultItem{
			{ID: "entity:node/1:en", Score: 2.5, URL: "/node/1", Excerpt: "The <strong>search</strong> module", Language: "en"},
			{ID: "entity:node/7:en", Score: 1.25},
		},
		Facets: map[string][]query.FacetTerm{"type": {{Filter: `"article"`, Count: 9}, {Filter: "!", Count: 3}}},
	}
}

func TestNewServer_NilService(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)
}

func TestServer_Info(t *testing.T) {
	s := newTestServer(t, &mockService{})

	name, ver := s.Info()

	assert.Equal(t, "amansearch", name)
	assert.NotEmpty(t, ver)
	assert.NotNil(t, s.MCPServer())
}

func TestServer_ListTools(t *testing.T) {
	s := newTestServer(t, &mockService{})

	var names []string
	for _, tool := range s.ListTools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}

	assert.Equal(t, []string{"search", "autocomplete", "index_status", "index_items"}, names)
}

func TestServer_CallTool_SearchBuildsRequest(t *testing.T) {
	// Given: a service returning two hits and a facet
	svc := &mockService{resp: sampleResponse()}
	s := newTestServer(t, svc)

	// When: calling search with keys, a condition, a sort and a facet
	out, err := s.CallTool(context.Background(), "search", map[string]any{
		"index":      "content",
		"keys":       "search module",
		"conditions": []any{map[string]any{"field": "type", "value": "article"}},
		"sort":       []any{map[string]any{"field": "created", "direction": "desc"}},
		"facets":     []any{map[string]any{"field": "type", "missing": true}},
		"limit":      500.0,
	})

	// Then: the request carries every part and the output is markdown
	require.NoError(t, err)
	req := svc.lastReq
	assert.Equal(t, "content", svc.lastIndex)
	require.NotNil(t, req.Keys)
	assert.Equal(t, "search module", req.Keys.Raw)
	require.Len(t, req.Conditions, 1)
	assert.Equal(t, "type", req.Conditions[0].Field)
	assert.Equal(t, "article", req.Conditions[0].Value)
	assert.Equal(t, []query.Sort{{Field: "created", Direction: "desc"}}, req.Sort)
	assert.True(t, req.Facets["type"].Missing)
	assert.Equal(t, 1, req.Facets["type"].MinCount, "min_count defaults to 1")
	require.NotNil(t, req.Limit)
	assert.Equal(t, 100, *req.Limit, "limit is clamped")

	md, ok := out.(string)
	require.True(t, ok)
	assert.Contains(t, md, `## Search Results for "search module"`)
	assert.Contains(t, md, "Showing 2 of 12 results")
	assert.Contains(t, md, "### 1. entity:node/1:en (/node/1)")
	assert.Contains(t, md, `**type:** "article" (9) ! (3)`)
}

func TestServer_CallTool_SearchDefaults(t *testing.T) {
	svc := &mockService{}
	s := newTestServer(t, svc)

	out, err := s.CallTool(context.Background(), "search", map[string]any{"index": "content", "keys": "   "})

	require.NoError(t, err)
	assert.Nil(t, svc.lastReq.Keys, "blank keys are dropped")
	assert.Equal(t, 10, *svc.lastReq.Limit)
	assert.Equal(t, `No results found for "   "`, out)
}

func TestServer_CallTool_SearchValidation(t *testing.T) {
	s := newTestServer(t, &mockService{})

	_, err := s.CallTool(context.Background(), "search", map[string]any{"keys": "foo"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestServer_CallTool_SearchErrorMapped(t *testing.T) {
	svc := &mockService{err: amerrors.New(amerrors.ErrCodeConfigNotFound, "index nope not found", nil)}
	s := newTestServer(t, svc)

	_, err := s.CallTool(context.Background(), "search", map[string]any{"index": "nope"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeIndexNotFound, mcpErr.Code)
}

func TestServer_CallTool_Autocomplete(t *testing.T) {
	s := newTestServer(t, &mockService{})

	out, err := s.CallTool(context.Background(), "autocomplete", map[string]any{"index": "content", "input": "search", "limit": 1.0})

	require.NoError(t, err)
	ac, ok := out.(*AutocompleteOutput)
	require.True(t, ok)
	assert.Equal(t, []SuggestionOutput{{Suggestion: "searching", ResultCount: 3}}, ac.Suggestions)

	_, err = s.CallTool(context.Background(), "autocomplete", map[string]any{"index": "content", "input": " "})
	assert.Error(t, err)
}

func TestServer_CallTool_IndexStatus(t *testing.T) {
	// Given: two indexes, one half indexed and one disabled
	svc := &mockService{status: ui.StatusInfo{
		DatabaseDriver: "sqlite",
		Indexes: []ui.IndexStatus{
			{ID: "content", Name: "Content", Server: "db", Enabled: true, ServerStatus: "ready", Indexed: 5, Total: 10},
			{ID: "users", Name: "Users", Server: "db", Enabled: false, ServerStatus: "ready"},
		},
	}}
	s := newTestServer(t, svc)

	// When: asking for every index, then one
	all, err := s.CallTool(context.Background(), "index_status", nil)
	require.NoError(t, err)
	one, err := s.CallTool(context.Background(), "index_status", map[string]any{"index": "users"})
	require.NoError(t, err)

	// Then: progress and disabled state are reported
	out := all.(*IndexStatusOutput)
	require.Len(t, out.Indexes, 2)
	assert.InDelta(t, 50.0, out.Indexes[0].ProgressPct, 0.01)
	assert.Equal(t, "disabled", out.Indexes[1].Status)
	assert.Equal(t, 100.0, out.Indexes[1].ProgressPct)
	assert.Len(t, one.(*IndexStatusOutput).Indexes, 1)

	_, err = s.CallTool(context.Background(), "index_status", map[string]any{"index": "missing"})
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeIndexNotFound, mcpErr.Code)
}

func TestServer_IndexStatus_ReportsBackgroundIndexing(t *testing.T) {
	// Given: a server with a background run halfway through
	svc := &mockService{status: ui.StatusInfo{Indexes: []ui.IndexStatus{{ID: "content", Enabled: true, Total: 4, Indexed: 2}}}}
	s := newTestServer(t, svc)
	progress := async.NewIndexProgress()
	progress.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Index: "content", Current: 2, Total: 4})
	s.SetIndexingProgress(progress)

	// When: asking for the status
	out, err := s.CallTool(context.Background(), "index_status", nil)

	// Then: the run is included
	require.NoError(t, err)
	bg := out.(*IndexStatusOutput).Background
	require.NotNil(t, bg)
	assert.Equal(t, "indexing", bg.Status)
	assert.InDelta(t, 50.0, bg.ProgressPct, 0.01)
}

func TestServer_CallTool_IndexItems(t *testing.T) {
	s := newTestServer(t, &mockService{cron: map[string]int{"content": 4, "users": 2}})

	out, err := s.CallTool(context.Background(), "index_items", nil)

	require.NoError(t, err)
	assert.Equal(t, 6, out.(*IndexItemsOutput).Total)
}

func TestServer_CallTool_UnknownTool(t *testing.T) {
	s := newTestServer(t, &mockService{})

	_, err := s.CallTool(context.Background(), "search_code", nil)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

func TestServer_OverInMemoryTransport(t *testing.T) {
	// Given: a server connected to a client over in-memory transports
	svc := &mockService{resp: sampleResponse()}
	s := newTestServer(t, svc)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	serverT, clientT := mcp.NewInMemoryTransports()
	ss, err := s.MCPServer().Connect(ctx, serverT, nil)
	require.NoError(t, err)
	defer ss.Close()
	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	defer cs.Close()

	// When: the client calls the search tool
	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "search",
		Arguments: map[string]any{"index": "content", "keys": "search"},
	})

	// Then: structured output carries the hits
	require.NoError(t, err)
	require.False(t, res.IsError)
	data, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var out SearchOutput
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 12, out.Count)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "/node/1", out.Results[0].URL)
}

func TestServer_QueryMetricsResource(t *testing.T) {
	// Given: metrics with one zero-result query
	s := newTestServer(t, &mockService{})
	m := telemetry.NewQueryMetrics(nil)
	t.Cleanup(func() { _ = m.Close() })
	m.Record(telemetry.QueryEvent{Index: "content", Keys: "missing words", QueryType: telemetry.ClassifyQuery("missing words", 0), Timestamp: time.Now()})
	s.SetMetrics(m)

	// When: reading the resource
	res, err := s.handleQueryMetrics(context.Background(), nil)

	// Then: the summary and zero-result list are filled
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	var out QueryMetricsOutput
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &out))
	assert.EqualValues(t, 1, out.TotalQueries)
	assert.Nil(t, out.History)
	assert.Equal(t, []string{"missing words"}, out.ZeroResultQueries)
	assert.EqualValues(t, 1, out.IndexCounts["content"])
}

func TestServer_QueryMetricsResource_Unavailable(t *testing.T) {
	s := newTestServer(t, &mockService{})

	_, err := s.handleQueryMetrics(context.Background(), nil)

	assert.Error(t, err)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"nil", nil, 0},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"validation", amerrors.New(amerrors.ErrCodeInvalidOperator, "bad op", nil), ErrCodeInvalidParams},
		{"unsupported", amerrors.New(amerrors.ErrCodeUnsupportedFeature, "no autocomplete", nil), ErrCodeInvalidParams},
		{"search", amerrors.New(amerrors.ErrCodeSearchFailed, "boom", nil), ErrCodeSearchFailed},
		{"disabled", amerrors.New(amerrors.ErrCodeIndexDisabled, "off", nil), ErrCodeUnavailable},
		{"network", amerrors.New(amerrors.ErrCodeNetworkUnavailable, "redis down", nil), ErrCodeUnavailable},
		{"plain", errors.New("x"), ErrCodeInternalError},
		{"passthrough", NewInvalidParamsError("bad"), ErrCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if tt.err == nil {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.code, got.Code)
		})
	}
}

func TestMapError_IncludesSuggestion(t *testing.T) {
	err := amerrors.New(amerrors.ErrCodeInvalidInput, "nothing to complete", nil).WithSuggestion("Pass at least one character")

	got := MapError(err)

	assert.Equal(t, "nothing to complete Pass at least one character", got.Message)
}
