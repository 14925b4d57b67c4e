package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amansearch/internal/app"
	"github.com/Aman-CERP/amansearch/internal/async"
	"github.com/Aman-CERP/amansearch/internal/backend"
	"github.com/Aman-CERP/amansearch/internal/query"
	"github.com/Aman-CERP/amansearch/internal/telemetry"
	"github.com/Aman-CERP/amansearch/internal/ui"
	"github.com/Aman-CERP/amansearch/pkg/version"
)

const serverName = "amansearch"

// Service is the search functionality exposed over MCP. *app.App
// implements it.
type Service interface {
	Search(ctx context.Context, indexID string, req *query.Request) (*app.SearchResponse, error)
	Autocomplete(ctx context.Context, indexID, input string, limit int) ([]backend.Suggestion, error)
	Status(ctx context.Context) (ui.StatusInfo, error)
	RunCron(ctx context.Context) (map[string]int, error)
}

// Server is the MCP server. It bridges AI clients with the configured
// search indexes.
type Server struct {
	mcp     *mcp.Server
	svc     Service
	logger  *slog.Logger
	metrics *telemetry.QueryMetrics
	bg      *async.IndexProgress

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "search",
		Description: "Search an index. Combines fulltext keys with field conditions, sorts and facet counts. Returns matching item IDs with scores, URLs and excerpts.",
	},
	{
		Name:        "autocomplete",
		Description: "Suggest completions for the last word of a partial search input, ranked by how many items they would match.",
	},
	{
		Name:        "index_status",
		Description: "List the indexes with their server, backend and how many of their items are indexed. Use before searching to pick an index and check it is up to date.",
	},
	{
		Name:        "index_items",
		Description: "Index pending items of every enabled index, up to each index's cron limit.",
	},
}

// NewServer creates a new MCP server over svc.
func NewServer(svc Service, logger *slog.Logger) (*Server, error) {
	if svc == nil {
		return nil, errors.New("search service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, logger: logger}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version.Version}, nil)
	s.registerTools()
	s.registerIndexesResource()
	return s, nil
}

// SetMetrics registers the query_metrics resource backed by m.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	if m != nil {
		s.registerQueryMetricsResource()
	}
}

// SetIndexingProgress reports p in index_status while it runs.
func (s *Server) SetIndexingProgress(p *async.IndexProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bg = p
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return serverName, version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

// CallTool invokes a tool by name with JSON-like arguments. The search
// tool returns markdown; the others return their output structs.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search":
		var in SearchInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		out, err := s.search(ctx, in)
		if err != nil {
			return nil, err
		}
		return FormatSearchResults(in.Keys, out), nil
	case "autocomplete":
		var in AutocompleteInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.autocomplete(ctx, in)
	case "index_status":
		var in IndexStatusInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.indexStatus(ctx, in)
	case "index_items":
		return s.indexItems(ctx)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, out any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, out); err != nil {
		return NewInvalidParamsError(err.Error())
	}
	return nil
}

func (s *Server) search(ctx context.Context, in SearchInput) (*SearchOutput, error) {
	if strings.TrimSpace(in.Index) == "" {
		return nil, NewInvalidParamsError("index parameter is required")
	}
	start := time.Now()
	requestID := generateRequestID()

	resp, err := s.svc.Search(ctx, in.Index, in.toRequest())
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("search_failed",
			slog.String("request_id", requestID),
			slog.String("index", in.Index),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	s.logger.Info("search_completed",
		slog.String("request_id", requestID),
		slog.String("index", in.Index),
		slog.Duration("duration", duration),
		slog.Int("result_count", resp.Count))
	return toSearchOutput(resp), nil
}

func (in SearchInput) toRequest() *query.Request {
	limit := clampLimit(in.Limit, 10, 1, 100)
	req := &query.Request{
		ParseMode: in.ParseMode,
		Fields:    in.Fields,
		Offset:    max(in.Offset, 0),
		Limit:     &limit,
		Languages: in.Languages,
	}
	if strings.TrimSpace(in.Keys) != "" {
		req.Keys = &query.KeysInput{Raw: in.Keys}
	}
	for _, c := range in.Conditions {
		req.Conditions = append(req.Conditions, query.ConditionInput{Field: c.Field, Value: c.Value, Operator: c.Operator})
	}
	for _, srt := range in.Sort {
		req.Sort = append(req.Sort, query.Sort{Field: srt.Field, Direction: srt.Direction})
	}
	if len(in.Facets) > 0 {
		req.Facets = make(map[string]query.FacetRequest, len(in.Facets))
		for _, f := range in.Facets {
			fr := query.FacetRequest{Field: f.Field, Limit: f.Limit, MinCount: query.DefaultFacetMinCount, Missing: f.Missing}
			if f.MinCount != nil {
				fr.MinCount = *f.MinCount
			}
			req.Facets[f.Field] = fr
		}
	}
	return req
}

func (s *Server) autocomplete(ctx context.Context, in AutocompleteInput) (*AutocompleteOutput, error) {
	if in.Index == "" {
		return nil, NewInvalidParamsError("index parameter is required")
	}
	if strings.TrimSpace(in.Input) == "" {
		return nil, NewInvalidParamsError("input cannot be empty or whitespace only")
	}
	suggestions, err := s.svc.Autocomplete(ctx, in.Index, in.Input, clampLimit(in.Limit, 10, 1, 50))
	if err != nil {
		return nil, MapError(err)
	}
	out := &AutocompleteOutput{Suggestions: make([]SuggestionOutput, 0, len(suggestions))}
	for _, sg := range suggestions {
		out.Suggestions = append(out.Suggestions, SuggestionOutput{Suggestion: sg.Suggestion, ResultCount: sg.ResultCount})
	}
	return out, nil
}

func (s *Server) indexStatus(ctx context.Context, in IndexStatusInput) (*IndexStatusOutput, error) {
	info, err := s.svc.Status(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	out := &IndexStatusOutput{Driver: info.DatabaseDriver, DatabaseSize: info.DatabaseSize, Indexes: []IndexInfo{}}
	for _, st := range info.Indexes {
		if in.Index != "" && st.ID != in.Index {
			continue
		}
		ii := IndexInfo{
			ID:          st.ID,
			Name:        st.Name,
			Server:      st.Server,
			Backend:     st.Backend,
			Status:      st.ServerStatus,
			ReadOnly:    st.ReadOnly,
			Datasources: st.Datasources,
			Fields:      st.Fields,
			Indexed:     st.Indexed,
			Total:       st.Total,
			ProgressPct: 100,
		}
		if !st.Enabled {
			ii.Status = "disabled"
		}
		if st.Total > 0 {
			ii.ProgressPct = float64(st.Indexed) / float64(st.Total) * 100
		}
		out.Indexes = append(out.Indexes, ii)
	}
	if in.Index != "" && len(out.Indexes) == 0 {
		return nil, &MCPError{Code: ErrCodeIndexNotFound, Message: fmt.Sprintf("Index '%s' not found.", in.Index)}
	}
	s.mu.RLock()
	bg := s.bg
	s.mu.RUnlock()
	if bg != nil {
		snap := bg.Snapshot()
		out.Background = &snap
	}
	return out, nil
}

func (s *Server) indexItems(ctx context.Context) (*IndexItemsOutput, error) {
	counts, err := s.svc.RunCron(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	out := &IndexItemsOutput{Indexed: counts}
	if out.Indexed == nil {
		out.Indexed = map[string]int{}
	}
	for _, n := range counts {
		out.Total += n
	}
	return out, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, *SearchOutput, error) {
			out, err := s.search(ctx, in)
			return nil, out, err
		})
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, in AutocompleteInput) (*mcp.CallToolResult, *AutocompleteOutput, error) {
			out, err := s.autocomplete(ctx, in)
			return nil, out, err
		})
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, in IndexStatusInput) (*mcp.CallToolResult, *IndexStatusOutput, error) {
			out, err := s.indexStatus(ctx, in)
			return nil, out, err
		})
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[3].Name, Description: tools[3].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, _ IndexItemsInput) (*mcp.CallToolResult, *IndexItemsOutput, error) {
			out, err := s.indexItems(ctx)
			return nil, out, err
		})
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		} else {
			s.logger.Info("mcp_server_stopped")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
