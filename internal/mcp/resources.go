package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amansearch/internal/telemetry"
)

const (
	queryMetricsURI = "amansearch://query_metrics"
	indexesURI      = "amansearch://indexes"
)

// historyDays is how far back the query_metrics resource reads the store.
const historyDays = 30

// QueryMetricsOutput is the query_metrics resource. Live covers this
// process; History covers what earlier processes persisted.
type QueryMetricsOutput struct {
	Since             time.Time                         `json:"since"`
	TotalQueries      int64                             `json:"total_queries"`
	ZeroResultPct     float64                           `json:"zero_result_pct"`
	RepeatRate        float64                           `json:"repeat_rate"`
	QueryTypes        map[telemetry.QueryType]int64     `json:"query_types"`
	IndexCounts       map[string]int64                  `json:"index_counts"`
	Latency           map[telemetry.LatencyBucket]int64 `json:"latency"`
	TopTerms          []telemetry.TermCount             `json:"top_terms"`
	ZeroResultQueries []string                          `json:"zero_result_queries"`
	History           *telemetry.History                `json:"history,omitempty"`
}

func (s *Server) registerQueryMetricsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "query_metrics",
			URI:         queryMetricsURI,
			Description: "Query pattern telemetry: query types, top terms and zero-result searches",
			MIMEType:    "application/json",
		},
		s.handleQueryMetrics,
	)
}

func (s *Server) handleQueryMetrics(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	s.mu.RLock()
	metrics := s.metrics
	s.mu.RUnlock()
	if metrics == nil {
		return nil, NewInvalidParamsError("query metrics not available")
	}

	snap := metrics.Snapshot()
	out := QueryMetricsOutput{
		Since:             snap.Since,
		TotalQueries:      snap.Total,
		ZeroResultPct:     snap.MissRate(),
		RepeatRate:        snap.RepeatRate(),
		QueryTypes:        snap.QueryTypes,
		IndexCounts:       snap.Indexes,
		Latency:           snap.Latency,
		TopTerms:          snap.TopTerms,
		ZeroResultQueries: make([]string, 0, len(snap.RecentMisses)),
	}
	for _, q := range snap.RecentMisses {
		out.ZeroResultQueries = append(out.ZeroResultQueries, q.Keys)
	}
	history, err := metrics.History(ctx, historyDays, 20)
	if err != nil {
		s.logger.Warn("query_history_failed", slog.String("error", err.Error()))
	}
	out.History = history
	return jsonResource(queryMetricsURI, out)
}

func (s *Server) registerIndexesResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "indexes",
			URI:         indexesURI,
			Description: "Configured search indexes and their tracking status",
			MIMEType:    "application/json",
		},
		func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			out, err := s.indexStatus(ctx, IndexStatusInput{})
			if err != nil {
				return nil, err
			}
			return jsonResource(indexesURI, out)
		},
	)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: "application/json", Text: string(content)}},
	}, nil
}
