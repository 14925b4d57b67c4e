// Package httpapi exposes search, autocomplete, indexing and status over
// HTTP using gin.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Aman-CERP/amansearch/internal/app"
	"github.com/Aman-CERP/amansearch/internal/backend"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/index"
	"github.com/Aman-CERP/amansearch/internal/query"
	"github.com/Aman-CERP/amansearch/internal/ui"
	"github.com/Aman-CERP/amansearch/pkg/version"
)

// Service is what the API needs from the application. *app.App
// implements it.
type Service interface {
	Search(ctx context.Context, indexID string, req *query.Request) (*app.SearchResponse, error)
	Autocomplete(ctx context.Context, indexID, input string, limit int) ([]backend.Suggestion, error)
	Status(ctx context.Context) (ui.StatusInfo, error)
	IndexItems(ctx context.Context, r ui.Renderer, ids []string, cfg index.RunnerConfig) (*index.RunnerResult, error)
}

var _ Service = (*app.App)(nil)

// Options configures the router.
type Options struct {
	// Mode is the gin mode: debug, release or test.
	Mode string
	// RateLimit is the number of requests per minute allowed per client
	// IP. Zero disables limiting.
	RateLimit int
	Logger    *slog.Logger
}

const defaultAutocompleteLimit = 10

type handler struct {
	svc    Service
	logger *slog.Logger
}

// NewRouter builds the gin engine serving svc.
func NewRouter(svc Service, opts Options) *gin.Engine {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{svc: svc, logger: logger}

	r := gin.New()
	r.Use(recovery(logger), requestLogger(logger))
	if opts.RateLimit > 0 {
		r.Use(rateLimit(opts.RateLimit, 0))
	}

	r.GET("/healthz", h.health)
	r.GET("/indexes", h.listIndexes)
	g := r.Group("/indexes/:id")
	g.GET("/status", h.indexStatus)
	g.POST("/search", h.search)
	g.GET("/autocomplete", h.autocomplete)
	g.POST("/index", h.index)
	return r
}

func (h *handler) health(c *gin.Context) {
	Success(c, gin.H{"status": "ok", "version": version.Version}, "ok")
}

func (h *handler) listIndexes(c *gin.Context) {
	info, err := h.svc.Status(c.Request.Context())
	if err != nil {
		FailErr(c, err)
		return
	}
	Success(c, info, "ok")
}

func (h *handler) indexStatus(c *gin.Context) {
	id := c.Param("id")
	info, err := h.svc.Status(c.Request.Context())
	if err != nil {
		FailErr(c, err)
		return
	}
	for _, st := range info.Indexes {
		if st.ID == id {
			Success(c, gin.H{"index": st, "remaining": st.Remaining()}, "ok")
			return
		}
	}
	FailErr(c, amanerrors.New(amanerrors.ErrCodeConfigNotFound, "index not found: "+id, nil))
}

func (h *handler) search(c *gin.Context) {
	var req query.Request
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		FailErr(c, amanerrors.New(amanerrors.ErrCodeInvalidQuery, "invalid request body", err))
		return
	}
	resp, err := h.svc.Search(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		FailErr(c, err)
		return
	}
	Success(c, resp, "ok")
}

func (h *handler) autocomplete(c *gin.Context) {
	limit := defaultAutocompleteLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			FailErr(c, amanerrors.New(amanerrors.ErrCodeInvalidValue, "limit must be a positive integer", err))
			return
		}
		limit = n
	}
	suggestions, err := h.svc.Autocomplete(c.Request.Context(), c.Param("id"), c.Query("q"), limit)
	if err != nil {
		FailErr(c, err)
		return
	}
	if suggestions == nil {
		suggestions = []backend.Suggestion{}
	}
	Success(c, suggestions, "ok")
}

type indexRequest struct {
	Limit     int `json:"limit"`
	BatchSize int `json:"batch_size"`
}

func (h *handler) index(c *gin.Context) {
	var req indexRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		FailErr(c, amanerrors.New(amanerrors.ErrCodeInvalidInput, "invalid request body", err))
		return
	}
	if req.Limit < 0 || req.BatchSize < 0 {
		FailErr(c, amanerrors.New(amanerrors.ErrCodeInvalidValue, "limit and batch_size must not be negative", nil))
		return
	}
	r := ui.NewPlainRenderer(ui.NewConfig(io.Discard))
	res, err := h.svc.IndexItems(c.Request.Context(), r, []string{c.Param("id")},
		index.RunnerConfig{Limit: req.Limit, BatchSize: req.BatchSize})
	if err != nil {
		FailErr(c, err)
		return
	}
	Success(c, gin.H{
		"items":     res.Items,
		"remaining": res.Remaining,
		"batches":   res.Batches,
		"errors":    res.Errors,
	}, "ok")
	if res.Errors > 0 {
		h.logger.Warn("http_index_errors", slog.String("index", c.Param("id")), slog.Int("failed_batches", res.Errors))
	}
}
