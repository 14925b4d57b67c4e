package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Aman-CERP/amansearch/internal/datasource"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/watcher"
)

// DefaultMaxFileSize is the default maximum size of a datasource file
// (100MB). Larger files are skipped to prevent memory exhaustion.
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// FileSource binds document files to a datasource.
type FileSource struct {
	Datasource *datasource.Documents
	Files      []string
}

// CoordinatorConfig contains configuration for the Coordinator.
type CoordinatorConfig struct {
	// Sources are the file-backed datasources.
	Sources []FileSource

	// MaxFileSize is the maximum file size in bytes. Defaults to
	// DefaultMaxFileSize.
	MaxFileSize int64

	Logger *slog.Logger
}

// Coordinator keeps file-backed datasources in sync with their files.
// Reloading a datasource replaces its documents, which notifies the
// indexes of inserted, updated and deleted items.
type Coordinator struct {
	config CoordinatorConfig
	byPath map[string][]*FileSource
	logger *slog.Logger
	mu     sync.Mutex
}

// NewCoordinator creates a new coordinator. File paths are made absolute.
func NewCoordinator(config CoordinatorConfig) *Coordinator {
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = DefaultMaxFileSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	c := &Coordinator{config: config, byPath: make(map[string][]*FileSource), logger: config.Logger}
	for i := range c.config.Sources {
		src := &c.config.Sources[i]
		for j, f := range src.Files {
			if abs, err := filepath.Abs(f); err == nil {
				src.Files[j] = abs
			}
			c.byPath[src.Files[j]] = append(c.byPath[src.Files[j]], src)
		}
	}
	return c
}

// Paths returns the watched file paths.
func (c *Coordinator) Paths() []string {
	paths := make([]string, 0, len(c.byPath))
	for p := range c.byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// LoadAll loads every datasource from its files.
func (c *Coordinator) LoadAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.config.Sources {
		if err := c.reload(ctx, &c.config.Sources[i]); err != nil {
			return err
		}
	}
	return nil
}

// HandleEvents reloads the datasources whose files changed.
func (c *Coordinator) HandleEvents(ctx context.Context, events []watcher.FileEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[*FileSource]bool)
	var sources []*FileSource
	for _, ev := range events {
		for _, src := range c.byPath[ev.Path] {
			if !seen[src] {
				seen[src] = true
				sources = append(sources, src)
			}
		}
	}

	var firstErr error
	for _, src := range sources {
		if err := c.reload(ctx, src); err != nil {
			c.logger.Warn("datasource_reload_failed",
				slog.String("datasource", src.Datasource.ID()),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// reload reads all files of src. A missing file contributes no documents,
// so deleting a file deletes its items.
func (c *Coordinator) reload(ctx context.Context, src *FileSource) error {
	var docs []datasource.Document
	for _, path := range src.Files {
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			c.logger.Info("datasource_file_missing", slog.String("path", path))
			continue
		}
		if err != nil {
			return amanerrors.New(amanerrors.ErrCodeFilePermission, fmt.Sprintf("cannot stat %s", path), err)
		}
		if info.Size() > c.config.MaxFileSize {
			c.logger.Warn("datasource_file_too_large",
				slog.String("path", path),
				slog.Int64("size", info.Size()),
				slog.Int64("max_size", c.config.MaxFileSize))
			continue
		}
		loaded, err := datasource.LoadFile(path)
		if err != nil {
			return err
		}
		docs = append(docs, loaded...)
	}
	src.Datasource.Replace(ctx, docs)
	c.logger.Debug("datasource_reloaded",
		slog.String("datasource", src.Datasource.ID()),
		slog.Int("documents", len(docs)))
	return nil
}
