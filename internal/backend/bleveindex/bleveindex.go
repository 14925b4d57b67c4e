// Package bleveindex implements a search backend on bleve indexes, one per
// search index, kept in memory or under the data directory.
package bleveindex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/whitespace"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/Aman-CERP/amansearch/internal/backend"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/query"
)

// PluginID identifies the backend in server configuration.
const PluginID = "search_api_bleve"

const (
	wordsAnalyzer = "search_api_words"
	// signatureFile records the field layout a bleve index was built for.
	signatureFile = "search_api_fields.json"
)

// Config is the backend configuration.
type Config struct {
	// InMemory keeps indexes in memory even when a data directory is set.
	InMemory bool `json:"in_memory" yaml:"in_memory"`
}

type openIndex struct {
	index     bleve.Index
	signature string
	fields    map[string]field.Type
}

// Backend stores every search index in its own bleve index.
type Backend struct {
	mu      sync.RWMutex
	dir     string
	logger  *slog.Logger
	indexes map[string]*openIndex
}

var _ backend.Backend = (*Backend)(nil)

// New returns a backend storing indexes below dir. An empty dir keeps
// them in memory.
func New(dir string, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{dir: dir, logger: logger, indexes: make(map[string]*openIndex)}
}

// Register adds the backend to reg.
func Register(reg *backend.Registry) error {
	return reg.Register(backend.Descriptor{
		ID:          PluginID,
		Label:       "Bleve",
		Description: "Indexes items in embedded bleve indexes.",
	}, func(deps backend.Deps, raw map[string]any) (backend.Backend, error) {
		inMemory, _ := raw["in_memory"].(bool)
		dir := ""
		if !inMemory && deps.DataDir != "" {
			dir = filepath.Join(deps.DataDir, "bleve")
		}
		return New(dir, deps.Logger), nil
	})
}

func (b *Backend) PluginID() string { return PluginID }

func (b *Backend) SupportsFeature(feature string) bool {
	return feature == backend.FeatureFacets || feature == backend.FeatureFacetsOperatorOr
}

func (b *Backend) SupportsDataType(t field.Type) bool { return false }

// fieldLayout maps field IDs to stored types.
func fieldLayout(idx backend.Index) map[string]field.Type {
	out := make(map[string]field.Type)
	for _, f := range idx.Fields() {
		out[f.ID] = f.StorageType()
	}
	return out
}

func layoutSignature(layout map[string]field.Type) string {
	data, _ := json.Marshal(layout)
	return string(data)
}

// buildMapping maps fulltext fields to the whitespace analyzer, strings
// to keywords and the remaining types to numeric or boolean fields.
func buildMapping(layout map[string]field.Type) (mapping.IndexMapping, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(wordsAnalyzer, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     whitespace.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("add analyzer: %w", err)
	}
	m.DefaultAnalyzer = keyword.Name

	doc := bleve.NewDocumentMapping()
	keywordField := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = keyword.Name
		fm.IncludeInAll = false
		return fm
	}
	doc.AddFieldMappingsAt(query.FieldDatasource, keywordField())
	doc.AddFieldMappingsAt(query.FieldLanguage, keywordField())

	for id, t := range layout {
		var fm *mapping.FieldMapping
		switch t {
		case field.TypeText, field.TypeTokenizedText:
			fm = bleve.NewTextFieldMapping()
			fm.Analyzer = wordsAnalyzer
		case field.TypeString, field.TypeURI:
			fm = keywordField()
		case field.TypeInteger, field.TypeDecimal, field.TypeDate:
			fm = bleve.NewNumericFieldMapping()
		case field.TypeBoolean:
			fm = bleve.NewBooleanFieldMapping()
		default:
			return nil, amanerrors.Newf(amanerrors.ErrCodeUnknownType, "Unknown field type '%s'.", t)
		}
		fm.IncludeInAll = false
		doc.AddFieldMappingsAt(id, fm)
	}
	m.DefaultMapping = doc
	return m, nil
}

func (b *Backend) indexPath(indexID string) string {
	if b.dir == "" {
		return ""
	}
	return filepath.Join(b.dir, sanitize(indexID))
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r == '.' {
			return '_'
		}
		return r
	}, id)
}

// open returns the bleve index for idx, creating it when needed. A stored
// index built for other fields is recreated and reported as such.
func (b *Backend) open(idx backend.Index) (*openIndex, bool, error) {
	layout := fieldLayout(idx)
	sig := layoutSignature(layout)

	b.mu.Lock()
	defer b.mu.Unlock()
	if oi, ok := b.indexes[idx.ID()]; ok {
		if oi.signature == sig {
			return oi, false, nil
		}
		_ = oi.index.Close()
		delete(b.indexes, idx.ID())
		if err := b.removeFiles(idx.ID()); err != nil {
			return nil, false, err
		}
		oi, err := b.create(idx.ID(), layout, sig)
		return oi, true, err
	}

	path := b.indexPath(idx.ID())
	if path != "" {
		stored, err := os.ReadFile(filepath.Join(path, signatureFile))
		if err == nil && string(stored) == sig {
			bi, err := bleve.Open(path)
			if err == nil {
				oi := &openIndex{index: bi, signature: sig, fields: layout}
				b.indexes[idx.ID()] = oi
				return oi, false, nil
			}
			b.logger.Warn("bleve_index_open_failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		if err := b.removeFiles(idx.ID()); err != nil {
			return nil, false, err
		}
	}
	oi, err := b.create(idx.ID(), layout, sig)
	return oi, true, err
}

func (b *Backend) create(indexID string, layout map[string]field.Type, sig string) (*openIndex, error) {
	m, err := buildMapping(layout)
	if err != nil {
		return nil, err
	}
	var bi bleve.Index
	path := b.indexPath(indexID)
	if path == "" {
		bi, err = bleve.NewMemOnly(m)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, amanerrors.New(amanerrors.ErrCodeFilePermission, "failed to create bleve directory", err)
		}
		bi, err = bleve.New(path, m)
		if err == nil {
			err = os.WriteFile(filepath.Join(path, signatureFile), []byte(sig), 0o644)
		}
	}
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeDatabaseOpen, fmt.Sprintf("failed to create bleve index for %s", indexID), err)
	}
	oi := &openIndex{index: bi, signature: sig, fields: layout}
	b.indexes[indexID] = oi
	b.logger.Info("bleve_index_created", slog.String("index", indexID), slog.Int("fields", len(layout)))
	return oi, nil
}

func (b *Backend) removeFiles(indexID string) error {
	path := b.indexPath(indexID)
	if path == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return amanerrors.New(amanerrors.ErrCodeDatabaseWrite, "failed to remove bleve index", err)
	}
	return nil
}

func (b *Backend) AddIndex(ctx context.Context, idx backend.Index) error {
	_, _, err := b.open(idx)
	return err
}

// UpdateIndex recreates the bleve index when the field layout changed,
// which always requires reindexing.
func (b *Backend) UpdateIndex(ctx context.Context, idx backend.Index) (bool, error) {
	_, recreated, err := b.open(idx)
	return recreated, err
}

func (b *Backend) RemoveIndex(ctx context.Context, indexID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if oi, ok := b.indexes[indexID]; ok {
		_ = oi.index.Close()
		delete(b.indexes, indexID)
	}
	return b.removeFiles(indexID)
}

// document converts the field values of an item into a bleve document.
func document(it *item.Item, layout map[string]field.Type) map[string]any {
	doc := map[string]any{
		query.FieldDatasource: it.DatasourceID(),
		query.FieldLanguage:   it.Language(),
	}
	for id, f := range it.FieldsNoExtract() {
		t, ok := layout[id]
		if !ok || len(f.Values) == 0 {
			continue
		}
		var vals []any
		for _, v := range f.Values {
			if cv, ok := convert(v, t); ok {
				vals = append(vals, cv)
			}
		}
		switch len(vals) {
		case 0:
		case 1:
			doc[id] = vals[0]
		default:
			doc[id] = vals
		}
	}
	return doc
}

func convert(v any, t field.Type) (any, bool) {
	switch t {
	case field.TypeText, field.TypeTokenizedText:
		if tv, ok := v.(*field.TextValue); ok {
			if tv.IsTokenized() {
				words := make([]string, 0, len(tv.Tokens))
				for _, tok := range tv.Tokens {
					words = append(words, tok.Text)
				}
				return strings.Join(words, " "), true
			}
			return tv.Text, true
		}
		return field.Stringify(v)
	case field.TypeString, field.TypeURI:
		return field.Stringify(v)
	case field.TypeInteger, field.TypeDecimal:
		return field.ToFloat(v)
	case field.TypeDate:
		ts, ok := field.ToTimestamp(v)
		return float64(ts), ok
	case field.TypeBoolean:
		return field.ToBool(v)
	}
	return nil, false
}

// IndexItems stores all items in one batch.
func (b *Backend) IndexItems(ctx context.Context, idx backend.Index, items []*item.Item) ([]string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	oi, _, err := b.open(idx)
	if err != nil {
		return nil, err
	}
	batch := oi.index.NewBatch()
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if err := batch.Index(it.ID(), document(it, oi.fields)); err != nil {
			b.logger.Warn("bleve_index_item_failed", slog.String("item", it.ID()), slog.String("error", err.Error()))
			continue
		}
		ids = append(ids, it.ID())
	}
	if err := oi.index.Batch(batch); err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeDatabaseWrite, "failed to execute bleve batch", err)
	}
	return ids, nil
}

func (b *Backend) DeleteItems(ctx context.Context, idx backend.Index, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	oi, _, err := b.open(idx)
	if err != nil {
		return err
	}
	batch := oi.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := oi.index.Batch(batch); err != nil {
		return amanerrors.New(amanerrors.ErrCodeDatabaseWrite, "failed to delete from bleve index", err)
	}
	return nil
}

func (b *Backend) DeleteAllIndexItems(ctx context.Context, idx backend.Index, datasourceID string) error {
	oi, _, err := b.open(idx)
	if err != nil {
		return err
	}
	var ids []string
	if datasourceID == "" {
		ids, err = matchingIDs(ctx, oi.index, bleve.NewMatchAllQuery())
	} else {
		tq := bleve.NewTermQuery(datasourceID)
		tq.SetField(query.FieldDatasource)
		ids, err = matchingIDs(ctx, oi.index, tq)
	}
	if err != nil {
		return err
	}
	return b.DeleteItems(ctx, idx, ids)
}

func (b *Backend) IndexedItemIDs(ctx context.Context, idx backend.Index) ([]string, error) {
	oi, _, err := b.open(idx)
	if err != nil {
		return nil, err
	}
	ids, err := matchingIDs(ctx, oi.index, bleve.NewMatchAllQuery())
	sort.Strings(ids)
	return ids, err
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for id, oi := range b.indexes {
		if err := oi.index.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.indexes, id)
	}
	return firstErr
}
