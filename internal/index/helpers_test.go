package index

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amansearch/internal/backend"
	"github.com/Aman-CERP/amansearch/internal/backend/database"
	"github.com/Aman-CERP/amansearch/internal/datasource"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/processor"
	"github.com/Aman-CERP/amansearch/internal/query"
	"github.com/Aman-CERP/amansearch/internal/store"
	"github.com/Aman-CERP/amansearch/internal/tracker"
)

const nodes = "entity:node"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture is a SQLite database with a database-backed server and one
// document datasource.
type fixture struct {
	t           *testing.T
	db          *store.DB
	docs        *datasource.Documents
	datasources *datasource.Registry
	server      *backend.Server
	cache       *LRUCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, tracker.EnsureSchema(ctx, db))

	docs := datasource.NewDocuments(datasource.DocumentsConfig{
		ID:    nodes,
		Label: "Content",
		Properties: map[string]*field.PropertyDefinition{
			"title": {Name: "title", Label: "Title", DataType: "text"},
			"body":  {Name: "body", Label: "Body", DataType: "text"},
			"tags":  {Name: "tags", Label: "Tags", DataType: "string", List: true},
		},
		Bundles:    map[string]string{"article": "Article", "page": "Page"},
		URLPattern: "/node/{id}",
	})
	registry := datasource.NewRegistry()
	registry.Register(docs)

	b, err := database.New(ctx, db, database.DefaultConfig(), discardLogger())
	require.NoError(t, err)
	server := backend.NewServerWithBackend(backend.ServerConfig{
		ID: "main", Name: "Main", Enabled: true, Backend: database.PluginID,
	}, b)

	return &fixture{
		t:           t,
		db:          db,
		docs:        docs,
		datasources: registry,
		server:      server,
		cache:       NewLRUCache(10),
	}
}

func (f *fixture) trackers(ctx context.Context, indexID, order string) (tracker.Tracker, error) {
	return tracker.New(ctx, f.db, indexID, tracker.Options{Order: order})
}

func (f *fixture) servers(id string) (*backend.Server, bool) {
	if id == f.server.ID() {
		return f.server, true
	}
	return nil, false
}

// articlesConfig indexes the title and bundle of all content.
func articlesConfig() Config {
	cfg := NewConfig("articles")
	cfg.Server = "main"
	cfg.Options.IndexDirectly = false
	cfg.Datasources[nodes] = DatasourceConfig{}
	cfg.Fields["title"] = FieldConfig{Label: "Title", DatasourceID: nodes, PropertyPath: "title", Type: field.TypeText}
	cfg.Fields["kind"] = FieldConfig{Label: "Content type", DatasourceID: nodes, PropertyPath: "type", Type: field.TypeString}
	return cfg
}

// newIndex builds an index, registers it with the server when enabled and
// subscribes it to document changes.
func (f *fixture) newIndex(cfg Config) *Index {
	f.t.Helper()
	ctx := context.Background()
	idx, err := New(ctx, cfg, Deps{
		Server:      f.server,
		Servers:     f.servers,
		Datasources: f.datasources,
		Processors:  processor.DefaultRegistry(),
		Trackers:    f.trackers,
		Cache:       f.cache,
		Logger:      discardLogger(),
	})
	require.NoError(f.t, err)
	if cfg.Enabled {
		require.NoError(f.t, f.server.Backend().AddIndex(ctx, idx))
	}
	f.docs.Subscribe(idx.HandleChange)
	return idx
}

func (f *fixture) put(docs ...datasource.Document) {
	f.docs.Put(context.Background(), docs...)
}

func article(id, title string) datasource.Document {
	return datasource.Document{ID: id, Bundle: "article", Langcode: "en", Fields: map[string]any{"title": title}}
}

func page(id, title string) datasource.Document {
	return datasource.Document{ID: id, Bundle: "page", Langcode: "en", Fields: map[string]any{"title": title}}
}

func nodeID(id string) string {
	return field.CreateCombinedID(nodes, id+":en")
}

func search(t *testing.T, idx *Index, build func(q *query.Query)) *query.ResultSet {
	t.Helper()
	q := idx.Query()
	build(q)
	require.NoError(t, idx.Search(context.Background(), q))
	return q.Results()
}

func status(t *testing.T, idx *Index) Status {
	t.Helper()
	st, err := idx.TrackingStatus(context.Background())
	require.NoError(t, err)
	return st
}

func defaultRegistry() *processor.Registry {
	return processor.DefaultRegistry()
}
