package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amansearch/internal/backend"
	"github.com/Aman-CERP/amansearch/internal/index"
	"github.com/Aman-CERP/amansearch/internal/store"
)

// isolate points the user config at an empty directory and clears the
// environment overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	for _, k := range []string{
		"AMANSEARCH_DATA_DIR", "AMANSEARCH_DB_DRIVER", "AMANSEARCH_DB_PATH", "AMANSEARCH_DB_DSN",
		"AMANSEARCH_CACHE_BACKEND", "AMANSEARCH_REDIS_ADDR", "AMANSEARCH_REDIS_PASSWORD",
		"AMANSEARCH_SCHEDULE", "AMANSEARCH_SCHEDULER_ENABLED", "AMANSEARCH_WATCH_ENABLED",
		"AMANSEARCH_HTTP_ADDR", "AMANSEARCH_LOG_LEVEL", "AMANSEARCH_CACHE_SIZE",
	} {
		t.Setenv(k, "")
	}
	return dir
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const projectYAML = `
servers:
  - id: main
    name: Main
    enabled: true
    backend: search_api_db
    backend_config:
      min_chars: 3
datasources:
  - id: entity:node
    label: Content
    files: [content/nodes.json]
    url_pattern: /node/{id}
    properties:
      title: {name: title, label: Title, type: text}
indexes:
  - id: articles
    enabled: true
    server: main
    datasources:
      entity:node: {}
    fields:
      title:
        datasource_id: entity:node
        property_path: title
        type: text
`

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: all defaults should be applied
	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, store.DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "search.db", filepath.Base(cfg.Storage.Path))
	assert.Equal(t, CacheLRU, cfg.Cache.Backend)
	assert.Equal(t, 1000, cfg.Cache.Size)
	assert.Equal(t, "@every 5m", cfg.Scheduler.Spec)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "500ms", cfg.Watch.Debounce)
	assert.Equal(t, "127.0.0.1:8787", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ProjectConfig(t *testing.T) {
	isolate(t)

	// Given: a project config with a server, a datasource and an index
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, ProjectConfigFile), projectYAML)

	// When: loading
	cfg, err := Load(dir)
	require.NoError(t, err)

	// Then: sections are parsed and relative files resolved
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "search_api_db", cfg.Servers[0].Backend)
	assert.Equal(t, 3, cfg.Servers[0].Config["min_chars"])

	require.Len(t, cfg.Datasources, 1)
	assert.Equal(t, []string{filepath.Join(dir, "content", "nodes.json")}, cfg.Datasources[0].Files)
	assert.Equal(t, "text", cfg.Datasources[0].Properties["title"].DataType)

	ic, ok := cfg.Index("articles")
	require.True(t, ok)
	assert.Equal(t, "articles", ic.Name)
	assert.Equal(t, index.DefaultBatchSize, ic.Options.BatchSize)
	assert.Equal(t, index.DefaultCronLimit, ic.Options.CronLimit)
	assert.Equal(t, "title", ic.Fields["title"].PropertyPath)
}

func TestLoad_NoConfigUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Empty(t, cfg.Indexes)
	assert.Equal(t, CacheLRU, cfg.Cache.Backend)
}

func TestLoad_YMLFallback(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, ProjectConfigFileAlt), "cache:\n  backend: none\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, CacheNone, cfg.Cache.Backend)
}

func TestLoad_Precedence(t *testing.T) {
	// Given: user config, project config and environment disagree
	userDir := isolate(t)
	writeConfig(t, filepath.Join(userDir, "amansearch", "config.yaml"), `
cache:
  size: 50
  backend: lru
http:
  addr: 0.0.0.0:9000
logging:
  level: debug
servers:
  - id: main
    backend: search_api_bleve
`)
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, ProjectConfigFile), `
cache:
  size: 75
servers:
  - id: main
    backend: search_api_db
  - id: second
    backend: search_api_db
`)
	t.Setenv("AMANSEARCH_LOG_LEVEL", "warn")

	// When: loading
	cfg, err := Load(dir)
	require.NoError(t, err)

	// Then: project beats user, environment beats both
	assert.Equal(t, 75, cfg.Cache.Size)
	assert.Equal(t, "0.0.0.0:9000", cfg.HTTP.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level)
	require.Len(t, cfg.Servers, 2)
	assert.Equal(t, backend.ServerConfig{ID: "main", Backend: "search_api_db"}, cfg.Servers[0])
	assert.Equal(t, "second", cfg.Servers[1].ID)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("AMANSEARCH_DB_DRIVER", "postgres")
	t.Setenv("AMANSEARCH_DB_DSN", "postgres://localhost/search")
	t.Setenv("AMANSEARCH_CACHE_BACKEND", "redis")
	t.Setenv("AMANSEARCH_REDIS_ADDR", "cache:6379")
	t.Setenv("AMANSEARCH_SCHEDULER_ENABLED", "false")
	t.Setenv("AMANSEARCH_CACHE_SIZE", "not-a-number")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, store.DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/search", cfg.Storage.DSN)
	assert.Equal(t, CacheRedis, cfg.Cache.Backend)
	assert.Equal(t, "cache:6379", cfg.Cache.Redis.Addr)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 1000, cfg.Cache.Size)
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, ProjectConfigFile), "servers: [unclosed")

	_, err := Load(dir)

	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "oracle" }, "storage.driver"},
		{"server without id", func(c *Config) {
			c.Servers = []backend.ServerConfig{{Backend: "search_api_db"}}
		}, "needs an id"},
		{"server without backend", func(c *Config) {
			c.Servers = []backend.ServerConfig{{ID: "main"}}
		}, "backend is required"},
		{"index on unknown server", func(c *Config) {
			ic := index.NewConfig("a")
			ic.Server = "nope"
			c.Indexes = []index.Config{ic}
		}, "unknown server"},
		{"index on unknown datasource", func(c *Config) {
			ic := index.NewConfig("a")
			ic.Datasources["entity:user"] = index.DatasourceConfig{}
			c.Indexes = []index.Config{ic}
		}, "unknown datasource"},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "memcached" }, "cache.backend"},
		{"lru without size", func(c *Config) { c.Cache.Size = 0 }, "cache.size"},
		{"bad ttl", func(c *Config) { c.Cache.Redis.TTL = "soon" }, "cache.redis.ttl"},
		{"bad cron spec", func(c *Config) { c.Scheduler.Spec = "every now and then" }, "scheduler.spec"},
		{"disabled scheduler ignores spec", func(c *Config) {
			c.Scheduler.Enabled = false
			c.Scheduler.Spec = "nonsense"
		}, ""},
		{"bad debounce", func(c *Config) { c.Watch.Debounce = "fast" }, "watch.debounce"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurations(t *testing.T) {
	ttl, err := RedisConfig{TTL: "10m"}.TTLDuration()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, ttl)

	ttl, err = RedisConfig{}.TTLDuration()
	require.NoError(t, err)
	assert.Zero(t, ttl)

	d, err := WatchConfig{Debounce: "250ms"}.DebounceDuration()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)
}

func TestSetIndex_WriteYAML_RoundTrip(t *testing.T) {
	isolate(t)

	// Given: a loaded config whose index gains a field
	dir := t.TempDir()
	path := filepath.Join(dir, ProjectConfigFile)
	writeConfig(t, path, projectYAML)
	cfg, err := Load(dir)
	require.NoError(t, err)
	ic, _ := cfg.Index("articles")
	ic.Fields["body"] = index.FieldConfig{DatasourceID: "entity:node", PropertyPath: "body", Type: "text"}
	cfg.SetIndex(ic)

	// When: writing and reloading
	require.NoError(t, cfg.WriteYAML(path))
	reloaded, err := Load(dir)
	require.NoError(t, err)

	// Then: the new field survives and the index is not duplicated
	assert.Len(t, reloaded.Indexes, 1)
	got, _ := reloaded.Index("articles")
	assert.Equal(t, "body", got.Fields["body"].PropertyPath)
}

func TestGetUserConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, "/tmp/xdg/amansearch/config.yaml", GetUserConfigPath())
	assert.Equal(t, "/tmp/xdg/amansearch", GetUserConfigDir())
	assert.False(t, UserConfigExists())
}

func TestLoadFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	writeConfig(t, path, "storage:\n  driver: sqlite3\n  path: data/search.db\n")

	cfg, err := LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, store.DriverSQLite3, cfg.Storage.Driver)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data", "search.db"), cfg.Storage.Path)
}

func TestLoadFile_IndexOptionsDefaultWhenOmitted(t *testing.T) {
	// Given: one index without options and one that turns index_directly off
	isolate(t)
	path := filepath.Join(t.TempDir(), "indexes.yaml")
	writeConfig(t, path, projectYAML+`  - id: queued
    enabled: true
    server: main
    options:
      index_directly: false
`)

	// When: loading the file
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cfg.Indexes, 2)

	// Then: omitted options keep the defaults and explicit ones win
	articles, queued := cfg.Indexes[0], cfg.Indexes[1]
	assert.True(t, articles.Options.IndexDirectly)
	assert.Equal(t, index.DefaultBatchSize, articles.Options.BatchSize)
	assert.Equal(t, index.DefaultCronLimit, articles.Options.CronLimit)
	assert.False(t, queued.Options.IndexDirectly)
	assert.Equal(t, index.DefaultCronLimit, queued.Options.CronLimit)
}

func TestSaveIndex_KeepsFileAndBacksUp(t *testing.T) {
	isolate(t)

	// Given: a project file with one index
	dir := t.TempDir()
	path := filepath.Join(dir, ProjectConfigFile)
	writeConfig(t, path, projectYAML)
	cfg, err := Load(dir)
	require.NoError(t, err)
	ic, _ := cfg.Index("articles")
	ic.Description = "updated"

	// When: saving the index
	require.NoError(t, SaveIndex(path, ic))

	// Then: the change is persisted, other settings survive and a backup exists
	reloaded, err := Load(dir)
	require.NoError(t, err)
	got, _ := reloaded.Index("articles")
	assert.Equal(t, "updated", got.Description)
	assert.Len(t, reloaded.Datasources, len(cfg.Datasources))
	backups, err := Backups(path)
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}
