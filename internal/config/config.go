package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amansearch/internal/backend"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/index"
	"github.com/Aman-CERP/amansearch/internal/logging"
	"github.com/Aman-CERP/amansearch/internal/store"
)

// Project configuration file names, in order of precedence.
const (
	ProjectConfigFile    = ".amansearch.yaml"
	ProjectConfigFileAlt = ".amansearch.yml"
)

// Cache backends.
const (
	CacheNone  = "none"
	CacheLRU   = "lru"
	CacheRedis = "redis"
)

// Config represents the complete amansearch configuration.
type Config struct {
	Version     int                    `yaml:"version" json:"version"`
	DataDir     string                 `yaml:"data_dir" json:"data_dir"`
	Storage     store.Config           `yaml:"storage" json:"storage"`
	Servers     []backend.ServerConfig `yaml:"servers" json:"servers"`
	Indexes     []index.Config         `yaml:"indexes" json:"indexes"`
	Datasources []DatasourceConfig     `yaml:"datasources" json:"datasources"`
	Cache       CacheConfig            `yaml:"cache" json:"cache"`
	Scheduler   SchedulerConfig        `yaml:"scheduler" json:"scheduler"`
	Watch       WatchConfig            `yaml:"watch" json:"watch"`
	HTTP        HTTPConfig             `yaml:"http" json:"http"`
	Logging     logging.Config         `yaml:"logging" json:"logging"`
}

// DatasourceConfig declares a document datasource and the files it is
// loaded from.
type DatasourceConfig struct {
	ID         string                               `yaml:"id" json:"id"`
	Label      string                               `yaml:"label,omitempty" json:"label,omitempty"`
	Properties map[string]*field.PropertyDefinition `yaml:"properties" json:"properties"`
	Bundles    map[string]string                    `yaml:"bundles,omitempty" json:"bundles,omitempty"`
	URLPattern string                               `yaml:"url_pattern,omitempty" json:"url_pattern,omitempty"`
	Files      []string                             `yaml:"files,omitempty" json:"files,omitempty"`
	PageSize   int                                  `yaml:"page_size,omitempty" json:"page_size,omitempty"`
}

// CacheConfig configures the search result cache.
type CacheConfig struct {
	// Backend is none, lru or redis.
	Backend string      `yaml:"backend" json:"backend"`
	Size    int         `yaml:"size" json:"size"`
	Redis   RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig configures the Redis result cache.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
	// TTL is a duration string such as "10m".
	TTL string `yaml:"ttl" json:"ttl"`
}

// SchedulerConfig configures periodic indexing in the daemon.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Spec is a cron expression or descriptor such as "@every 5m".
	Spec        string `yaml:"spec" json:"spec"`
	Concurrency int    `yaml:"concurrency" json:"concurrency"`
}

// WatchConfig configures reloading of datasource files.
type WatchConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Debounce string `yaml:"debounce" json:"debounce"`
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Addr string `yaml:"addr" json:"addr"`
	// Mode is the gin mode: debug, release or test.
	Mode string `yaml:"mode" json:"mode"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: defaultDataDir(),
		Storage: store.Config{
			Driver: store.DriverSQLite,
			Path:   filepath.Join(defaultDataDir(), "search.db"),
		},
		Cache: CacheConfig{
			Backend: CacheLRU,
			Size:    1000,
			Redis:   RedisConfig{Addr: "localhost:6379", TTL: "10m"},
		},
		Scheduler: SchedulerConfig{
			Enabled:     true,
			Spec:        "@every 5m",
			Concurrency: index.DefaultConcurrency,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: "500ms",
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:8787",
			Mode: "release",
		},
		Logging: logging.DefaultConfig(),
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amansearch")
	}
	return filepath.Join(home, ".amansearch")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/amansearch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/amansearch/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amansearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amansearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "amansearch", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}
	parsed, err := parseFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return parsed, nil
}

// Load loads configuration for the project in dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/amansearch/config.yaml)
//  3. Project config (.amansearch.yaml in dir)
//  4. Environment variables (AMANSEARCH_*)
//
// Relative datasource file paths in the project config are resolved
// against dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	userCfg, err := LoadUserConfig()
	if err != nil {
		return nil, err
	}
	if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if path := ProjectConfigPath(dir); path != "" {
		parsed, err := parseFile(path)
		if err != nil {
			return nil, err
		}
		parsed.resolvePaths(dir)
		cfg.mergeWith(parsed)
	}

	cfg.applyEnvOverrides()
	cfg.applyIndexDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads defaults overlaid with a single explicit config file and
// the environment.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	parsed, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	parsed.resolvePaths(filepath.Dir(path))
	cfg.mergeWith(parsed)
	cfg.applyEnvOverrides()
	cfg.applyIndexDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ProjectConfigPath returns the project config file in dir, or "" if there
// is none. .yaml takes precedence over .yml.
func ProjectConfigPath(dir string) string {
	for _, name := range []string{ProjectConfigFile, ProjectConfigFileAlt} {
		if p := filepath.Join(dir, name); fileExists(p) {
			return p
		}
	}
	return ""
}

func parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &parsed, nil
}

func (c *Config) resolvePaths(dir string) {
	for i := range c.Datasources {
		for j, f := range c.Datasources[i].Files {
			if !filepath.IsAbs(f) {
				c.Datasources[i].Files[j] = filepath.Join(dir, f)
			}
		}
	}
	if c.Storage.Path != "" && !filepath.IsAbs(c.Storage.Path) {
		c.Storage.Path = filepath.Join(dir, c.Storage.Path)
	}
	if c.DataDir != "" && !filepath.IsAbs(c.DataDir) {
		c.DataDir = filepath.Join(dir, c.DataDir)
	}
}

// mergeWith merges non-zero values from other into c. Servers, indexes and
// datasources are merged by ID; an entry in other replaces the entry with
// the same ID.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	if other.Storage.Driver != "" {
		c.Storage = other.Storage
	} else if other.Storage.Path != "" {
		c.Storage.Path = other.Storage.Path
	}

	c.Servers = mergeByID(c.Servers, other.Servers, func(s backend.ServerConfig) string { return s.ID })
	c.Indexes = mergeByID(c.Indexes, other.Indexes, func(i index.Config) string { return i.ID })
	c.Datasources = mergeByID(c.Datasources, other.Datasources, func(d DatasourceConfig) string { return d.ID })

	if other.Cache.Backend != "" {
		c.Cache.Backend = other.Cache.Backend
	}
	if other.Cache.Size != 0 {
		c.Cache.Size = other.Cache.Size
	}
	if other.Cache.Redis.Addr != "" {
		c.Cache.Redis.Addr = other.Cache.Redis.Addr
	}
	if other.Cache.Redis.Password != "" {
		c.Cache.Redis.Password = other.Cache.Redis.Password
	}
	if other.Cache.Redis.DB != 0 {
		c.Cache.Redis.DB = other.Cache.Redis.DB
	}
	if other.Cache.Redis.TTL != "" {
		c.Cache.Redis.TTL = other.Cache.Redis.TTL
	}

	// Enabled is boolean, so the section counts as set when its spec is.
	if other.Scheduler.Spec != "" {
		c.Scheduler.Spec = other.Scheduler.Spec
		c.Scheduler.Enabled = other.Scheduler.Enabled
	}
	if other.Scheduler.Concurrency != 0 {
		c.Scheduler.Concurrency = other.Scheduler.Concurrency
	}
	if other.Watch.Debounce != "" {
		c.Watch.Debounce = other.Watch.Debounce
		c.Watch.Enabled = other.Watch.Enabled
	}

	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
	if other.HTTP.Mode != "" {
		c.HTTP.Mode = other.HTTP.Mode
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

func mergeByID[T any](base, other []T, id func(T) string) []T {
	out := append([]T(nil), base...)
	for _, o := range other {
		replaced := false
		for i := range out {
			if id(out[i]) == id(o) {
				out[i] = o
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, o)
		}
	}
	return out
}

// applyEnvOverrides applies AMANSEARCH_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMANSEARCH_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("AMANSEARCH_DB_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("AMANSEARCH_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("AMANSEARCH_DB_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("AMANSEARCH_CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
	if v := os.Getenv("AMANSEARCH_REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
	}
	if v := os.Getenv("AMANSEARCH_REDIS_PASSWORD"); v != "" {
		c.Cache.Redis.Password = v
	}
	if v := os.Getenv("AMANSEARCH_SCHEDULE"); v != "" {
		c.Scheduler.Spec = v
	}
	if v := os.Getenv("AMANSEARCH_SCHEDULER_ENABLED"); v != "" {
		c.Scheduler.Enabled = parseBool(v)
	}
	if v := os.Getenv("AMANSEARCH_WATCH_ENABLED"); v != "" {
		c.Watch.Enabled = parseBool(v)
	}
	if v := os.Getenv("AMANSEARCH_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("AMANSEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AMANSEARCH_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Cache.Size = n
		}
	}
}

func parseBool(v string) bool {
	return strings.ToLower(v) == "true" || v == "1"
}

// applyIndexDefaults fills indexing options that were left out of the file.
func (c *Config) applyIndexDefaults() {
	for i := range c.Indexes {
		ic := &c.Indexes[i]
		if ic.Name == "" {
			ic.Name = ic.ID
		}
		if ic.Options.BatchSize == 0 {
			ic.Options.BatchSize = index.DefaultBatchSize
		}
		if ic.Options.CronLimit == 0 {
			ic.Options.CronLimit = index.DefaultCronLimit
		}
		if ic.Datasources == nil {
			ic.Datasources = make(map[string]index.DatasourceConfig)
		}
		if ic.Fields == nil {
			ic.Fields = make(map[string]index.FieldConfig)
		}
		if ic.Processors == nil {
			ic.Processors = make(map[string]index.ProcessorConfig)
		}
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case store.DriverSQLite, store.DriverSQLite3, store.DriverMySQL, store.DriverPostgres:
	default:
		return fmt.Errorf("storage.driver must be 'sqlite', 'sqlite3', 'mysql' or 'postgres', got %s", c.Storage.Driver)
	}

	servers := make(map[string]bool, len(c.Servers))
	for _, s := range c.Servers {
		if s.ID == "" {
			return fmt.Errorf("servers: every server needs an id")
		}
		if s.Backend == "" {
			return fmt.Errorf("servers.%s: backend is required", s.ID)
		}
		servers[s.ID] = true
	}

	datasources := make(map[string]bool, len(c.Datasources))
	for _, d := range c.Datasources {
		if d.ID == "" {
			return fmt.Errorf("datasources: every datasource needs an id")
		}
		datasources[d.ID] = true
	}

	for _, ic := range c.Indexes {
		if ic.ID == "" {
			return fmt.Errorf("indexes: every index needs an id")
		}
		if ic.Server != "" && !servers[ic.Server] {
			return fmt.Errorf("indexes.%s: unknown server %s", ic.ID, ic.Server)
		}
		for ds := range ic.Datasources {
			if !datasources[ds] {
				return fmt.Errorf("indexes.%s: unknown datasource %s", ic.ID, ds)
			}
		}
		if ic.Options.BatchSize < 0 {
			return fmt.Errorf("indexes.%s: batch_size must be non-negative, got %d", ic.ID, ic.Options.BatchSize)
		}
	}

	switch c.Cache.Backend {
	case CacheNone, CacheLRU, CacheRedis:
	default:
		return fmt.Errorf("cache.backend must be 'none', 'lru' or 'redis', got %s", c.Cache.Backend)
	}
	if c.Cache.Backend == CacheLRU && c.Cache.Size <= 0 {
		return fmt.Errorf("cache.size must be positive, got %d", c.Cache.Size)
	}
	if _, err := c.Cache.Redis.TTLDuration(); err != nil {
		return fmt.Errorf("cache.redis.ttl: %w", err)
	}

	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.Spec); err != nil {
			return fmt.Errorf("scheduler.spec %q: %w", c.Scheduler.Spec, err)
		}
	}
	if _, err := c.Watch.DebounceDuration(); err != nil {
		return fmt.Errorf("watch.debounce: %w", err)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// TTLDuration parses the TTL. An empty TTL means no expiry.
func (r RedisConfig) TTLDuration() (time.Duration, error) {
	if r.TTL == "" {
		return 0, nil
	}
	return time.ParseDuration(r.TTL)
}

// DebounceDuration parses the debounce window.
func (w WatchConfig) DebounceDuration() (time.Duration, error) {
	if w.Debounce == "" {
		return 0, nil
	}
	return time.ParseDuration(w.Debounce)
}

// Index returns the configuration of an index.
func (c *Config) Index(id string) (index.Config, bool) {
	for _, ic := range c.Indexes {
		if ic.ID == id {
			return ic, true
		}
	}
	return index.Config{}, false
}

// SetIndex stores an index configuration, replacing the one with the same ID.
func (c *Config) SetIndex(ic index.Config) {
	c.Indexes = mergeByID(c.Indexes, []index.Config{ic}, func(i index.Config) string { return i.ID })
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return writeFileAtomic(path, data)
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// SaveIndex stores ic in the config file at path, keeping everything else
// in the file as written. The previous file is backed up first.
func SaveIndex(path string, ic index.Config) error {
	file := &Config{}
	if fileExists(path) {
		parsed, err := parseFile(path)
		if err != nil {
			return err
		}
		file = parsed
		if _, err := BackupFile(path); err != nil {
			return err
		}
	}
	file.SetIndex(ic)
	return file.WriteYAML(path)
}
