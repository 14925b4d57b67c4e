package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amansearch/internal/app"
	"github.com/Aman-CERP/amansearch/internal/backend"
	"github.com/Aman-CERP/amansearch/internal/backend/database"
	"github.com/Aman-CERP/amansearch/internal/config"
	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/index"
	"github.com/Aman-CERP/amansearch/internal/store"
)

const daemonNodes = `[
  {"id": "1", "bundle": "article", "fields": {"title": "Background indexing", "body": "Daemons index on a schedule"}},
  {"id": "2", "bundle": "page", "fields": {"title": "Contact", "body": "Write to us"}}
]`

// newTestApp builds an app over one JSON datasource file.
func newTestApp(t *testing.T) (*app.App, string) {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "nodes.json")
	require.NoError(t, os.WriteFile(file, []byte(daemonNodes), 0o644))

	cfg := config.NewConfig()
	cfg.DataDir = dir
	cfg.Storage = store.Config{Driver: store.DriverSQLite}
	cfg.Cache.Backend = config.CacheNone
	cfg.Servers = []backend.ServerConfig{{ID: "main", Name: "Main", Enabled: true, Backend: database.PluginID}}
	cfg.Datasources = []config.DatasourceConfig{{
		ID: "entity:node",
		Properties: map[string]*field.PropertyDefinition{
			"title": {Name: "title", Label: "Title", DataType: "text"},
			"body":  {Name: "body", Label: "Body", DataType: "text"},
		},
		Files: []string{file},
	}}
	ic := index.NewConfig("content")
	ic.Server = "main"
	ic.Options.IndexDirectly = false
	ic.Datasources["entity:node"] = index.DatasourceConfig{}
	ic.Fields["title"] = index.FieldConfig{DatasourceID: "entity:node", PropertyPath: "title", Type: field.TypeText}
	ic.Fields["body"] = index.FieldConfig{DatasourceID: "entity:node", PropertyPath: "body", Type: field.TypeText}
	cfg.Indexes = []index.Config{ic}

	a, err := app.New(context.Background(), cfg, app.Options{NoTelemetry: true, Logger: discardLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, file
}

func daemonTestConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.SocketPath = filepath.Join(os.TempDir(), fmt.Sprintf("amansearch-daemon-%d.sock", time.Now().UnixNano()))
	t.Cleanup(func() { _ = os.Remove(cfg.SocketPath) })
	cfg.Schedule = ""
	cfg.WatchDebounce = 50 * time.Millisecond
	cfg.Maintenance.Enabled = false
	return cfg
}

// runDaemon starts d in the background and stops it when the test ends.
func runDaemon(t *testing.T, d *Daemon) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
	client := NewClient(d.cfg)
	require.Eventually(t, client.IsRunning, 3*time.Second, 20*time.Millisecond)
	return client
}

func TestNewDaemon_Validates(t *testing.T) {
	a, _ := newTestApp(t)
	cfg := daemonTestConfig(t)
	cfg.Timeout = 0

	_, err := NewDaemon(cfg, a)
	assert.Error(t, err)

	_, err = NewDaemon(daemonTestConfig(t), nil)
	assert.Error(t, err)
}

func TestDaemon_IndexThenSearch(t *testing.T) {
	// Given: a running daemon over an app with two queued items
	a, _ := newTestApp(t)
	cfg := daemonTestConfig(t)
	cfg.Watch = false
	d, err := NewDaemon(cfg, a, WithLogger(discardLogger()))
	require.NoError(t, err)
	client := runDaemon(t, d)
	ctx := context.Background()

	st, err := client.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st.Indexes, 1)
	assert.Equal(t, 2, st.Indexes[0].Remaining)
	assert.Equal(t, "disabled", st.Watcher)

	// When: indexing over RPC, then searching
	res, err := client.Index(ctx, IndexParams{})
	require.NoError(t, err)
	resp, err := client.Search(ctx, SearchParams{Index: "content", Query: queryFor("daemons")})

	// Then: both items were indexed and the matching one is found
	require.NoError(t, err)
	assert.Equal(t, 2, res.Items)
	assert.Zero(t, res.Remaining)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "entity:node/1:und", resp.Items[0].ID)

	pid, err := ReadPID(cfg.PIDPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestDaemon_SecondInstanceRefused(t *testing.T) {
	a, _ := newTestApp(t)
	cfg := daemonTestConfig(t)
	cfg.Watch = false
	first, err := NewDaemon(cfg, a, WithLogger(discardLogger()))
	require.NoError(t, err)
	runDaemon(t, first)

	second, err := NewDaemon(cfg, a, WithLogger(discardLogger()))
	require.NoError(t, err)
	err = second.Start(context.Background())

	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestDaemon_ScheduleIndexes(t *testing.T) {
	// Given: a daemon indexing every second
	a, _ := newTestApp(t)
	cfg := daemonTestConfig(t)
	cfg.Watch = false
	cfg.Schedule = "@every 1s"
	d, err := NewDaemon(cfg, a, WithLogger(discardLogger()))
	require.NoError(t, err)
	client := runDaemon(t, d)

	// Then: the queue drains without explicit requests
	require.Eventually(t, func() bool {
		st, err := client.Status(context.Background())
		return err == nil && len(st.Indexes) == 1 && st.Indexes[0].Remaining == 0
	}, 5*time.Second, 100*time.Millisecond)
	st, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "@every 1s", st.Schedule)
	assert.NotEmpty(t, st.LastRun)
}

func TestDaemon_WatcherReloadsFile(t *testing.T) {
	// Given: a watching daemon
	a, file := newTestApp(t)
	cfg := daemonTestConfig(t)
	d, err := NewDaemon(cfg, a, WithLogger(discardLogger()))
	require.NoError(t, err)
	client := runDaemon(t, d)
	ctx := context.Background()

	// When: a third document is added to the watched file
	updated := `[
  {"id": "1", "bundle": "article", "fields": {"title": "Background indexing", "body": "Daemons index on a schedule"}},
  {"id": "2", "bundle": "page", "fields": {"title": "Contact", "body": "Write to us"}},
  {"id": "3", "bundle": "page", "fields": {"title": "Jobs", "body": "We are hiring"}}
]`
	require.NoError(t, os.WriteFile(file, []byte(updated), 0o644))

	// Then: the new item is tracked
	require.Eventually(t, func() bool {
		st, err := client.Status(ctx)
		return err == nil && len(st.Indexes) == 1 && st.Indexes[0].Total == 3
	}, 10*time.Second, 100*time.Millisecond)
}
