package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestDefaultLogPath(t *testing.T) {
	path := DefaultLogPath()
	if filepath.Base(filepath.Dir(filepath.Dir(path))) != ".amansearch" || filepath.Base(path) != "amansearch.log" {
		t.Errorf("unexpected default log path %s", path)
	}
}

func TestFindLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.log")
	if _, err := FindLogFile(path); err == nil {
		t.Error("missing explicit file should fail")
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FindLogFile(path)
	if err != nil || got != path {
		t.Errorf("FindLogFile = %q, %v", got, err)
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "test.log")

	logger, cleanup, err := Setup(Config{Level: "debug", File: logPath, MaxSizeMB: 1, MaxFiles: 2})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	logger.Debug("indexed batch", slog.String("index", "content"), slog.Int("count", 3))
	cleanup()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	entry := ParseLine(strings.TrimSpace(string(data)))
	if !entry.JSON || entry.Msg != "indexed batch" || entry.Attrs["index"] != "content" {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func TestSetup_LevelFilters(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "level.log")
	logger, cleanup, err := Setup(Config{Level: "WARN", File: logPath})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	cleanup()

	data, _ := os.ReadFile(logPath)
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), "shown") {
		t.Errorf("level filter not applied: %s", data)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"Warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		if got, err := ParseLevel(in); err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if l, err := ParseLevel("verbose"); err == nil || l != slog.LevelInfo {
		t.Errorf("ParseLevel(verbose) = %v, %v; want info and an error", l, err)
	}
}

func TestRotating_ShiftsAndCaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rot.log")
	r, err := OpenRotating(path, 10, 2)
	if err != nil {
		t.Fatalf("OpenRotating: %v", err)
	}
	r.nosync = true

	for i := range 5 {
		if _, err := r.Write([]byte(strings.Repeat(string(rune('a'+i)), 10))); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_ = r.Close()

	want := map[string]string{path: "eeeeeeeeee", path + ".1": "dddddddddd", path + ".2": "cccccccccc"}
	for p, content := range want {
		if data, err := os.ReadFile(p); err != nil || string(data) != content {
			t.Errorf("%s = %q, %v; want %q", p, data, err, content)
		}
	}
	if _, err := os.Stat(path + ".3"); err == nil {
		t.Error("expected at most 2 rotated files")
	}
}

func TestRotating_AppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := OpenRotating(path, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = r.Write([]byte("new\n"))
	_ = r.Close()
	_ = r.Close()

	if data, _ := os.ReadFile(path); string(data) != "old\nnew\n" {
		t.Errorf("content = %q", data)
	}
}

func TestViewer_TailFiltersByLevelAndPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "view.log")
	lines := []string{
		`{"time":"2026-01-02T10:00:00Z","level":"INFO","msg":"search","index":"content"}`,
		`{"time":"2026-01-02T10:00:01Z","level":"WARN","msg":"item skipped","item":"entity:node/1:en"}`,
		`not json`,
		`{"time":"2026-01-02T10:00:02Z","level":"ERROR","msg":"backend down"}`,
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	v := NewViewer(Filter{Level: "warn"}, &out)
	entries, err := v.Tail(path, 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	// invalid lines pass the level filter
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	v = NewViewer(Filter{Pattern: regexp.MustCompile(`skipped`)}, &out)
	entries, _ = v.Tail(path, 10)
	if len(entries) != 1 || entries[0].Attrs["item"] != "entity:node/1:en" {
		t.Fatalf("pattern filter failed: %+v", entries)
	}
	v.Print(entries...)
	if !strings.Contains(out.String(), "WARN  item skipped item=entity:node/1:en") {
		t.Errorf("unexpected format: %q", out.String())
	}
}

func TestViewer_TailKeepsLastAndSince(t *testing.T) {
	path := filepath.Join(t.TempDir(), "since.log")
	var lines []string
	for i := range 10 {
		lines = append(lines, fmt.Sprintf(`{"time":"2026-01-02T10:00:%02dZ","level":"INFO","msg":"batch","n":%d}`, i, i))
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := NewViewer(Filter{}, io.Discard).Tail(path, 3)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(entries) != 3 || entries[0].Attrs["n"] != float64(7) {
		t.Fatalf("expected the last 3 entries, got %+v", entries)
	}

	since := time.Date(2026, 1, 2, 10, 0, 8, 0, time.UTC)
	entries, _ = NewViewer(Filter{Since: since}, io.Discard).Tail(path, 0)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries since %s, got %d", since, len(entries))
	}
}

func TestViewer_FollowSeesAppendsAndRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "follow.log")
	if err := os.WriteFile(path, []byte(`{"level":"INFO","msg":"before"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	ch := make(chan Entry, 10)
	done := make(chan error, 1)
	go func() { done <- NewViewer(Filter{}, io.Discard).Follow(ctx, path, ch) }()

	want := func(msg string) {
		t.Helper()
		select {
		case e := <-ch:
			if e.Msg != msg {
				t.Fatalf("got %q, want %q", e.Msg, msg)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("no entry %q", msg)
		}
	}
	appendLine := func(msg string) {
		t.Helper()
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			t.Fatal(err)
		}
		fmt.Fprintf(f, `{"level":"INFO","msg":%q}`+"\n", msg)
		_ = f.Close()
	}

	// Follow starts at the end of the file.
	time.Sleep(100 * time.Millisecond)
	appendLine("after")
	want("after")

	if err := os.Rename(path, path+".1"); err != nil {
		t.Fatal(err)
	}
	appendLine("rotated")
	want("rotated")

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Follow: %v", err)
	}
}

func TestDiscard(t *testing.T) {
	if Discard().Enabled(t.Context(), slog.LevelError) {
		t.Error("discard logger should be disabled")
	}
}
