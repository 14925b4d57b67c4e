package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config is the logging block of the project config.
type Config struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" json:"level"`
	// File is the JSON log file. Empty logs to stderr only.
	File string `yaml:"file" json:"file,omitempty"`
	// MaxSizeMB triggers rotation. Default 10.
	MaxSizeMB int `yaml:"max_size_mb" json:"max_size_mb"`
	// MaxFiles is the number of rotated files kept. Default 5.
	MaxFiles int `yaml:"max_files" json:"max_files"`
	// Stderr mirrors file output to stderr.
	Stderr bool `yaml:"stderr" json:"stderr"`
}

// DefaultConfig logs at info level to DefaultLogPath and stderr.
func DefaultConfig() Config {
	return Config{Level: "info", File: DefaultLogPath(), MaxSizeMB: 10, MaxFiles: 5, Stderr: true}
}

// ParseLevel accepts the slog level names in any case, plus "warning".
func ParseLevel(s string) (slog.Level, error) {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// Setup builds a JSON logger for cfg. The returned function flushes and
// closes the log file. An unknown level logs at info.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	level, _ := ParseLevel(cfg.Level)
	var out io.Writer = os.Stderr
	cleanup := func() {}
	if cfg.File != "" {
		rw, err := OpenRotating(cfg.File, int64(cfg.MaxSizeMB)<<20, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		out = rw
		if cfg.Stderr {
			out = io.MultiWriter(rw, os.Stderr)
		}
		cleanup = func() { _ = rw.Close() }
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})), cleanup, nil
}

// SetupMCPMode installs a file-only default logger; the MCP stdio server
// owns stdout and clients may show stderr. level defaults to debug.
func SetupMCPMode(level string) (func(), error) {
	if level == "" {
		level = "debug"
	}
	cfg := DefaultConfig()
	cfg.Level = level
	cfg.Stderr = false
	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	logger.Info("mcp_logging_ready", slog.String("file", cfg.File), slog.String("level", level))
	return cleanup, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

// DefaultLogPath is ~/.amansearch/logs/amansearch.log, or the same under
// the temp directory when there is no home.
func DefaultLogPath() string {
	base, err := os.UserHomeDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, ".amansearch", "logs", "amansearch.log")
}

// FindLogFile returns explicit, or DefaultLogPath when explicit is empty,
// provided the file exists.
func FindLogFile(explicit string) (string, error) {
	path := explicit
	if path == "" {
		path = DefaultLogPath()
	}
	if _, err := os.Stat(path); err != nil {
		if explicit != "" {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return "", fmt.Errorf("no log file at %s yet; run a command with --debug first", path)
	}
	return path, nil
}
