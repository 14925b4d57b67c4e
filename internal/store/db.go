package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // CGO SQLite driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // Pure Go SQLite driver (no CGO)

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// Config selects and addresses the database.
type Config struct {
	// Driver is one of sqlite, sqlite3, mysql or postgres.
	Driver string `yaml:"driver" json:"driver"`
	// Path is the SQLite database file. Empty means in-memory.
	Path string `yaml:"path" json:"path"`
	// DSN is used verbatim for postgres, and for mysql when set.
	DSN string `yaml:"dsn" json:"dsn"`

	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"-"`
	Database string `yaml:"database" json:"database"`
}

// DB is a database handle that knows its dialect.
type DB struct {
	*sqlx.DB
	dialect Dialect
	path    string
}

// Dialect returns the handle's dialect.
func (db *DB) Dialect() Dialect { return db.dialect }

// Open connects to the configured database.
//
// For SQLite files the database is checked for corruption first and
// cleared when it fails the check; the search index is rebuilt from the
// tracker afterwards.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeConfigInvalid, err.Error(), err)
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	var sqlDB *sqlx.DB
	connect := func(ctx context.Context) error {
		sqlDB, err = sqlx.ConnectContext(ctx, cfg.Driver, dsn)
		return err
	}
	if dialect.IsSQLite() {
		err = connect(ctx)
	} else {
		// Remote servers may still be starting next to us.
		err = amanerrors.DefaultBackoff().Do(ctx, connect)
	}
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeDatabaseOpen, "failed to open database", err)
	}

	db := &DB{DB: sqlDB, dialect: dialect, path: cfg.Path}
	if dialect.IsSQLite() {
		if err := db.configureSQLite(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	} else {
		sqlDB.SetMaxOpenConns(16)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

func buildDSN(cfg Config) (string, error) {
	switch cfg.Driver {
	case DriverSQLite, DriverSQLite3:
		if cfg.Path == "" {
			return ":memory:", nil
		}
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", amanerrors.New(amanerrors.ErrCodeDatabaseOpen,
				fmt.Sprintf("failed to create directory %s", dir), err)
		}
		if validErr := validateSQLiteIntegrity(cfg.Driver, cfg.Path); validErr != nil {
			slog.Warn("sqlite_database_corrupted",
				slog.String("path", cfg.Path),
				slog.String("error", validErr.Error()))
			if removeErr := os.Remove(cfg.Path); removeErr != nil && !os.IsNotExist(removeErr) {
				return "", amanerrors.New(amanerrors.ErrCodeCorruptIndex,
					fmt.Sprintf("database corrupted at %s and cannot remove (original error: %v)", cfg.Path, validErr), removeErr)
			}
			_ = os.Remove(cfg.Path + "-wal")
			_ = os.Remove(cfg.Path + "-shm")
			slog.Info("sqlite_database_cleared",
				slog.String("path", cfg.Path),
				slog.String("reason", "corruption detected, all items will be reindexed"))
		}
		return cfg.Path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", nil
	case DriverMySQL:
		if cfg.DSN != "" {
			return cfg.DSN, nil
		}
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, port)
		mc.DBName = cfg.Database
		mc.ParseTime = true
		mc.MultiStatements = false
		mc.Params = map[string]string{"charset": "utf8mb4"}
		return mc.FormatDSN(), nil
	case DriverPostgres:
		if cfg.DSN != "" {
			return cfg.DSN, nil
		}
		port := cfg.Port
		if port == 0 {
			port = 5432
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, port, cfg.User, cfg.Password, cfg.Database), nil
	}
	return "", amanerrors.Newf(amanerrors.ErrCodeConfigInvalid, "unsupported database driver %q", cfg.Driver)
}

// validateSQLiteIntegrity checks an existing SQLite file before opening.
// Returns nil if valid or absent.
func validateSQLiteIntegrity(driver, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open(driver, path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

func (db *DB) configureSQLite(ctx context.Context) error {
	// Single writer. Also keeps temporary tables and :memory: databases
	// on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return amanerrors.New(amanerrors.ErrCodeDatabaseOpen, "failed to set pragma", err)
		}
	}
	return nil
}

// TableExists reports whether a table is present.
func (db *DB) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	if err := db.GetContext(ctx, &n, db.Rebind(db.dialect.TableExistsQuery()), table); err != nil {
		return false, amanerrors.New(amanerrors.ErrCodeSchema, "cannot query schema", err)
	}
	return n > 0, nil
}

// CreateTable creates t unless it exists.
func (db *DB) CreateTable(ctx context.Context, t Table) error {
	for _, stmt := range db.dialect.CreateTable(t) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return amanerrors.New(amanerrors.ErrCodeSchema, fmt.Sprintf("failed to create table %s", t.Name), err)
		}
	}
	return nil
}

// Transact runs fn in a transaction, rolling back on error.
func (db *DB) Transact(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return amanerrors.New(amanerrors.ErrCodeDatabaseWrite, "failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return amanerrors.New(amanerrors.ErrCodeDatabaseWrite, "failed to commit transaction", err)
	}
	return nil
}

// Close checkpoints the WAL for file databases and closes the handle.
func (db *DB) Close() error {
	if db.dialect.IsSQLite() && db.path != "" {
		_, _ = db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return db.DB.Close()
}

// ChunkStrings splits ids into slices of at most size elements.
func ChunkStrings(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	var chunks [][]string
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

// Rebind converts "?" placeholders to the dialect's bind style.
func (db *DB) Rebind(query string) string { return db.dialect.Rebind(query) }

// Size returns the size of a file database including its WAL, or 0 for
// in-memory and server databases.
func (db *DB) Size() int64 {
	if !db.dialect.IsSQLite() || db.path == "" {
		return 0
	}
	var total int64
	for _, p := range []string{db.path, db.path + "-wal"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

// Path returns the SQLite database file, or "" for other databases.
func (db *DB) Path() string { return db.path }
