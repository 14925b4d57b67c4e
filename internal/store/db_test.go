package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Driver: DriverSQLite})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_InMemory_CreatesTables(t *testing.T) {
	// Given: an in-memory database
	db := openMemory(t)
	ctx := context.Background()

	// When: a table is created
	err := db.CreateTable(ctx, Table{
		Name: "items",
		Columns: []Column{
			{Name: "id", Kind: ColString, Length: 50, NotNull: true},
			{Name: "changed", Kind: ColBigInt, NotNull: true, Default: "0"},
		},
		PrimaryKey: []string{"id"},
		Indexes:    []TableIndex{{Name: "items_changed", Columns: []string{"changed"}}},
	})
	require.NoError(t, err)

	// Then: it exists and accepts rows
	ok, err := db.TableExists(ctx, "items")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = db.ExecContext(ctx, db.Rebind("INSERT INTO items (id, changed) VALUES (?, ?)"), "a", 5)
	require.NoError(t, err)

	var changed int64
	require.NoError(t, db.GetContext(ctx, &changed, "SELECT changed FROM items WHERE id = ?", "a"))
	assert.Equal(t, int64(5), changed)

	// And: an unknown table is reported missing
	ok, err = db.TableExists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpen_CorruptFile_IsCleared(t *testing.T) {
	// Given: a file that is not a SQLite database
	path := filepath.Join(t.TempDir(), "search.db")
	require.NoError(t, os.WriteFile(path, []byte("definitely not sqlite, just garbage bytes"), 0644))

	// When: opening it
	db, err := Open(context.Background(), Config{Driver: DriverSQLite, Path: path})

	// Then: the file was replaced by a fresh database
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	ok, err := db.TableExists(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})
	require.Error(t, err)
}

func TestTransact_RollsBackOnError(t *testing.T) {
	// Given: a table with no rows
	db := openMemory(t)
	ctx := context.Background()
	require.NoError(t, db.CreateTable(ctx, Table{
		Name:    "t",
		Columns: []Column{{Name: "v", Kind: ColInteger}},
	}))

	// When: a transaction inserts and then fails
	err := db.Transact(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (1)"); err != nil {
			return err
		}
		return assert.AnError
	})

	// Then: nothing is kept
	require.ErrorIs(t, err, assert.AnError)
	var n int
	require.NoError(t, db.GetContext(ctx, &n, "SELECT COUNT(*) FROM t"))
	assert.Zero(t, n)
}

func TestDialect_Differences(t *testing.T) {
	sqlite, err := DialectFor(DriverSQLite)
	require.NoError(t, err)
	mysqlD, err := DialectFor(DriverMySQL)
	require.NoError(t, err)
	pg, err := DialectFor(DriverPostgres)
	require.NoError(t, err)

	assert.Equal(t, `"a""b"`, sqlite.Quote(`a"b`))
	assert.Equal(t, "`ab`", mysqlD.Quote("ab"))
	assert.Equal(t, `"ab"`, pg.Quote("ab"))

	assert.Equal(t, "SELECT $1, $2", pg.Rebind("SELECT ?, ?"))
	assert.Equal(t, "SELECT ?, ?", sqlite.Rebind("SELECT ?, ?"))

	assert.Equal(t, "RAND()", mysqlD.Random())
	assert.Equal(t, "RANDOM()", pg.Random())

	assert.Equal(t, `x LIKE ? ESCAPE '\'`, sqlite.Like("x", false))
	assert.Equal(t, "x NOT LIKE ?", pg.Like("x", true))

	assert.Equal(t, "VARCHAR(50)", mysqlD.ColumnType(Column{Kind: ColString, Length: 50}))
	assert.Equal(t, "DOUBLE PRECISION", pg.ColumnType(Column{Kind: ColFloat}))

	stmts := mysqlD.CreateTable(Table{
		Name:    "t",
		Columns: []Column{{Name: "a", Kind: ColInteger}},
		Indexes: []TableIndex{{Name: "t_a", Columns: []string{"a"}}},
	})
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], "KEY `t_a` (`a`)")
	assert.Len(t, pg.CreateTable(Table{
		Name:    "t",
		Columns: []Column{{Name: "a", Kind: ColInteger}},
		Indexes: []TableIndex{{Name: "t_a", Columns: []string{"a"}}},
	}), 2)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%\_a\\b`, EscapeLike(`100%_a\b`))
}

func TestChunkStrings(t *testing.T) {
	chunks := ChunkStrings([]string{"a", "b", "c", "d", "e"}, 2)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, chunks)
	assert.Nil(t, ChunkStrings(nil, 2))
}

func TestDialect_LimitOffset(t *testing.T) {
	sqlite, _ := DialectFor(DriverSQLite)
	pg, _ := DialectFor(DriverPostgres)

	assert.Equal(t, " LIMIT 10 OFFSET 5", sqlite.LimitOffset(10, 5))
	assert.Equal(t, " LIMIT 10", pg.LimitOffset(10, 0))
	assert.Equal(t, " LIMIT -1 OFFSET 5", sqlite.LimitOffset(-1, 5))
	assert.Equal(t, " OFFSET 5", pg.LimitOffset(-1, 5))
	assert.Empty(t, sqlite.LimitOffset(-1, 0))
}

func TestDB_Size(t *testing.T) {
	// Given: an in-memory and a file database
	mem := openMemory(t)
	path := filepath.Join(t.TempDir(), "size.db")
	file, err := Open(context.Background(), Config{Driver: DriverSQLite, Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = file.Close() })
	_, err = file.Exec("CREATE TABLE t (v TEXT)")
	require.NoError(t, err)

	// Then: only the file database reports a size
	assert.Zero(t, mem.Size())
	assert.Positive(t, file.Size())
	assert.Equal(t, path, file.Path())
}
