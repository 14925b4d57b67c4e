package store

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Driver names understood by Open.
const (
	DriverSQLite   = "sqlite"
	DriverSQLite3  = "sqlite3"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// ColumnKind is an abstract column type translated per dialect.
type ColumnKind int

const (
	ColString ColumnKind = iota
	ColText
	ColInteger
	ColBigInt
	ColFloat
	ColBool
)

// Column describes one column of a table to create.
type Column struct {
	Name     string
	Kind     ColumnKind
	Length   int
	NotNull  bool
	Default  string
	Unsigned bool
}

// TableIndex is a secondary index.
type TableIndex struct {
	Name    string
	Columns []string
}

// Table describes a table to create.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
	Indexes    []TableIndex
}

// Dialect hides the SQL differences between the supported databases.
type Dialect struct {
	name     string
	bindType int
}

// DialectFor returns the dialect of a driver.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverSQLite, DriverSQLite3:
		return Dialect{name: driver, bindType: sqlx.QUESTION}, nil
	case DriverMySQL:
		return Dialect{name: driver, bindType: sqlx.QUESTION}, nil
	case DriverPostgres:
		return Dialect{name: driver, bindType: sqlx.DOLLAR}, nil
	}
	return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
}

// Name returns the driver name.
func (d Dialect) Name() string { return d.name }

// IsSQLite reports whether the dialect is one of the SQLite drivers.
func (d Dialect) IsSQLite() bool { return d.name == DriverSQLite || d.name == DriverSQLite3 }

// Rebind converts "?" placeholders to the dialect's bind style.
func (d Dialect) Rebind(query string) string {
	return sqlx.Rebind(d.bindType, query)
}

// Quote quotes an identifier.
func (d Dialect) Quote(ident string) string {
	switch d.name {
	case DriverMySQL:
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	case DriverPostgres:
		return pq.QuoteIdentifier(ident)
	default:
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	}
}

// MaxIdentifierLength is the longest table or column name allowed.
func (d Dialect) MaxIdentifierLength() int {
	if d.name == DriverPostgres {
		return 63
	}
	return 64
}

// Random returns the expression for random ordering.
func (d Dialect) Random() string {
	if d.name == DriverMySQL {
		return "RAND()"
	}
	return "RANDOM()"
}

// Like returns a LIKE comparison against a bound pattern escaped with EscapeLike.
func (d Dialect) Like(expr string, not bool) string {
	op := " LIKE ?"
	if not {
		op = " NOT LIKE ?"
	}
	if d.IsSQLite() {
		return expr + op + ` ESCAPE '\'`
	}
	return expr + op
}

// EscapeLike escapes LIKE wildcards in s.
func EscapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ColumnType returns the SQL type of a column kind.
func (d Dialect) ColumnType(c Column) string {
	length := c.Length
	if length == 0 {
		length = 255
	}
	switch c.Kind {
	case ColString:
		if d.IsSQLite() {
			return "TEXT"
		}
		return fmt.Sprintf("VARCHAR(%d)", length)
	case ColText:
		if d.name == DriverMySQL {
			return "LONGTEXT"
		}
		return "TEXT"
	case ColInteger:
		if d.IsSQLite() {
			return "INTEGER"
		}
		if d.name == DriverMySQL && c.Unsigned {
			return "INT UNSIGNED"
		}
		return "INTEGER"
	case ColBigInt:
		if d.IsSQLite() {
			return "INTEGER"
		}
		return "BIGINT"
	case ColFloat:
		switch d.name {
		case DriverPostgres:
			return "DOUBLE PRECISION"
		case DriverMySQL:
			return "DOUBLE"
		}
		return "REAL"
	case ColBool:
		if d.name == DriverMySQL {
			return "TINYINT"
		}
		if d.name == DriverPostgres {
			return "SMALLINT"
		}
		return "INTEGER"
	}
	return "TEXT"
}

func (d Dialect) columnDef(c Column) string {
	def := d.Quote(c.Name) + " " + d.ColumnType(c)
	if c.NotNull {
		def += " NOT NULL"
	}
	if c.Default != "" {
		def += " DEFAULT " + c.Default
	}
	return def
}

// CreateTable returns the statements creating t and its indexes.
func (d Dialect) CreateTable(t Table) []string {
	parts := make([]string, 0, len(t.Columns)+len(t.Indexes)+1)
	for _, c := range t.Columns {
		parts = append(parts, d.columnDef(c))
	}
	if len(t.PrimaryKey) > 0 {
		parts = append(parts, "PRIMARY KEY ("+d.quoteList(t.PrimaryKey)+")")
	}
	if d.name == DriverMySQL {
		for _, idx := range t.Indexes {
			parts = append(parts, "KEY "+d.Quote(idx.Name)+" ("+d.quoteList(idx.Columns)+")")
		}
	}
	stmt := "CREATE TABLE IF NOT EXISTS " + d.Quote(t.Name) + " (\n  " + strings.Join(parts, ",\n  ") + "\n)"
	if d.name == DriverMySQL {
		stmt += " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin"
	}
	stmts := []string{stmt}
	if d.name != DriverMySQL {
		for _, idx := range t.Indexes {
			stmts = append(stmts, d.CreateIndex(t.Name, idx))
		}
	}
	return stmts
}

// CreateIndex returns the statement adding a secondary index.
func (d Dialect) CreateIndex(table string, idx TableIndex) string {
	if d.name == DriverMySQL {
		return "ALTER TABLE " + d.Quote(table) + " ADD INDEX " + d.Quote(idx.Name) + " (" + d.quoteList(idx.Columns) + ")"
	}
	return "CREATE INDEX IF NOT EXISTS " + d.Quote(idx.Name) + " ON " + d.Quote(table) + " (" + d.quoteList(idx.Columns) + ")"
}

// AddColumn returns the statement adding a column.
func (d Dialect) AddColumn(table string, c Column) string {
	return "ALTER TABLE " + d.Quote(table) + " ADD COLUMN " + d.columnDef(c)
}

// DropColumn returns the statement removing a column.
func (d Dialect) DropColumn(table, column string) string {
	return "ALTER TABLE " + d.Quote(table) + " DROP COLUMN " + d.Quote(column)
}

// DropTable returns the statement removing a table.
func (d Dialect) DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + d.Quote(table)
}

// CreateTempTableAs returns the statement materializing a query into a
// temporary table.
func (d Dialect) CreateTempTableAs(table, query string) string {
	return "CREATE TEMPORARY TABLE " + d.Quote(table) + " AS " + query
}

// DropTempTable returns the statement dropping a temporary table.
func (d Dialect) DropTempTable(table string) string {
	if d.name == DriverMySQL {
		return "DROP TEMPORARY TABLE IF EXISTS " + d.Quote(table)
	}
	return "DROP TABLE IF EXISTS " + d.Quote(table)
}

// TableExistsQuery returns a query counting tables named by its argument.
func (d Dialect) TableExistsQuery() string {
	switch d.name {
	case DriverMySQL:
		return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
	case DriverPostgres:
		return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?"
	default:
		return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	}
}

func (d Dialect) quoteList(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = d.Quote(c)
	}
	return strings.Join(q, ", ")
}

// LimitOffset returns the LIMIT/OFFSET clause; a negative limit means no
// limit.
func (d Dialect) LimitOffset(limit, offset int) string {
	switch {
	case limit >= 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit >= 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		switch d.name {
		case DriverPostgres:
			return fmt.Sprintf(" OFFSET %d", offset)
		case DriverMySQL:
			return fmt.Sprintf(" LIMIT 18446744073709551615 OFFSET %d", offset)
		default:
			return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
		}
	}
	return ""
}

// RenameColumn returns the statement renaming a column.
func (d Dialect) RenameColumn(table, from, to string) string {
	return "ALTER TABLE " + d.Quote(table) + " RENAME COLUMN " + d.Quote(from) + " TO " + d.Quote(to)
}
