// ABOUTME: Per-backend SQL differences: quoting, placeholders and catalog queries.
// ABOUTME: Postgres, MySQL and SQLite share everything else in this package.

package sqlsafe

import (
	"strconv"
	"strings"
)

// Dialect captures what differs between back ends. Catalog methods return a
// query and its arguments; rows are (table_name) for ListTables, a single
// column for TableExists, and (name, type, nullable YES/NO, default) for Columns.
type Dialect interface {
	Name() string
	QuoteIdent(ident string) string
	Placeholder(n int) string

	// ScopeField is the argument name callers use for the schema: "schema" or "database".
	ScopeField() string
	// CurrentScopeQuery asks the back end for its default schema.
	CurrentScopeQuery() string

	ListTables(scope string) (string, []any)
	TableExists(scope, table string) (string, []any)
	Columns(scope, table string) (string, []any)
}

// Postgres is the dialect for PostgreSQL via pgx.
var Postgres Dialect = postgresDialect{}

// MySQL is the dialect for MySQL and MariaDB.
var MySQL Dialect = mysqlDialect{}

// SQLite is the dialect for SQLite.
var SQLite Dialect = sqliteDialect{}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) ScopeField() string { return "schema" }

func (postgresDialect) CurrentScopeQuery() string { return "SELECT current_schema()" }

func (postgresDialect) ListTables(scope string) (string, []any) {
	return `SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, []any{scope}
}

func (postgresDialect) TableExists(scope, table string) (string, []any) {
	return `SELECT 1
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_name = $2 AND table_type = 'BASE TABLE'
		LIMIT 1`, []any{scope, table}
}

func (postgresDialect) Columns(scope, table string) (string, []any) {
	return `SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, []any{scope, table}
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }

func (mysqlDialect) QuoteIdent(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (mysqlDialect) Placeholder(int) string { return "?" }

func (mysqlDialect) ScopeField() string { return "database" }

func (mysqlDialect) CurrentScopeQuery() string { return "SELECT DATABASE()" }

func (mysqlDialect) ListTables(scope string) (string, []any) {
	return `SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
		ORDER BY table_name`, []any{scope}
}

func (mysqlDialect) TableExists(scope, table string) (string, []any) {
	return `SELECT 1
		FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ? AND table_type = 'BASE TABLE'
		LIMIT 1`, []any{scope, table}
}

func (mysqlDialect) Columns(scope, table string) (string, []any) {
	return `SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, []any{scope, table}
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) ScopeField() string { return "schema" }

func (sqliteDialect) CurrentScopeQuery() string { return "SELECT 'main'" }

func (sqliteDialect) ListTables(scope string) (string, []any) {
	return `SELECT name
		FROM pragma_table_list
		WHERE schema = ? AND type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`, []any{scope}
}

func (sqliteDialect) TableExists(scope, table string) (string, []any) {
	return `SELECT 1
		FROM pragma_table_list
		WHERE schema = ? AND name = ? AND type = 'table'
		LIMIT 1`, []any{scope, table}
}

func (sqliteDialect) Columns(scope, table string) (string, []any) {
	return `SELECT name, type, CASE WHEN "notnull" = 0 THEN 'YES' ELSE 'NO' END, dflt_value
		FROM pragma_table_info(?, ?)
		ORDER BY cid`, []any{table, scope}
}
