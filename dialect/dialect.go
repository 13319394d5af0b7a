// Package dialect provides the per-backend policy objects used by strata.
//
// A Dialect encapsulates one relational backend's type mapping, identifier
// quoting, SQL fragment templates and connection bootstrap. Dialects are
// immutable singletons; all methods are safe for concurrent use.
//
// # Supported backends
//
//   - SQLite (modernc.org/sqlite, driver name "sqlite")
//   - MySQL/MariaDB (github.com/go-sql-driver/mysql)
//   - PostgreSQL (github.com/lib/pq)
//   - MongoDB (document store, implemented by package document)
//
// The backend is selected from the scheme segment of a connection URL via
// Detect. An unknown scheme is a hard configuration error, never a silent
// fallback.
package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/strata/schema/field"
)

// Backend kind identifiers.
const (
	SQLite   = "sqlite"
	MySQL    = "mysql"
	Postgres = "postgres"
	Mongo    = "mongodb"
)

// ColumnDef describes one physical column for DDL generation.
type ColumnDef struct {
	Name       string
	Type       string // dialect-native type name, already mapped
	PrimaryKey bool
}

// A Dialect is a stateless policy object for one relational backend.
type Dialect interface {
	// Kind returns the backend kind identifier (e.g. dialect.SQLite).
	Kind() string

	// Quote wraps an identifier in the dialect's quoting characters.
	// The id column is conventionally left unquoted by callers.
	Quote(ident string) string

	// PhysicalType maps a physical column class to the dialect's native
	// column type name. A false return must make table/column creation
	// fail fast; it is never skipped silently.
	PhysicalType(c field.Class) (string, bool)

	// Placeholder returns the bound-parameter placeholder for the i-th
	// parameter (1-based).
	Placeholder(i int) string

	// CreateTable renders idempotent table-creation DDL.
	CreateTable(table string, cols []ColumnDef) string

	// AddColumn renders additive column DDL.
	AddColumn(table string, col ColumnDef) string

	// UpsertSQL renders a whole-row insert-or-replace statement keyed by
	// the primary key, with placeholders for rows × cols values.
	UpsertSQL(table string, cols []string, rows int) string

	// LimitOffset renders the paging clause. A negative limit means
	// "no limit"; a zero or negative offset means "no offset". Rendering
	// offset-without-limit is dialect specific (SQLite needs LIMIT -1,
	// MySQL a saturated limit, PostgreSQL a bare OFFSET).
	LimitOffset(limit, offset int) string

	// Regex renders a regular-expression match predicate against a column.
	Regex(col, pattern string) string

	// StrLength renders the dialect's native string length expression.
	StrLength(col string) string

	// ListContains renders a membership predicate over a JSON-encoded list
	// column. lit is the element as an SQL literal, jsonLit the element as
	// a JSON literal; dialects use whichever their native function needs.
	ListContains(col, lit, jsonLit string) string

	// ListLength renders an expression yielding the length of a
	// JSON-encoded list column.
	ListLength(col string) string

	// EscapeString escapes a string value for direct interpolation into a
	// string literal in this dialect's SQL text. Quote doubling is
	// universal; backslash handling differs (MySQL treats backslash as an
	// escape character inside literals, SQLite and PostgreSQL do not).
	EscapeString(s string) string

	// OpenConnection opens a database handle for the given URL, performing
	// any dialect-specific initialization such as registering a regex
	// predicate function for an embedded engine.
	OpenConnection(url string) (*sql.DB, error)

	// CreateDatabase bootstraps the database or file behind the URL.
	// Idempotent; a no-op for backends that need none.
	CreateDatabase(url string) error

	// Columns lists the existing physical columns of a table, mapping
	// column name to its reported type. Used for additive migration.
	Columns(ctx context.Context, conn ExecQuerier, table string) (map[string]string, error)
}

// ExecQuerier wraps the standard ExecContext and QueryContext methods.
// Implemented by *sql.DB, *sql.Conn and *sql.Tx.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ErrUnknownDialect is the sentinel matched by all UnknownDialectError values.
var ErrUnknownDialect = errors.New("strata: unknown dialect")

// UnknownDialectError is returned when a connection URL's scheme does not
// map to a known backend. It is an unrecoverable configuration error.
type UnknownDialectError struct {
	Scheme string
	URL    string
}

// Error returns the error string.
func (e *UnknownDialectError) Error() string {
	return fmt.Sprintf("strata: unknown dialect %q in connection url %q", e.Scheme, e.URL)
}

// Is reports whether the target error matches ErrUnknownDialect.
func (e *UnknownDialectError) Is(err error) bool { return err == ErrUnknownDialect }

// IsUnknownDialect returns true if the error is an UnknownDialectError.
func IsUnknownDialect(err error) bool {
	if err == nil {
		return false
	}
	var e *UnknownDialectError
	return errors.As(err, &e) || errors.Is(err, ErrUnknownDialect)
}

// schemes maps URL scheme segments to backend kinds.
var schemes = map[string]string{
	"sqlite":      SQLite,
	"sqlite3":     SQLite,
	"mysql":       MySQL,
	"mariadb":     MySQL,
	"postgres":    Postgres,
	"postgresql":  Postgres,
	"mongodb":     Mongo,
	"mongodb+srv": Mongo,
}

// Detect parses the scheme segment of a connection URL and maps it to a
// backend kind. There is no fallback: an unknown scheme fails.
func Detect(url string) (string, error) {
	scheme, _, ok := strings.Cut(url, ":")
	if !ok || scheme == "" {
		return "", &UnknownDialectError{Scheme: scheme, URL: url}
	}
	kind, ok := schemes[strings.ToLower(scheme)]
	if !ok {
		return "", &UnknownDialectError{Scheme: scheme, URL: url}
	}
	return kind, nil
}

// ForKind returns the relational Dialect singleton for a backend kind.
// The document kind has no relational dialect and fails here.
func ForKind(kind string) (Dialect, error) {
	switch kind {
	case SQLite:
		return sqliteDialect{}, nil
	case MySQL:
		return mysqlDialect{}, nil
	case Postgres:
		return postgresDialect{}, nil
	}
	return nil, &UnknownDialectError{Scheme: kind}
}

// escapeQuotes doubles single quotes, the standard-SQL string escape.
// Backends where backslash is also an escape character layer on top.
func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// quoteWith wraps ident in q, quoting each dot-separated segment.
func quoteWith(ident, q string) string {
	if strings.Contains(ident, ".") {
		parts := strings.Split(ident, ".")
		for i, p := range parts {
			parts[i] = q + p + q
		}
		return strings.Join(parts, ".")
	}
	return q + ident + q
}

// createTable renders the shared CREATE TABLE IF NOT EXISTS form.
func createTable(d Dialect, table string, cols []ColumnDef) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(d.Quote(table))
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		if c.PrimaryKey {
			// The primary key column keeps its unquoted name.
			b.WriteString(c.Name)
			b.WriteString(" ")
			b.WriteString(c.Type)
			b.WriteString(" PRIMARY KEY")
			continue
		}
		b.WriteString(d.Quote(c.Name))
		b.WriteString(" ")
		b.WriteString(c.Type)
	}
	b.WriteString(")")
	return b.String()
}

// addColumn renders the shared ALTER TABLE ... ADD COLUMN form.
func addColumn(d Dialect, table string, col ColumnDef) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", d.Quote(table), d.Quote(col.Name), col.Type)
}

// insertValues renders the (?, ?, ...), ... placeholder groups of a
// multi-row insert starting at parameter position start.
func insertValues(d Dialect, cols, rows, start int) string {
	var b strings.Builder
	n := start
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(n))
			n++
		}
		b.WriteString(")")
	}
	return b.String()
}
