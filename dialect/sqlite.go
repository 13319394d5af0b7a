package dialect

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/syssam/strata/schema/field"
	"modernc.org/sqlite"
)

type sqliteDialect struct{}

var registerRegexp sync.Once

// regexpFunc backs the REGEXP operator: X REGEXP Y calls regexp(Y, X).
func regexpFunc(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	pattern, ok := args[0].(string)
	if !ok {
		return int64(0), nil
	}
	s, ok := args[1].(string)
	if !ok {
		return int64(0), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("strata: sqlite regexp: %w", err)
	}
	if re.MatchString(s) {
		return int64(1), nil
	}
	return int64(0), nil
}

func (sqliteDialect) Kind() string { return SQLite }

func (sqliteDialect) Quote(ident string) string { return quoteWith(ident, "`") }

func (sqliteDialect) PhysicalType(c field.Class) (string, bool) {
	switch c {
	case field.ClassInteger:
		return "INTEGER", true
	case field.ClassReal:
		return "REAL", true
	case field.ClassText:
		return "TEXT", true
	case field.ClassBlob:
		return "BLOB", true
	}
	return "", false
}

func (sqliteDialect) Placeholder(int) string { return "?" }

func (d sqliteDialect) CreateTable(table string, cols []ColumnDef) string {
	return createTable(d, table, cols)
}

func (d sqliteDialect) AddColumn(table string, col ColumnDef) string {
	return addColumn(d, table, col)
}

func (d sqliteDialect) UpsertSQL(table string, cols []string, rows int) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
	}
	return fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES %s",
		d.Quote(table), strings.Join(quoted, ", "), insertValues(d, len(cols), rows, 1))
}

func (sqliteDialect) LimitOffset(limit, offset int) string {
	switch {
	case limit >= 0 && offset > 0:
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	case limit >= 0:
		return fmt.Sprintf("LIMIT %d", limit)
	case offset > 0:
		// SQLite has no offset-without-limit form.
		return fmt.Sprintf("LIMIT -1 OFFSET %d", offset)
	}
	return ""
}

func (d sqliteDialect) Regex(col, pattern string) string {
	return fmt.Sprintf("%s REGEXP '%s'", col, d.EscapeString(pattern))
}

// EscapeString doubles quotes only: SQLite string literals treat
// backslashes as ordinary characters.
func (sqliteDialect) EscapeString(s string) string {
	return escapeQuotes(s)
}

func (sqliteDialect) StrLength(col string) string {
	return fmt.Sprintf("LENGTH(%s)", col)
}

func (sqliteDialect) ListContains(col, lit, _ string) string {
	return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value = %s)", col, lit)
}

func (sqliteDialect) ListLength(col string) string {
	return fmt.Sprintf("json_array_length(%s)", col)
}

func (sqliteDialect) OpenConnection(url string) (*sql.DB, error) {
	var rerr error
	registerRegexp.Do(func() {
		rerr = sqlite.RegisterDeterministicScalarFunction("regexp", 2, regexpFunc)
	})
	if rerr != nil {
		return nil, fmt.Errorf("strata: sqlite: register regexp: %w", rerr)
	}
	return sql.Open("sqlite", sqlitePath(url))
}

func (sqliteDialect) CreateDatabase(url string) error {
	path := sqlitePath(url)
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file::memory:") {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("strata: sqlite: create database dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("strata: sqlite: create database file: %w", err)
	}
	return f.Close()
}

func (sqliteDialect) Columns(ctx context.Context, conn ExecQuerier, table string) (map[string]string, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(`%s`)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols := make(map[string]string)
	for rows.Next() {
		var (
			cid, notnull, pk int
			name, ctype      string
			dflt             any
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = ctype
	}
	return cols, rows.Err()
}

// sqlitePath strips the scheme segment from a sqlite URL.
func sqlitePath(url string) string {
	for _, prefix := range []string{"sqlite3://", "sqlite://", "sqlite3:", "sqlite:"} {
		if strings.HasPrefix(url, prefix) {
			return strings.TrimPrefix(url, prefix)
		}
	}
	return url
}
