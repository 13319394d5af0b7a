package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Registers the "postgres" database/sql driver.
	_ "github.com/lib/pq"

	"github.com/syssam/strata/schema/field"
)

type postgresDialect struct{}

func (postgresDialect) Kind() string { return Postgres }

func (postgresDialect) Quote(ident string) string { return quoteWith(ident, `"`) }

func (postgresDialect) PhysicalType(c field.Class) (string, bool) {
	switch c {
	case field.ClassInteger:
		return "BIGINT", true
	case field.ClassReal:
		return "DOUBLE PRECISION", true
	case field.ClassText:
		return "TEXT", true
	case field.ClassBlob:
		return "BYTEA", true
	}
	return "", false
}

func (postgresDialect) Placeholder(i int) string { return fmt.Sprintf("$%d", i) }

func (d postgresDialect) CreateTable(table string, cols []ColumnDef) string {
	return createTable(d, table, cols)
}

func (d postgresDialect) AddColumn(table string, col ColumnDef) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", d.Quote(table), d.Quote(col.Name), col.Type)
}

func (d postgresDialect) UpsertSQL(table string, cols []string, rows int) string {
	quoted := make([]string, len(cols))
	set := make([]string, 0, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
		if c != "id" {
			set = append(set, fmt.Sprintf("%s = excluded.%s", d.Quote(c), d.Quote(c)))
		}
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT (id) DO UPDATE SET %s",
		d.Quote(table), strings.Join(quoted, ", "), insertValues(d, len(cols), rows, 1), strings.Join(set, ", "))
	if len(set) == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT (id) DO NOTHING",
			d.Quote(table), strings.Join(quoted, ", "), insertValues(d, len(cols), rows, 1))
	}
	return stmt
}

func (postgresDialect) LimitOffset(limit, offset int) string {
	switch {
	case limit >= 0 && offset > 0:
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	case limit >= 0:
		return fmt.Sprintf("LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf("OFFSET %d", offset)
	}
	return ""
}

func (d postgresDialect) Regex(col, pattern string) string {
	return fmt.Sprintf("%s ~ '%s'", col, d.EscapeString(pattern))
}

// EscapeString doubles quotes only: with standard_conforming_strings (the
// default since 9.1) backslashes in literals are ordinary characters.
func (postgresDialect) EscapeString(s string) string {
	return escapeQuotes(s)
}

func (postgresDialect) StrLength(col string) string {
	return fmt.Sprintf("LENGTH(%s)", col)
}

func (d postgresDialect) ListContains(col, _, jsonLit string) string {
	return fmt.Sprintf("%s::jsonb @> '%s'::jsonb", col, d.EscapeString(jsonLit))
}

func (postgresDialect) ListLength(col string) string {
	return fmt.Sprintf("json_array_length(%s::json)", col)
}

func (postgresDialect) OpenConnection(url string) (*sql.DB, error) {
	return sql.Open("postgres", url)
}

func (postgresDialect) CreateDatabase(string) error { return nil }

func (postgresDialect) Columns(ctx context.Context, conn ExecQuerier, table string) (map[string]string, error) {
	rows, err := conn.QueryContext(ctx,
		"SELECT column_name, data_type FROM information_schema.columns WHERE table_name = $1", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols := make(map[string]string)
	for rows.Next() {
		var name, ctype string
		if err := rows.Scan(&name, &ctype); err != nil {
			return nil, err
		}
		cols[name] = ctype
	}
	return cols, rows.Err()
}
