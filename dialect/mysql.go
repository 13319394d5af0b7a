package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	// Registers the "mysql" database/sql driver.
	_ "github.com/go-sql-driver/mysql"

	"github.com/syssam/strata/schema/field"
)

type mysqlDialect struct{}

func (mysqlDialect) Kind() string { return MySQL }

func (mysqlDialect) Quote(ident string) string { return quoteWith(ident, "`") }

func (mysqlDialect) PhysicalType(c field.Class) (string, bool) {
	switch c {
	case field.ClassInteger:
		return "BIGINT", true
	case field.ClassReal:
		return "DOUBLE", true
	case field.ClassText:
		return "LONGTEXT", true
	case field.ClassBlob:
		return "LONGBLOB", true
	}
	return "", false
}

func (mysqlDialect) Placeholder(int) string { return "?" }

func (d mysqlDialect) CreateTable(table string, cols []ColumnDef) string {
	// LONGTEXT columns cannot be primary keys; the id column is BIGINT so
	// the shared form applies unchanged.
	return createTable(d, table, cols)
}

func (d mysqlDialect) AddColumn(table string, col ColumnDef) string {
	return addColumn(d, table, col)
}

func (d mysqlDialect) UpsertSQL(table string, cols []string, rows int) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
	}
	return fmt.Sprintf("REPLACE INTO %s (%s) VALUES %s",
		d.Quote(table), strings.Join(quoted, ", "), insertValues(d, len(cols), rows, 1))
}

func (mysqlDialect) LimitOffset(limit, offset int) string {
	switch {
	case limit >= 0 && offset > 0:
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	case limit >= 0:
		return fmt.Sprintf("LIMIT %d", limit)
	case offset > 0:
		// MySQL requires a limit to use an offset; saturate it.
		return fmt.Sprintf("LIMIT 18446744073709551615 OFFSET %d", offset)
	}
	return ""
}

func (d mysqlDialect) Regex(col, pattern string) string {
	return fmt.Sprintf("%s REGEXP '%s'", col, d.EscapeString(pattern))
}

// EscapeString doubles backslashes before quotes: MySQL parses backslash
// as an escape character inside string literals.
func (mysqlDialect) EscapeString(s string) string {
	return escapeQuotes(strings.ReplaceAll(s, `\`, `\\`))
}

func (mysqlDialect) StrLength(col string) string {
	return fmt.Sprintf("CHAR_LENGTH(%s)", col)
}

func (d mysqlDialect) ListContains(col, _, jsonLit string) string {
	return fmt.Sprintf("JSON_CONTAINS(%s, '%s')", col, d.EscapeString(jsonLit))
}

func (mysqlDialect) ListLength(col string) string {
	return fmt.Sprintf("JSON_LENGTH(%s)", col)
}

func (mysqlDialect) OpenConnection(rawurl string) (*sql.DB, error) {
	dsn, err := mysqlDSN(rawurl)
	if err != nil {
		return nil, err
	}
	return sql.Open("mysql", dsn)
}

func (mysqlDialect) CreateDatabase(string) error { return nil }

func (mysqlDialect) Columns(ctx context.Context, conn ExecQuerier, table string) (map[string]string, error) {
	rows, err := conn.QueryContext(ctx,
		"SELECT column_name, column_type FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ?", table)
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

// mysqlDSN converts a mysql:// URL into the go-sql-driver DSN form
// user:pass@tcp(host:port)/dbname?params.
func mysqlDSN(rawurl string) (string, error) {
	if !strings.Contains(rawurl, "://") {
		// Already a driver DSN.
		return strings.TrimPrefix(rawurl, "mysql:"), nil
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", fmt.Errorf("strata: mysql: parse url: %w", err)
	}
	var b strings.Builder
	if u.User != nil {
		b.WriteString(u.User.Username())
		if pw, ok := u.User.Password(); ok {
			b.WriteString(":")
			b.WriteString(pw)
		}
		b.WriteString("@")
	}
	host := u.Host
	if host != "" {
		if !strings.Contains(host, ":") {
			host += ":3306"
		}
		fmt.Fprintf(&b, "tcp(%s)", host)
	}
	b.WriteString("/")
	b.WriteString(strings.TrimPrefix(u.Path, "/"))
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	return b.String(), nil
}
