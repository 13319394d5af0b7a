package query

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/syssam/strata/codec"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/schema"
)

// A SortKey orders results by one property.
type SortKey struct {
	Field string
	Asc   bool
}

// A Spec accumulates filter groups, ordering, and windowing for one query.
// It is backend-agnostic until rendered.
type Spec struct {
	groups [][]Expr
	sort   []SortKey
	limit  int
	offset int
}

// NewSpec returns an empty specification matching all rows.
func NewSpec() *Spec {
	return &Spec{limit: -1}
}

// Where appends constraint groups. Each constraint's fragments form one
// conjunctive group; successive Where calls conjoin.
func (s *Spec) Where(cs ...Constraint) *Spec {
	for _, c := range cs {
		if es := c.Exprs(); len(es) > 0 {
			s.groups = append(s.groups, es)
		}
	}
	return s
}

// WhereExpr appends raw expressions as one conjunctive group.
func (s *Spec) WhereExpr(es ...Expr) *Spec {
	if len(es) > 0 {
		s.groups = append(s.groups, es)
	}
	return s
}

// Limit caps the number of returned rows. Negative means no limit.
func (s *Spec) Limit(n int) *Spec { s.limit = n; return s }

// Offset skips the first n rows.
func (s *Spec) Offset(n int) *Spec { s.offset = n; return s }

// OrderBy sorts ascending by the named property. Repeated calls append
// secondary keys.
func (s *Spec) OrderBy(name string) *Spec {
	s.sort = append(s.sort, SortKey{Field: name, Asc: true})
	return s
}

// OrderByDesc sorts descending by the named property.
func (s *Spec) OrderByDesc(name string) *Spec {
	s.sort = append(s.sort, SortKey{Field: name, Asc: false})
	return s
}

// Clone returns an independent copy of the specification. Executors adjust
// windowing on a clone so a handed-in Spec is never mutated.
func (s *Spec) Clone() *Spec {
	c := &Spec{limit: s.limit, offset: s.offset}
	c.groups = append(c.groups, s.groups...)
	c.sort = append(c.sort, s.sort...)
	return c
}

// Groups exposes the accumulated filter groups for non-SQL renderers.
func (s *Spec) Groups() [][]Expr { return s.groups }

// SortKeys exposes the accumulated sort keys.
func (s *Spec) SortKeys() []SortKey { return s.sort }

// GetLimit returns the limit, -1 when unset.
func (s *Spec) GetLimit() int { return s.limit }

// GetOffset returns the offset.
func (s *Spec) GetOffset() int { return s.offset }

// RenderSQL renders the specification into the SQL clause suffix following
// the FROM clause: WHERE, ORDER BY, and the dialect's LIMIT/OFFSET form,
// each present only when set. Predicate literals are interpolated escaped.
func (s *Spec) RenderSQL(d dialect.Dialect, m *schema.Model, reg *codec.Registry) (string, error) {
	r := &sqlRenderer{d: d, m: m, reg: reg}
	var b strings.Builder
	if len(s.groups) > 0 {
		conds := make([]string, 0, len(s.groups))
		for _, g := range s.groups {
			cond, err := r.renderAll(g)
			if err != nil {
				return "", err
			}
			conds = append(conds, cond)
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	if len(s.sort) > 0 {
		keys := make([]string, 0, len(s.sort))
		for _, k := range s.sort {
			cols, err := r.sortColumns(k.Field)
			if err != nil {
				return "", err
			}
			dir := " ASC"
			if !k.Asc {
				dir = " DESC"
			}
			for _, col := range cols {
				keys = append(keys, col+dir)
			}
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(keys, ", "))
	}
	if lo := d.LimitOffset(s.limit, s.offset); lo != "" {
		b.WriteString(" ")
		b.WriteString(lo)
	}
	return b.String(), nil
}

type sqlRenderer struct {
	d   dialect.Dialect
	m   *schema.Model
	reg *codec.Registry
}

// renderAll conjoins a group of expressions.
func (r *sqlRenderer) renderAll(es []Expr) (string, error) {
	if len(es) == 1 {
		return r.render(es[0])
	}
	parts := make([]string, len(es))
	for i, e := range es {
		p, err := r.render(e)
		if err != nil {
			return "", err
		}
		parts[i] = p
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (r *sqlRenderer) render(e Expr) (string, error) {
	switch e.Op {
	case OpEq, OpNe:
		col, f, err := r.column(e.Field)
		if err != nil {
			return "", err
		}
		if e.Value == nil {
			if e.Op == OpEq {
				return col + " IS NULL", nil
			}
			return col + " IS NOT NULL", nil
		}
		lit, err := r.literal(f, e.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", col, cmpToken(e.Op), lit), nil
	case OpLt, OpLte, OpGt, OpGte:
		col, f, err := r.column(e.Field)
		if err != nil {
			return "", err
		}
		lit, err := r.literal(f, e.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", col, cmpToken(e.Op), lit), nil
	case OpIn, OpNotIn:
		col, f, err := r.column(e.Field)
		if err != nil {
			return "", err
		}
		lits := make([]string, len(e.Values))
		for i, v := range e.Values {
			if lits[i], err = r.literal(f, v); err != nil {
				return "", err
			}
		}
		kw := "IN"
		if e.Op == OpNotIn {
			kw = "NOT IN"
		}
		// Zero elements render the backend's empty membership form, which
		// matches nothing.
		return fmt.Sprintf("%s %s (%s)", col, kw, strings.Join(lits, ", ")), nil
	case OpIsNull:
		col, _, err := r.column(e.Field)
		if err != nil {
			return "", err
		}
		return col + " IS NULL", nil
	case OpNotNull:
		col, _, err := r.column(e.Field)
		if err != nil {
			return "", err
		}
		return col + " IS NOT NULL", nil
	case OpContains, OpHasPrefix, OpHasSuffix:
		col, _, err := r.column(e.Field)
		if err != nil {
			return "", err
		}
		s, ok := e.Value.(string)
		if !ok {
			return "", fmt.Errorf("strata: query: %s: pattern must be a string, got %T", e.Field, e.Value)
		}
		pat := likeEscape(s)
		switch e.Op {
		case OpContains:
			pat = "%" + pat + "%"
		case OpHasPrefix:
			pat += "%"
		case OpHasSuffix:
			pat = "%" + pat
		}
		// The escape character itself is a string literal and needs the
		// dialect's escaping too.
		return fmt.Sprintf("%s LIKE '%s' ESCAPE '%s'", col, r.d.EscapeString(pat), r.d.EscapeString(`\`)), nil
	case OpEqualFold:
		col, _, err := r.column(e.Field)
		if err != nil {
			return "", err
		}
		s, ok := e.Value.(string)
		if !ok {
			return "", fmt.Errorf("strata: query: %s: fold operand must be a string, got %T", e.Field, e.Value)
		}
		return fmt.Sprintf("LOWER(%s) = '%s'", col, r.d.EscapeString(cases.Fold().String(s))), nil
	case OpRegex:
		col, _, err := r.column(e.Field)
		if err != nil {
			return "", err
		}
		pattern, ok := e.Value.(string)
		if !ok {
			return "", fmt.Errorf("strata: query: %s: regex pattern must be a string, got %T", e.Field, e.Value)
		}
		return r.d.Regex(col, pattern), nil
	case OpStrLen:
		col, _, err := r.column(e.Field)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %v", r.d.StrLength(col), cmpToken(e.Cmp), e.Value), nil
	case OpListContains:
		col, _, err := r.column(e.Field)
		if err != nil {
			return "", err
		}
		lit, err := r.literal(nil, e.Value)
		if err != nil {
			return "", err
		}
		elem, err := json.Marshal(e.Value)
		if err != nil {
			return "", fmt.Errorf("strata: query: %s: %w", e.Field, err)
		}
		return r.d.ListContains(col, lit, "["+string(elem)+"]"), nil
	case OpListLen:
		col, _, err := r.column(e.Field)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %v", r.d.ListLength(col), cmpToken(e.Cmp), e.Value), nil
	case OpAnd, OpOr:
		if len(e.Sub) == 0 {
			return "", fmt.Errorf("strata: query: empty composite expression")
		}
		parts := make([]string, len(e.Sub))
		for i, sub := range e.Sub {
			p, err := r.render(sub)
			if err != nil {
				return "", err
			}
			parts[i] = p
		}
		sep := " AND "
		if e.Op == OpOr {
			sep = " OR "
		}
		return "(" + strings.Join(parts, sep) + ")", nil
	case OpNot:
		if len(e.Sub) != 1 {
			return "", fmt.Errorf("strata: query: NOT takes exactly one sub-expression")
		}
		p, err := r.render(e.Sub[0])
		if err != nil {
			return "", err
		}
		return "NOT (" + p + ")", nil
	case OpRaw:
		return e.Raw, nil
	}
	return "", fmt.Errorf("strata: query: unsupported expression op %d", e.Op)
}

// column resolves a property name to its rendered comparable column. The id
// column stays unquoted; temporal properties resolve to their instant
// column.
func (r *sqlRenderer) column(name string) (string, *schema.Field, error) {
	if name == schema.IDColumn {
		return schema.IDColumn, nil, nil
	}
	f, ok := r.m.Field(name)
	if !ok {
		return "", nil, fmt.Errorf("strata: query: %s has no property %q", r.m.Label, name)
	}
	if f.Type.Temporal() {
		return r.d.Quote(codec.InstantColumn(f.Type, f.Name)), f, nil
	}
	return r.d.Quote(f.Name), f, nil
}

// sortColumns expands a sort key into its physical columns in codec order.
func (r *sqlRenderer) sortColumns(name string) ([]string, error) {
	if name == schema.IDColumn {
		return []string{schema.IDColumn}, nil
	}
	f, ok := r.m.Field(name)
	if !ok {
		return nil, fmt.Errorf("strata: query: %s has no property %q", r.m.Label, name)
	}
	c, err := r.reg.Lookup(f)
	if err != nil {
		return nil, err
	}
	names := codec.Columns(f, c)
	cols := make([]string, len(names))
	for i, n := range names {
		cols[i] = r.d.Quote(n)
	}
	return cols, nil
}

// literal formats a value as an escaped SQL literal. Temporal values of a
// temporal property encode to their comparable instant first.
func (r *sqlRenderer) literal(f *schema.Field, v any) (string, error) {
	if f != nil && f.Type.Temporal() {
		enc, err := codec.EncodeComparable(f.Type, v)
		if err != nil {
			return "", err
		}
		v = enc
	}
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return "'" + r.d.EscapeString(x) + "'", nil
	case bool:
		if x {
			return "1", nil
		}
		return "0", nil
	case time.Time:
		return fmt.Sprintf("%d", x.UnixMilli()), nil
	case uuid.UUID:
		return "'" + x.String() + "'", nil
	case []byte:
		return fmt.Sprintf("X'%x'", x), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x), nil
	case float32, float64:
		return fmt.Sprintf("%v", x), nil
	}
	// Named string types (enums) fall through the exact-type cases.
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.String {
		return "'" + r.d.EscapeString(rv.String()) + "'", nil
	}
	return "", fmt.Errorf("strata: query: unsupported literal type %T", v)
}

func cmpToken(op Op) string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "<>"
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	}
	return "="
}

// likeEscape escapes the LIKE metacharacters in a raw substring.
func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
