package strata

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syssam/strata/codec"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/pool"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/schema"
	"github.com/syssam/strata/schema/field"
)

// sqlStore backs models with a relational dialect over a bounded pool.
type sqlStore struct {
	url   string
	d     dialect.Dialect
	pool  *pool.Pool
	log   *slog.Logger
	stats *Stats

	mu      sync.Mutex
	ensured map[string]struct{}
	seq     map[string]int64
}

func newSQLStore(url string, d dialect.Dialect, p *pool.Pool, log *slog.Logger, stats *Stats) *sqlStore {
	return &sqlStore{
		url:     url,
		d:       d,
		pool:    p,
		log:     log,
		stats:   stats,
		ensured: make(map[string]struct{}),
		seq:     make(map[string]int64),
	}
}

type txKey struct{}

func txFrom(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// querier resolves the execution target: the enclosing transaction when one
// is active, otherwise a freshly acquired pooled connection. The returned
// release func must be called when done. With autoCommit disabled every
// command must run inside an explicit transaction.
func (s *sqlStore) querier(ctx context.Context) (dialect.ExecQuerier, func() error, error) {
	if tx := txFrom(ctx); tx != nil {
		return tx, func() error { return nil }, nil
	}
	if !s.pool.Options().AutoCommit {
		return nil, nil, fmt.Errorf("strata: %s: autoCommit is disabled, command requires an explicit transaction", s.url)
	}
	c, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return c.Raw(), c.Release, nil
}

func (s *sqlStore) execContext(ctx context.Context, q dialect.ExecQuerier, label, op, cmd string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := q.ExecContext(ctx, cmd, args...)
	s.stats.observe("exec", cmd, start, err)
	s.log.Debug("sql: exec", "label", label, "op", op, "command", cmd, "args", len(args))
	if err != nil {
		return nil, classifyError(label, op, cmd, err)
	}
	return res, nil
}

func (s *sqlStore) queryContext(ctx context.Context, q dialect.ExecQuerier, label, op, cmd string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := q.QueryContext(ctx, cmd, args...)
	s.stats.observe("query", cmd, start, err)
	s.log.Debug("sql: query", "label", label, "op", op, "command", cmd)
	if err != nil {
		return nil, classifyError(label, op, cmd, err)
	}
	return rows, nil
}

// columnDefs maps the model's properties through their codecs to physical
// column definitions, the id column first. A property whose column class
// has no physical type in this dialect is a SchemaMismatchError.
func (s *sqlStore) columnDefs(m *schema.Model, reg *codec.Registry) ([]dialect.ColumnDef, error) {
	idType, ok := s.d.PhysicalType(field.ClassInteger)
	if !ok {
		return nil, NewSchemaMismatchError(m.Label, schema.IDColumn, "dialect has no integer type")
	}
	defs := []dialect.ColumnDef{{Name: schema.IDColumn, Type: idType, PrimaryKey: true}}
	for _, f := range m.Fields {
		c, err := reg.Lookup(f)
		if err != nil {
			return nil, err
		}
		names := codec.Columns(f, c)
		for i, col := range c.Columns {
			pt, ok := s.d.PhysicalType(col.Class)
			if !ok {
				return nil, NewSchemaMismatchError(m.Label, f.Name,
					fmt.Sprintf("dialect %s has no physical type for class %d", s.d.Kind(), col.Class))
			}
			defs = append(defs, dialect.ColumnDef{Name: names[i], Type: pt})
		}
	}
	return defs, nil
}

// ensure creates the table if missing and adds any columns the model has
// grown since. Columns are never dropped or retyped.
func (s *sqlStore) ensure(ctx context.Context, m *schema.Model, reg *codec.Registry) error {
	s.mu.Lock()
	if _, ok := s.ensured[m.Table]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	defs, err := s.columnDefs(m, reg)
	if err != nil {
		return err
	}
	q, release, err := s.querier(ctx)
	if err != nil {
		return err
	}
	defer release()
	if _, err := s.execContext(ctx, q, m.Label, "create table", s.d.CreateTable(m.Table, defs)); err != nil {
		return err
	}
	existing, err := s.d.Columns(ctx, q, m.Table)
	if err != nil {
		return NewBackendError(m.Label, "introspect", m.Table, err)
	}
	for _, def := range defs {
		if _, ok := existing[def.Name]; ok {
			continue
		}
		if _, err := s.execContext(ctx, q, m.Label, "add column", s.d.AddColumn(m.Table, def)); err != nil {
			return err
		}
		s.log.Info("sql: added column", "table", m.Table, "column", def.Name, "type", def.Type)
	}
	s.mu.Lock()
	s.ensured[m.Table] = struct{}{}
	s.mu.Unlock()
	return nil
}

// nextID allocates ids from an in-process counter seeded from MAX(id) on
// first use per table.
func (s *sqlStore) nextID(ctx context.Context, m *schema.Model, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seq[m.Table]; !ok {
		q, release, err := s.querier(ctx)
		if err != nil {
			return 0, err
		}
		cmd := fmt.Sprintf("SELECT MAX(id) FROM %s", s.d.Quote(m.Table))
		rows, err := s.queryContext(ctx, q, m.Label, "seed ids", cmd)
		if err != nil {
			release()
			return 0, err
		}
		var max sql.NullInt64
		if rows.Next() {
			if err := rows.Scan(&max); err != nil {
				rows.Close()
				release()
				return 0, NewBackendError(m.Label, "seed ids", cmd, err)
			}
		}
		rows.Close()
		if err := release(); err != nil {
			return 0, err
		}
		s.seq[m.Table] = max.Int64
	}
	first := s.seq[m.Table] + 1
	s.seq[m.Table] += n
	return first, nil
}

// columnOrder returns the stable insert column order: id, then every codec
// column in property declaration order.
func columnOrder(m *schema.Model, reg *codec.Registry) ([]string, error) {
	cols := []string{schema.IDColumn}
	for _, f := range m.Fields {
		c, err := reg.Lookup(f)
		if err != nil {
			return nil, err
		}
		cols = append(cols, codec.Columns(f, c)...)
	}
	return cols, nil
}

func (s *sqlStore) upsert(ctx context.Context, m *schema.Model, reg *codec.Registry, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	cols, err := columnOrder(m, reg)
	if err != nil {
		return err
	}
	args := make([]any, 0, len(rows)*len(cols))
	for _, row := range rows {
		for _, col := range cols {
			args = append(args, row[col])
		}
	}
	q, release, err := s.querier(ctx)
	if err != nil {
		return err
	}
	defer release()
	_, err = s.execContext(ctx, q, m.Label, "upsert", s.d.UpsertSQL(m.Table, cols, len(rows)), args...)
	return err
}

// selectList renders the projected column list for full-row reads.
func (s *sqlStore) selectList(m *schema.Model, reg *codec.Registry) (string, []string, error) {
	cols, err := columnOrder(m, reg)
	if err != nil {
		return "", nil, err
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		if c == schema.IDColumn {
			quoted[i] = c
			continue
		}
		quoted[i] = s.d.Quote(c)
	}
	return strings.Join(quoted, ", "), cols, nil
}

type sqlIter struct {
	rows    *sql.Rows
	cols    []string
	release func() error
	label   string
	closed  bool
}

func (it *sqlIter) Next(context.Context) (map[string]any, error) {
	if it.closed {
		return nil, nil
	}
	if !it.rows.Next() {
		err := it.rows.Err()
		if cerr := it.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			return nil, NewBackendError(it.label, "scan", "", err)
		}
		return nil, nil
	}
	vals := make([]any, len(it.cols))
	ptrs := make([]any, len(it.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := it.rows.Scan(ptrs...); err != nil {
		it.Close()
		return nil, NewBackendError(it.label, "scan", "", err)
	}
	row := make(map[string]any, len(it.cols))
	for i, c := range it.cols {
		row[c] = vals[i]
	}
	return row, nil
}

func (it *sqlIter) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	err := it.rows.Close()
	if rerr := it.release(); err == nil {
		err = rerr
	}
	return err
}

func (s *sqlStore) find(ctx context.Context, m *schema.Model, reg *codec.Registry, spec *query.Spec) (rowIter, error) {
	list, cols, err := s.selectList(m, reg)
	if err != nil {
		return nil, err
	}
	suffix, err := spec.RenderSQL(s.d, m, reg)
	if err != nil {
		return nil, err
	}
	cmd := fmt.Sprintf("SELECT %s FROM %s%s", list, s.d.Quote(m.Table), suffix)
	q, release, err := s.querier(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.queryContext(ctx, q, m.Label, "find", cmd)
	if err != nil {
		release()
		return nil, err
	}
	return &sqlIter{rows: rows, cols: cols, release: release, label: m.Label}, nil
}

// whereOnly strips ordering and windowing from a specification, for
// aggregates where they have no meaning.
func whereOnly(spec *query.Spec) *query.Spec {
	ws := query.NewSpec()
	for _, g := range spec.Groups() {
		ws.WhereExpr(g...)
	}
	return ws
}

// scanOne runs a single-value query and returns the value, nil when the
// result is NULL or absent.
func (s *sqlStore) scanOne(ctx context.Context, m *schema.Model, op, cmd string) (any, error) {
	q, release, err := s.querier(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	rows, err := s.queryContext(ctx, q, m.Label, op, cmd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	var v any
	if err := rows.Scan(&v); err != nil {
		return nil, NewBackendError(m.Label, op, cmd, err)
	}
	return v, rows.Err()
}

func (s *sqlStore) count(ctx context.Context, m *schema.Model, reg *codec.Registry, spec *query.Spec) (int64, error) {
	suffix, err := whereOnly(spec).RenderSQL(s.d, m, reg)
	if err != nil {
		return 0, err
	}
	cmd := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", s.d.Quote(m.Table), suffix)
	v, err := s.scanOne(ctx, m, "count", cmd)
	if err != nil {
		return 0, err
	}
	n, _ := v.(int64)
	return n, nil
}

// comparableColumn resolves a property to its rendered comparable column,
// the instant column for temporal properties.
func (s *sqlStore) comparableColumn(m *schema.Model, name string) (string, error) {
	if name == schema.IDColumn {
		return schema.IDColumn, nil
	}
	f, ok := m.Field(name)
	if !ok {
		return "", fmt.Errorf("strata: %s has no property %q", m.Label, name)
	}
	if f.Type.Temporal() {
		return s.d.Quote(codec.InstantColumn(f.Type, f.Name)), nil
	}
	return s.d.Quote(f.Name), nil
}

func (s *sqlStore) distinct(ctx context.Context, m *schema.Model, reg *codec.Registry, spec *query.Spec, name string) ([]any, error) {
	col, err := s.comparableColumn(m, name)
	if err != nil {
		return nil, err
	}
	suffix, err := whereOnly(spec).RenderSQL(s.d, m, reg)
	if err != nil {
		return nil, err
	}
	cmd := fmt.Sprintf("SELECT DISTINCT %s FROM %s%s", col, s.d.Quote(m.Table), suffix)
	q, release, err := s.querier(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	rows, err := s.queryContext(ctx, q, m.Label, "distinct", cmd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var vs []any
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, NewBackendError(m.Label, "distinct", cmd, err)
		}
		vs = append(vs, v)
	}
	return vs, rows.Err()
}

func (s *sqlStore) aggregate(ctx context.Context, m *schema.Model, reg *codec.Registry, spec *query.Spec, op aggregateOp, name string) (any, error) {
	col, err := s.comparableColumn(m, name)
	if err != nil {
		return nil, err
	}
	var fn string
	switch op {
	case aggMin:
		fn = "MIN"
	case aggMax:
		fn = "MAX"
	case aggAvg:
		fn = "AVG"
	case aggSum:
		fn = "SUM"
	default:
		return nil, fmt.Errorf("strata: unknown aggregate %q", op)
	}
	suffix, err := whereOnly(spec).RenderSQL(s.d, m, reg)
	if err != nil {
		return nil, err
	}
	cmd := fmt.Sprintf("SELECT %s(%s) FROM %s%s", fn, col, s.d.Quote(m.Table), suffix)
	return s.scanOne(ctx, m, string(op), cmd)
}

func (s *sqlStore) updateSet(ctx context.Context, m *schema.Model, reg *codec.Registry, spec *query.Spec, values map[string]any) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	cols := make([]string, 0, len(values))
	for c := range values {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	set := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		set[i] = fmt.Sprintf("%s = %s", s.d.Quote(c), s.d.Placeholder(i+1))
		args[i] = values[c]
	}
	suffix, err := whereOnly(spec).RenderSQL(s.d, m, reg)
	if err != nil {
		return 0, err
	}
	cmd := fmt.Sprintf("UPDATE %s SET %s%s", s.d.Quote(m.Table), strings.Join(set, ", "), suffix)
	q, release, err := s.querier(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	res, err := s.execContext(ctx, q, m.Label, "update", cmd, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *sqlStore) delete(ctx context.Context, m *schema.Model, reg *codec.Registry, spec *query.Spec) (int64, error) {
	suffix, err := whereOnly(spec).RenderSQL(s.d, m, reg)
	if err != nil {
		return 0, err
	}
	cmd := fmt.Sprintf("DELETE FROM %s%s", s.d.Quote(m.Table), suffix)
	q, release, err := s.querier(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	res, err := s.execContext(ctx, q, m.Label, "delete", cmd)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// transact runs fn in a transaction on one pooled connection. A nested call
// joins the enclosing transaction; commit and rollback belong to the
// outermost caller.
func (s *sqlStore) transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	c, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.Release()
	opts := &sql.TxOptions{
		Isolation: s.pool.Options().Isolation,
		ReadOnly:  s.pool.Options().ReadOnly,
	}
	tx, err := c.Raw().BeginTx(ctx, opts)
	if err != nil {
		return NewBackendError("", "begin", "", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			s.log.Warn("sql: rollback failed", "error", rerr)
			return &RollbackError{Err: rerr}
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return NewBackendError("", "commit", "", err)
	}
	return nil
}

func (s *sqlStore) close(context.Context) error {
	return pool.Release(s.url)
}
