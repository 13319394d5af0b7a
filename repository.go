package strata

import (
	"context"
	"fmt"

	"github.com/syssam/strata/codec"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/schema"
)

// Repository is the typed persistence surface for one model type.
type Repository[T any] struct {
	client *Client
	model  *schema.Model
}

// NewRepository resolves T's schema and binds it to the client. T must
// carry a numeric id, conventionally by embedding schema.Base.
func NewRepository[T any](c *Client) (*Repository[T], error) {
	m, err := schema.ModelOf[T]()
	if err != nil {
		return nil, err
	}
	if _, ok := any(new(T)).(schema.Identifiable); !ok {
		return nil, fmt.Errorf("strata: %s must embed schema.Base or implement schema.Identifiable", m.Label)
	}
	return &Repository[T]{client: c, model: m}, nil
}

// Model returns the resolved schema metadata.
func (r *Repository[T]) Model() *schema.Model { return r.model }

// Query returns an empty specification for this repository's operations.
func (r *Repository[T]) Query() *query.Spec { return query.NewSpec() }

func (r *Repository[T]) ensure(ctx context.Context) error {
	return r.client.store.ensure(ctx, r.model, r.client.codecs)
}

// encode flattens a model instance into its physical row.
func (r *Repository[T]) encode(m *T) (map[string]any, error) {
	ident := any(m).(schema.Identifiable)
	row := map[string]any{schema.IDColumn: ident.GetID()}
	for _, f := range r.model.Fields {
		c, err := r.client.codecs.Lookup(f)
		if err != nil {
			return nil, err
		}
		v, err := r.model.Value(m, f.Name)
		if err != nil {
			return nil, err
		}
		if err := c.Encode(row, f.Name, v); err != nil {
			return nil, err
		}
	}
	return row, nil
}

// decodeInto reconstructs a model instance from its physical row. Absent
// columns leave the property at its zero value.
func (r *Repository[T]) decodeInto(inst *T, row map[string]any) error {
	if id, ok := row[schema.IDColumn]; ok {
		n, ok := asInt64(id)
		if !ok {
			return fmt.Errorf("strata: %s: cannot decode id %T", r.model.Label, id)
		}
		any(inst).(schema.Identifiable).SetID(n)
	}
	for _, f := range r.model.Fields {
		c, err := r.client.codecs.Lookup(f)
		if err != nil {
			return err
		}
		v, err := c.Decode(row, f.Name)
		if err != nil {
			return err
		}
		if v == nil {
			continue
		}
		if err := r.model.SetValue(inst, f.Name, v); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository[T]) decode(row map[string]any) (*T, error) {
	inst := r.model.New().(*T)
	if err := r.decodeInto(inst, row); err != nil {
		return nil, err
	}
	return inst, nil
}

// Get fetches the model with the given id, failing with a NotFoundError
// when it does not exist.
func (r *Repository[T]) Get(ctx context.Context, id int64) (*T, error) {
	ms, err := r.All(ctx, r.Query().WhereExpr(query.Eq(schema.IDColumn, id)).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, NewNotFoundErrorWithID(r.model.Label, id)
	}
	return ms[0], nil
}

// Only fetches the single model matching the specification, failing with
// NotFoundError on zero matches and NotSingularError on more than one.
func (r *Repository[T]) Only(ctx context.Context, spec *query.Spec) (*T, error) {
	ms, err := r.All(ctx, spec.Clone().Limit(2))
	if err != nil {
		return nil, err
	}
	switch len(ms) {
	case 0:
		return nil, NewNotFoundError(r.model.Label)
	case 1:
		return ms[0], nil
	}
	return nil, NewNotSingularError(r.model.Label, -1)
}

// Exist reports whether any model matches the specification.
func (r *Repository[T]) Exist(ctx context.Context, spec *query.Spec) (bool, error) {
	n, err := r.Count(ctx, spec)
	return n > 0, err
}

// All fetches every model matching the specification.
func (r *Repository[T]) All(ctx context.Context, spec *query.Spec) ([]*T, error) {
	cur, err := r.Find(ctx, spec)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	var ms []*T
	for cur.Next(ctx) {
		ms = append(ms, cur.Value())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return ms, nil
}

// Find opens a lazy single-pass cursor over the matching models. The
// caller owns the cursor and must Close it to return the connection.
func (r *Repository[T]) Find(ctx context.Context, spec *query.Spec) (*Cursor[T], error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}
	iter, err := r.client.store.find(ctx, r.model, r.client.codecs, spec)
	if err != nil {
		return nil, err
	}
	return &Cursor[T]{repo: r, iter: iter}, nil
}

// Count returns the number of matching models.
func (r *Repository[T]) Count(ctx context.Context, spec *query.Spec) (int64, error) {
	if err := r.ensure(ctx); err != nil {
		return 0, err
	}
	return r.client.store.count(ctx, r.model, r.client.codecs, spec)
}

// Distinct returns the distinct decoded values of one property among the
// matching models.
func (r *Repository[T]) Distinct(ctx context.Context, spec *query.Spec, prop string) ([]any, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}
	vs, err := r.client.store.distinct(ctx, r.model, r.client.codecs, spec, prop)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(vs))
	for _, v := range vs {
		dv, err := r.decodeScalar(prop, v)
		if err != nil {
			return nil, err
		}
		out = append(out, dv)
	}
	return out, nil
}

// Min returns the smallest decoded value of one property, nil on no rows.
func (r *Repository[T]) Min(ctx context.Context, spec *query.Spec, prop string) (any, error) {
	return r.aggregate(ctx, spec, aggMin, prop)
}

// Max returns the largest decoded value of one property, nil on no rows.
func (r *Repository[T]) Max(ctx context.Context, spec *query.Spec, prop string) (any, error) {
	return r.aggregate(ctx, spec, aggMax, prop)
}

// Sum returns the decoded sum of one property, nil on no rows.
func (r *Repository[T]) Sum(ctx context.Context, spec *query.Spec, prop string) (any, error) {
	return r.aggregate(ctx, spec, aggSum, prop)
}

// Avg returns the arithmetic mean of one numeric property as a float64,
// zero on no rows.
func (r *Repository[T]) Avg(ctx context.Context, spec *query.Spec, prop string) (float64, error) {
	if err := r.ensure(ctx); err != nil {
		return 0, err
	}
	v, err := r.client.store.aggregate(ctx, r.model, r.client.codecs, spec, aggAvg, prop)
	if err != nil || v == nil {
		return 0, err
	}
	switch f := v.(type) {
	case float64:
		return f, nil
	case int64:
		return float64(f), nil
	case int32:
		return float64(f), nil
	}
	return 0, fmt.Errorf("strata: %s: cannot decode avg %T", r.model.Label, v)
}

func (r *Repository[T]) aggregate(ctx context.Context, spec *query.Spec, op aggregateOp, prop string) (any, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}
	v, err := r.client.store.aggregate(ctx, r.model, r.client.codecs, spec, op, prop)
	if err != nil || v == nil {
		return nil, err
	}
	return r.decodeScalar(prop, v)
}

// decodeScalar decodes one stored comparable value of a property back to
// its logical type. Temporal values decode from their instant column; the
// dropped zone label makes them come back in UTC.
func (r *Repository[T]) decodeScalar(prop string, v any) (any, error) {
	if prop == schema.IDColumn {
		n, ok := asInt64(v)
		if !ok {
			return nil, fmt.Errorf("strata: %s: cannot decode id %T", r.model.Label, v)
		}
		return n, nil
	}
	f, ok := r.model.Field(prop)
	if !ok {
		return nil, fmt.Errorf("strata: %s has no property %q", r.model.Label, prop)
	}
	c, err := r.client.codecs.Lookup(f)
	if err != nil {
		return nil, err
	}
	src := map[string]any{codec.InstantColumn(f.Type, f.Name): v}
	return c.Decode(src, f.Name)
}

// Save persists a model. A zero id gets a fresh one assigned before the
// write. With explicit props only those properties are written, as a
// partial update with bound parameters; otherwise the whole row is
// upserted.
func (r *Repository[T]) Save(ctx context.Context, m *T, props ...string) error {
	if err := r.ensure(ctx); err != nil {
		return err
	}
	ident := any(m).(schema.Identifiable)
	if ident.GetID() == 0 {
		id, err := r.client.store.nextID(ctx, r.model, 1)
		if err != nil {
			return err
		}
		ident.SetID(id)
	} else if len(props) > 0 {
		values := make(map[string]any)
		for _, prop := range props {
			f, ok := r.model.Field(prop)
			if !ok {
				return fmt.Errorf("strata: %s has no property %q", r.model.Label, prop)
			}
			c, err := r.client.codecs.Lookup(f)
			if err != nil {
				return err
			}
			v, err := r.model.Value(m, prop)
			if err != nil {
				return err
			}
			if err := c.Encode(values, f.Name, v); err != nil {
				return err
			}
		}
		spec := r.Query().WhereExpr(query.Eq(schema.IDColumn, ident.GetID()))
		n, err := r.client.store.updateSet(ctx, r.model, r.client.codecs, spec, values)
		if err != nil {
			return err
		}
		if n == 0 {
			return NewNotFoundErrorWithID(r.model.Label, ident.GetID())
		}
		return nil
	}
	row, err := r.encode(m)
	if err != nil {
		return err
	}
	return r.client.store.upsert(ctx, r.model, r.client.codecs, []map[string]any{row})
}

// SaveAll persists models in one write, assigning fresh ids to the ones
// without.
func (r *Repository[T]) SaveAll(ctx context.Context, ms []*T) error {
	if len(ms) == 0 {
		return nil
	}
	if err := r.ensure(ctx); err != nil {
		return err
	}
	var fresh []schema.Identifiable
	for _, m := range ms {
		if ident := any(m).(schema.Identifiable); ident.GetID() == 0 {
			fresh = append(fresh, ident)
		}
	}
	if len(fresh) > 0 {
		first, err := r.client.store.nextID(ctx, r.model, int64(len(fresh)))
		if err != nil {
			return err
		}
		for i, ident := range fresh {
			ident.SetID(first + int64(i))
		}
	}
	rows := make([]map[string]any, len(ms))
	for i, m := range ms {
		row, err := r.encode(m)
		if err != nil {
			return err
		}
		rows[i] = row
	}
	return r.client.store.upsert(ctx, r.model, r.client.codecs, rows)
}

// UpdateSet sets property values on every matching model and returns the
// affected count. A nil value clears the property's columns.
func (r *Repository[T]) UpdateSet(ctx context.Context, spec *query.Spec, values map[string]any) (int64, error) {
	if err := r.ensure(ctx); err != nil {
		return 0, err
	}
	encoded := make(map[string]any)
	for prop, v := range values {
		f, ok := r.model.Field(prop)
		if !ok {
			return 0, fmt.Errorf("strata: %s has no property %q", r.model.Label, prop)
		}
		c, err := r.client.codecs.Lookup(f)
		if err != nil {
			return 0, err
		}
		if v == nil {
			for _, col := range codec.Columns(f, c) {
				encoded[col] = nil
			}
			continue
		}
		if err := c.Encode(encoded, f.Name, v); err != nil {
			return 0, err
		}
	}
	return r.client.store.updateSet(ctx, r.model, r.client.codecs, spec, encoded)
}

// Delete removes every matching model and returns the affected count.
func (r *Repository[T]) Delete(ctx context.Context, spec *query.Spec) (int64, error) {
	if err := r.ensure(ctx); err != nil {
		return 0, err
	}
	return r.client.store.delete(ctx, r.model, r.client.codecs, spec)
}

// DeleteByID removes the model with the given id, failing with a
// NotFoundError when it does not exist.
func (r *Repository[T]) DeleteByID(ctx context.Context, id int64) error {
	n, err := r.Delete(ctx, r.Query().WhereExpr(query.Eq(schema.IDColumn, id)))
	if err != nil {
		return err
	}
	if n == 0 {
		return NewNotFoundErrorWithID(r.model.Label, id)
	}
	return nil
}

// Restore re-reads the stored state of a model into the given instance,
// failing with a NotFoundError when the row is gone. With explicit props
// only those properties are overwritten; everything else keeps its
// in-memory value.
func (r *Repository[T]) Restore(ctx context.Context, m *T, props ...string) error {
	for _, prop := range props {
		if _, ok := r.model.Field(prop); !ok {
			return fmt.Errorf("strata: %s has no property %q", r.model.Label, prop)
		}
	}
	ident := any(m).(schema.Identifiable)
	stored, err := r.Get(ctx, ident.GetID())
	if err != nil {
		return err
	}
	if len(props) == 0 {
		*m = *stored
		return nil
	}
	for _, prop := range props {
		v, err := r.model.Value(stored, prop)
		if err != nil {
			return err
		}
		if err := r.model.SetValue(m, prop, v); err != nil {
			return err
		}
	}
	return nil
}

// Transact runs fn transactionally; repository operations inside fn share
// the transaction's connection.
func (r *Repository[T]) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.client.Transact(ctx, fn)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
