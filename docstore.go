package strata

import (
	"context"
	"fmt"

	"github.com/syssam/strata/codec"
	"github.com/syssam/strata/document"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/schema"
)

// docStore adapts the document backend to the shared store surface. The
// backend is schemaless, so ensure only validates that every property has
// a codec.
type docStore struct {
	doc *document.Store
}

func (s *docStore) ensure(_ context.Context, m *schema.Model, reg *codec.Registry) error {
	for _, f := range m.Fields {
		if _, err := reg.Lookup(f); err != nil {
			return err
		}
	}
	return nil
}

func (s *docStore) nextID(ctx context.Context, m *schema.Model, n int64) (int64, error) {
	return s.doc.NextID(ctx, m, n)
}

func (s *docStore) upsert(ctx context.Context, m *schema.Model, _ *codec.Registry, rows []map[string]any) error {
	return s.doc.Upsert(ctx, m, rows)
}

func (s *docStore) find(ctx context.Context, m *schema.Model, reg *codec.Registry, spec *query.Spec) (rowIter, error) {
	return s.doc.Find(ctx, m, reg, spec)
}

func (s *docStore) count(ctx context.Context, m *schema.Model, _ *codec.Registry, spec *query.Spec) (int64, error) {
	return s.doc.Count(ctx, m, spec)
}

func (s *docStore) distinct(ctx context.Context, m *schema.Model, _ *codec.Registry, spec *query.Spec, name string) ([]any, error) {
	return s.doc.Distinct(ctx, m, spec, name)
}

func (s *docStore) aggregate(ctx context.Context, m *schema.Model, _ *codec.Registry, spec *query.Spec, op aggregateOp, name string) (any, error) {
	var native string
	switch op {
	case aggMin:
		native = "$min"
	case aggMax:
		native = "$max"
	case aggAvg:
		native = "$avg"
	case aggSum:
		native = "$sum"
	default:
		return nil, fmt.Errorf("strata: unknown aggregate %q", op)
	}
	return s.doc.Aggregate(ctx, m, spec, native, name)
}

func (s *docStore) updateSet(ctx context.Context, m *schema.Model, _ *codec.Registry, spec *query.Spec, values map[string]any) (int64, error) {
	return s.doc.UpdateSet(ctx, m, spec, values)
}

func (s *docStore) delete(ctx context.Context, m *schema.Model, _ *codec.Registry, spec *query.Spec) (int64, error) {
	return s.doc.Delete(ctx, m, spec)
}

func (s *docStore) transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.doc.Transact(ctx, fn)
}

func (s *docStore) close(ctx context.Context) error {
	return s.doc.Close(ctx)
}
