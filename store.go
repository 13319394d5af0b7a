package strata

import (
	"context"

	"github.com/syssam/strata/codec"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/schema"
)

// An aggregate operation over one property of the matching rows.
type aggregateOp string

const (
	aggMin aggregateOp = "min"
	aggMax aggregateOp = "max"
	aggAvg aggregateOp = "avg"
	aggSum aggregateOp = "sum"
)

// rowIter streams encoded rows from the backend. Next returns nil at
// exhaustion; Close is idempotent and releases the underlying resources.
type rowIter interface {
	Next(ctx context.Context) (map[string]any, error)
	Close() error
}

// store is the backend surface shared by the relational and document
// implementations. Rows travel as encoded physical maps keyed by column
// name, with the primary key under schema.IDColumn.
type store interface {
	// ensure prepares the physical table/collection for the model,
	// additively: it creates what is missing and never drops or retypes.
	ensure(ctx context.Context, m *schema.Model, reg *codec.Registry) error

	// nextID allocates n consecutive ids and returns the first.
	nextID(ctx context.Context, m *schema.Model, n int64) (int64, error)

	// upsert writes whole encoded rows keyed by id.
	upsert(ctx context.Context, m *schema.Model, reg *codec.Registry, rows []map[string]any) error

	// find streams rows matching the specification.
	find(ctx context.Context, m *schema.Model, reg *codec.Registry, spec *query.Spec) (rowIter, error)

	// count returns the number of matching rows.
	count(ctx context.Context, m *schema.Model, reg *codec.Registry, spec *query.Spec) (int64, error)

	// distinct returns the distinct stored values of one property.
	distinct(ctx context.Context, m *schema.Model, reg *codec.Registry, spec *query.Spec, name string) ([]any, error)

	// aggregate computes min/max/avg/sum of one property, nil on no rows.
	aggregate(ctx context.Context, m *schema.Model, reg *codec.Registry, spec *query.Spec, op aggregateOp, name string) (any, error)

	// updateSet sets encoded column values on matching rows with bound
	// parameters, returning the affected count.
	updateSet(ctx context.Context, m *schema.Model, reg *codec.Registry, spec *query.Spec, values map[string]any) (int64, error)

	// delete removes matching rows and returns the affected count.
	delete(ctx context.Context, m *schema.Model, reg *codec.Registry, spec *query.Spec) (int64, error)

	// transact runs fn transactionally. Nested calls join the enclosing
	// transaction.
	transact(ctx context.Context, fn func(ctx context.Context) error) error

	// close releases the backend.
	close(ctx context.Context) error
}
