// Package document backs the object-mapping layer with a document store.
//
// Models persist as flat documents holding the same physical encodings the
// SQL backends use, keyed by the numeric model id stored as the native
// primary key. Filters render to native filter documents; aggregations run
// server-side through pipelines.
package document

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syssam/strata/codec"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/schema"
)

// DefaultDatabase is used when the connection URL carries no database path.
const DefaultDatabase = "strata"

// Store is a connected document backend.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *slog.Logger
}

// Open connects to the document store at the given URL. The database name
// comes from the URL path, falling back to DefaultDatabase.
func Open(ctx context.Context, rawurl string) (*Store, error) {
	opts := options.Client().ApplyURI(rawurl).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("strata: document: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("strata: document: ping: %w", err)
	}
	return &Store{
		client: client,
		db:     client.Database(databaseName(rawurl)),
		log:    slog.Default().With("component", "document"),
	}, nil
}

// Close disconnects from the store.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) collection(m *schema.Model) *mongo.Collection {
	return s.db.Collection(m.Table)
}

// Transact runs fn inside a server session transaction.
func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("strata: document: start session: %w", err)
	}
	defer session.EndSession(ctx)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

// NextID allocates n consecutive ids for a model from the shared counter
// collection and returns the first of them.
func (s *Store) NextID(ctx context.Context, m *schema.Model, n int64) (int64, error) {
	res := s.db.Collection("counters").FindOneAndUpdate(ctx,
		bson.M{"_id": m.Table},
		bson.M{"$inc": bson.M{"seq": n}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	if err := res.Decode(&doc); err != nil {
		return 0, fmt.Errorf("strata: document: allocate id: %w", err)
	}
	return doc.Seq - n + 1, nil
}

// Upsert writes encoded rows, replacing any document with the same id.
// Rows must carry the id under schema.IDColumn.
func (s *Store) Upsert(ctx context.Context, m *schema.Model, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(rows))
	for _, row := range rows {
		doc := bson.M{}
		for k, v := range row {
			if k == schema.IDColumn {
				doc["_id"] = v
				continue
			}
			doc[k] = v
		}
		id, ok := doc["_id"]
		if !ok {
			return fmt.Errorf("strata: document: %s: row missing id", m.Label)
		}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": id}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	if _, err := s.collection(m).BulkWrite(ctx, writes); err != nil {
		return fmt.Errorf("strata: document: %s: upsert: %w", m.Label, err)
	}
	s.log.Debug("documents upserted", "collection", m.Table, "count", len(rows))
	return nil
}

// Iterator is a live single-pass cursor over matching documents. Rows are
// decoded as the caller advances; Close releases the server-side cursor
// and is safe to call mid-iteration or repeatedly.
type Iterator struct {
	cur    *mongo.Cursor
	label  string
	closed bool
}

// Next returns the next encoded row, or nil when the cursor is drained.
// Exhaustion and errors both close the underlying cursor.
func (it *Iterator) Next(ctx context.Context) (map[string]any, error) {
	if it.closed {
		return nil, nil
	}
	if !it.cur.Next(ctx) {
		err := it.cur.Err()
		if cerr := it.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, fmt.Errorf("strata: document: %s: cursor: %w", it.label, err)
		}
		return nil, nil
	}
	var doc bson.M
	if err := it.cur.Decode(&doc); err != nil {
		_ = it.Close()
		return nil, fmt.Errorf("strata: document: %s: decode: %w", it.label, err)
	}
	return rowFromDocument(doc), nil
}

// Close releases the server-side cursor. Idempotent.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.cur.Close(context.Background())
}

// Find opens a streaming cursor over the rows matching the specification,
// with the native primary key translated back to schema.IDColumn. The
// caller owns the iterator and must Close it.
func (s *Store) Find(ctx context.Context, m *schema.Model, reg *codec.Registry, spec *query.Spec) (*Iterator, error) {
	filter, err := Filter(spec, m)
	if err != nil {
		return nil, err
	}
	opts := options.Find()
	if sort, err := sortDocument(spec, m, reg); err != nil {
		return nil, err
	} else if len(sort) > 0 {
		opts.SetSort(sort)
	}
	if n := spec.GetLimit(); n >= 0 {
		opts.SetLimit(int64(n))
	}
	if n := spec.GetOffset(); n > 0 {
		opts.SetSkip(int64(n))
	}
	cursor, err := s.collection(m).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("strata: document: %s: find: %w", m.Label, err)
	}
	return &Iterator{cur: cursor, label: m.Label}, nil
}

// Count returns the number of documents matching the specification.
func (s *Store) Count(ctx context.Context, m *schema.Model, spec *query.Spec) (int64, error) {
	filter, err := Filter(spec, m)
	if err != nil {
		return 0, err
	}
	n, err := s.collection(m).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("strata: document: %s: count: %w", m.Label, err)
	}
	return n, nil
}

// Distinct returns the distinct stored values of one field among matching
// documents.
func (s *Store) Distinct(ctx context.Context, m *schema.Model, spec *query.Spec, name string) ([]any, error) {
	filter, err := Filter(spec, m)
	if err != nil {
		return nil, err
	}
	fname, _, err := fieldName(name, m)
	if err != nil {
		return nil, err
	}
	vs, err := s.collection(m).Distinct(ctx, fname, filter)
	if err != nil {
		return nil, fmt.Errorf("strata: document: %s: distinct: %w", m.Label, err)
	}
	return vs, nil
}

// Aggregate computes a server-side aggregate ("$min", "$max", "$avg",
// "$sum") over one field among matching documents. It returns nil when no
// documents match.
func (s *Store) Aggregate(ctx context.Context, m *schema.Model, spec *query.Spec, op, name string) (any, error) {
	filter, err := Filter(spec, m)
	if err != nil {
		return nil, err
	}
	fname, _, err := fieldName(name, m)
	if err != nil {
		return nil, err
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$group", Value: bson.M{"_id": nil, "value": bson.M{op: "$" + fname}}}},
	}
	cursor, err := s.collection(m).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("strata: document: %s: aggregate: %w", m.Label, err)
	}
	defer cursor.Close(ctx)
	if !cursor.Next(ctx) {
		return nil, cursor.Err()
	}
	var doc struct {
		Value any `bson:"value"`
	}
	if err := cursor.Decode(&doc); err != nil {
		return nil, fmt.Errorf("strata: document: %s: decode aggregate: %w", m.Label, err)
	}
	return doc.Value, nil
}

// UpdateSet sets encoded field values on every matching document.
func (s *Store) UpdateSet(ctx context.Context, m *schema.Model, spec *query.Spec, values map[string]any) (int64, error) {
	filter, err := Filter(spec, m)
	if err != nil {
		return 0, err
	}
	res, err := s.collection(m).UpdateMany(ctx, filter, bson.M{"$set": values})
	if err != nil {
		return 0, fmt.Errorf("strata: document: %s: update: %w", m.Label, err)
	}
	return res.ModifiedCount, nil
}

// Delete removes every matching document and reports how many went away.
func (s *Store) Delete(ctx context.Context, m *schema.Model, spec *query.Spec) (int64, error) {
	filter, err := Filter(spec, m)
	if err != nil {
		return 0, err
	}
	res, err := s.collection(m).DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("strata: document: %s: delete: %w", m.Label, err)
	}
	s.log.Debug("documents deleted", "collection", m.Table, "count", res.DeletedCount)
	return res.DeletedCount, nil
}

// sortDocument expands sort keys into their stored fields in codec order.
func sortDocument(spec *query.Spec, m *schema.Model, reg *codec.Registry) (bson.D, error) {
	keys := spec.SortKeys()
	if len(keys) == 0 {
		return nil, nil
	}
	sort := bson.D{}
	for _, k := range keys {
		dir := 1
		if !k.Asc {
			dir = -1
		}
		if k.Field == schema.IDColumn {
			sort = append(sort, bson.E{Key: "_id", Value: dir})
			continue
		}
		f, ok := m.Field(k.Field)
		if !ok {
			return nil, fmt.Errorf("strata: document: %s has no property %q", m.Label, k.Field)
		}
		c, err := reg.Lookup(f)
		if err != nil {
			return nil, err
		}
		for _, name := range codec.Columns(f, c) {
			sort = append(sort, bson.E{Key: name, Value: dir})
		}
	}
	return sort, nil
}

func rowFromDocument(doc bson.M) map[string]any {
	row := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == "_id" {
			row[schema.IDColumn] = normalizeValue(v)
			continue
		}
		row[k] = normalizeValue(v)
	}
	return row
}

// normalizeValue widens driver-decoded numerics so the codecs see the same
// shapes the SQL scanners produce.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case bson.A:
		vs := make([]any, len(n))
		for i, e := range n {
			vs[i] = normalizeValue(e)
		}
		return vs
	}
	return v
}

// databaseName extracts the database from a connection URL path.
func databaseName(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return DefaultDatabase
	}
	if name := strings.TrimPrefix(u.Path, "/"); name != "" {
		return name
	}
	return DefaultDatabase
}
