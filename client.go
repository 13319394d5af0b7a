// Package strata maps plain Go structs onto relational and document
// backends through a shared repository surface.
//
// A Client binds one backend URL: the dialect (or document store) detected
// from the URL scheme, the connection pool configured through the cascading
// config sources, and a codec registry. Repositories are typed views over
// the client:
//
//	client, err := strata.Open(ctx, "sqlite:app.db")
//	people, err := strata.NewRepository[Person](client)
//	p, err := people.Get(ctx, 42)
package strata

import (
	"context"
	"log/slog"
	"time"

	"github.com/syssam/strata/codec"
	"github.com/syssam/strata/config"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/document"
	"github.com/syssam/strata/pool"
)

// Client is a connected backend handle. Safe for concurrent use.
type Client struct {
	url    string
	kind   string
	store  store
	codecs *codec.Registry
	log    *slog.Logger
	stats  *Stats
}

type clientOptions struct {
	source config.Source
	codecs *codec.Registry
	log    *slog.Logger
	slow   time.Duration
	pool   *pool.Options
}

// Option configures a Client at Open time.
type Option func(*clientOptions)

// WithConfig sets the cascading settings source consulted for pool options.
func WithConfig(src config.Source) Option {
	return func(o *clientOptions) { o.source = src }
}

// WithCodecs sets the codec registry. Defaults to a fresh registry with
// the built-in codecs.
func WithCodecs(r *codec.Registry) Option {
	return func(o *clientOptions) { o.codecs = r }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *clientOptions) { o.log = log }
}

// WithSlowThreshold sets the slow-command warning threshold.
func WithSlowThreshold(d time.Duration) Option {
	return func(o *clientOptions) { o.slow = d }
}

// WithPoolOptions overrides the configured pool options entirely.
func WithPoolOptions(opts pool.Options) Option {
	return func(o *clientOptions) { o.pool = &opts }
}

// Open connects to the backend behind url. The URL scheme selects the
// backend kind; an unknown scheme fails with UnknownDialectError. For
// relational kinds the database is bootstrapped and a bounded pool is
// registered for the URL.
func Open(ctx context.Context, url string, opts ...Option) (*Client, error) {
	var co clientOptions
	for _, opt := range opts {
		opt(&co)
	}
	if co.codecs == nil {
		co.codecs = codec.NewRegistry()
	}
	if co.log == nil {
		co.log = slog.Default()
	}
	kind, err := dialect.Detect(url)
	if err != nil {
		return nil, err
	}
	c := &Client{
		url:    url,
		kind:   kind,
		codecs: co.codecs,
		log:    co.log.With("backend", kind),
		stats:  newStats(co.log, co.slow),
	}
	if kind == dialect.Mongo {
		doc, err := document.Open(ctx, url)
		if err != nil {
			return nil, err
		}
		c.store = &docStore{doc: doc}
		return c, nil
	}
	d, err := dialect.ForKind(kind)
	if err != nil {
		return nil, err
	}
	if err := d.CreateDatabase(url); err != nil {
		return nil, err
	}
	popts := config.ResolvePool(co.source, url, kind)
	if co.pool != nil {
		popts = *co.pool
	}
	p, err := pool.Get(url, d.OpenConnection, popts)
	if err != nil {
		return nil, err
	}
	c.store = newSQLStore(url, d, p, c.log, c.stats)
	return c, nil
}

// Kind returns the detected backend kind.
func (c *Client) Kind() string { return c.kind }

// URL returns the backend URL.
func (c *Client) URL() string { return c.url }

// Codecs returns the client's codec registry.
func (c *Client) Codecs() *codec.Registry { return c.codecs }

// Stats returns the client's command counters.
func (c *Client) Stats() *Stats { return c.stats }

// Transact runs fn transactionally against the backend. Nested calls join
// the enclosing transaction; only the outermost call commits.
func (c *Client) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.store.transact(ctx, fn)
}

// Close releases the backend: the pooled connections for relational kinds,
// the driver connection for the document kind.
func (c *Client) Close(ctx context.Context) error {
	return c.store.close(ctx)
}
