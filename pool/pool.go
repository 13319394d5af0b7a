// Package pool provides the bounded, blocking connection pool behind every
// relational backend URL.
//
// A Pool hands out managed connections (Conn) wrapping dedicated *sql.Conn
// handles. Two acquisition strategies exist, chosen at construction:
//
//   - shared: a bounded set of connections guarded by a weighted semaphore;
//     Acquire blocks until a connection is idle or capacity allows creating
//     one, failing with a TimeoutError after the configured timeout.
//   - pinned: each owner key (attached to the context via WithOwner) lazily
//     gets and permanently keeps its own connection. Nothing returns to a
//     shared set, so there is no contention — and no reclamation until the
//     pool is closed. Growth past MaxPool is logged, not capped.
//
// Release is idempotent: the first release closes every resource opened
// through the connection and returns it to the idle set; releasing an
// already-idle connection is a no-op.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Default configuration values, overridable per URL or per dialect kind via
// the config package.
const (
	DefaultMaxPool = 8
	DefaultTimeout = 15000 * time.Millisecond
)

// Options configures a Pool.
type Options struct {
	// MaxPool bounds the number of connections simultaneously busy.
	MaxPool int
	// MinPool is advisory; the pool does not pre-create connections.
	MinPool int
	// AutoCommit permits commands outside explicit transactions. When
	// false, the relational store refuses any command that is not running
	// inside Transact.
	AutoCommit bool
	// ReadOnly marks transactions started on pooled connections read-only.
	ReadOnly bool
	// Timeout bounds how long Acquire blocks when the pool is exhausted.
	Timeout time.Duration
	// Isolation is the default transaction isolation level; the zero value
	// keeps the driver default.
	Isolation sql.IsolationLevel
	// Pinned selects the pinned (per-owner) strategy.
	Pinned bool
}

func (o Options) withDefaults() Options {
	if o.MaxPool <= 0 {
		o.MaxPool = DefaultMaxPool
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// ErrTimeout is the sentinel matched by all TimeoutError values.
var ErrTimeout = errors.New("strata: pool timeout")

// TimeoutError is returned when no connection becomes available within the
// acquisition timeout while the pool is at maximum capacity. It is
// retryable by the caller; the pool never retries internally.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
}

// Error returns the error string.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("strata: pool: no connection for %q within %s", e.URL, e.Timeout)
}

// Is reports whether the target error matches ErrTimeout.
func (e *TimeoutError) Is(err error) bool { return err == ErrTimeout }

// IsTimeout returns true if the error is a pool TimeoutError.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var e *TimeoutError
	return errors.As(err, &e) || errors.Is(err, ErrTimeout)
}

// Conn is a managed connection: one physical connection plus the resources
// (statements, row cursors) opened through it. While busy it is exclusively
// owned by one caller and its resource list needs no locking; while idle
// the pool owns it.
type Conn struct {
	id        uuid.UUID
	raw       *sql.Conn
	pool      *Pool
	pinned    bool
	busy      atomic.Bool
	resources []io.Closer
}

// ID returns the connection's diagnostic identifier.
func (c *Conn) ID() uuid.UUID { return c.id }

// Raw returns the underlying dedicated database connection.
func (c *Conn) Raw() *sql.Conn { return c.raw }

// Track registers a resource to be closed when the connection is released.
func (c *Conn) Track(r io.Closer) { c.resources = append(c.resources, r) }

// Release returns the connection to its pool. Idempotent: releasing an
// already-idle connection is a no-op. The first release closes all tracked
// resources in reverse open order and clears the list.
func (c *Conn) Release() error {
	return c.pool.release(c)
}

func (c *Conn) closeResources() error {
	var errs []error
	for i := len(c.resources) - 1; i >= 0; i-- {
		if err := c.resources[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.resources = c.resources[:0]
	return errors.Join(errs...)
}

// Pool is a bounded blocking pool of managed connections for one URL.
type Pool struct {
	url  string
	db   *sql.DB
	opts Options
	log  *slog.Logger

	sem *semaphore.Weighted

	mu     sync.Mutex
	idle   []*Conn
	busy   map[*Conn]struct{}
	closed bool

	pinned      sync.Map // owner key -> *Conn
	pinnedCount atomic.Int64
}

// New opens the database handle for url via open and wraps it in a Pool.
func New(url string, open func(string) (*sql.DB, error), opts Options) (*Pool, error) {
	opts = opts.withDefaults()
	db, err := open(url)
	if err != nil {
		return nil, fmt.Errorf("strata: pool: open %q: %w", url, err)
	}
	if !opts.Pinned {
		// The pool bounds itself; keep database/sql from holding extras.
		// Pinned mode may grow past MaxPool, so it stays uncapped.
		db.SetMaxOpenConns(opts.MaxPool)
		db.SetMaxIdleConns(opts.MaxPool)
	}
	return &Pool{
		url:  url,
		db:   db,
		opts: opts,
		log:  slog.Default(),
		sem:  semaphore.NewWeighted(int64(opts.MaxPool)),
		busy: make(map[*Conn]struct{}),
	}, nil
}

// Options returns the pool's resolved configuration.
func (p *Pool) Options() Options { return p.opts }

// URL returns the backend URL the pool serves.
func (p *Pool) URL() string { return p.url }

// Stats returns the current busy and idle connection counts.
func (p *Pool) Stats() (busy, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.busy), len(p.idle)
}

type ownerKey struct{}

// WithOwner attaches an owner key to the context, binding pinned-mode
// acquisitions to that owner.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// Acquire blocks until a connection is available or the acquisition timeout
// elapses, in which case it fails with a TimeoutError. In pinned mode it
// returns the owner's dedicated connection, creating it on first use.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("strata: pool: %q is released", p.url)
	}
	p.mu.Unlock()
	if p.opts.Pinned {
		return p.acquirePinned(ctx)
	}
	return p.acquireShared(ctx)
}

func (p *Pool) acquireShared(ctx context.Context) (*Conn, error) {
	actx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()
	if err := p.sem.Acquire(actx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TimeoutError{URL: p.url, Timeout: p.opts.Timeout}
	}
	p.mu.Lock()
	var c *Conn
	if n := len(p.idle); n > 0 {
		c = p.idle[n-1]
		p.idle = p.idle[:n-1]
	}
	p.mu.Unlock()
	if c == nil {
		raw, err := p.db.Conn(ctx)
		if err != nil {
			p.sem.Release(1)
			return nil, fmt.Errorf("strata: pool: connect %q: %w", p.url, err)
		}
		c = &Conn{id: uuid.New(), raw: raw, pool: p}
	}
	c.busy.Store(true)
	p.mu.Lock()
	p.busy[c] = struct{}{}
	busy, idle := len(p.busy), len(p.idle)
	p.mu.Unlock()
	p.log.Debug("pool: acquire",
		"url", p.url, "conn", c.id, "busy", busy, "idle", idle,
		"max", p.opts.MaxPool, "timeout", p.opts.Timeout)
	return c, nil
}

func (p *Pool) acquirePinned(ctx context.Context) (*Conn, error) {
	owner := ownerFrom(ctx)
	if v, ok := p.pinned.Load(owner); ok {
		return v.(*Conn), nil
	}
	raw, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("strata: pool: connect %q: %w", p.url, err)
	}
	c := &Conn{id: uuid.New(), raw: raw, pool: p, pinned: true}
	c.busy.Store(true)
	if v, loaded := p.pinned.LoadOrStore(owner, c); loaded {
		_ = raw.Close()
		return v.(*Conn), nil
	}
	total := p.pinnedCount.Add(1)
	// Pinned connections are never reclaimed before the pool is released;
	// growth past MaxPool is permitted but worth noticing.
	if total > int64(p.opts.MaxPool) {
		p.log.Warn("pool: pinned connections exceed max pool size",
			"url", p.url, "pinned", total, "max", p.opts.MaxPool)
	}
	p.log.Debug("pool: acquire pinned", "url", p.url, "conn", c.id, "owner", owner, "pinned", total)
	return c, nil
}

func (p *Pool) release(c *Conn) error {
	if !c.busy.CompareAndSwap(true, false) {
		// Already idle: releasing twice without an intervening acquire is
		// a no-op, never a double enqueue.
		return nil
	}
	err := c.closeResources()
	if c.pinned {
		// Pinned connections stay bound to their owner; only their
		// resources are reclaimed.
		c.busy.Store(true)
		return err
	}
	p.mu.Lock()
	delete(p.busy, c)
	p.idle = append(p.idle, c)
	busy, idle := len(p.busy), len(p.idle)
	p.mu.Unlock()
	p.sem.Release(1)
	p.log.Debug("pool: release",
		"url", p.url, "conn", c.id, "busy", busy, "idle", idle, "max", p.opts.MaxPool)
	return err
}

// Close synchronously closes every busy, idle and pinned connection and the
// underlying handle. Safe to call with connections concurrently in use:
// closes are best-effort, intermediate failures are logged and the last one
// is returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := make([]*Conn, 0, len(p.idle)+len(p.busy))
	conns = append(conns, p.idle...)
	for c := range p.busy {
		conns = append(conns, c)
	}
	p.idle = nil
	p.busy = make(map[*Conn]struct{})
	p.mu.Unlock()
	p.pinned.Range(func(_, v any) bool {
		conns = append(conns, v.(*Conn))
		return true
	})
	var last error
	for _, c := range conns {
		if err := c.closeResources(); err != nil {
			p.log.Warn("pool: close resources", "url", p.url, "conn", c.id, "error", err)
			last = err
		}
		if err := c.raw.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			p.log.Warn("pool: close connection", "url", p.url, "conn", c.id, "error", err)
			last = err
		}
	}
	if err := p.db.Close(); err != nil {
		last = err
	}
	return last
}
