package pool_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/pool"
)

func mockOpener(t *testing.T) pool.Opener {
	t.Helper()
	return func(string) (*sql.DB, error) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		mock.ExpectClose()
		return db, nil
	}
}

func TestAcquireRelease(t *testing.T) {
	t.Parallel()
	p, err := pool.New("sqlite:test.db", mockOpener(t), pool.Options{MaxPool: 2})
	require.NoError(t, err)
	defer p.Close()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, c.Raw())

	busy, idle := p.Stats()
	assert.Equal(t, 1, busy)
	assert.Equal(t, 0, idle)

	require.NoError(t, c.Release())
	busy, idle = p.Stats()
	assert.Equal(t, 0, busy)
	assert.Equal(t, 1, idle)
}

func TestAcquireReusesIdle(t *testing.T) {
	t.Parallel()
	p, err := pool.New("sqlite:test.db", mockOpener(t), pool.Options{MaxPool: 2})
	require.NoError(t, err)
	defer p.Close()

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	id := c1.ID()
	require.NoError(t, c1.Release())

	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, c2.ID())
	require.NoError(t, c2.Release())
}

func TestAcquireTimeout(t *testing.T) {
	t.Parallel()
	p, err := pool.New("sqlite:test.db", mockOpener(t), pool.Options{
		MaxPool: 1,
		Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer p.Close()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, pool.IsTimeout(err))
	assert.True(t, errors.Is(err, pool.ErrTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	var te *pool.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "sqlite:test.db", te.URL)

	// Releasing unblocks the next acquisition.
	require.NoError(t, c.Release())
	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, c2.Release())
}

func TestAcquireCanceledContext(t *testing.T) {
	t.Parallel()
	p, err := pool.New("sqlite:test.db", mockOpener(t), pool.Options{
		MaxPool: 1,
		Timeout: time.Minute,
	})
	require.NoError(t, err)
	defer p.Close()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer c.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReleaseIdempotent(t *testing.T) {
	t.Parallel()
	p, err := pool.New("sqlite:test.db", mockOpener(t), pool.Options{MaxPool: 2})
	require.NoError(t, err)
	defer p.Close()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Release())
	// A second release without an intervening acquire must not double
	// enqueue the connection.
	require.NoError(t, c.Release())
	_, idle := p.Stats()
	assert.Equal(t, 1, idle)
}

type closeRecorder struct {
	order *[]int
	n     int
}

func (c *closeRecorder) Close() error {
	*c.order = append(*c.order, c.n)
	return nil
}

func TestReleaseClosesResourcesInReverseOrder(t *testing.T) {
	t.Parallel()
	p, err := pool.New("sqlite:test.db", mockOpener(t), pool.Options{MaxPool: 1})
	require.NoError(t, err)
	defer p.Close()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	var order []int
	c.Track(&closeRecorder{order: &order, n: 1})
	c.Track(&closeRecorder{order: &order, n: 2})
	c.Track(&closeRecorder{order: &order, n: 3})
	require.NoError(t, c.Release())
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestPinnedMode(t *testing.T) {
	t.Parallel()
	p, err := pool.New("sqlite:test.db", mockOpener(t), pool.Options{
		MaxPool: 1,
		Pinned:  true,
	})
	require.NoError(t, err)
	defer p.Close()

	ctxA := pool.WithOwner(context.Background(), "worker-a")
	ctxB := pool.WithOwner(context.Background(), "worker-b")

	a1, err := p.Acquire(ctxA)
	require.NoError(t, err)
	a2, err := p.Acquire(ctxA)
	require.NoError(t, err)
	// The same owner always gets its dedicated connection back.
	assert.Same(t, a1, a2)

	// Another owner gets its own, even past MaxPool.
	b, err := p.Acquire(ctxB)
	require.NoError(t, err)
	assert.NotSame(t, a1, b)

	// Release keeps the binding alive.
	require.NoError(t, a1.Release())
	a3, err := p.Acquire(ctxA)
	require.NoError(t, err)
	assert.Same(t, a1, a3)
}

func TestAcquireAfterClose(t *testing.T) {
	t.Parallel()
	p, err := pool.New("sqlite:test.db", mockOpener(t), pool.Options{MaxPool: 1})
	require.NoError(t, err)
	require.NoError(t, p.Close())
	_, err = p.Acquire(context.Background())
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := pool.NewRegistry()
	opener := mockOpener(t)

	p1, err := r.Get("sqlite:one.db", opener, pool.Options{})
	require.NoError(t, err)
	p2, err := r.Get("sqlite:one.db", opener, pool.Options{})
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	p3, err := r.Get("sqlite:two.db", opener, pool.Options{})
	require.NoError(t, err)
	assert.NotSame(t, p1, p3)

	require.NoError(t, r.Release("sqlite:one.db"))
	// Releasing an unknown URL is a no-op.
	require.NoError(t, r.Release("sqlite:unknown.db"))
	require.NoError(t, r.ReleaseAll())
}

func TestOptionsDefaults(t *testing.T) {
	t.Parallel()
	p, err := pool.New("sqlite:test.db", mockOpener(t), pool.Options{})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, pool.DefaultMaxPool, p.Options().MaxPool)
	assert.Equal(t, pool.DefaultTimeout, p.Options().Timeout)
}
