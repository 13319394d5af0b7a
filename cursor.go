package strata

import "context"

// Cursor is a lazy, single-pass traversal of a result set. Each Next
// decodes one model; iteration stops at exhaustion or on the first error,
// which Err then reports. Close is idempotent and returns the underlying
// connection to its pool.
type Cursor[T any] struct {
	repo *Repository[T]
	iter rowIter
	cur  *T
	err  error
	done bool
}

// Next advances to the next model, reporting whether one is available.
func (c *Cursor[T]) Next(ctx context.Context) bool {
	if c.done || c.err != nil {
		return false
	}
	row, err := c.iter.Next(ctx)
	if err != nil {
		c.err = err
		c.done = true
		return false
	}
	if row == nil {
		c.done = true
		return false
	}
	m, err := c.repo.decode(row)
	if err != nil {
		c.err = err
		c.done = true
		_ = c.iter.Close()
		return false
	}
	c.cur = m
	return true
}

// Value returns the model produced by the last successful Next.
func (c *Cursor[T]) Value() *T { return c.cur }

// Err returns the terminal error, if iteration failed.
func (c *Cursor[T]) Err() error { return c.err }

// Close releases the cursor's resources. Safe to call at any point and
// more than once.
func (c *Cursor[T]) Close() error {
	c.done = true
	return c.iter.Close()
}
