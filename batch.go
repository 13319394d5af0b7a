package strata

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Batch writer defaults.
const (
	DefaultBatchSize  = 128
	DefaultBatchDelay = 200 * time.Millisecond
)

// BatchWriter accumulates models and writes them in batches: synchronously
// when the batch fills up, or after a delay following the first buffered
// add. The delay timer is disarmed by any flush, so an explicit Flush or a
// size-triggered write never leaves a stale timer behind.
type BatchWriter[T any] struct {
	repo  *Repository[T]
	size  int
	delay time.Duration
	log   *slog.Logger

	mu      sync.Mutex
	pending []*T
	timer   *time.Timer
	closed  bool
}

// NewBatchWriter returns a batch writer over the repository. Non-positive
// size or delay fall back to the defaults.
func NewBatchWriter[T any](repo *Repository[T], size int, delay time.Duration) *BatchWriter[T] {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if delay <= 0 {
		delay = DefaultBatchDelay
	}
	return &BatchWriter[T]{
		repo:  repo,
		size:  size,
		delay: delay,
		log:   repo.client.log,
	}
}

// Add buffers a model. When the buffer reaches the batch size the write
// happens synchronously before Add returns; otherwise the first buffered
// model arms the delay timer.
func (w *BatchWriter[T]) Add(ctx context.Context, m *T) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrBatchClosed
	}
	w.pending = append(w.pending, m)
	if len(w.pending) >= w.size {
		batch := w.take()
		w.mu.Unlock()
		return w.write(ctx, batch)
	}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.delay, w.flushAsync)
	}
	w.mu.Unlock()
	return nil
}

// Flush writes everything buffered, synchronously.
func (w *BatchWriter[T]) Flush(ctx context.Context) error {
	w.mu.Lock()
	batch := w.take()
	w.mu.Unlock()
	return w.write(ctx, batch)
}

// Close flushes and stops the writer. Further adds fail.
func (w *BatchWriter[T]) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	batch := w.take()
	w.mu.Unlock()
	return w.write(ctx, batch)
}

// take removes the pending batch and disarms the timer. Caller holds mu.
func (w *BatchWriter[T]) take() []*T {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	batch := w.pending
	w.pending = nil
	return batch
}

func (w *BatchWriter[T]) write(ctx context.Context, batch []*T) error {
	if len(batch) == 0 {
		return nil
	}
	return w.repo.SaveAll(ctx, batch)
}

// flushAsync runs on the delay timer; failures are logged since no caller
// is waiting.
func (w *BatchWriter[T]) flushAsync() {
	w.mu.Lock()
	w.timer = nil
	batch := w.take()
	w.mu.Unlock()
	if err := w.write(context.Background(), batch); err != nil {
		w.log.Error("batch: delayed flush failed",
			"label", w.repo.model.Label, "count", len(batch), "error", err)
	}
}
