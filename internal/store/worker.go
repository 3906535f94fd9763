package store

import (
	"context"
	"sync"
	"sync/atomic"

	"ouroboros/internal/logging"
	"ouroboros/internal/types"
)

// AsyncStore wraps an experience store with a scoped background worker and a
// bounded task queue, replacing fire-and-forget persistence. Close drains
// the queue before returning, so no accepted experience is ever lost on
// shutdown.
type AsyncStore struct {
	inner types.ExperienceStore
	queue chan types.Experience

	closeOnce sync.Once
	done      chan struct{}

	stored atomic.Int64
	failed atomic.Int64
}

// NewAsync starts the background worker. queueSize bounds the number of
// pending writes; when the queue is full, Store degrades to a synchronous
// write instead of dropping the experience.
func NewAsync(inner types.ExperienceStore, queueSize int) *AsyncStore {
	if inner == nil {
		panic("store: inner store is required")
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	a := &AsyncStore{
		inner: inner,
		queue: make(chan types.Experience, queueSize),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncStore) run() {
	defer close(a.done)
	for exp := range a.queue {
		if err := a.inner.Store(context.Background(), exp); err != nil {
			a.failed.Add(1)
			logging.StoreError("background store failed: %v", err)
			continue
		}
		a.stored.Add(1)
	}
}

// Store enqueues the experience for background persistence. A full queue
// applies backpressure by writing synchronously.
func (a *AsyncStore) Store(ctx context.Context, exp types.Experience) error {
	select {
	case a.queue <- exp:
		return nil
	default:
	}
	logging.StoreDebug("queue full, storing synchronously")
	err := a.inner.Store(ctx, exp)
	if err != nil {
		a.failed.Add(1)
		return err
	}
	a.stored.Add(1)
	return nil
}

// Close stops accepting writes, flushes the queue, and waits for the worker
// to finish. Idempotent.
func (a *AsyncStore) Close() {
	a.closeOnce.Do(func() {
		close(a.queue)
		<-a.done
		logging.Store("async store closed: %d stored, %d failed",
			a.stored.Load(), a.failed.Load())
	})
}

// Stored returns the number of successful background writes.
func (a *AsyncStore) Stored() int64 { return a.stored.Load() }

// Failed returns the number of failed background writes.
func (a *AsyncStore) Failed() int64 { return a.failed.Load() }
