// Package workqueue implements an MPSC work queue delivered to a target
// thread's run loop via a buffered wake channel, the idiomatic substitute
// for the original's eventfd-backed kick/ack cycle.
//
// Ported from original_source/lib/workqueue.c: Call enqueues synchronous
// work and blocks until it completes (a chan error in place of the
// original's condvar), Submit enqueues fire-and-forget work exactly like
// priskv_workqueue_submit.
//
// © 2025 PrisKV authors. Apache License 2.0.
package workqueue

import (
	"context"
	"sync"
)

// work is one queued item; sync items carry a done channel the caller
// blocks on.
type work struct {
	fn   func() error
	done chan error // non-nil for sync items
}

// Queue is a FIFO of work items plus a single-slot wake signal. The
// target thread's run loop calls Process whenever the wake channel
// fires, draining everything queued since the last drain.
type Queue struct {
	mu    sync.Mutex
	items []work
	wake  chan struct{}
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Wake returns the channel the owning thread's run loop selects on; a
// value arrives whenever Call or Submit has queued new work.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Call queues fn and blocks until it has run on the owning thread or ctx
// is done, matching priskv_workqueue_call's synchronous semantics.
func (q *Queue) Call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)

	q.mu.Lock()
	q.items = append(q.items, work{fn: fn, done: done})
	q.mu.Unlock()
	q.kick()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues fn to run on the owning thread without waiting for
// completion, matching priskv_workqueue_submit.
func (q *Queue) Submit(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, work{fn: func() error { fn(); return nil }})
	q.mu.Unlock()
	q.kick()
}

// Process runs every item queued since the last Process call, in order.
// It is meant to be invoked by the owning thread's run loop whenever
// Wake() fires.
func (q *Queue) Process() {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	for _, it := range items {
		err := it.fn()
		if it.done != nil {
			it.done <- err
		}
	}
}
