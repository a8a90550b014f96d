package workqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// runLoop drains q whenever it wakes, standing in for the owning
// thread's dispatch loop in these tests.
func runLoop(t *testing.T, q *Queue, stop <-chan struct{}) {
	t.Helper()
	for {
		select {
		case <-q.Wake():
			q.Process()
		case <-stop:
			return
		}
	}
}

func TestCallBlocksUntilProcessed(t *testing.T) {
	q := New()
	stop := make(chan struct{})
	go runLoop(t, q, stop)
	defer close(stop)

	var ran bool
	err := q.Call(context.Background(), func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestCallPropagatesError(t *testing.T) {
	q := New()
	stop := make(chan struct{})
	go runLoop(t, q, stop)
	defer close(stop)

	sentinel := errors.New("boom")
	err := q.Call(context.Background(), func() error { return sentinel })
	require.ErrorIs(t, err, sentinel)
}

func TestSubmitIsFireAndForget(t *testing.T) {
	q := New()
	stop := make(chan struct{})
	go runLoop(t, q, stop)
	defer close(stop)

	done := make(chan struct{})
	q.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("submitted work never ran")
	}
}

func TestCallRespectsContextCancellation(t *testing.T) {
	q := New() // no run loop draining it

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := q.Call(ctx, func() error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcessRunsItemsInOrder(t *testing.T) {
	q := New()
	var order []int

	for i := 0; i < 5; i++ {
		i := i
		q.Submit(func() { order = append(order, i) })
	}
	q.Process()

	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}
