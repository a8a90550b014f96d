// Package threadpool implements the fixed-size pool of IO and background
// threads every PrisKV process starts with: each thread owns a dispatch
// table (its "epoll instance"), a workqueue, and an opaque per-thread
// user-data slot the backend chain uses for its per-thread device handle.
//
// Ported from original_source/include/priskv-threads.h. A Go goroutine
// plus a buffered wake channel substitutes for a pthread plus an epoll
// fd; Hooks{Init,Cleanup} still run on the thread itself, matching the
// original's thread_hooks contract.
//
// © 2025 PrisKV authors. Apache License 2.0.
package threadpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DwyaneShi/priskv/internal/dispatch"
	"github.com/DwyaneShi/priskv/internal/workqueue"
)

// Hooks run once on a thread's own goroutine: Init before it starts
// serving its run loop, Cleanup right before it exits.
type Hooks struct {
	Init    func(t *Thread)
	Cleanup func(t *Thread)
}

// Kind distinguishes IO threads (bound to client sessions) from
// background threads (periodic work such as the expiry sweep).
type Kind uint8

const (
	KindIO Kind = iota
	KindBG
)

// Thread is one pool worker: its own dispatch table, workqueue, and a
// single opaque user-data slot.
type Thread struct {
	name string
	kind Kind

	Dispatch *dispatch.Table
	Queue    *workqueue.Queue

	userData atomic.Value
	busyPoll bool
}

// Name returns the thread's diagnostic name, e.g. "priskv-io-0".
func (t *Thread) Name() string { return t.name }

// Kind reports whether this is an IO or background thread.
func (t *Thread) Kind() Kind { return t.kind }

// SetUserData stores an arbitrary per-thread value, used by the backend
// chain to bind a thread-local Device per §4.6's "per-thread binding".
func (t *Thread) SetUserData(v any) { t.userData.Store(boxedAny{v}) }

// UserData retrieves the value previously stored by SetUserData, or nil.
func (t *Thread) UserData() any {
	if v, ok := t.userData.Load().(boxedAny); ok {
		return v.v
	}
	return nil
}

// boxedAny lets a possibly-nil any be stored in an atomic.Value, which
// otherwise requires every Store to use the same concrete type.
type boxedAny struct{ v any }

// Option configures a Pool at Create time.
type Option func(*config)

type config struct {
	hooks    Hooks
	busyPoll bool
}

// WithHooks installs lifecycle hooks run on each thread's own goroutine.
func WithHooks(h Hooks) Option { return func(c *config) { c.hooks = h } }

// WithBusyPoll switches every thread's run loop to a tight non-blocking
// poll cycle instead of blocking on its wake channel, substituting for
// the original's 0-timeout epoll_wait (PRISKV_THREAD_BUSY_POLL).
func WithBusyPoll() Option { return func(c *config) { c.busyPoll = true } }

// Pool is a fixed set of IO and background threads.
type Pool struct {
	log *zap.Logger

	ioThreads []*Thread
	bgThreads []*Thread

	ioNext atomic.Uint64
	bgNext atomic.Uint64

	cancel context.CancelFunc
	group  *errgroup.Group

	mu     sync.Mutex
	closed bool
}

// Create spawns nIO+nBG goroutines under the given name prefix and
// returns once every thread has run its Init hook.
func Create(ctx context.Context, prefix string, nIO, nBG int, log *zap.Logger, opts ...Option) *Pool {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if log == nil {
		log = zap.NewNop()
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, runCtx := errgroup.WithContext(runCtx)

	p := &Pool{log: log, cancel: cancel, group: group}

	var ready sync.WaitGroup
	ready.Add(nIO + nBG)

	spawn := func(kind Kind, index int) *Thread {
		t := &Thread{
			name:     fmt.Sprintf("%s-%s-%d", prefix, kindName(kind), index),
			kind:     kind,
			Dispatch: dispatch.New(),
			Queue:    workqueue.New(),
			busyPoll: cfg.busyPoll,
		}
		group.Go(func() error {
			if cfg.hooks.Init != nil {
				cfg.hooks.Init(t)
			}
			ready.Done()
			t.runLoop(runCtx)
			if cfg.hooks.Cleanup != nil {
				cfg.hooks.Cleanup(t)
			}
			return nil
		})
		return t
	}

	for i := 0; i < nIO; i++ {
		p.ioThreads = append(p.ioThreads, spawn(KindIO, i))
	}
	for i := 0; i < nBG; i++ {
		p.bgThreads = append(p.bgThreads, spawn(KindBG, i))
	}

	ready.Wait()
	return p
}

func kindName(k Kind) string {
	if k == KindIO {
		return "io"
	}
	return "bg"
}

func (t *Thread) runLoop(ctx context.Context) {
	if t.busyPoll {
		t.runLoopBusyPoll(ctx)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Queue.Wake():
			t.Queue.Process()
		}
	}
}

// runLoopBusyPoll never blocks on the wake channel, substituting for the
// original's PRISKV_THREAD_BUSY_POLL 0-timeout epoll_wait mode.
func (t *Thread) runLoopBusyPoll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		select {
		case <-t.Queue.Wake():
			t.Queue.Process()
		default:
		}
	}
}

// FindIOThread round-robins across IO threads.
func (p *Pool) FindIOThread() *Thread {
	if len(p.ioThreads) == 0 {
		return nil
	}
	idx := p.ioNext.Add(1) - 1
	return p.ioThreads[idx%uint64(len(p.ioThreads))]
}

// FindBGThread round-robins across background threads.
func (p *Pool) FindBGThread() *Thread {
	if len(p.bgThreads) == 0 {
		return nil
	}
	idx := p.bgNext.Add(1) - 1
	return p.bgThreads[idx%uint64(len(p.bgThreads))]
}

// IOThread returns the IO thread at index.
func (p *Pool) IOThread(index int) *Thread { return p.ioThreads[index] }

// BGThread returns the background thread at index.
func (p *Pool) BGThread(index int) *Thread { return p.bgThreads[index] }

// ForEachIOThread calls fn for every IO thread, stopping early on error.
func (p *Pool) ForEachIOThread(fn func(*Thread) error) error {
	for _, t := range p.ioThreads {
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

// Close signals every thread to stop and waits for them to exit.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	return p.group.Wait()
}
