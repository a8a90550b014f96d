package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DwyaneShi/priskv/internal/acl"
	"github.com/DwyaneShi/priskv/internal/arena"
	"github.com/DwyaneShi/priskv/internal/backend"
	"github.com/DwyaneShi/priskv/internal/kv"
	"github.com/DwyaneShi/priskv/internal/policy"
	"github.com/DwyaneShi/priskv/internal/threadpool"
	"github.com/DwyaneShi/priskv/pkg/protocol"
	"github.com/DwyaneShi/priskv/pkg/sgl"
)

// Engine is the top-level object a server process constructs once at
// startup: it owns the arena, the KV index, the (optional) tiered
// backend chain, the ACL, and the thread pool driving sessions and the
// background expiry sweep.
type Engine struct {
	cfg *config
	log *zap.Logger
	met metricsSink

	ar    *arena.Arena
	idx   *kv.Index
	chain *backend.Device
	acl   *acl.ACL
	pool  *threadpool.Pool

	// kvThread is the single IO thread every GET/SET/DEL/TEST is routed
	// through via Queue.Call, the owning-thread discipline §4.4/§5
	// require for the KV index and its eviction policy: picked once at
	// New time, the same pattern startExpirySweeper uses for the
	// background sweep's FindBGThread.
	kvThread *threadpool.Thread

	negotiatedMaxSGL int
}

// New constructs an Engine per the given options. Arena-creation failures
// are fatal, per §7's propagation policy.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	var ar *arena.Arena
	now := time.Now().UnixNano()
	if cfg.arenaPath == "" {
		ar, err = arena.CreateAnonymous(cfg.maxKeyLength, cfg.maxKeys, cfg.valueBlockSize, cfg.valueBlocks, now)
	} else {
		ar, err = arena.Create(cfg.arenaPath, cfg.maxKeyLength, cfg.maxKeys, cfg.valueBlockSize, cfg.valueBlocks, 0, now)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: arena creation failed: %w", err)
	}

	pol, err := policy.New(cfg.policyName)
	if err != nil {
		_ = ar.Close()
		return nil, err
	}

	idx, err := kv.New(ar, pol, cfg.logger, func() int64 { return time.Now().UnixNano() })
	if err != nil {
		_ = ar.Close()
		return nil, err
	}

	var chain *backend.Device
	if cfg.tieringAddress != "" {
		origin, err := backend.Open(ctx, cfg.tieringAddress, cfg.logger)
		if err != nil {
			_ = ar.Close()
			return nil, fmt.Errorf("engine: tiering backend open failed: %w", err)
		}
		chain = backend.NewDeviceWithHandle(backend.NewArenaHandle(idx), origin, cfg.logger)
	}

	allowList := acl.New()
	for _, rule := range cfg.aclRules {
		if err := allowList.Add(rule); err != nil {
			_ = ar.Close()
			return nil, fmt.Errorf("engine: invalid ACL rule %q: %w", rule, err)
		}
	}

	pool := threadpool.Create(ctx, "priskv", cfg.ioThreads, cfg.bgThreads, cfg.logger)

	e := &Engine{
		cfg:              cfg,
		log:              cfg.logger,
		met:              newMetricsSink(cfg.registry),
		ar:               ar,
		idx:              idx,
		chain:            chain,
		acl:              allowList,
		pool:             pool,
		kvThread:         pool.FindIOThread(),
		negotiatedMaxSGL: cfg.serverMaxSGL,
	}

	e.startExpirySweeper(ctx)
	return e, nil
}

// onKVThread runs fn on e.kvThread and blocks until it completes,
// serializing every caller onto the single owning thread the KV index
// and backend chain are not otherwise safe to share across (§4.4/§5).
func (e *Engine) onKVThread(fn func()) {
	_ = e.kvThread.Queue.Call(context.Background(), func() error {
		fn()
		return nil
	})
}

// NewSession creates a session and negotiates its handshake limits as
// min(client, server) for each field. It does not consult the ACL; that
// check is Admit.
func (e *Engine) NewSession(clientMaxSGL, clientMaxKeyLength, clientMaxInflight int) (*protocol.Session, protocol.Negotiated) {
	s := protocol.NewSession()
	neg := s.CompleteHandshake(
		clientMaxSGL, clientMaxKeyLength, clientMaxInflight,
		e.cfg.serverMaxSGL, e.cfg.serverMaxKeyLength, e.cfg.serverMaxInflightCmd,
	)
	return s, neg
}

// Admit reports whether remoteIP is allowed to connect per the ACL.
func (e *Engine) Admit(remoteIP string) bool { return e.acl.VerifyString(remoteIP) }

// ResidentKeys reports the number of keys currently resident in the
// arena's KV index, for diagnostics.
func (e *Engine) ResidentKeys() int {
	var n int
	e.onKVThread(func() { n = e.idx.Len() })
	return n
}

// InuseValueBlocks reports the number of value blocks currently allocated
// from the buddy allocator, for diagnostics.
func (e *Engine) InuseValueBlocks() uint32 {
	var n uint32
	e.onKVThread(func() { n = e.idx.InuseValueBlocks() })
	return n
}

// maxChainValue bounds the scratch buffer used to shuttle a value through
// the backend chain's Handle interface, which (unlike internal/kv.Get)
// takes a plain []byte rather than a streaming sgl.Writer.
const maxChainValue = 1 << 20

// Get resolves a GET through the tiered chain if tiering is enabled,
// otherwise directly against the arena's KV index. Run on e.kvThread so
// it never races a concurrent Set/Del/Test for the same index.
func (e *Engine) Get(key []byte, w sgl.Writer) (int, protocol.Status) {
	var n int
	var status protocol.Status
	e.onKVThread(func() {
		if e.chain != nil {
			buf := make([]byte, maxChainValue)
			var n32 uint32
			n32, status = e.chain.Get(context.Background(), string(key), buf)
			n = int(n32)
			if status == protocol.StatusOK {
				_, _ = w.Write(buf[:n])
			}
		} else {
			n, status = e.idx.Get(key, w)
		}
	})
	e.met.incOp("GET", status.String())
	return n, status
}

// Set resolves a SET through the tiered chain if enabled, otherwise
// directly against the arena's KV index. Run on e.kvThread, see Get.
func (e *Engine) Set(key []byte, r sgl.Reader, valueLength uint64, timeout time.Duration) protocol.Status {
	var status protocol.Status
	e.onKVThread(func() {
		if e.chain != nil {
			buf := make([]byte, valueLength)
			n, err := readFull(r, buf)
			if err != nil {
				status = protocol.StatusError
				return
			}
			status = e.chain.Set(context.Background(), string(key), buf[:n], timeout)
		} else {
			status = e.idx.Set(key, r, valueLength, timeout)
		}
		e.met.setResidentKeys(float64(e.idx.Len()))
		e.met.setInuseValueBlocks(float64(e.idx.InuseValueBlocks()))
		for i := 0; i < e.idx.TakeEvictions(); i++ {
			e.met.incEvict()
		}
	})
	e.met.incOp("SET", status.String())
	return status
}

// Del resolves a DEL through the tiered chain if enabled, otherwise
// directly against the arena's KV index. Run on e.kvThread, see Get.
func (e *Engine) Del(key []byte) protocol.Status {
	var status protocol.Status
	e.onKVThread(func() {
		if e.chain != nil {
			status = e.chain.Del(context.Background(), string(key))
		} else {
			status = e.idx.Del(key)
		}
	})
	e.met.incOp("DEL", status.String())
	return status
}

// Test resolves a TEST through the tiered chain if enabled, otherwise
// directly against the arena's KV index. Run on e.kvThread, see Get.
func (e *Engine) Test(key []byte) protocol.Status {
	var status protocol.Status
	e.onKVThread(func() {
		if e.chain != nil {
			status = e.chain.Test(context.Background(), string(key))
		} else {
			status = e.idx.Test(key)
		}
	})
	e.met.incOp("TEST", status.String())
	return status
}

// startExpirySweeper drives the KV index's expiry sweep from a
// time.Ticker on a background thread, the idiomatic substitute for the
// original's timerfd-driven sweep (§4.4). The sweep itself always hops
// to e.kvThread via Queue.Call before touching the index, per §4.4's
// "cross-thread work ... hops threads via C9" — the bg thread only owns
// the timer, not the index it wants to mutate.
func (e *Engine) startExpirySweeper(ctx context.Context) {
	bg := e.pool.FindBGThread()
	if bg == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(e.cfg.expirySweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = bg.Queue.Call(ctx, func() error {
					return e.kvThread.Queue.Call(ctx, func() error {
						_, expired, _ := e.idx.ExpireSweep(e.cfg.expirySweepMaxScan)
						for i := 0; i < expired; i++ {
							e.met.incExpired()
						}
						e.met.setResidentKeys(float64(e.idx.Len()))
						return nil
					})
				})
			}
		}
	}()
}

// Close tears down the thread pool, the backend chain and the arena.
func (e *Engine) Close() error {
	if err := e.pool.Close(); err != nil {
		return err
	}
	if e.chain != nil {
		_ = e.chain.Close()
	}
	return e.ar.Close()
}

func readFull(r sgl.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			if total == len(buf) {
				return total, nil
			}
			return total, err
		}
	}
	return total, nil
}
