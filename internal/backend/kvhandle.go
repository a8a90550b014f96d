package backend

import (
	"context"
	"time"

	"github.com/DwyaneShi/priskv/internal/kv"
	"github.com/DwyaneShi/priskv/pkg/protocol"
	"github.com/DwyaneShi/priskv/pkg/sgl"
)

// kvHandle adapts an internal/kv.Index to the Handle interface so the
// in-arena KV engine can sit as the front (cache) tier of a backend
// chain, ahead of an optional localfs/memory origin. IsCacheable always
// reports true and Evict does nothing: the Index already runs its own
// eviction against the configured policy inside Set, so the chain's
// freeup loop has nothing to add for this tier.
type kvHandle struct {
	idx *kv.Index
}

// NewArenaHandle wraps idx as a chain Handle, used by the engine to place
// the arena-backed KV index at the front of its backend chain.
func NewArenaHandle(idx *kv.Index) Handle {
	return &kvHandle{idx: idx}
}

func (h *kvHandle) Close() error { return nil }

func (h *kvHandle) IsCacheable(uint64) bool { return true }

func (h *kvHandle) Get(_ context.Context, key string, val []byte) (uint32, protocol.Status) {
	n, status := h.idx.Get([]byte(key), &fixedWriter{buf: val})
	return uint32(n), status
}

func (h *kvHandle) Set(_ context.Context, key string, val []byte, timeout time.Duration) protocol.Status {
	return h.idx.Set([]byte(key), sgl.NewBytes(val), uint64(len(val)), timeout)
}

func (h *kvHandle) Del(_ context.Context, key string) protocol.Status {
	return h.idx.Del([]byte(key))
}

func (h *kvHandle) Test(_ context.Context, key string) protocol.Status {
	return h.idx.Test([]byte(key))
}

func (h *kvHandle) Evict(_ context.Context, _ uint64) protocol.Status {
	return protocol.StatusOK
}

func (h *kvHandle) Clearup() error { return nil }

// fixedWriter writes into a pre-sized buffer without growing it,
// reporting how many bytes actually fit — the Handle.Get contract
// expects writes to land directly in the caller-supplied val slice.
type fixedWriter struct {
	buf []byte
	off int
}

func (w *fixedWriter) Write(p []byte) (int, error) {
	n := copy(w.buf[w.off:], p)
	w.off += n
	return n, nil
}
