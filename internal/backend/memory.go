package backend

import (
	"context"
	"sync"
	"time"

	"github.com/DwyaneShi/priskv/pkg/protocol"
)

func init() {
	Register("memory", func() Driver { return &memoryDriver{} })
}

// memoryDriver is a process-local map-backed tier, opened from a
// "memory:" address as any tier of a chain. An "&size=" budget makes Set
// report NO_SPACE when the new value would not fit.
type memoryDriver struct{}

type memoryHandle struct {
	mu      sync.Mutex
	values  map[string][]byte
	budget  uint64
	used    uint64
	order   []string
}

func (memoryDriver) Open(_ context.Context, address string) (Handle, error) {
	budget, err := parseByteBudget(address)
	if err != nil {
		return nil, err
	}
	return &memoryHandle{values: make(map[string][]byte), budget: budget}, nil
}

func (h *memoryHandle) Close() error { return nil }

func (h *memoryHandle) IsCacheable(valueLen uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.budget == 0 || h.used+valueLen <= h.budget
}

func (h *memoryHandle) Get(_ context.Context, key string, val []byte) (uint32, protocol.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()

	v, ok := h.values[key]
	if !ok {
		return 0, protocol.StatusNotFound
	}
	n := copy(val, v)
	if n < len(v) {
		return uint32(n), protocol.StatusValueTooBig
	}
	return uint32(n), protocol.StatusOK
}

func (h *memoryHandle) Set(_ context.Context, key string, val []byte, _ time.Duration) protocol.Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	old, exists := h.values[key]
	if h.budget != 0 && h.used-uint64(len(old))+uint64(len(val)) > h.budget {
		return protocol.StatusNoSpace
	}
	if exists {
		h.used -= uint64(len(old))
	} else {
		h.order = append(h.order, key)
	}
	cp := make([]byte, len(val))
	copy(cp, val)
	h.values[key] = cp
	h.used += uint64(len(val))
	return protocol.StatusOK
}

func (h *memoryHandle) Del(_ context.Context, key string) protocol.Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	v, ok := h.values[key]
	if !ok {
		return protocol.StatusNotFound
	}
	h.used -= uint64(len(v))
	delete(h.values, key)
	return protocol.StatusOK
}

func (h *memoryHandle) Test(_ context.Context, key string) protocol.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.values[key]; !ok {
		return protocol.StatusNotFound
	}
	return protocol.StatusOK
}

// Evict drops the oldest-inserted key until enough budget is free,
// a simple FIFO standing in for a dedicated eviction policy at this tier
// (the real policy engine lives one level up, in internal/kv).
func (h *memoryHandle) Evict(_ context.Context, valueLen uint64) protocol.Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	for h.budget != 0 && h.used+valueLen > h.budget && len(h.order) > 0 {
		oldest := h.order[0]
		h.order = h.order[1:]
		if v, ok := h.values[oldest]; ok {
			h.used -= uint64(len(v))
			delete(h.values, oldest)
		}
	}
	return protocol.StatusOK
}

func (h *memoryHandle) Clearup() error { return nil }
