// Package kv implements the key-value index and expiry engine that sits
// on top of a slab (key slots), a buddy allocator (value blocks) and an
// eviction policy: the owner of a single cache tier's data plane.
//
// Concurrency model (§4.4/§5): an Index is not internally synchronized
// beyond the locks its slab/buddy delegate to. All Get/Set/Del/Test calls
// for a given Index must come from its single owning thread — the
// per-session pipeline running on a threadpool IO thread, or the
// background expiry sweep, never both concurrently for the same Index.
//
// © 2025 PrisKV authors. Apache License 2.0.
package kv

import (
	"encoding/binary"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/DwyaneShi/priskv/internal/arena"
	"github.com/DwyaneShi/priskv/internal/buddy"
	"github.com/DwyaneShi/priskv/internal/policy"
	"github.com/DwyaneShi/priskv/internal/slab"
	"github.com/DwyaneShi/priskv/internal/unsafehelpers"
	"github.com/DwyaneShi/priskv/pkg/protocol"
	"github.com/DwyaneShi/priskv/pkg/sgl"
)

// entry is the in-memory record for one resident key. It is the runtime
// source of truth; the arena's key region mirrors the key bytes
// write-through for diagnostic and future recovery purposes only, per
// SPEC_FULL.md's persistence non-goal.
type entry struct {
	slotIndex    uint32
	blockOffset  uint64
	blockCount   uint32
	valueLength  uint64
	expireAtNano int64 // 0 means never
}

// Clock returns the current time in nanoseconds, injectable for testing
// TTL expiry deterministically.
type Clock func() int64

// Index ties a key slab, a value-block buddy allocator and an eviction
// policy together over one arena.
type Index struct {
	ar    *arena.Arena
	buddy *buddy.Buddy
	slab  *slab.Slab
	pol   policy.Policy
	log   *zap.Logger
	now   Clock

	entries   map[string]*entry
	cursor    string // resumption point for ExpireSweep
	evictions int
}

// New constructs an Index over ar, carving its value region into a buddy
// allocator with ar.Header.ValueBlocks blocks of ar.Header.ValueBlockSize bytes and
// its key region into a slab of ar.Header.MaxKeys key slots.
//
// If ar was returned by arena.Load rather than freshly created, its key
// region may still carry slots a previous process left occupied (the
// occupied flag byte written by writeKeySlot). Those slots are reserved
// against the fresh slab via Slab.Reserve before the Index is returned,
// per §4.3's "recovering a persisted layout on reload" — this prevents a
// subsequent Alloc from handing out a key slot whose bytes are still live
// in the mapped file. Reconstructing those slots' value-block ownership
// and TTL into live entries is out of scope: the value descriptor (block
// offset/count, expire_ns) is not itself persisted, consistent with
// spec.md's "persistence across crashes beyond what a mapped file
// naturally gives" Non-goal: a recovered slot stays reserved (and its key
// bytes unreachable through Get/Set/Del/Test) for the lifetime of the
// Index; nothing in this package frees it.
func New(ar *arena.Arena, pol policy.Policy, log *zap.Logger, now Clock) (*Index, error) {
	b, err := buddy.New(uint32(ar.Header.ValueBlocks), ar.Header.ValueBlockSize)
	if err != nil {
		return nil, err
	}

	s := slab.New("keyslots", uint32(arena.KeySlotHeaderSize)+uint32(ar.Header.MaxKeyLength), ar.Header.MaxKeys)

	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = func() int64 { return 0 }
	}

	ix := &Index{
		ar:      ar,
		buddy:   b,
		slab:    s,
		pol:     pol,
		log:     log,
		now:     now,
		entries: make(map[string]*entry),
	}

	if recovered := ix.reserveOccupiedSlots(); recovered > 0 {
		log.Warn("kv: reserved key slots occupied by a previous process on reload",
			zap.Int("slots", recovered))
	}

	return ix, nil
}

// reserveOccupiedSlots scans ar's key region for slots whose occupied
// flag survived a reload and reserves each one against ix.slab. It is a
// no-op for a freshly created or anonymous arena, whose key region is
// zeroed.
func (ix *Index) reserveOccupiedSlots() int {
	slotSize := uint64(arena.KeySlotHeaderSize) + uint64(ix.ar.Header.MaxKeyLength)
	region := ix.ar.KeyRegion()

	recovered := 0
	for i := uint32(0); i < ix.ar.Header.MaxKeys; i++ {
		off := uint64(i) * slotSize
		if region[off] == 0 {
			continue
		}
		if err := ix.slab.Reserve(i); err != nil {
			ix.log.Warn("kv: failed to reserve occupied slot on reload",
				zap.Uint32("slot", i), zap.Error(err))
			continue
		}
		recovered++
	}
	return recovered
}

// Get looks up key, writes up to min(value_length, total sgl length)
// bytes to w and reports the number of bytes written.
func (ix *Index) Get(key []byte, w sgl.Writer) (int, protocol.Status) {
	k := unsafehelpers.BytesToString(key)

	e, ok := ix.entries[k]
	if !ok {
		return 0, protocol.StatusNotFound
	}

	if e.expireAtNano != 0 && e.expireAtNano <= ix.now() {
		ix.dropExpired(k, e)
		return 0, protocol.StatusNotFound
	}

	region := ix.ar.ValueRegion()
	value := region[e.blockOffset : e.blockOffset+e.valueLength]

	n, err := w.Write(value)
	if err != nil {
		ix.log.Warn("kv: get write to sgl target failed", zap.String("key", k), zap.Error(err))
		return n, protocol.StatusError
	}
	if uint64(n) < e.valueLength {
		ix.pol.Access(k)
		return n, protocol.StatusValueTooBig
	}

	ix.pol.Access(k)
	return n, protocol.StatusOK
}

// Set gathers valueLength bytes from r and stores them under key with the
// given TTL (0 meaning never expires). It allocates a key slot and value
// blocks, running eviction against the policy until allocation succeeds
// or the policy has nothing left to evict.
func (ix *Index) Set(key []byte, r sgl.Reader, valueLength uint64, timeout time.Duration) protocol.Status {
	k := string(key)

	if old, exists := ix.entries[k]; exists {
		ix.buddy.Free(old.blockOffset)
		ix.pol.DelKey(k)
		delete(ix.entries, k)
		ix.releaseSlot(old.slotIndex)
	}

	offset, ok := ix.allocWithEviction(uint32(valueLength))
	if !ok {
		return protocol.StatusNoSpace
	}

	region := ix.ar.ValueRegion()
	if _, err := io.ReadFull(r, region[offset:offset+valueLength]); err != nil {
		ix.buddy.Free(offset)
		ix.log.Warn("kv: set failed reading sgl source", zap.String("key", k), zap.Error(err))
		return protocol.StatusError
	}

	slotIndex, err := ix.slab.Alloc()
	if err != nil {
		ix.buddy.Free(offset)
		return protocol.StatusNoSpace
	}
	ix.writeKeySlot(slotIndex, key)

	var expireAtNano int64
	if timeout != 0 {
		expireAtNano = ix.now() + timeout.Nanoseconds()
	}

	ix.entries[k] = &entry{
		slotIndex:    slotIndex,
		blockOffset:  offset,
		blockCount:   blockCountFor(uint32(valueLength), ix.buddy.BlockSize()),
		valueLength:  valueLength,
		expireAtNano: expireAtNano,
	}
	ix.pol.Access(k)
	return protocol.StatusOK
}

// Del removes key, returning StatusNotFound if absent.
func (ix *Index) Del(key []byte) protocol.Status {
	k := unsafehelpers.BytesToString(key)
	e, ok := ix.entries[k]
	if !ok {
		return protocol.StatusNotFound
	}

	ix.buddy.Free(e.blockOffset)
	ix.releaseSlot(e.slotIndex)
	ix.pol.DelKey(k)
	delete(ix.entries, k)
	return protocol.StatusOK
}

// Test is an existence probe: no value transfer, no policy access update.
func (ix *Index) Test(key []byte) protocol.Status {
	k := unsafehelpers.BytesToString(key)
	e, ok := ix.entries[k]
	if !ok {
		return protocol.StatusNotFound
	}
	if e.expireAtNano != 0 && e.expireAtNano <= ix.now() {
		return protocol.StatusNotFound
	}
	return protocol.StatusOK
}

// Len reports the number of resident keys.
func (ix *Index) Len() int { return len(ix.entries) }

// InuseValueBlocks reports the number of value blocks currently allocated
// from the buddy allocator, for diagnostics and metrics.
func (ix *Index) InuseValueBlocks() uint32 { return ix.buddy.Inuse() }

// TakeEvictions returns the number of capacity-pressure evictions since
// the last call and resets the counter, for metrics reporting.
func (ix *Index) TakeEvictions() int {
	n := ix.evictions
	ix.evictions = 0
	return n
}

// ExpireSweep scans up to maxScan resident keys starting from the cursor
// left by the previous call, reclaiming any whose TTL has elapsed. It is
// intended to be driven by a time.Ticker on a background thread, the
// idiomatic substitute for the original's timerfd-driven sweep.
func (ix *Index) ExpireSweep(maxScan int) (scanned, expired int, bytes int64) {
	keys := make([]string, 0, len(ix.entries))
	for k := range ix.entries {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return 0, 0, 0
	}

	start := 0
	if ix.cursor != "" {
		for i, k := range keys {
			if k == ix.cursor {
				start = i
				break
			}
		}
	}

	now := ix.now()
	for i := 0; i < len(keys) && scanned < maxScan; i++ {
		idx := (start + i) % len(keys)
		k := keys[idx]
		e, ok := ix.entries[k]
		if !ok {
			continue
		}
		scanned++
		if e.expireAtNano != 0 && e.expireAtNano <= now {
			bytes += int64(e.valueLength)
			ix.dropExpired(k, e)
			expired++
		}
	}

	if scanned > 0 {
		ix.cursor = keys[(start+scanned)%len(keys)]
	}
	return scanned, expired, bytes
}

func (ix *Index) dropExpired(key string, e *entry) {
	ix.buddy.Free(e.blockOffset)
	ix.releaseSlot(e.slotIndex)
	ix.pol.DelKey(key)
	delete(ix.entries, key)
}

func (ix *Index) releaseSlot(slotIndex uint32) {
	ix.clearKeySlot(slotIndex)
	if err := ix.slab.Free(slotIndex); err != nil {
		ix.log.Warn("kv: double free of key slot", zap.Uint32("slot", slotIndex), zap.Error(err))
	}
}

// allocWithEviction retries buddy allocation, evicting the policy's
// chosen victim each time it fails, until it succeeds or the policy
// reports it has nothing left to evict.
func (ix *Index) allocWithEviction(size uint32) (uint64, bool) {
	for {
		if offset, ok := ix.buddy.Alloc(size); ok {
			return offset, true
		}

		victim, err := ix.pol.Evict()
		if err != nil {
			return 0, false
		}
		if e, ok := ix.entries[victim]; ok {
			ix.buddy.Free(e.blockOffset)
			ix.releaseSlot(e.slotIndex)
			delete(ix.entries, victim)
			ix.evictions++
		}
	}
}

func blockCountFor(size, blockSize uint32) uint32 {
	if blockSize == 0 {
		return 0
	}
	n := (size + blockSize - 1) / blockSize
	if n == 0 {
		n = 1
	}
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}

func (ix *Index) writeKeySlot(slotIndex uint32, key []byte) {
	slotSize := uint64(arena.KeySlotHeaderSize) + uint64(ix.ar.Header.MaxKeyLength)
	off := uint64(slotIndex) * slotSize
	region := ix.ar.KeyRegion()

	region[off] = 1 // occupied flag, scanned by reserveOccupiedSlots on reload
	binary.LittleEndian.PutUint16(region[off+2:off+4], uint16(len(key)))
	copy(region[off+uint64(arena.KeySlotHeaderSize):off+slotSize], key)
}

// clearKeySlot zeroes the persisted occupied flag, keeping the arena's
// key region consistent with the in-memory slab bitmap so a later
// arena.Load does not reserve a slot this process has already freed.
func (ix *Index) clearKeySlot(slotIndex uint32) {
	slotSize := uint64(arena.KeySlotHeaderSize) + uint64(ix.ar.Header.MaxKeyLength)
	off := uint64(slotIndex) * slotSize
	ix.ar.KeyRegion()[off] = 0
}
