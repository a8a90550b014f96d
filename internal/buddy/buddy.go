// Package buddy implements a classic binary-buddy allocator over a fixed
// number of power-of-two-sized blocks, used by internal/kv to carve
// contiguous value-block runs out of an arena's value region.
//
// The metadata is an array of 2N-1 max-free-order counters (root at index
// 0, children at 2i+1/2i+2), ported from original_source/server/buddy.c.
// alloc(size) rounds size up to a power-of-two block count, descends
// preferring the child whose max-free order is >= requested, zeroes the
// chosen node and percolates max(left, right) upward. free(addr) walks up
// from the leaf until it reaches the node alloc zeroed, restores that node
// to full order and coalesces siblings going back up.
//
// © 2025 PrisKV authors. Apache License 2.0.
package buddy

import (
	"errors"
	"sync"
)

// ErrNotPowerOfTwo is returned by New when nmemb is not a power of two.
var ErrNotPowerOfTwo = errors.New("buddy: nmemb must be a power of two")

// Buddy allocates contiguous runs of fixed-size blocks from a base offset.
// A single mutex guards alloc/free; complexity is O(log N) per operation.
type Buddy struct {
	mu sync.Mutex

	nmemb uint32
	size  uint32
	inuse uint32
	meta  []uint32 // 2*nmemb-1 max-free-order counters
}

func isPowerOfTwo(n uint32) bool { return n != 0 && n&(n-1) == 0 }

func roundupPowerOfTwo(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	if isPowerOfTwo(v) {
		return v
	}
	p := uint32(1)
	for p < v {
		p <<= 1
	}
	return p
}

// New constructs a buddy allocator over nmemb blocks of size bytes each.
// nmemb must be a power of two.
func New(nmemb uint32, size uint32) (*Buddy, error) {
	if !isPowerOfTwo(nmemb) {
		return nil, ErrNotPowerOfTwo
	}

	b := &Buddy{
		nmemb: nmemb,
		size:  size,
		meta:  make([]uint32, 2*nmemb-1),
	}

	nodes := nmemb * 2
	for i := uint32(0); i < nmemb*2-1; i++ {
		if isPowerOfTwo(i + 1) {
			nodes /= 2
		}
		b.meta[i] = nodes
	}
	return b, nil
}

func leftLeaf(i uint32) uint32  { return i*2 + 1 }
func rightLeaf(i uint32) uint32 { return i*2 + 2 }
func parent(i uint32) uint32    { return (i+1)/2 - 1 }

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// Alloc reserves a contiguous run covering at least size bytes, rounded up
// to a power-of-two count of blocks, and returns the byte offset of the run
// from the allocator's base. ok is false when the root's max-free order is
// smaller than the requested block count (NO_SPACE, per spec §7).
func (b *Buddy) Alloc(size uint32) (offset uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	alignup := (uint64(size) + uint64(b.size) - 1) / uint64(b.size)
	blocks := roundupPowerOfTwo(uint32(alignup))

	if b.meta[0] < blocks {
		return 0, false
	}

	index := uint32(0)
	nodes := b.nmemb
	for nodes != blocks {
		if b.meta[leftLeaf(index)] >= blocks {
			index = leftLeaf(index)
		} else {
			index = rightLeaf(index)
		}
		nodes /= 2
	}

	if b.meta[index] == 0 {
		return 0, false
	}

	b.meta[index] = 0
	off := uint64(index+1)*uint64(nodes) - uint64(b.nmemb)

	for index != 0 {
		index = parent(index)
		b.meta[index] = maxU32(b.meta[leftLeaf(index)], b.meta[rightLeaf(index)])
	}

	b.inuse += blocks
	return off * uint64(b.size), true
}

// Free releases the run previously returned by Alloc at the given offset.
// offset must be exactly a value Alloc has returned; passing any other
// value is a programmer error.
func (b *Buddy) Free(offset uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	leafOffset := offset / uint64(b.size)
	if leafOffset*uint64(b.size) != offset {
		panic("buddy: free: misaligned address")
	}

	index := uint32(leafOffset) + b.nmemb - 1
	nodes := uint32(1)
	for b.meta[index] != 0 {
		nodes *= 2
		if index == 0 {
			return
		}
		index = parent(index)
	}

	b.meta[index] = nodes
	b.inuse -= nodes

	for index != 0 {
		index = parent(index)
		nodes *= 2

		left := b.meta[leftLeaf(index)]
		right := b.meta[rightLeaf(index)]
		if left+right == nodes {
			b.meta[index] = nodes
		} else {
			b.meta[index] = maxU32(left, right)
		}
	}
}

// Inuse returns the number of blocks currently allocated.
func (b *Buddy) Inuse() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inuse
}

// Nmemb returns the total number of blocks managed by the allocator.
func (b *Buddy) Nmemb() uint32 { return b.nmemb }

// BlockSize returns the byte size of a single block.
func (b *Buddy) BlockSize() uint32 { return b.size }
