package slab

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocFreeRoundTrip(t *testing.T) {
	s := New("keyslots", 48, 128)

	idx, err := s.Alloc()
	require.NoError(t, err)
	require.True(t, s.Index(idx))
	require.EqualValues(t, 1, s.Inuse())

	require.NoError(t, s.Free(idx))
	require.False(t, s.Index(idx))
	require.EqualValues(t, 0, s.Inuse())
}

func TestAllocExhaustsAllSlots(t *testing.T) {
	const n = 130 // spans more than one 64-bit word
	s := New("t", 8, n)

	seen := make(map[uint32]bool, n)
	for i := 0; i < n; i++ {
		idx, err := s.Alloc()
		require.NoError(t, err)
		require.False(t, seen[idx], "index %d allocated twice", idx)
		seen[idx] = true
		require.Less(t, idx, uint32(n))
	}

	_, err := s.Alloc()
	require.ErrorIs(t, err, ErrExhausted)
}

func TestDoubleFreeRejected(t *testing.T) {
	s := New("t", 8, 8)
	idx, err := s.Alloc()
	require.NoError(t, err)
	require.NoError(t, s.Free(idx))
	require.ErrorIs(t, s.Free(idx), ErrDoubleFree)
}

func TestReserveForcesSlotAllocated(t *testing.T) {
	s := New("t", 8, 8)

	require.NoError(t, s.Reserve(3))
	require.True(t, s.Index(3))
	require.EqualValues(t, 1, s.Inuse())

	// a fresh Alloc must never hand the reserved slot back out.
	for i := 0; i < 7; i++ {
		idx, err := s.Alloc()
		require.NoError(t, err)
		require.NotEqual(t, uint32(3), idx)
	}
	_, err := s.Alloc()
	require.ErrorIs(t, err, ErrExhausted)
}

func TestReserveOutOfRange(t *testing.T) {
	s := New("t", 8, 8)
	require.ErrorIs(t, s.Reserve(8), ErrIndexRange)
}

func TestReserveIdempotentOnAlreadyAllocated(t *testing.T) {
	s := New("t", 8, 8)
	idx, err := s.Alloc()
	require.NoError(t, err)
	require.NoError(t, s.Reserve(idx))
	require.EqualValues(t, 1, s.Inuse())
}

func TestAllocReturnsFreedSlotWithinHintWord(t *testing.T) {
	s := New("t", 8, 8)

	a, err := s.Alloc()
	require.NoError(t, err)
	require.NoError(t, s.Free(a))

	b, err := s.Alloc()
	require.NoError(t, err)
	require.Equal(t, a, b, "freeing the only allocated slot must return it again")
}
