package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DwyaneShi/priskv/internal/arena"
	"github.com/DwyaneShi/priskv/internal/policy"
	"github.com/DwyaneShi/priskv/internal/slab"
	"github.com/DwyaneShi/priskv/pkg/protocol"
	"github.com/DwyaneShi/priskv/pkg/sgl"
)

func newTestIndex(t *testing.T, clock Clock) *Index {
	t.Helper()
	ar, err := arena.CreateAnonymous(16, 16, 1024, 4, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ar.Close() })

	pol, err := policy.New("lru")
	require.NoError(t, err)

	ix, err := New(ar, pol, nil, clock)
	require.NoError(t, err)
	return ix
}

func TestSetGetRoundTrip(t *testing.T) {
	ix := newTestIndex(t, func() int64 { return 0 })

	status := ix.Set([]byte("a"), sgl.NewBytes([]byte("hello")), 5, 0)
	require.Equal(t, protocol.StatusOK, status)

	w := sgl.NewBytesWriter()
	n, status := ix.Get([]byte("a"), w)
	require.Equal(t, protocol.StatusOK, status)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(w.Bytes()))
}

func TestGetMissReturnsNotFound(t *testing.T) {
	ix := newTestIndex(t, func() int64 { return 0 })
	w := sgl.NewBytesWriter()
	_, status := ix.Get([]byte("missing"), w)
	require.Equal(t, protocol.StatusNotFound, status)
}

func TestGetShorterTargetReturnsValueTooBig(t *testing.T) {
	ix := newTestIndex(t, func() int64 { return 0 })
	require.Equal(t, protocol.StatusOK, ix.Set([]byte("a"), sgl.NewBytes([]byte("hello")), 5, 0))

	buf := make([]byte, 2)
	n, status := ix.Get([]byte("a"), shortWriter{buf})
	require.Equal(t, protocol.StatusValueTooBig, status)
	require.Equal(t, 2, n)
}

type shortWriter struct{ buf []byte }

func (w shortWriter) Write(p []byte) (int, error) {
	n := copy(w.buf, p)
	return n, nil
}

func TestDelIdempotence(t *testing.T) {
	ix := newTestIndex(t, func() int64 { return 0 })
	require.Equal(t, protocol.StatusOK, ix.Set([]byte("k"), sgl.NewBytes([]byte("v")), 1, 0))

	require.Equal(t, protocol.StatusOK, ix.Del([]byte("k")))
	require.Equal(t, protocol.StatusNotFound, ix.Del([]byte("k")))
}

func TestTTLExpiry(t *testing.T) {
	nowNano := int64(0)
	clock := func() int64 { return nowNano }
	ix := newTestIndex(t, clock)

	require.Equal(t, protocol.StatusOK, ix.Set([]byte("k"), sgl.NewBytes([]byte("v")), 1, 10*time.Millisecond))

	nowNano = int64(20 * time.Millisecond)
	w := sgl.NewBytesWriter()
	_, status := ix.Get([]byte("k"), w)
	require.Equal(t, protocol.StatusNotFound, status)
}

func TestExpireSweepReclaimsExpiredKeys(t *testing.T) {
	nowNano := int64(0)
	clock := func() int64 { return nowNano }
	ix := newTestIndex(t, clock)

	require.Equal(t, protocol.StatusOK, ix.Set([]byte("a"), sgl.NewBytes([]byte("v")), 1, 5*time.Millisecond))
	require.Equal(t, protocol.StatusOK, ix.Set([]byte("b"), sgl.NewBytes([]byte("v")), 1, 0))

	nowNano = int64(10 * time.Millisecond)
	scanned, expired, bytes := ix.ExpireSweep(10)
	require.Equal(t, 2, scanned)
	require.Equal(t, 1, expired)
	require.EqualValues(t, 1, bytes)
	require.Equal(t, 1, ix.Len())
}

func TestSetEvictsUnderPressure(t *testing.T) {
	ar, err := arena.CreateAnonymous(16, 16, 1024, 4, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ar.Close() })

	pol, err := policy.New("lru")
	require.NoError(t, err)
	ix, err := New(ar, pol, nil, func() int64 { return 0 })
	require.NoError(t, err)

	require.Equal(t, protocol.StatusOK, ix.Set([]byte("a"), sgl.NewBytes(make([]byte, 1024)), 1024, 0))
	require.Equal(t, protocol.StatusOK, ix.Set([]byte("b"), sgl.NewBytes(make([]byte, 1024)), 1024, 0))
	require.Equal(t, protocol.StatusOK, ix.Set([]byte("c"), sgl.NewBytes(make([]byte, 1024)), 1024, 0))
	require.Equal(t, protocol.StatusOK, ix.Set([]byte("d"), sgl.NewBytes(make([]byte, 1024)), 1024, 0))

	require.Equal(t, protocol.StatusOK, ix.Set([]byte("e"), sgl.NewBytes(make([]byte, 1024)), 1024, 0))

	require.Equal(t, protocol.StatusNotFound, ix.Test([]byte("a")))
	require.Equal(t, protocol.StatusOK, ix.Test([]byte("e")))
	require.Equal(t, 4, ix.Len())
}

func TestTestDoesNotTransferValue(t *testing.T) {
	ix := newTestIndex(t, func() int64 { return 0 })
	require.Equal(t, protocol.StatusNotFound, ix.Test([]byte("missing")))

	require.Equal(t, protocol.StatusOK, ix.Set([]byte("k"), sgl.NewBytes([]byte("v")), 1, 0))
	require.Equal(t, protocol.StatusOK, ix.Test([]byte("k")))
}

func TestReloadReservesOccupiedSlots(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/arena.img"

	ar, err := arena.Create(path, 16, 16, 1024, 4, 0, 1)
	if err == arena.ErrNotHugeTLBOrTmpfs {
		t.Skip("test tmpdir is not on hugetlbfs/tmpfs")
	}
	require.NoError(t, err)

	pol, err := policy.New("lru")
	require.NoError(t, err)
	ix, err := New(ar, pol, nil, func() int64 { return 0 })
	require.NoError(t, err)

	require.Equal(t, protocol.StatusOK, ix.Set([]byte("a"), sgl.NewBytes([]byte("v")), 1, 0))
	require.Equal(t, protocol.StatusOK, ix.Set([]byte("b"), sgl.NewBytes([]byte("v")), 1, 0))
	require.NoError(t, ar.Close())

	reloaded, err := arena.Load(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reloaded.Close() })

	reloadedPol, err := policy.New("lru")
	require.NoError(t, err)
	ix2, err := New(reloaded, reloadedPol, nil, func() int64 { return 0 })
	require.NoError(t, err)

	// both previously occupied slots are reserved, leaving only 14 of 16
	// free for a fresh Alloc to hand out without colliding with them.
	for i := 0; i < 14; i++ {
		_, err := ix2.slab.Alloc()
		require.NoError(t, err)
	}
	_, err = ix2.slab.Alloc()
	require.ErrorIs(t, err, slab.ErrExhausted)
}
