package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DwyaneShi/priskv/internal/arena"
	"github.com/DwyaneShi/priskv/internal/policy"
	"github.com/DwyaneShi/priskv/internal/kv"
	"github.com/DwyaneShi/priskv/pkg/protocol"
)

func TestArenaHandleAsFrontTier(t *testing.T) {
	ctx := context.Background()

	ar, err := arena.CreateAnonymous(16, 16, 1024, 4, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ar.Close() })

	pol, err := policy.New("lru")
	require.NoError(t, err)
	idx, err := kv.New(ar, pol, nil, func() int64 { return 0 })
	require.NoError(t, err)

	origin, err := Open(ctx, "memory:origin", nil)
	require.NoError(t, err)
	defer origin.Close()

	front := NewDeviceWithHandle(NewArenaHandle(idx), origin, nil)
	defer front.Close()

	require.Equal(t, protocol.StatusOK, origin.Set(ctx, "k", []byte("origin-value"), 0))

	buf := make([]byte, 32)
	n, status := front.Get(ctx, "k", buf)
	require.Equal(t, protocol.StatusOK, status)
	require.Equal(t, "origin-value", string(buf[:n]))

	// repopulated into the arena-backed front tier directly
	require.Equal(t, protocol.StatusOK, idx.Test([]byte("k")))
}
