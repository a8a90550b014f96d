package unsafehelpers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytesStringRoundTrip(t *testing.T) {
	b := []byte("hello-priskv")
	s := BytesToString(b)
	require.Equal(t, "hello-priskv", s)
	require.Equal(t, b, StringToBytes(s))
}

func TestAlignUp(t *testing.T) {
	require.Equal(t, uint64(64), AlignUp(1, 64))
	require.Equal(t, uint64(64), AlignUp(64, 64))
	require.Equal(t, uint64(128), AlignUp(65, 64))
}

func TestIsPowerOfTwo(t *testing.T) {
	require.True(t, IsPowerOfTwo(1))
	require.True(t, IsPowerOfTwo(1024))
	require.False(t, IsPowerOfTwo(0))
	require.False(t, IsPowerOfTwo(3))
}
