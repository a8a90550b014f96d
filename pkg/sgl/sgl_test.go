package sgl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTotalLength(t *testing.T) {
	l := List{{Offset: 0, Length: 128}, {Offset: 512, Length: 64}}
	require.EqualValues(t, 192, l.TotalLength())
}

func TestBytesRoundTrip(t *testing.T) {
	w := NewBytesWriter()
	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	r := NewBytes(w.Bytes())
	buf := make([]byte, 5)
	n, err = r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))
}

func TestValidateRejectsOversizedSGL(t *testing.T) {
	spans := make(List, 5)
	require.NoError(t, Validate(spans, 5))
	require.ErrorIs(t, Validate(spans, 4), ErrSGLTooLarge)
}

func TestNegotiateMaxTakesSmaller(t *testing.T) {
	require.Equal(t, 4, NegotiateMax(4, 16))
	require.Equal(t, 8, NegotiateMax(32, 8))
}
