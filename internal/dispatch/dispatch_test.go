package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetAndDispatch(t *testing.T) {
	tb := New()

	var gotFD int
	var gotEvents Event
	tb.Set(5, func(fd int, events Event) {
		gotFD = fd
		gotEvents = events
	})

	tb.Dispatch(5, EventIn)
	require.Equal(t, 5, gotFD)
	require.Equal(t, EventIn, gotEvents)
}

func TestDispatchUnregisteredFDIsNoop(t *testing.T) {
	tb := New()
	require.NotPanics(t, func() { tb.Dispatch(100, EventIn) })
}

func TestSetGrowsTableInFixedIncrements(t *testing.T) {
	tb := New()
	tb.Set(10, func(int, Event) {})
	require.Equal(t, growIncrement, tb.Len())

	tb.Set(200, func(int, Event) {})
	require.Equal(t, 4*growIncrement, tb.Len())
}

func TestDelRemovesHandler(t *testing.T) {
	tb := New()
	called := false
	tb.Set(1, func(int, Event) { called = true })
	tb.Del(1)

	tb.Dispatch(1, EventIn)
	require.False(t, called)
}

func TestDispatchPassesBothEventBits(t *testing.T) {
	tb := New()
	var seen Event
	tb.Set(2, func(_ int, events Event) { seen = events })

	tb.Dispatch(2, EventIn|EventOut)
	require.Equal(t, EventIn|EventOut, seen)
	require.True(t, seen&EventIn != 0)
	require.True(t, seen&EventOut != 0)
}
