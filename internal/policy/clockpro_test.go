package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClockProRegisteredByName(t *testing.T) {
	p, err := New("clockpro")
	require.NoError(t, err)
	require.IsType(t, &clockPro{}, p)
}

func TestClockProEvictEmptyReturnsNoVictim(t *testing.T) {
	p := newClockPro()
	_, err := p.Evict()
	require.ErrorIs(t, err, ErrNoVictim)
}

func TestClockProEvictsColdUnreferencedKey(t *testing.T) {
	p := newClockPro()
	p.Access("a")
	p.Access("b")
	p.Access("c")

	// A fresh sweep promotes every cold+ref node to hot on its first
	// pass, so a single Evict goes round the ring more than once (hot
	// demoted back to cold) before it actually removes something.
	victim, err := p.Evict()
	require.NoError(t, err)
	require.Contains(t, []string{"a", "b", "c"}, victim)
}

func TestClockProPinnedKeyIsSkipped(t *testing.T) {
	p := newClockPro()
	p.Access("pinned")
	require.True(t, p.TryRefKey("pinned"))

	// Only one key exists and it is pinned: no victim is ever available.
	_, err := p.Evict()
	require.ErrorIs(t, err, ErrNoVictim)

	p.UnrefKey("pinned")
}

func TestClockProDelKeyRemovesWithoutReturningVictim(t *testing.T) {
	p := newClockPro()
	p.Access("a")
	p.DelKey("a")

	_, err := p.Evict()
	require.ErrorIs(t, err, ErrNoVictim)
}

func TestClockProTryRefKeyUnknownKeyReturnsFalse(t *testing.T) {
	p := newClockPro()
	require.False(t, p.TryRefKey("missing"))
}
