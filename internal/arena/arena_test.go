package arena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateAnonymousSizing(t *testing.T) {
	a, err := CreateAnonymous(32, 1024, 4096, 256, 1000)
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, uint16(32), a.Header.MaxKeyLength)
	require.Equal(t, uint32(1024), a.Header.MaxKeys)
	require.Len(t, a.KeyRegion(), int(uint64(KeySlotHeaderSize+32)*1024))
	require.Len(t, a.ValueRegion(), 4096*256)
}

func TestCreateAnonymousRejectsNonPowerOfTwo(t *testing.T) {
	_, err := CreateAnonymous(32, 1000, 4096, 256, 1)
	require.ErrorIs(t, err, ErrNotPowerOfTwo)

	_, err = CreateAnonymous(32, 1024, 4096, 300, 1)
	require.ErrorIs(t, err, ErrNotPowerOfTwo)
}

func TestReloadSurvivesPattern(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/arena.img"

	// t.TempDir() is typically tmpfs-backed in CI sandboxes; skip cleanly
	// when it is not, since Create enforces the filesystem restriction.
	a, err := Create(path, 16, 64, 512, 64, 0, 1)
	if err == ErrNotHugeTLBOrTmpfs {
		t.Skip("test tmpdir is not on hugetlbfs/tmpfs")
	}
	require.NoError(t, err)

	copy(a.ValueRegion(), []byte("pattern-P"))
	copy(a.KeyRegion(), []byte("key-pattern"))
	require.NoError(t, a.Close())

	reloaded, err := Load(path)
	require.NoError(t, err)
	defer reloaded.Close()

	require.Equal(t, "pattern-P", string(reloaded.ValueRegion()[:9]))
	require.Equal(t, "key-pattern", string(reloaded.KeyRegion()[:11]))
}
