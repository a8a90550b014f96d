package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusStringers(t *testing.T) {
	cases := map[Status]string{
		StatusOK:          "OK",
		StatusNotFound:    "NOT_FOUND",
		StatusValueTooBig: "VALUE_TOO_BIG",
		StatusNoSpace:     "NO_SPACE",
		StatusTimeout:     "TIMEOUT",
		StatusError:       "ERROR",
	}
	for status, want := range cases {
		require.Equal(t, want, status.String())
	}
}

func TestOpcodeStringers(t *testing.T) {
	require.Equal(t, "GET", OpGet.String())
	require.Equal(t, "SET", OpSet.String())
	require.Equal(t, "DEL", OpDel.String())
	require.Equal(t, "TEST", OpTest.String())
	require.Equal(t, "EXPIRE", OpExpire.String())
}
