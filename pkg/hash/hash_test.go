package hash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromDataDeterministic(t *testing.T) {
	a := FromData([]byte("hello"))
	b := FromData([]byte("hello"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, FromData([]byte("world")))
}

func TestZeroIsZero(t *testing.T) {
	require.True(t, Zero.IsZero())
	require.False(t, FromData([]byte{1}).IsZero())
}

func TestHexRoundTrip(t *testing.T) {
	h := FromData([]byte("round trip me"))
	parsed, err := ParseHex(h.Hex())
	require.NoError(t, err)
	require.Equal(t, h, parsed)
}

func TestParseHexInvalid(t *testing.T) {
	_, err := ParseHex("not-hex")
	require.Error(t, err)

	_, err = ParseHex("ab")
	require.Error(t, err)
}

func TestEmptyDataHasFixedHash(t *testing.T) {
	h := FromData(nil)
	require.False(t, h.IsZero()) // the hash of empty data is not the sentinel
}
