package blob

import (
	"testing"

	"github.com/aoecas/aoecas/pkg/hash"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	data := []byte("a block of data")
	h := hash.FromData(data)
	require.NoError(t, s.Put(h, data))

	got, err := s.Get(h)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestPutIdempotent(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	data := []byte("same blob twice")
	h := hash.FromData(data)
	require.NoError(t, s.Put(h, data))
	require.NoError(t, s.Put(h, data))
}

func TestPutWrongHashRejected(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	data := []byte("real content")
	wrongHash := hash.FromData([]byte("different content"))
	err = s.Put(wrongHash, data)
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestGetMissing(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(hash.FromData([]byte("never stored")))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExistsAndDelete(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	data := []byte("deletable")
	h := hash.FromData(data)
	require.NoError(t, s.Put(h, data))

	ok, err := s.Exists(h)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Delete(h))
	ok, err = s.Exists(h)
	require.NoError(t, err)
	require.False(t, ok)

	// deleting an absent blob is a success
	require.NoError(t, s.Delete(h))
}

func TestSync(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Sync())
}
