package merkle

import (
	"testing"

	"github.com/aoecas/aoecas/pkg/blob"
	"github.com/aoecas/aoecas/pkg/hash"
	"github.com/stretchr/testify/require"
)

func TestDepth(t *testing.T) {
	require.Equal(t, 1, Depth(0))
	require.Equal(t, 1, Depth(1))
	require.Equal(t, 1, Depth(128))
	require.Equal(t, 2, Depth(129))
	require.Equal(t, 2, Depth(128*128))
	require.Equal(t, 3, Depth(128*128+1))
}

func newTree(t *testing.T, totalSectors uint64) (*Tree, blob.Store) {
	t.Helper()
	store, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return New(store, totalSectors), store
}

func TestLookupSparseIsZero(t *testing.T) {
	tree, _ := newTree(t, 1000)
	got, err := tree.Lookup(hash.Zero, 42)
	require.NoError(t, err)
	require.True(t, got.IsZero())
}

func TestUpdateThenLookupSingleLeaf(t *testing.T) {
	tree, _ := newTree(t, 10)
	dataHash := hash.FromData([]byte("sector 3 content"))

	root, err := tree.Update(hash.Zero, 3, dataHash)
	require.NoError(t, err)
	require.False(t, root.IsZero())

	got, err := tree.Lookup(root, 3)
	require.NoError(t, err)
	require.Equal(t, dataHash, got)

	// Unwritten neighbor stays sparse.
	got, err = tree.Lookup(root, 4)
	require.NoError(t, err)
	require.True(t, got.IsZero())
}

func TestPreviousRootUnaffectedByLaterWrite(t *testing.T) {
	tree, _ := newTree(t, 10)
	h1 := hash.FromData([]byte("v1"))
	h2 := hash.FromData([]byte("v2"))

	root1, err := tree.Update(hash.Zero, 0, h1)
	require.NoError(t, err)
	root2, err := tree.Update(root1, 0, h2)
	require.NoError(t, err)

	require.NotEqual(t, root1, root2)

	got1, err := tree.Lookup(root1, 0)
	require.NoError(t, err)
	require.Equal(t, h1, got1)

	got2, err := tree.Lookup(root2, 0)
	require.NoError(t, err)
	require.Equal(t, h2, got2)
}

func TestUpdateSpansMultipleLevels(t *testing.T) {
	// totalSectors > Fanout forces depth 2.
	tree, _ := newTree(t, Fanout*Fanout)
	require.Equal(t, 2, tree.Depth)

	lba := uint64(Fanout + 5) // forces a non-trivial root-level slot
	dataHash := hash.FromData([]byte("deep leaf"))

	root, err := tree.Update(hash.Zero, lba, dataHash)
	require.NoError(t, err)

	got, err := tree.Lookup(root, lba)
	require.NoError(t, err)
	require.Equal(t, dataHash, got)

	// A sibling leaf at the same pointer-block level stays sparse.
	got, err = tree.Lookup(root, lba+1)
	require.NoError(t, err)
	require.True(t, got.IsZero())
}

func TestLookupOutOfRange(t *testing.T) {
	tree, _ := newTree(t, 10)
	_, err := tree.Lookup(hash.Zero, 10)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestUpdateOutOfRange(t *testing.T) {
	tree, _ := newTree(t, 10)
	_, err := tree.Update(hash.Zero, 10, hash.FromData([]byte("x")))
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestLookupCorruptedMissingBlob(t *testing.T) {
	tree, store := newTree(t, 10)
	dataHash := hash.FromData([]byte("will be orphaned"))
	root, err := tree.Update(hash.Zero, 0, dataHash)
	require.NoError(t, err)

	require.NoError(t, store.Delete(root))

	_, err = tree.Lookup(root, 0)
	require.ErrorIs(t, err, ErrCorrupted)
}
