// Package merkle implements the fixed-fanout Merkle tree mapping a
// logical block address to a data-block hash: fanout 128, pointer-block
// size 4096 bytes (128 * 32-byte hash slots). The tree is strictly
// acyclic and copy-on-write: Update never mutates an existing node, so
// any previously returned root hash remains valid after later writes.
package merkle

import (
	"fmt"

	"github.com/aoecas/aoecas/pkg/blob"
	"github.com/aoecas/aoecas/pkg/hash"
)

const (
	// Fanout is the number of child hash slots per pointer block.
	Fanout = 128
	// NodeSize is the byte size of a pointer block: Fanout * hash.Size.
	NodeSize = Fanout * hash.Size
	// bitsPerLevel is log2(Fanout); slot indices are extracted 7 bits at a time.
	bitsPerLevel = 7
)

// ErrOutOfRange is returned when an LBA is >= the tree's TotalSectors.
var ErrOutOfRange = fmt.Errorf("merkle: lba out of range")

// ErrCorrupted is returned when a non-zero pointer slot resolves to a
// blob that cannot be found: this is a tree-integrity violation, as
// distinct from a zero slot, which is the normal sparse representation.
var ErrCorrupted = fmt.Errorf("merkle: tree corrupted")

// Depth returns the minimum d >= 1 such that Fanout^d >= totalSectors.
// Depth(0) == 1.
func Depth(totalSectors uint64) int {
	if totalSectors == 0 {
		return 1
	}
	d := 1
	capacity := uint64(Fanout)
	for capacity < totalSectors {
		capacity *= Fanout
		d++
	}
	return d
}

// slotIndex returns the slot index within the level-k node on the path
// to lba, for a tree of the given depth. Level 0 is the root; level
// depth-1 is the leaf level.
func slotIndex(lba uint64, depth, level int) int {
	shift := uint((depth - 1 - level) * bitsPerLevel)
	return int((lba >> shift) & (Fanout - 1))
}

// Tree is a Merkle tree of pointer blocks backed by a blob store. It
// holds no root itself: callers (the CAS backend) own the live root
// hash and pass it explicitly to Lookup/Update, which keeps the tree
// free of any lock of its own — the blobs it walks are immutable by
// construction.
type Tree struct {
	Store        blob.Store
	TotalSectors uint64
	Depth        int
}

// New constructs a Tree for the given blob store and sector count.
func New(store blob.Store, totalSectors uint64) *Tree {
	return &Tree{
		Store:        store,
		TotalSectors: totalSectors,
		Depth:        Depth(totalSectors),
	}
}

func zeroNode() []byte {
	return make([]byte, NodeSize)
}

func readSlot(node []byte, slot int) hash.Hash {
	var h hash.Hash
	copy(h[:], node[slot*hash.Size:(slot+1)*hash.Size])
	return h
}

func writeSlot(node []byte, slot int, h hash.Hash) {
	copy(node[slot*hash.Size:(slot+1)*hash.Size], h[:])
}

// Lookup returns the data-block hash stored at lba under root. It
// returns hash.Zero for any sparse (never-written) region.
func (t *Tree) Lookup(root hash.Hash, lba uint64) (hash.Hash, error) {
	if lba >= t.TotalSectors {
		return hash.Zero, ErrOutOfRange
	}
	if root.IsZero() {
		return hash.Zero, nil
	}

	cur := root
	for level := 0; level < t.Depth; level++ {
		if cur.IsZero() {
			return hash.Zero, nil
		}
		node, err := t.Store.Get(cur)
		if err != nil {
			return hash.Zero, fmt.Errorf("merkle: lookup lba=%d level=%d: %w", lba, level, ErrCorrupted)
		}
		slot := slotIndex(lba, t.Depth, level)
		cur = readSlot(node, slot)
	}
	return cur, nil
}

// Update sets the data-block hash at lba to dataHash and returns the new
// root hash. The previous root (and every blob reachable from it) is
// left untouched: sibling nodes are copy-on-write, so concurrent readers
// holding the old root keep seeing a consistent tree.
func (t *Tree) Update(root hash.Hash, lba uint64, dataHash hash.Hash) (hash.Hash, error) {
	if lba >= t.TotalSectors {
		return hash.Zero, ErrOutOfRange
	}

	// Walk down, collecting each level's node bytes and slot index.
	// A zero child pointer is materialized as a fresh all-zero node
	// rather than read, matching the sparse representation.
	nodes := make([][]byte, t.Depth)
	slots := make([]int, t.Depth)

	cur := root
	for level := 0; level < t.Depth; level++ {
		slot := slotIndex(lba, t.Depth, level)
		slots[level] = slot

		var node []byte
		if cur.IsZero() {
			node = zeroNode()
		} else {
			n, err := t.Store.Get(cur)
			if err != nil {
				return hash.Zero, fmt.Errorf("merkle: update lba=%d level=%d: %w", lba, level, ErrCorrupted)
			}
			node = append([]byte(nil), n...) // copy: never mutate a stored blob in place
		}
		nodes[level] = node

		if level < t.Depth-1 {
			cur = readSlot(node, slot)
		}
	}

	// Set the leaf slot, then walk back up hashing and storing each
	// modified node, replacing the parent's slot with the new hash.
	leaf := t.Depth - 1
	writeSlot(nodes[leaf], slots[leaf], dataHash)

	childHash := dataHash
	for level := leaf; level >= 0; level-- {
		if level != leaf {
			writeSlot(nodes[level], slots[level], childHash)
		}
		h := hash.FromData(nodes[level])
		if err := t.Store.Put(h, nodes[level]); err != nil {
			return hash.Zero, fmt.Errorf("merkle: put node level=%d: %w", level, err)
		}
		childHash = h
	}

	return childHash, nil
}
