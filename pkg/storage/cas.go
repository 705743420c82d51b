package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aoecas/aoecas/pkg/blob"
	"github.com/aoecas/aoecas/pkg/hash"
	"github.com/aoecas/aoecas/pkg/merkle"
	"github.com/aoecas/aoecas/pkg/metrics"
	"github.com/aoecas/aoecas/pkg/snapshot"
	"github.com/pierrec/lz4/v4"
)

// Block framing markers (spec.md §4.3). The hash of a stored data block
// is taken over the framed bytes, including the marker, so the same
// 512-byte payload compressed and uncompressed hashes differently.
const (
	frameRaw        byte = 0x00
	frameLZ4        byte = 0x01
	frameHeaderSize      = 1 + 4 // marker + uint32 uncompressed size
)

// CASBackend implements BlockStorage atop a blob store, a Merkle tree,
// and a snapshot index. It owns the live root hash under a mutex; reads
// snapshot the root and then walk immutable blobs without holding the
// lock, per spec.md §9.
type CASBackend struct {
	store    blob.Store
	tree     *merkle.Tree
	snaps    *snapshot.Index
	info     DeviceInfo
	compress bool
	target   string

	rootMu sync.Mutex
	root   hash.Hash
}

// CASOptions configures a new CASBackend.
type CASOptions struct {
	Store        blob.Store
	Snapshots    *snapshot.Index
	TotalSectors uint64
	Model        string
	Serial       string
	Firmware     string
	// Compress enables LZ4 framing for blocks that compress strictly
	// shorter than their raw encoding. Defaults to true.
	Compress *bool
	// Target labels this backend's snapshot-count metric. Optional.
	Target string
}

// NewCASBackend constructs a CAS backend and loads the most recent
// snapshot (if any) as the initial live root.
func NewCASBackend(opts CASOptions) (*CASBackend, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("storage: cas: blob store is required")
	}
	if opts.Snapshots == nil {
		return nil, fmt.Errorf("storage: cas: snapshot index is required")
	}

	compress := true
	if opts.Compress != nil {
		compress = *opts.Compress
	}

	b := &CASBackend{
		store:    opts.Store,
		tree:     merkle.New(opts.Store, opts.TotalSectors),
		snaps:    opts.Snapshots,
		compress: compress,
		target:   opts.Target,
		info: DeviceInfo{
			Model:        opts.Model,
			Serial:       opts.Serial,
			Firmware:     opts.Firmware,
			TotalSectors: opts.TotalSectors,
			SectorSize:   Sector,
			LBA48:        true,
		},
	}

	if root, ok := opts.Snapshots.Latest(); ok {
		b.root = root
	}
	metrics.SnapshotsTotal.WithLabelValues(b.target).Set(float64(len(opts.Snapshots.Entries())))

	return b, nil
}

// Info implements BlockStorage.
func (b *CASBackend) Info() DeviceInfo { return b.info }

func (b *CASBackend) liveRoot() hash.Hash {
	b.rootMu.Lock()
	defer b.rootMu.Unlock()
	return b.root
}

// Read implements BlockStorage.
func (b *CASBackend) Read(_ context.Context, lba, count uint64) ([]byte, error) {
	if err := validateRange(lba, count, b.info.TotalSectors); err != nil {
		return nil, err
	}

	root := b.liveRoot()
	out := make([]byte, count*Sector)
	for i := uint64(0); i < count; i++ {
		h, err := b.tree.Lookup(root, lba+i)
		if err != nil {
			return nil, translateMerkleErr(err)
		}
		block, err := b.readBlock(h)
		if err != nil {
			return nil, err
		}
		copy(out[i*Sector:(i+1)*Sector], block)
	}
	return out, nil
}

// Write implements BlockStorage.
func (b *CASBackend) Write(_ context.Context, lba uint64, data []byte) error {
	if len(data)%Sector != 0 {
		return ErrInvalidSectorCount
	}
	count := uint64(len(data)) / Sector
	if err := validateRange(lba, count, b.info.TotalSectors); err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	b.rootMu.Lock()
	defer b.rootMu.Unlock()

	root := b.root
	for i := uint64(0); i < count; i++ {
		chunk := data[i*Sector : (i+1)*Sector]
		dataHash, err := b.storeBlock(chunk)
		if err != nil {
			return err
		}
		root, err = b.tree.Update(root, lba+i, dataHash)
		if err != nil {
			return translateMerkleErr(err)
		}
	}
	b.root = root
	return nil
}

// Flush implements BlockStorage. Each blob is fsynced when it is put;
// the live root itself is held in memory and is persisted only when a
// snapshot records it. Flush fsyncs the blob store's root directory.
func (b *CASBackend) Flush(_ context.Context) error {
	if err := b.store.Sync(); err != nil {
		return fmt.Errorf("storage: cas flush: %w", err)
	}
	return nil
}

// Snapshot implements Snapshotter.
func (b *CASBackend) Snapshot(_ context.Context, description string) (string, error) {
	root := b.liveRoot()
	now := uint64(time.Now().Unix())
	if err := b.snaps.Append(root, now, description); err != nil {
		return "", fmt.Errorf("storage: cas snapshot: %w", err)
	}
	metrics.SnapshotsTotal.WithLabelValues(b.target).Set(float64(len(b.snaps.Entries())))
	return root.Hex(), nil
}

// Restore implements Snapshotter.
func (b *CASBackend) Restore(_ context.Context, id string) error {
	entry, ok := b.snaps.Find(id)
	if !ok {
		return fmt.Errorf("storage: cas restore %s: %w", id, ErrNotFound)
	}
	root, err := hash.ParseHex(entry.Root)
	if err != nil {
		return fmt.Errorf("storage: cas restore %s: %w", id, err)
	}

	b.rootMu.Lock()
	defer b.rootMu.Unlock()
	b.root = root
	return nil
}

// ListSnapshots implements Snapshotter.
func (b *CASBackend) ListSnapshots(_ context.Context) ([]SnapshotInfo, error) {
	entries := b.snaps.Entries()
	out := make([]SnapshotInfo, len(entries))
	for i, e := range entries {
		out[i] = SnapshotInfo{ID: e.Root, Timestamp: e.Timestamp, Description: e.Description}
	}
	return out, nil
}

// readBlock resolves a leaf hash to its decoded 512-byte payload. The
// zero hash is the sparse sentinel and never reaches the blob store.
func (b *CASBackend) readBlock(h hash.Hash) ([]byte, error) {
	if h.IsZero() {
		return make([]byte, Sector), nil
	}
	framed, err := b.store.Get(h)
	if err != nil {
		return nil, fmt.Errorf("storage: cas read block %s: %w", h, err)
	}
	return decodeBlock(framed)
}

// storeBlock frames, dedups, and stores a 512-byte payload, returning
// its hash. An all-zero payload is elided entirely: nothing is stored
// and the zero hash is returned.
func (b *CASBackend) storeBlock(payload []byte) (hash.Hash, error) {
	if isZero(payload) {
		return hash.Zero, nil
	}
	framed := encodeBlock(payload, b.compress)
	h := hash.FromData(framed)
	if err := b.store.Put(h, framed); err != nil {
		return hash.Zero, fmt.Errorf("storage: cas store block: %w", err)
	}
	metrics.BlobPutsTotal.Inc()
	metrics.BlobBytesTotal.Add(float64(len(framed)))
	return h, nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// encodeBlock frames a raw Sector-sized payload, preferring LZ4 only
// when it is strictly shorter than the raw encoding.
func encodeBlock(payload []byte, compress bool) []byte {
	if compress {
		bound := lz4.CompressBlockBound(len(payload))
		dst := make([]byte, bound)
		var c lz4.Compressor
		n, err := c.CompressBlock(payload, dst)
		if err == nil && n > 0 && frameHeaderSize+n < 1+len(payload) {
			out := make([]byte, frameHeaderSize+n)
			out[0] = frameLZ4
			binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
			copy(out[5:], dst[:n])
			return out
		}
	}
	out := make([]byte, 1+len(payload))
	out[0] = frameRaw
	copy(out[1:], payload)
	return out
}

func decodeBlock(framed []byte) ([]byte, error) {
	if len(framed) < 1 {
		return nil, fmt.Errorf("storage: cas decode: %w", ErrCorrupted)
	}
	switch framed[0] {
	case frameRaw:
		return framed[1:], nil
	case frameLZ4:
		if len(framed) < frameHeaderSize {
			return nil, fmt.Errorf("storage: cas decode: %w", ErrCorrupted)
		}
		size := binary.BigEndian.Uint32(framed[1:5])
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(framed[frameHeaderSize:], dst)
		if err != nil || uint32(n) != size {
			return nil, fmt.Errorf("storage: cas decode: %w", ErrCorrupted)
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("storage: cas decode: %w", ErrCorrupted)
	}
}

func translateMerkleErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, merkle.ErrOutOfRange):
		return ErrOutOfRange
	case errors.Is(err, merkle.ErrCorrupted):
		return fmt.Errorf("%w: %v", ErrCorrupted, err)
	default:
		return err
	}
}
