package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/aoecas/aoecas/pkg/hash"
)

// FileBackend backs a target with a fixed-size sparse file, seeked by
// lba*Sector. It does not implement Snapshotter.
type FileBackend struct {
	f    *os.File
	info DeviceInfo
}

// OpenOrCreateFile opens path for read/write, creating it and extending
// it to sizeBytes if it is shorter than that (or does not yet exist). The
// serial is derived deterministically from the path so that the same
// target presents a stable identity across restarts.
func OpenOrCreateFile(path string, sizeBytes uint64) (*FileBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	if uint64(st.Size()) < sizeBytes {
		if err := f.Truncate(int64(sizeBytes)); err != nil {
			f.Close()
			return nil, fmt.Errorf("storage: truncate %s to %d: %w", path, sizeBytes, err)
		}
	} else {
		sizeBytes = uint64(st.Size())
	}

	serial := hash.FromData([]byte(path)).Hex()[:20]

	return &FileBackend{
		f: f,
		info: DeviceInfo{
			Model:        "aoecas-file",
			Serial:       serial,
			Firmware:     "1.0",
			TotalSectors: sizeBytes / Sector,
			SectorSize:   Sector,
			LBA48:        true,
		},
	}, nil
}

// Info implements BlockStorage.
func (b *FileBackend) Info() DeviceInfo { return b.info }

// Read implements BlockStorage.
func (b *FileBackend) Read(_ context.Context, lba, count uint64) ([]byte, error) {
	if err := validateRange(lba, count, b.info.TotalSectors); err != nil {
		return nil, err
	}
	buf := make([]byte, count*Sector)
	if count == 0 {
		return buf, nil
	}
	if _, err := b.f.ReadAt(buf, int64(lba*Sector)); err != nil {
		return nil, fmt.Errorf("storage: file read lba=%d count=%d: %w", lba, count, err)
	}
	return buf, nil
}

// Write implements BlockStorage.
func (b *FileBackend) Write(_ context.Context, lba uint64, data []byte) error {
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
	if _, err := b.f.WriteAt(data, int64(lba*Sector)); err != nil {
		return fmt.Errorf("storage: file write lba=%d count=%d: %w", lba, count, err)
	}
	return nil
}

// Flush implements BlockStorage.
func (b *FileBackend) Flush(_ context.Context) error {
	if err := b.f.Sync(); err != nil {
		return fmt.Errorf("storage: file flush: %w", err)
	}
	return nil
}

// Close releases the underlying file handle.
func (b *FileBackend) Close() error {
	return b.f.Close()
}
