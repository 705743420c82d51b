// Package storage defines the BlockStorage contract shared by every
// backend that can back an exported target, and implements the two
// backends this repository ships: a sparse-file backend and a
// content-addressed (CAS) backend. A BlockStorage is the abstraction the
// target manager and the NBD front-end both dispatch against; an
// out-of-tree front end (such as an iSCSI target) can implement against
// the same small interface.
package storage

import (
	"context"
	"errors"
)

// Sector is the fixed logical block size of every backend and of the
// wire protocol: 512 bytes.
const Sector = 512

// Errors returned through the backend layer. Protocol handlers map these
// onto ATA status/error codes (see pkg/target).
var (
	ErrNotFound           = errors.New("storage: not found")
	ErrCorrupted          = errors.New("storage: corrupted")
	ErrOutOfRange         = errors.New("storage: lba out of range")
	ErrInvalidSectorCount = errors.New("storage: invalid sector count")
	ErrReadOnly           = errors.New("storage: read-only")
)

// DeviceInfo describes a target's identity and geometry. It is fixed at
// construction time and never changes for the lifetime of the target.
type DeviceInfo struct {
	Model        string
	Serial       string
	Firmware     string
	TotalSectors uint64
	SectorSize   uint32 // always Sector (512)
	LBA48        bool   // always true for the backends in this repository
}

// BlockStorage is the capability every exported target backend provides.
type BlockStorage interface {
	// Read returns count*Sector bytes starting at lba. Fails with
	// ErrOutOfRange if lba+count exceeds the device's total sectors.
	Read(ctx context.Context, lba uint64, count uint64) ([]byte, error)

	// Write stores data (whose length must be a multiple of Sector) at
	// lba. Fails with ErrOutOfRange on an out-of-bounds range, or
	// ErrInvalidSectorCount if len(data) is not a sector multiple.
	Write(ctx context.Context, lba uint64, data []byte) error

	// Flush durably persists any buffered state.
	Flush(ctx context.Context) error

	// Info returns the backend's fixed device geometry and identity.
	Info() DeviceInfo
}

// Snapshotter is implemented by backends that support point-in-time
// snapshots (only the CAS backend, today). Callers type-assert a
// BlockStorage to Snapshotter to discover whether snapshot administration
// is available for a given target.
type Snapshotter interface {
	// Snapshot records the current state under an optional description
	// and returns the new snapshot's id (the live root's hex encoding).
	Snapshot(ctx context.Context, description string) (string, error)

	// Restore replaces the live state with the snapshot named by id.
	Restore(ctx context.Context, id string) error

	// ListSnapshots returns the ordered snapshot history.
	ListSnapshots(ctx context.Context) ([]SnapshotInfo, error)
}

// SnapshotInfo is the backend-agnostic view of one snapshot entry.
type SnapshotInfo struct {
	ID          string
	Timestamp   uint64
	Description string
}

func validateRange(lba, count, total uint64) error {
	if count == 0 {
		return nil
	}
	if lba >= total || count > total-lba {
		return ErrOutOfRange
	}
	return nil
}
