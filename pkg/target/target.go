// Package target implements the target manager: the (shelf, slot)
// address space, ATA command dispatch onto a storage.BlockStorage, and
// Config command handling, per spec.md §4.6.
package target

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/aoecas/aoecas/pkg/log"
	"github.com/aoecas/aoecas/pkg/protocol"
	"github.com/aoecas/aoecas/pkg/storage"
)

// advertised Config response values, fixed per spec.md §4.6.
const (
	advertisedBufferCount = 16
	advertisedMaxSectors  = 2
	maxSectorsPerATACmd   = 256 // sector_count 0 means 256
)

// Target is one exported block device, addressed by (Shelf, Slot) and
// backed by a storage.BlockStorage.
type Target struct {
	Shelf        uint16
	Slot         uint8
	Backend      storage.BlockStorage
	ConfigString string
}

type key struct {
	shelf uint16
	slot  uint8
}

// Manager owns the full set of configured targets and dispatches parsed
// frames against them. Targets are added at construction and never
// removed at runtime, matching the process model in spec.md §4.6.
type Manager struct {
	mu      sync.RWMutex
	targets map[key]*Target
}

// NewManager builds an empty Manager.
func NewManager() *Manager {
	return &Manager{targets: make(map[key]*Target)}
}

// Add registers a target. It panics on a duplicate (shelf, slot); config
// validation is expected to have already rejected duplicates before the
// manager is built (pkg/config).
func (m *Manager) Add(t *Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{t.Shelf, t.Slot}
	if _, exists := m.targets[k]; exists {
		panic("target: duplicate shelf/slot registered")
	}
	m.targets[k] = t
}

// Matching returns every target addressed by (shelf, slot), honoring the
// broadcast shelf/slot wildcards. Order is unspecified.
func (m *Manager) Matching(shelf uint16, slot uint8) []*Target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Target
	for k, t := range m.targets {
		if (k.shelf == shelf || shelf == protocol.BroadcastShelf) &&
			(k.slot == slot || slot == protocol.BroadcastSlot) {
			out = append(out, t)
		}
	}
	return out
}

// Dispatch handles one parsed request frame and returns zero or more
// response frames to transmit, one per matching target. A frame
// matching no target yields no responses (silent drop, per spec.md
// §4.6). Response frames are never passed here; the listener filters
// those before calling Dispatch.
func (m *Manager) Dispatch(ctx context.Context, req *protocol.Frame) [][]byte {
	targets := m.Matching(req.Shelf, req.Slot)
	if len(targets) == 0 {
		return nil
	}

	var responses [][]byte
	for _, t := range targets {
		resp := t.handle(ctx, req)
		if resp != nil {
			responses = append(responses, resp)
		}
	}
	return responses
}

func (t *Target) handle(ctx context.Context, req *protocol.Frame) []byte {
	bctx := protocol.ResponseContext(req)
	bctx.Shelf, bctx.Slot = t.Shelf, t.Slot

	switch req.Command {
	case protocol.CommandATA:
		return t.handleATA(ctx, bctx, req.ATA)
	case protocol.CommandConfig:
		return t.handleConfig(bctx, req.Config)
	default:
		return nil
	}
}

func (t *Target) handleATA(ctx context.Context, bctx protocol.BuildContext, req *protocol.ATAPayload) []byte {
	logger := log.WithTarget(t.Shelf, t.Slot)
	count := uint64(req.SectorCount)
	if count == 0 {
		count = maxSectorsPerATACmd
	}

	switch req.Command {
	case protocol.ATAReadSectors, protocol.ATAReadSectorsExt:
		data, err := t.Backend.Read(ctx, req.LBA, count)
		if err != nil {
			logger.Warn().Err(err).Uint64("lba", req.LBA).Msg("ata read failed")
			return ataError(bctx, *req, err)
		}
		return protocol.BuildATAResponse(bctx, *req, protocol.ATAStatusDRDY, 0, data)

	case protocol.ATAWrite, protocol.ATAWriteExt:
		want := int(count * storage.Sector)
		if len(req.Data) < want {
			logger.Warn().Int("have", len(req.Data)).Int("want", want).Msg("ata write payload too short")
			return abrt(bctx, *req)
		}
		if err := t.Backend.Write(ctx, req.LBA, req.Data[:want]); err != nil {
			logger.Warn().Err(err).Uint64("lba", req.LBA).Msg("ata write failed")
			return ataError(bctx, *req, err)
		}
		return protocol.BuildATAResponse(bctx, *req, protocol.ATAStatusDRDY, 0, nil)

	case protocol.ATAFlushCache, protocol.ATAFlushCacheExt:
		if err := t.Backend.Flush(ctx); err != nil {
			logger.Warn().Err(err).Msg("ata flush failed")
			return ataError(bctx, *req, err)
		}
		return protocol.BuildATAResponse(bctx, *req, protocol.ATAStatusDRDY, 0, nil)

	case protocol.ATAIdentify:
		return protocol.BuildATAResponse(bctx, *req, protocol.ATAStatusDRDY, 0, identifyPayload(t.Backend.Info()))

	default:
		return abrt(bctx, *req)
	}
}

func abrt(bctx protocol.BuildContext, req protocol.ATAPayload) []byte {
	status := protocol.ATAStatusERR | protocol.ATAStatusDRDY
	return protocol.BuildATAResponse(bctx, req, status, protocol.ATAErrorABRT, nil)
}

// ataError maps a backend error to its ATA error register value:
// out-of-range LBA is IDNF, a hash-verified content mismatch is UNC,
// and any other backend I/O failure falls back to ABRT.
func ataError(bctx protocol.BuildContext, req protocol.ATAPayload, err error) []byte {
	status := protocol.ATAStatusERR | protocol.ATAStatusDRDY
	switch {
	case errors.Is(err, storage.ErrOutOfRange):
		return protocol.BuildATAResponse(bctx, req, status, protocol.ATAErrorIDNF, nil)
	case errors.Is(err, storage.ErrCorrupted):
		return protocol.BuildATAResponse(bctx, req, status, protocol.ATAErrorUNC, nil)
	default:
		return protocol.BuildATAResponse(bctx, req, status, protocol.ATAErrorABRT, nil)
	}
}

func (t *Target) handleConfig(bctx protocol.BuildContext, req *protocol.ConfigPayload) []byte {
	reply := *req
	reply.BufferCount = advertisedBufferCount
	reply.MaxSectorsPerCmd = advertisedMaxSectors

	switch req.CCmd {
	case protocol.ConfigRead:
		return protocol.BuildConfigResponse(bctx, reply, []byte(t.ConfigString))

	case protocol.ConfigTestExact:
		if string(req.ConfigString) != t.ConfigString {
			return nil
		}
		return protocol.BuildConfigResponse(bctx, reply, []byte(t.ConfigString))

	case protocol.ConfigTestPrefix:
		if !bytes.HasPrefix([]byte(t.ConfigString), req.ConfigString) {
			return nil
		}
		return protocol.BuildConfigResponse(bctx, reply, []byte(t.ConfigString))

	case protocol.ConfigSet, protocol.ConfigForceSet:
		return protocol.BuildError(bctx, protocol.CommandConfig, protocol.ErrConfigStringPresent)

	default:
		return protocol.BuildError(bctx, protocol.CommandConfig, protocol.ErrUnrecognizedCommand)
	}
}
