// Package listener binds a named L2 interface and pumps raw Ethernet
// frames between the wire and the target manager, per spec.md §4.7.
package listener

import (
	"context"
	"sync"

	"github.com/aoecas/aoecas/pkg/log"
	"github.com/aoecas/aoecas/pkg/metrics"
	"github.com/aoecas/aoecas/pkg/protocol"
	"github.com/aoecas/aoecas/pkg/target"
	"github.com/google/gopacket/afpacket"
)

// Listener receives frames on one interface and dispatches them through
// a target manager. The receive path is single-threaded; transmit is
// serialized by txMu so a broadcast's multiple responses cannot
// interleave with each other or with a later request's response.
type Listener struct {
	tp      *afpacket.TPacket
	manager *target.Manager

	txMu sync.Mutex
}

// New constructs a Listener bound to ifaceName via a raw AF_PACKET
// socket (github.com/google/gopacket/afpacket), receiving and
// transmitting whole Ethernet frames with no IP layer involved.
func New(ifaceName string, manager *target.Manager) (*Listener, error) {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(ifaceName),
		afpacket.OptFrameSize(65536),
		afpacket.OptBlockSize(65536),
		afpacket.OptNumBlocks(8),
	)
	if err != nil {
		return nil, err
	}
	return &Listener{tp: tp, manager: manager}, nil
}

// Run pumps frames until ctx is canceled or a read error occurs. It is
// meant to be the sole reader of the bound interface.
func (l *Listener) Run(ctx context.Context) error {
	logger := log.WithComponent("listener")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, _, err := l.tp.ReadPacketData()
		if err != nil {
			return err
		}

		frame, perr := protocol.Parse(raw)
		if perr != nil {
			// Non-AoE traffic on the interface; silently dropped per
			// spec.md §4.7.
			continue
		}
		if frame.Response {
			continue
		}

		start := metrics.Now()
		responses := l.manager.Dispatch(ctx, frame)
		metrics.ObserveFrame(frame.Command, len(responses) > 0, start)

		for _, resp := range responses {
			if err := l.transmit(resp); err != nil {
				logger.Warn().Err(err).Msg("transmit failed")
			}
		}
	}
}

func (l *Listener) transmit(frame []byte) error {
	l.txMu.Lock()
	defer l.txMu.Unlock()
	return l.tp.WritePacketData(frame)
}

// Close releases the underlying raw socket.
func (l *Listener) Close() error {
	l.tp.Close()
	return nil
}
