// Package nbd implements a minimal NBD (Network Block Device) newstyle
// server front-end over the same storage.BlockStorage abstraction the
// raw listener dispatches against, per spec.md §4.8.
package nbd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/aoecas/aoecas/pkg/log"
	"github.com/aoecas/aoecas/pkg/metrics"
	"github.com/aoecas/aoecas/pkg/storage"
	"github.com/google/uuid"
)

// DefaultPort is the standard NBD TCP port (spec.md §6).
const DefaultPort = 10809

const (
	negotiationMagic = 0x4e42444d41474943 // "NBDMAGIC"
	ihaveoptMagic    = 0x49484156454f5054 // "IHAVEOPT"
	requestMagic     = 0x25609513
	replyMagic       = 0x67446698

	flagFixedNewstyle = 1 << 0
	flagNoZeroes      = 1 << 1

	optExportName = 1
	optAbort      = 2

	transFlagHasFlags  = 1 << 0
	transFlagSendFlush = 1 << 2
	transFlagReadOnly  = 1 << 1

	cmdRead        = 0
	cmdWrite       = 1
	cmdDisconnect  = 2
	cmdFlush       = 3
	cmdTrim        = 4
	cmdWriteZeroes = 6

	errEIO    = 5
	errEINVAL = 22

	maxWriteSectors = 255
)

// Server accepts NBD connections and serves a single export backed by
// backend.
type Server struct {
	Backend  storage.BlockStorage
	ReadOnly bool
}

// Serve accepts connections on ln until ctx is canceled or Accept fails,
// spawning one goroutine per connection (spec.md §5's "per-connection
// threads for NBD").
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger := log.WithComponent("nbd")
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		metrics.NBDConnectionsTotal.Inc()
		connID := uuid.NewString()
		logger.Debug().Str("conn_id", connID).Msg("nbd connection accepted")
		go s.handleConn(ctx, conn, connID)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn, connID string) {
	defer conn.Close()
	clog := log.WithConn(connID)

	if err := s.handshake(conn); err != nil {
		if !errors.Is(err, io.EOF) {
			clog.Warn().Err(err).Msg("nbd handshake failed")
		}
		return
	}

	if err := s.transmissionLoop(ctx, conn); err != nil && !errors.Is(err, io.EOF) {
		clog.Warn().Err(err).Msg("nbd connection ended")
	}
}

// handshake runs the newstyle negotiation and leaves the connection
// positioned at the start of the transmission phase once EXPORT_NAME has
// been processed.
func (s *Server) handshake(conn net.Conn) error {
	info := s.Backend.Info()

	if err := binary.Write(conn, binary.BigEndian, uint64(negotiationMagic)); err != nil {
		return err
	}
	if err := binary.Write(conn, binary.BigEndian, uint64(ihaveoptMagic)); err != nil {
		return err
	}
	handshakeFlags := uint16(flagFixedNewstyle | flagNoZeroes)
	if err := binary.Write(conn, binary.BigEndian, handshakeFlags); err != nil {
		return err
	}

	var clientFlags uint32
	if err := binary.Read(conn, binary.BigEndian, &clientFlags); err != nil {
		return err
	}
	noZeroes := clientFlags&flagNoZeroes != 0

	for {
		var optMagic uint64
		if err := binary.Read(conn, binary.BigEndian, &optMagic); err != nil {
			return err
		}
		if optMagic != ihaveoptMagic {
			return fmt.Errorf("nbd: bad option magic 0x%x", optMagic)
		}
		var opt, length uint32
		if err := binary.Read(conn, binary.BigEndian, &opt); err != nil {
			return err
		}
		if err := binary.Read(conn, binary.BigEndian, &length); err != nil {
			return err
		}
		data := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(conn, data); err != nil {
				return err
			}
		}

		switch opt {
		case optExportName:
			return s.replyExportName(conn, info, noZeroes)
		case optAbort:
			return io.EOF
		default:
			if err := replyUnsupported(conn, opt); err != nil {
				return err
			}
		}
	}
}

func (s *Server) replyExportName(conn net.Conn, info storage.DeviceInfo, noZeroes bool) error {
	size := info.TotalSectors * storage.Sector
	if err := binary.Write(conn, binary.BigEndian, size); err != nil {
		return err
	}
	flags := uint16(transFlagHasFlags | transFlagSendFlush)
	if s.ReadOnly {
		flags |= transFlagReadOnly
	}
	if err := binary.Write(conn, binary.BigEndian, flags); err != nil {
		return err
	}
	if !noZeroes {
		if _, err := conn.Write(make([]byte, 124)); err != nil {
			return err
		}
	}
	return nil
}

const errUnsup = 1<<31 | 1

func replyUnsupported(conn net.Conn, opt uint32) error {
	if err := binary.Write(conn, binary.BigEndian, uint64(ihaveoptMagic)); err != nil {
		return err
	}
	if err := binary.Write(conn, binary.BigEndian, opt); err != nil {
		return err
	}
	if err := binary.Write(conn, binary.BigEndian, uint32(errUnsup)); err != nil {
		return err
	}
	return binary.Write(conn, binary.BigEndian, uint32(0)) // reply data length
}

type request struct {
	Command uint32
	Handle  uint64
	Offset  uint64
	Length  uint32
}

func readRequest(conn net.Conn) (*request, error) {
	hdr := make([]byte, 28)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return nil, err
	}
	magic := binary.BigEndian.Uint32(hdr[0:4])
	if magic != requestMagic {
		return nil, fmt.Errorf("nbd: bad request magic 0x%x", magic)
	}
	return &request{
		Command: binary.BigEndian.Uint32(hdr[4:8]),
		Handle:  binary.BigEndian.Uint64(hdr[8:16]),
		Offset:  binary.BigEndian.Uint64(hdr[16:24]),
		Length:  binary.BigEndian.Uint32(hdr[24:28]),
	}, nil
}

func writeSimpleReply(conn net.Conn, handle uint64, errno uint32, data []byte) error {
	hdr := make([]byte, 16)
	binary.BigEndian.PutUint32(hdr[0:4], replyMagic)
	binary.BigEndian.PutUint32(hdr[4:8], errno)
	binary.BigEndian.PutUint64(hdr[8:16], handle)
	if _, err := conn.Write(hdr); err != nil {
		return err
	}
	if len(data) > 0 {
		if _, err := conn.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) transmissionLoop(ctx context.Context, conn net.Conn) error {
	for {
		req, err := readRequest(conn)
		if err != nil {
			return err
		}

		timer := metrics.NewTimer()
		err = s.dispatch(ctx, conn, req)
		metrics.NBDRequestsTotal.WithLabelValues(commandName(req.Command)).Inc()
		timer.ObserveDurationVec(metrics.NBDRequestDuration, commandName(req.Command))
		if err != nil {
			return err
		}
		if req.Command == cmdDisconnect {
			return nil
		}
	}
}

func commandName(cmd uint32) string {
	switch cmd {
	case cmdRead:
		return "read"
	case cmdWrite:
		return "write"
	case cmdDisconnect:
		return "disconnect"
	case cmdFlush:
		return "flush"
	case cmdTrim:
		return "trim"
	case cmdWriteZeroes:
		return "write_zeroes"
	default:
		return "unknown"
	}
}

func (s *Server) dispatch(ctx context.Context, conn net.Conn, req *request) error {
	switch req.Command {
	case cmdRead:
		return s.handleRead(ctx, conn, req)
	case cmdWrite:
		return s.handleWrite(ctx, conn, req)
	case cmdFlush:
		err := s.Backend.Flush(ctx)
		return writeSimpleReply(conn, req.Handle, errnoFor(err), nil)
	case cmdDisconnect:
		return nil
	case cmdTrim, cmdWriteZeroes:
		// Not implemented as a distinct fast path; report success with
		// no effect rather than rejecting a well-formed hint.
		return writeSimpleReply(conn, req.Handle, 0, nil)
	default:
		return writeSimpleReply(conn, req.Handle, errEINVAL, nil)
	}
}

func (s *Server) handleRead(ctx context.Context, conn net.Conn, req *request) error {
	if req.Offset%storage.Sector != 0 {
		return s.rmwRead(ctx, conn, req)
	}
	if req.Length%storage.Sector != 0 {
		return s.rmwRead(ctx, conn, req)
	}
	lba := req.Offset / storage.Sector
	count := uint64(req.Length) / storage.Sector
	data, err := s.Backend.Read(ctx, lba, count)
	if err != nil {
		return writeSimpleReply(conn, req.Handle, errnoFor(err), nil)
	}
	return writeSimpleReply(conn, req.Handle, 0, data)
}

// rmwRead serves an unaligned read by reading the covering whole
// sectors and trimming to the requested byte range.
func (s *Server) rmwRead(ctx context.Context, conn net.Conn, req *request) error {
	lba := req.Offset / storage.Sector
	end := req.Offset + uint64(req.Length)
	lastLBA := (end + storage.Sector - 1) / storage.Sector
	count := lastLBA - lba
	data, err := s.Backend.Read(ctx, lba, count)
	if err != nil {
		return writeSimpleReply(conn, req.Handle, errnoFor(err), nil)
	}
	start := req.Offset - lba*storage.Sector
	return writeSimpleReply(conn, req.Handle, 0, data[start:start+uint64(req.Length)])
}

func (s *Server) handleWrite(ctx context.Context, conn net.Conn, req *request) error {
	data := make([]byte, req.Length)
	if _, err := io.ReadFull(conn, data); err != nil {
		return err
	}
	if s.ReadOnly {
		return writeSimpleReply(conn, req.Handle, errEINVAL, nil)
	}

	sectors := (uint64(req.Length) + storage.Sector - 1) / storage.Sector
	if sectors > maxWriteSectors {
		return writeSimpleReply(conn, req.Handle, errEINVAL, nil)
	}

	if req.Offset%storage.Sector == 0 && uint64(req.Length)%storage.Sector == 0 {
		lba := req.Offset / storage.Sector
		if err := s.Backend.Write(ctx, lba, data); err != nil {
			return writeSimpleReply(conn, req.Handle, errnoFor(err), nil)
		}
		return writeSimpleReply(conn, req.Handle, 0, nil)
	}
	return s.rmwWrite(ctx, conn, req, data)
}

// rmwWrite performs read-modify-write against the sectors an unaligned
// write overlaps, per spec.md §4.8.
func (s *Server) rmwWrite(ctx context.Context, conn net.Conn, req *request, data []byte) error {
	lba := req.Offset / storage.Sector
	end := req.Offset + uint64(req.Length)
	lastLBA := (end + storage.Sector - 1) / storage.Sector
	count := lastLBA - lba

	existing, err := s.Backend.Read(ctx, lba, count)
	if err != nil {
		return writeSimpleReply(conn, req.Handle, errnoFor(err), nil)
	}
	start := req.Offset - lba*storage.Sector
	copy(existing[start:start+uint64(req.Length)], data)

	if err := s.Backend.Write(ctx, lba, existing); err != nil {
		return writeSimpleReply(conn, req.Handle, errnoFor(err), nil)
	}
	return writeSimpleReply(conn, req.Handle, 0, nil)
}

func errnoFor(err error) uint32 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, storage.ErrOutOfRange), errors.Is(err, storage.ErrInvalidSectorCount):
		return errEINVAL
	default:
		return errEIO
	}
}
