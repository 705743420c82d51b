package protocol

// BuildContext carries the fields a response frame copies from its
// request: the swapped MAC addresses and the echoed tag/shelf/slot.
type BuildContext struct {
	SrcMAC, DstMAC MAC // response's own src/dst, i.e. request's dst/src
	Shelf          uint16
	Slot           uint8
	Tag            uint32
}

// ResponseContext derives a BuildContext from a parsed request frame,
// swapping source and destination MACs as every AoE responder must.
func ResponseContext(req *Frame) BuildContext {
	return BuildContext{
		SrcMAC: req.DstMAC,
		DstMAC: req.SrcMAC,
		Shelf:  req.Shelf,
		Slot:   req.Slot,
		Tag:    req.Tag,
	}
}

func writeEthHeader(buf []byte, ctx BuildContext) {
	copy(buf[0:6], ctx.DstMAC[:])
	copy(buf[6:12], ctx.SrcMAC[:])
	buf[12] = byte(EtherType >> 8)
	buf[13] = byte(EtherType)
}

func writeCommonHeader(buf []byte, ctx BuildContext, cmd Command, isError bool, errCode byte) {
	flags := byte(0x1) // response bit always set on a built frame
	if isError {
		flags |= 0x2
	}
	buf[0] = flags<<4 | Version
	buf[1] = errCode
	buf[2] = byte(ctx.Shelf >> 8)
	buf[3] = byte(ctx.Shelf)
	buf[4] = ctx.Slot
	buf[5] = byte(cmd)
	buf[6] = byte(ctx.Tag >> 24)
	buf[7] = byte(ctx.Tag >> 16)
	buf[8] = byte(ctx.Tag >> 8)
	buf[9] = byte(ctx.Tag)
}

// BuildError constructs a minimal error response frame: the common
// header's error flag and code set, and a command-family-appropriate
// zeroed payload header but no data.
func BuildError(ctx BuildContext, cmd Command, code ErrorCode) []byte {
	var payloadLen int
	switch cmd {
	case CommandConfig:
		payloadLen = configHeaderLen
	default:
		payloadLen = ataHeaderLen
	}
	buf := make([]byte, ethHeaderLen+commonHeaderLen+payloadLen)
	writeEthHeader(buf, ctx)
	writeCommonHeader(buf[ethHeaderLen:], ctx, cmd, true, byte(code))
	return buf
}

// BuildATAResponse constructs an ATA response frame. status and errReg
// are copied verbatim into the response's command/error-feature slots
// so callers can report partial ATA-level failure without using the
// AoE-level error flag. data is appended after the 12-byte ATA header
// (used for IDENTIFY and read responses; empty for writes and flushes).
func BuildATAResponse(ctx BuildContext, req ATAPayload, status, errReg byte, data []byte) []byte {
	buf := make([]byte, ethHeaderLen+commonHeaderLen+ataHeaderLen+len(data))
	writeEthHeader(buf, ctx)
	writeCommonHeader(buf[ethHeaderLen:], ctx, CommandATA, false, 0)

	p := buf[ethHeaderLen+commonHeaderLen:]
	p[0] = req.Flags
	p[1] = errReg
	p[2] = req.SectorCount
	p[3] = status
	for i := 0; i < 6; i++ {
		p[4+i] = byte(req.LBA >> (8 * i))
	}
	copy(p[ataHeaderLen:], data)
	return buf
}

// BuildConfigResponse constructs a Config response frame echoing the
// request's buffer count, firmware version, and max-sectors fields, with
// configString as the (possibly truncated) response config string.
func BuildConfigResponse(ctx BuildContext, req ConfigPayload, configString []byte) []byte {
	buf := make([]byte, ethHeaderLen+commonHeaderLen+configHeaderLen+len(configString))
	writeEthHeader(buf, ctx)
	writeCommonHeader(buf[ethHeaderLen:], ctx, CommandConfig, false, 0)

	p := buf[ethHeaderLen+commonHeaderLen:]
	p[0] = byte(req.BufferCount >> 8)
	p[1] = byte(req.BufferCount)
	p[2] = byte(req.FirmwareVersion >> 8)
	p[3] = byte(req.FirmwareVersion)
	p[4] = req.MaxSectorsPerCmd
	p[5] = req.AoEVersion<<4 | byte(req.CCmd)
	p[6] = byte(len(configString) >> 8)
	p[7] = byte(len(configString))
	copy(p[configHeaderLen:], configString)
	return buf
}
