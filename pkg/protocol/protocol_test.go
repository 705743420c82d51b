package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ethFrame(shelf uint16, slot uint8, cmd Command, tag uint32, payload []byte) []byte {
	buf := make([]byte, ethHeaderLen+commonHeaderLen+len(payload))
	buf[12] = EtherType >> 8
	buf[13] = EtherType
	ch := buf[ethHeaderLen:]
	ch[0] = Version // flags=0
	ch[2] = byte(shelf >> 8)
	ch[3] = byte(shelf)
	ch[4] = slot
	ch[5] = byte(cmd)
	ch[6] = byte(tag >> 24)
	ch[7] = byte(tag >> 16)
	ch[8] = byte(tag >> 8)
	ch[9] = byte(tag)
	copy(buf[ethHeaderLen+commonHeaderLen:], payload)
	return buf
}

func TestParseATARequest(t *testing.T) {
	payload := make([]byte, ataHeaderLen)
	payload[0] = ataFlagExtended
	payload[2] = 8 // sector count
	payload[3] = ATAReadSectorsExt
	payload[4] = 0x34 // LBA low byte
	raw := ethFrame(1, 2, CommandATA, 0xdeadbeef, payload)

	f, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, uint16(1), f.Shelf)
	require.Equal(t, uint8(2), f.Slot)
	require.Equal(t, uint32(0xdeadbeef), f.Tag)
	require.NotNil(t, f.ATA)
	require.True(t, f.ATA.Extended())
	require.Equal(t, byte(8), f.ATA.SectorCount)
	require.Equal(t, uint64(0x34), f.ATA.LBA)
}

func TestParseConfigRequest(t *testing.T) {
	cs := []byte("aoecas")
	payload := make([]byte, configHeaderLen+len(cs))
	payload[5] = Version<<4 | byte(ConfigTestPrefix)
	payload[6] = byte(len(cs) >> 8)
	payload[7] = byte(len(cs))
	copy(payload[configHeaderLen:], cs)
	raw := ethFrame(0, 0, CommandConfig, 7, payload)

	f, err := Parse(raw)
	require.NoError(t, err)
	require.NotNil(t, f.Config)
	require.Equal(t, ConfigTestPrefix, f.Config.CCmd)
	require.Equal(t, cs, f.Config.ConfigString)
}

func TestParseErrors(t *testing.T) {
	t.Run("too short", func(t *testing.T) {
		_, err := Parse(make([]byte, 4))
		require.Error(t, err)
	})

	t.Run("wrong ethertype", func(t *testing.T) {
		raw := ethFrame(0, 0, CommandATA, 0, make([]byte, ataHeaderLen))
		raw[12], raw[13] = 0x08, 0x00
		_, err := Parse(raw)
		require.Error(t, err)
	})

	t.Run("unsupported version", func(t *testing.T) {
		raw := ethFrame(0, 0, CommandATA, 0, make([]byte, ataHeaderLen))
		raw[ethHeaderLen] = 9
		_, err := Parse(raw)
		require.Error(t, err)
	})

	t.Run("unknown command", func(t *testing.T) {
		raw := ethFrame(0, 0, Command(99), 0, nil)
		_, err := Parse(raw)
		require.Error(t, err)
	})

	t.Run("truncated ata payload", func(t *testing.T) {
		raw := ethFrame(0, 0, CommandATA, 0, make([]byte, 3))
		_, err := Parse(raw)
		require.Error(t, err)
	})

	t.Run("truncated config string", func(t *testing.T) {
		payload := make([]byte, configHeaderLen)
		payload[7] = 10 // claims 10 bytes of config string, provides 0
		raw := ethFrame(0, 0, CommandConfig, 0, payload)
		_, err := Parse(raw)
		require.Error(t, err)
	})
}

func TestBuildATAResponseRoundTrip(t *testing.T) {
	reqPayload := make([]byte, ataHeaderLen)
	reqPayload[2] = 1
	reqPayload[3] = ATAReadSectors
	raw := ethFrame(3, 4, CommandATA, 42, reqPayload)
	req, err := Parse(raw)
	require.NoError(t, err)

	ctx := ResponseContext(req)
	data := make([]byte, 512)
	data[0] = 0xAB
	resp := BuildATAResponse(ctx, *req.ATA, ATAStatusDRDY, 0, data)

	parsed, err := Parse(resp)
	require.NoError(t, err)
	require.True(t, parsed.Response)
	require.False(t, parsed.Error)
	require.Equal(t, uint16(3), parsed.Shelf)
	require.Equal(t, uint8(4), parsed.Slot)
	require.Equal(t, uint32(42), parsed.Tag)
	require.Equal(t, data, parsed.ATA.Data)
	require.Equal(t, byte(ATAStatusDRDY), parsed.ATA.Command)
}

func TestBuildErrorResponse(t *testing.T) {
	ctx := BuildContext{Shelf: 1, Slot: 1, Tag: 9}
	resp := BuildError(ctx, CommandATA, ErrBadArgument)
	parsed, err := Parse(resp)
	require.NoError(t, err)
	require.True(t, parsed.Error)
	require.Equal(t, byte(ErrBadArgument), parsed.ErrorCode)
}

func TestBuildConfigResponseRoundTrip(t *testing.T) {
	ctx := BuildContext{Shelf: 0, Slot: 0, Tag: 1}
	req := ConfigPayload{BufferCount: 16, FirmwareVersion: 1, MaxSectorsPerCmd: 255, AoEVersion: Version, CCmd: ConfigRead}
	resp := BuildConfigResponse(ctx, req, []byte("aoecas-target"))

	parsed, err := Parse(resp)
	require.NoError(t, err)
	require.Equal(t, []byte("aoecas-target"), parsed.Config.ConfigString)
	require.Equal(t, uint16(16), parsed.Config.BufferCount)
}
