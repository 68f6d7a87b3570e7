// Package frame implements the RTMQ wire codec (spec §4.1, §3 Frame): a
// fixed, bit-exact, network-byte-order header followed by a variable body.
// Parsing is streaming — the receive-server calls Parse repeatedly as bytes
// arrive off the socket; ErrNeedMore signals a partial header/body and an
// error wrapping utils.ErrMalformedFrame (wrong magic, wrong checksum,
// length > MaxFrameBody) forces the
// caller to close the connection (invariant P1).
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/qiware/rtmq/utils"
)

// Magic and Checksum are constant sentinels, not per-frame computed values:
// the spec's "double sentinel catches header misalignment on resync
// attempts" — two independent constants are far less likely to both appear
// by coincidence in a desynced byte stream than one.
const (
	Magic    uint32 = 0x0DD9DAC1
	Checksum uint32 = 0x1FE93B27
)

// Flag bits (spec §3 Frame: "flag u16 — bitfield: SYSTEM_MSG vs EXPRESS_MSG").
const (
	FlagSystemMsg  uint16 = 0x0001
	FlagExpressMsg uint16 = 0x0002
)

// MaxFrameBody bounds body length (invariant: length <= MAX_FRAME_BODY).
const MaxFrameBody = 8 * 1024 * 1024

// HeaderSize is the fixed, bit-exact on-wire header size in bytes:
// magic(4) + type(2) + flag(2) + length(4) + orig(4) + dest(4) + checksum(4).
const HeaderSize = 4 + 2 + 2 + 4 + 4 + 4 + 4

// Header are the fixed header fields, network byte order on the wire.
type Header struct {
	Magic    uint32
	Type     uint16
	Flag     uint16
	Length   uint32
	Orig     uint32
	Dest     uint32
	Checksum uint32
}

// ErrNeedMore signals a partial frame: the caller should wait for more bytes
// and retry Parse with the same (extended) buffer. It is not a protocol
// fault and must never close the connection.
var ErrNeedMore = fmt.Errorf("frame: need more bytes")

// Encode serializes header+body into a single allocation. Magic and
// Checksum in h are overwritten with the package constants and Length with
// len(body): callers build headers by Type/Flag/Orig/Dest only.
func Encode(h Header, body []byte) []byte {
	h.Magic = Magic
	h.Checksum = Checksum
	h.Length = uint32(len(body))

	buf := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Type)
	binary.BigEndian.PutUint16(buf[6:8], h.Flag)
	binary.BigEndian.PutUint32(buf[8:12], h.Length)
	binary.BigEndian.PutUint32(buf[12:16], h.Orig)
	binary.BigEndian.PutUint32(buf[16:20], h.Dest)
	binary.BigEndian.PutUint32(buf[20:24], h.Checksum)
	copy(buf[HeaderSize:], body)
	return buf
}

// Parse attempts to decode one frame from the front of data.
//
// Returns (header, body, consumed, nil) on a complete, well-formed frame —
// the caller must advance its read buffer by consumed bytes. Returns
// (Header{}, nil, 0, ErrNeedMore) when data doesn't yet hold a full header
// or a full body (B1: body_len==0 is valid and yields consumed==HeaderSize
// immediately once length is known). Returns (Header{}, nil, 0, malformed)
// wrapping utils.ErrMalformedFrame when magic, checksum, or length is
// invalid — the caller must close the connection without enqueueing
// anything (P1).
func Parse(data []byte) (Header, []byte, int, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, 0, ErrNeedMore
	}

	h := Header{
		Magic:    binary.BigEndian.Uint32(data[0:4]),
		Type:     binary.BigEndian.Uint16(data[4:6]),
		Flag:     binary.BigEndian.Uint16(data[6:8]),
		Length:   binary.BigEndian.Uint32(data[8:12]),
		Orig:     binary.BigEndian.Uint32(data[12:16]),
		Dest:     binary.BigEndian.Uint32(data[16:20]),
		Checksum: binary.BigEndian.Uint32(data[20:24]),
	}

	if h.Magic != Magic {
		return Header{}, nil, 0, fmt.Errorf("%w: bad magic 0x%08x", utils.ErrMalformedFrame, h.Magic)
	}
	if h.Checksum != Checksum {
		return Header{}, nil, 0, fmt.Errorf("%w: bad checksum 0x%08x", utils.ErrMalformedFrame, h.Checksum)
	}
	if h.Length > MaxFrameBody {
		return Header{}, nil, 0, fmt.Errorf("%w: length %d exceeds max %d", utils.ErrMalformedFrame, h.Length, MaxFrameBody)
	}

	total := HeaderSize + int(h.Length)
	if len(data) < total {
		return Header{}, nil, 0, ErrNeedMore
	}

	body := make([]byte, h.Length)
	copy(body, data[HeaderSize:total])
	return h, body, total, nil
}
