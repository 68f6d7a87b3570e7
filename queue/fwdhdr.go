package queue

import "encoding/binary"

// FwdHeaderSize is the size of the in-memory forwarding header that
// precedes every payload placed in a recvq/distq slot (spec §3: "every
// enqueued payload is preceded by an in-memory forwarding header {type,
// orig, dest, length} followed by length bytes").
const FwdHeaderSize = 2 + 4 + 4 + 4

// FwdHeader is the internal record prefixing a queued payload.
type FwdHeader struct {
	Type   uint16
	Orig   uint32
	Dest   uint32
	Length uint32
}

// PutFwdHeader writes h and body into a slot's buffer, growing the slot's
// live length to FwdHeaderSize+len(body). The slot's capacity must be at
// least that large (queues are sized from config to fit the largest
// expected frame body, per spec's recvq/sendq size parameter).
func PutFwdHeader(s *Slot, h FwdHeader, body []byte) bool {
	need := FwdHeaderSize + len(body)
	if need > s.Cap() {
		return false
	}
	buf := s.buf[:cap(s.buf)]
	binary.BigEndian.PutUint16(buf[0:2], h.Type)
	binary.BigEndian.PutUint32(buf[2:6], h.Orig)
	binary.BigEndian.PutUint32(buf[6:10], h.Dest)
	binary.BigEndian.PutUint32(buf[10:14], h.Length)
	copy(buf[FwdHeaderSize:need], body)
	s.SetLen(need)
	return true
}

// GetFwdHeader reads the forwarding header and payload back out of a slot.
func GetFwdHeader(s *Slot) (FwdHeader, []byte) {
	buf := s.Bytes()
	h := FwdHeader{
		Type:   binary.BigEndian.Uint16(buf[0:2]),
		Orig:   binary.BigEndian.Uint32(buf[2:6]),
		Dest:   binary.BigEndian.Uint32(buf[6:10]),
		Length: binary.BigEndian.Uint32(buf[10:14]),
	}
	body := make([]byte, h.Length)
	copy(body, buf[FwdHeaderSize:FwdHeaderSize+int(h.Length)])
	return h, body
}
