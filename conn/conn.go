// Package conn implements the per-connection record and state machine from
// spec §3 "Connection record" and §4.8. Ownership: the goroutine reading a
// connection's socket is the sole writer of NodeID/State/read-buffer (spec
// §5: "Per-connection state: single-writer (owning rsvr); no locking
// needed"); a second, dedicated writer goroutine drains WriteCh — the two
// sides never touch each other's fields, only the socket and the channel.
// LastRecv/LastSend are atomic so a third goroutine (the keepalive sweep)
// can read them without synchronizing with either.
package conn

import (
	"net"
	"time"

	"github.com/rs/xid"
	"go.uber.org/atomic"
)

func nowUnixNano() int64 { return time.Now().UnixNano() }

// Conn is one receive-server-owned TCP connection.
type Conn struct {
	ID   xid.ID
	Sock net.Conn

	State State // owned by the reader goroutine

	NodeID uint32 // 0 until authenticated; owned by the reader goroutine

	lastRecvUnixNano atomic.Int64
	lastSendUnixNano atomic.Int64

	AuthDeadline int64 // unix nanos; owned by the reader goroutine

	readBuf []byte // accumulates bytes until a full frame parses

	// WriteCh is this connection's outbound mailbox: the rsvr control loop
	// sends fully-encoded frames here on SEND; the writer goroutine ranges
	// over it. Closed by the reader goroutine's teardown so the writer
	// goroutine exits once drained.
	WriteCh chan []byte

	RecvTotal atomic.Uint64
	DropTotal atomic.Uint64
}

// New adopts an accepted socket into the NEW state.
func New(id xid.ID, sock net.Conn, sendqDepth int) *Conn {
	c := &Conn{
		ID:      id,
		Sock:    sock,
		State:   StateNew,
		WriteCh: make(chan []byte, sendqDepth),
	}
	now := nowUnixNano()
	c.lastRecvUnixNano.Store(now)
	c.lastSendUnixNano.Store(now)
	return c
}

// EnterAuthWait transitions NEW -> AUTH_WAIT on ADD_SOCK adoption, arming
// the AUTH_WAIT deadline.
func (c *Conn) EnterAuthWait(timeoutNanos int64) {
	c.State = AuthWait
	c.AuthDeadline = nowUnixNano() + timeoutNanos
}

// Authenticate transitions AUTH_WAIT -> READY on a valid AUTH frame.
func (c *Conn) Authenticate(nodeID uint32) {
	c.NodeID = nodeID
	c.State = Ready
}

// Close transitions to CLOSING; the owning goroutine performs the actual
// socket close and node-map/sub-table cleanup, then MarkClosed.
func (c *Conn) Close() {
	c.State = Closing
}

// MarkClosed finalizes CLOSING -> CLOSED after socket teardown.
func (c *Conn) MarkClosed() {
	c.State = Closed
}

// TouchRecv records that a read has occurred (ping/frame/anything).
func (c *Conn) TouchRecv() { c.lastRecvUnixNano.Store(nowUnixNano()) }

// TouchSend records that a write has occurred.
func (c *Conn) TouchSend() { c.lastSendUnixNano.Store(nowUnixNano()) }

// FeedRead appends newly-read bytes to the connection's accumulation buffer
// and records the read for keepalive purposes.
func (c *Conn) FeedRead(b []byte) {
	c.readBuf = append(c.readBuf, b...)
	c.TouchRecv()
}

// ReadBuf exposes the accumulated, not-yet-parsed bytes.
func (c *Conn) ReadBuf() []byte { return c.readBuf }

// Consume drops the first n bytes of the accumulation buffer — called after
// a frame (or however many bytes Parse reported consumed) is extracted.
func (c *Conn) Consume(n int) {
	c.readBuf = c.readBuf[n:]
}

// SendFrame enqueues a fully-encoded outbound frame without blocking; false
// means the per-connection mailbox is full and the frame must be counted
// as a drop by the caller (spec §4.2 backpressure policy).
func (c *Conn) SendFrame(frame []byte) bool {
	select {
	case c.WriteCh <- frame:
		return true
	default:
		return false
	}
}

// KeepaliveExpired reports whether now - lastRecv exceeds timeoutNanos.
func (c *Conn) KeepaliveExpired(nowNanos, timeoutNanos int64) bool {
	return nowNanos-c.lastRecvUnixNano.Load() > timeoutNanos
}

// AuthWaitExpired reports whether the AUTH_WAIT deadline has passed.
func (c *Conn) AuthWaitExpired(nowNanos int64) bool {
	return c.State == AuthWait && c.AuthDeadline != 0 && nowNanos > c.AuthDeadline
}
