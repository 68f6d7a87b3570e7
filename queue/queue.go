// Package queue implements the bounded, slab-backed MPMC queue from spec
// §3/§4.2: a fixed number of pre-allocated payload slots, handed out by
// Malloc, transferred by pointer-sized handle through Push/Pop, and
// returned to the slab by Dealloc. No allocation happens on the hot path —
// the slab is sized once at Creat time.
//
// The spec's C original stores a raw pointer into an external arena inside
// the ring; Go has no raw pointers into a GC-managed slab that would be
// safe to hand across goroutines, so the "pointer-in-queue" contract (spec
// §9 design note) is expressed instead as a *Slot handle indexing into the
// pre-allocated slab — producer owns it until Push, consumer owns it from
// Pop until Dealloc, exactly the teacher/original's ownership discipline.
package queue

import (
	"go.uber.org/atomic"
)

// Slot is a transferable handle to one pre-allocated payload chunk.
type Slot struct {
	idx int
	buf []byte // fixed capacity cfg.Size; len() is the live payload length
}

// Bytes returns the slot's current payload view. Valid from Malloc until
// Dealloc. A slot returned by Pop spans the slot's full capacity: the live
// length set by the producer does not travel with it, and consumers read
// the payload length from the forwarding header (GetFwdHeader).
func (s *Slot) Bytes() []byte { return s.buf }

// SetLen truncates/extends the live payload view within slot capacity.
func (s *Slot) SetLen(n int) { s.buf = s.buf[:n] }

// Cap is the fixed per-slot capacity configured at Creat time.
func (s *Slot) Cap() int { return cap(s.buf) }

// Queue is a fixed-slot ring of slab-backed slots. Exactly one producer or
// exactly one consumer touches a given slot index at a time (MPSC-or-SPMC
// discipline per spec §3) — concurrent producers/consumers across different
// slots are safe because free/ready indices are handed out through
// channels, which serialize index ownership without a shared lock on the
// hot path.
type Queue struct {
	max  int
	size int

	arena [][]byte // the slab: max slots of size bytes each, allocated once

	free  chan int // free slot indices, ready for Malloc
	ready chan int // slot indices holding pushed payloads, ready for Pop

	dropTotal atomic.Uint64
}

// Creat pre-allocates the slab and index channels. max must be >= 1.
func Creat(max, size int) *Queue {
	q := &Queue{
		max:   max,
		size:  size,
		arena: make([][]byte, max),
		free:  make(chan int, max),
		ready: make(chan int, max),
	}
	for i := 0; i < max; i++ {
		q.arena[i] = make([]byte, size)
		q.free <- i
	}
	return q
}

// Malloc reserves one payload chunk, or returns (nil, false) when the slab
// is exhausted (all slots currently pushed-but-not-dequeued, or already on
// loan to a producer).
func (q *Queue) Malloc() (*Slot, bool) {
	select {
	case idx := <-q.free:
		return &Slot{idx: idx, buf: q.arena[idx][:0]}, true
	default:
		return nil, false
	}
}

// Push enqueues a slot reserved by Malloc. On success the producer no
// longer owns the slot. Push never blocks: when the ready ring is full it
// fails (O(1)), and the designed response is "drop at source with
// accounted increment of drop_total" (spec §4.2) — Push itself only
// reports success/failure; callers are expected to call DropTotal-aware
// bookkeeping (AccountDrop) and Dealloc the slot back to free.
func (q *Queue) Push(s *Slot) bool {
	select {
	case q.ready <- s.idx:
		return true
	default:
		return false
	}
}

// Pop dequeues the next ready slot, or (nil, false) if empty. Non-blocking.
func (q *Queue) Pop() (*Slot, bool) {
	select {
	case idx := <-q.ready:
		buf := q.arena[idx]
		return &Slot{idx: idx, buf: buf}, true
	default:
		return nil, false
	}
}

// Dealloc returns a slot (from Malloc-without-Push, or post-Pop) to the free
// list. The free channel's capacity equals max, so this never blocks
// provided each index is deallocated at most once per loan — callers must
// not double-Dealloc.
func (q *Queue) Dealloc(s *Slot) {
	q.free <- s.idx
}

// AccountDrop increments drop_total — called whenever a frame is dropped at
// ingress (Malloc/Push failure) or egress (destination resolution failure).
func (q *Queue) AccountDrop() {
	q.dropTotal.Inc()
}

// DropTotal returns the queue's cumulative drop count (spec §8 B2: "steady-
// state drop_total grows only when producer rate exceeds consumer rate").
func (q *Queue) DropTotal() uint64 {
	return q.dropTotal.Load()
}

// Max returns the configured slot count.
func (q *Queue) Max() int { return q.max }

// Size returns the configured per-slot byte capacity.
func (q *Queue) Size() int { return q.size }
