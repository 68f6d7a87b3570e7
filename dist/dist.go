// Package dist implements the distributor thread from spec §4.6: drains the
// distq shards on DIST_REQ or a polling timeout, resolves each item's
// destination (direct via node map, or fanout via the subscription table
// when dest == 0), and pushes resolved copies into the owning receive-
// server's sendq before waking it with SEND.
package dist

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/qiware/rtmq/ipc"
	"github.com/qiware/rtmq/nodemap"
	"github.com/qiware/rtmq/queue"
	"github.com/qiware/rtmq/stats"
	"github.com/qiware/rtmq/subtable"
)

// Distributor is the single distributor thread (spec's dsvr_t).
type Distributor struct {
	bus      *ipc.Bus
	distq    []*queue.Queue // distq shards; any producer may pick one at random
	sendq    []*queue.Queue // one per receive-server thread, indexed by tidx
	rsvrBus  []*ipc.Bus     // one per receive-server thread, for SEND wake-up
	nodeMap  *nodemap.Map
	subTable *subtable.Table
	log      *zap.Logger
	st       *stats.DistStats
	pollMs   time.Duration
}

// New builds a distributor. distq is the full shard slice; sendq/rsvrBus
// are indexed by receive-server tidx (len == recv_thd_num).
func New(bus *ipc.Bus, distq []*queue.Queue, sendq []*queue.Queue, rsvrBus []*ipc.Bus,
	nodeMap *nodemap.Map, subTable *subtable.Table, log *zap.Logger, st *stats.DistStats, pollMs int) *Distributor {
	if pollMs <= 0 {
		pollMs = 200
	}
	return &Distributor{
		bus: bus, distq: distq, sendq: sendq, rsvrBus: rsvrBus,
		nodeMap: nodeMap, subTable: subTable, log: log, st: st,
		pollMs: time.Duration(pollMs) * time.Millisecond,
	}
}

// Run drains every distq shard on each DIST_REQ wake-up or polling timeout
// (the timeout is the fallback the spec calls for in case a coalesced
// notify was swallowed by a racing try_lock holder that exited before
// observing the newest item — see ipc.Notifier).
func (d *Distributor) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.pollMs)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.bus.C():
			d.drainAll()
		case <-ticker.C:
			d.drainAll()
		}
	}
}

func (d *Distributor) drainAll() {
	for _, q := range d.distq {
		d.drain(q)
	}
}

func (d *Distributor) drain(q *queue.Queue) {
	for {
		slot, ok := q.Pop()
		if !ok {
			return
		}
		h, body := queue.GetFwdHeader(slot)
		q.Dealloc(slot)

		if h.Dest != 0 {
			d.route(h, body, h.Dest, q)
			continue
		}
		targets := d.subTable.Subscribers(h.Type)
		if len(targets) == 0 {
			q.AccountDrop()
			d.st.DropTotal.Inc()
			continue
		}
		for _, nodeID := range targets {
			d.route(h, body, nodeID, q)
		}
	}
}

// route resolves nodeID to a live (tidx, conn) via the node map and pushes
// a copy into that receive-server's sendq shard, waking it with SEND.
func (d *Distributor) route(h queue.FwdHeader, body []byte, nodeID uint32, src *queue.Queue) {
	loc, ok := d.nodeMap.Lookup(nodeID)
	if !ok || loc.Tidx < 0 || loc.Tidx >= len(d.sendq) {
		src.AccountDrop()
		d.st.DropTotal.Inc()
		return
	}

	sq := d.sendq[loc.Tidx]
	slot, ok := sq.Malloc()
	if !ok {
		sq.AccountDrop()
		d.st.DropTotal.Inc()
		return
	}
	if !queue.PutFwdHeader(slot, queue.FwdHeader{Type: h.Type, Orig: h.Orig, Dest: nodeID, Length: uint32(len(body))}, body) {
		sq.Dealloc(slot)
		sq.AccountDrop()
		d.st.DropTotal.Inc()
		return
	}
	if !sq.Push(slot) {
		sq.Dealloc(slot)
		sq.AccountDrop()
		d.st.DropTotal.Inc()
		return
	}

	d.rsvrBus[loc.Tidx].TrySend(ipc.Command{Type: ipc.Send})
}

// Publisher is the handle application handlers use to originate a message
// (reply, forward, or fan-out publish) from within registry.Handler — the
// spec's "registered callback may itself call the send API" (§4.7). It
// picks a distq shard at random (spec §3: "distq shard selection is
// unweighted random, unlike recvq's deterministic (type+orig) sharding")
// and wakes the distributor through the same coalesced Notifier every
// other distq producer uses.
type Publisher struct {
	distq  []*queue.Queue
	notify *ipc.Notifier
}

// NewPublisher binds a Publisher to the distributor's distq shards and its
// coalesced wake-up channel.
func NewPublisher(distq []*queue.Queue, notify *ipc.Notifier) *Publisher {
	return &Publisher{distq: distq, notify: notify}
}

// Send enqueues (type, orig, dest, body) onto a random distq shard. dest ==
// 0 requests subscriber fan-out (spec §4.6/S6); a specific dest requests
// direct delivery. Returns false if the chosen shard's slab is exhausted or
// full — the caller is expected to treat this as a dropped send, matching
// every other producer's backpressure contract in this system.
func (p *Publisher) Send(msgType uint16, orig, dest uint32, body []byte) bool {
	q := p.distq[rand.Intn(len(p.distq))]
	slot, ok := q.Malloc()
	if !ok {
		q.AccountDrop()
		return false
	}
	if !queue.PutFwdHeader(slot, queue.FwdHeader{Type: msgType, Orig: orig, Dest: dest, Length: uint32(len(body))}, body) {
		q.Dealloc(slot)
		q.AccountDrop()
		return false
	}
	if !q.Push(slot) {
		q.Dealloc(slot)
		q.AccountDrop()
		return false
	}
	p.notify.Notify()
	return true
}
