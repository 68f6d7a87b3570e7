// Package worker implements the worker thread pool from spec §4.5: each
// worker owns a fixed slice of recvq shards ([tidx*K, tidx*K+K)) and ticks,
// draining every owned shard to empty on each wake, dispatching each item
// through the handler registry.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/qiware/rtmq/queue"
	"github.com/qiware/rtmq/registry"
	"github.com/qiware/rtmq/stats"
)

// Worker is one worker thread (spec's work_t).
type Worker struct {
	tidx     int
	shard    []*queue.Queue // this worker's owned recvq shards, length WorkerHdlQnum
	reg      *registry.Registry
	log      *zap.Logger
	st       *stats.WorkStats
	statsReg *stats.Registry
	tick     time.Duration
}

// New binds a worker to its owned shard range of the global recvq set.
// statsReg is the broker-wide stats registry; this worker's own counters are
// statsReg.Work(tidx).
func New(tidx int, shard []*queue.Queue, reg *registry.Registry, log *zap.Logger, statsReg *stats.Registry, tick time.Duration) *Worker {
	if tick <= 0 {
		tick = 50 * time.Millisecond
	}
	return &Worker{tidx: tidx, shard: shard, reg: reg, log: log, st: statsReg.Work(tidx), statsReg: statsReg, tick: tick}
}

// Run ticks until ctx is cancelled, draining every owned shard to empty on
// each wake (spec P2/B2: recvq never grows across a steady-state pass), and
// mirroring every thread's counters into the prometheus gauges /metrics
// serves on the same cadence.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.drainAll()
			w.statsReg.Sync()
		}
	}
}

func (w *Worker) drainAll() {
	for _, q := range w.shard {
		w.drain(q)
	}
}

func (w *Worker) drain(q *queue.Queue) {
	for {
		slot, ok := q.Pop()
		if !ok {
			return
		}
		h, body := queue.GetFwdHeader(slot)
		q.Dealloc(slot)
		if !w.reg.Dispatch(h.Type, h.Orig, body) {
			w.st.UnknownType.Inc()
		}
		w.st.Dispatched.Inc()
	}
}
