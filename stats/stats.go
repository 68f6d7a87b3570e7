// Package stats exposes the broker's internal counters (spec §4.4
// connections/recv_total/drop_total/err_total, §4.5 worker dispatch counts)
// both through the synchronous QUERY_RECV_STAT/QUERY_WORK_STAT control path
// (ipc package) and, additively, through a prometheus registry scrapeable
// over HTTP — the idiom aistore, sockstats, and katzenpost all use
// client_golang for: internal counters queryable both ways.
package stats

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
)

// RecvStats is one receive-server thread's counters.
type RecvStats struct {
	Tidx        int
	Connections atomic.Int64
	RecvTotal   atomic.Uint64
	DropTotal   atomic.Uint64
	ErrTotal    atomic.Uint64
}

// WorkStats is one worker thread's counters.
type WorkStats struct {
	Tidx        int
	Dispatched  atomic.Uint64
	DropTotal   atomic.Uint64
	UnknownType atomic.Uint64
}

// DistStats counts distributor-side drops (unresolvable dest, no subscribers).
type DistStats struct {
	DropTotal atomic.Uint64
}

// Registry aggregates per-thread stats and mirrors them into prometheus
// gauges (not counters: our atomics are already cumulative totals, so
// gauges let Sync simply Set() the current value with no delta bookkeeping)
// for HTTP scraping.
type Registry struct {
	reg   *prometheus.Registry
	recv  []*RecvStats
	work  []*WorkStats
	distq *DistStats

	connGauge  *prometheus.GaugeVec
	recvTotal  *prometheus.GaugeVec
	dropTotal  *prometheus.GaugeVec
	errTotal   *prometheus.GaugeVec
	dispatched *prometheus.GaugeVec
	unknownTyp *prometheus.GaugeVec

	srv *http.Server
}

// New builds per-thread counters for recvThdNum receive-servers and
// workThdNum workers, registered under a fresh prometheus registry.
func New(recvThdNum, workThdNum int) *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg:   reg,
		recv:  make([]*RecvStats, recvThdNum),
		work:  make([]*WorkStats, workThdNum),
		distq: &DistStats{},

		connGauge: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtmq_rsvr_connections", Help: "live connections owned by a receive-server thread",
		}, []string{"tidx"}),
		recvTotal: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtmq_rsvr_recv_total", Help: "frames received and enqueued by a receive-server thread",
		}, []string{"tidx"}),
		dropTotal: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtmq_drop_total", Help: "frames dropped at ingress/egress queue-full",
		}, []string{"component", "tidx"}),
		errTotal: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtmq_rsvr_err_total", Help: "per-connection faults observed by a receive-server thread",
		}, []string{"tidx"}),
		dispatched: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtmq_worker_dispatched_total", Help: "frames dispatched by a worker thread, to a registered or the default handler",
		}, []string{"tidx"}),
		unknownTyp: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtmq_worker_unknown_type_total", Help: "frames dispatched to the default no-op handler",
		}, []string{"tidx"}),
	}
	for i := range r.recv {
		r.recv[i] = &RecvStats{Tidx: i}
	}
	for i := range r.work {
		r.work[i] = &WorkStats{Tidx: i}
	}
	return r
}

// Recv returns the i'th receive-server's stats struct.
func (r *Registry) Recv(i int) *RecvStats { return r.recv[i] }

// Work returns the i'th worker's stats struct.
func (r *Registry) Work(i int) *WorkStats { return r.work[i] }

// Dist returns the distributor's stats struct.
func (r *Registry) Dist() *DistStats { return r.distq }

// Sync pushes the current atomic counter values into the prometheus
// vectors. Called periodically (e.g. on each rsvr/worker select timeout)
// rather than on every increment, keeping the hot path to a plain atomic.
func (r *Registry) Sync() {
	for _, s := range r.recv {
		tidx := strconv.Itoa(s.Tidx)
		r.connGauge.WithLabelValues(tidx).Set(float64(s.Connections.Load()))
		r.recvTotal.WithLabelValues(tidx).Set(float64(s.RecvTotal.Load()))
		r.errTotal.WithLabelValues(tidx).Set(float64(s.ErrTotal.Load()))
		r.dropTotal.WithLabelValues("rsvr", tidx).Set(float64(s.DropTotal.Load()))
	}
	for _, s := range r.work {
		tidx := strconv.Itoa(s.Tidx)
		r.dispatched.WithLabelValues(tidx).Set(float64(s.Dispatched.Load()))
		r.unknownTyp.WithLabelValues(tidx).Set(float64(s.UnknownType.Load()))
		r.dropTotal.WithLabelValues("worker", tidx).Set(float64(s.DropTotal.Load()))
	}
	r.dropTotal.WithLabelValues("dist", "-").Set(float64(r.distq.DropTotal.Load()))
}

// ServeHTTP starts the optional /metrics endpoint at addr. A no-op if addr
// is empty (metrics export is additive observability, not a spec requirement).
func (r *Registry) ServeHTTP(addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	r.srv = &http.Server{Addr: addr, Handler: mux}
	go r.srv.ListenAndServe()
	return nil
}

// Shutdown stops the /metrics HTTP server, if running.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r.srv == nil {
		return nil
	}
	return r.srv.Shutdown(ctx)
}
