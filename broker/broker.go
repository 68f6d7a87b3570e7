// Package broker wires every RTMQ component into a running server: the
// listener, receive-server pool, worker pool, distributor, shared routing
// tables, and the external query boundary. Grounded on the teacher's run.go
// (flag-parsed config, package-level Logger, WaitGroup-driven Listen calls)
// generalized from "one goroutine per proxy rule" to "one errgroup per
// broker subsystem", and on golang.org/x/sync/errgroup's standard
// fan-out/fan-in shape for a multi-subsystem server lifecycle.
package broker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qiware/rtmq/config"
	"github.com/qiware/rtmq/dist"
	"github.com/qiware/rtmq/ipc"
	"github.com/qiware/rtmq/listener"
	"github.com/qiware/rtmq/nodemap"
	"github.com/qiware/rtmq/queue"
	"github.com/qiware/rtmq/registry"
	"github.com/qiware/rtmq/rsvr"
	"github.com/qiware/rtmq/stats"
	"github.com/qiware/rtmq/subtable"
	"github.com/qiware/rtmq/utils"
	"github.com/qiware/rtmq/worker"
)

const queryBusDepth = 64

// queryRoundTripTimeout bounds how long the external query boundary waits
// for a receive-server's own control loop to answer QUERY_RECV_STAT_REQ.
const queryRoundTripTimeout = 2 * time.Second

// Server is the fully-wired broker instance (spec §4's whole-process view).
type Server struct {
	cfg *config.Config
	log *zap.Logger

	lock *utils.ServerLock

	NodeMap  *nodemap.Map
	SubTable *subtable.Table
	Registry *registry.Registry
	Publisher *dist.Publisher

	recvq []*queue.Queue
	sendq []*queue.Queue
	distq []*queue.Queue

	lsnBus  []*ipc.Bus
	distBus *ipc.Bus

	lsn    *listener.Listener
	rsvrs  []*rsvr.Server
	work   []*worker.Worker
	dsvr   *dist.Distributor
	stats  *stats.Registry
	query  []*ipc.QueryServer
}

// New constructs every subsystem and takes the instance's advisory lock.
// The registry is returned empty and unlaunched — the caller registers
// application handlers on it, then calls Launch, which freezes it and
// starts every subsystem goroutine.
func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	runDir := utils.RunDir(cfg.Name)
	lock, err := utils.LockServer(runDir, cfg.NodeID)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		log:      log,
		lock:     lock,
		NodeMap:  nodemap.New(),
		SubTable: subtable.New(),
		Registry: registry.New(log),
		stats:    stats.New(cfg.RecvThdNum, cfg.WorkThdNum),
	}

	s.recvq = make([]*queue.Queue, cfg.RecvqNum())
	for i := range s.recvq {
		s.recvq[i] = queue.Creat(cfg.Recvq.Max, cfg.Recvq.Size)
	}
	s.sendq = make([]*queue.Queue, cfg.RecvThdNum)
	for i := range s.sendq {
		s.sendq[i] = queue.Creat(cfg.Sendq.Max, cfg.Sendq.Size)
	}
	s.distq = make([]*queue.Queue, cfg.DistqNum)
	for i := range s.distq {
		s.distq[i] = queue.Creat(cfg.Sendq.Max, cfg.Sendq.Size)
	}

	s.lsnBus = make([]*ipc.Bus, cfg.RecvThdNum)
	for i := range s.lsnBus {
		s.lsnBus[i] = ipc.NewBus(queryBusDepth)
	}
	s.distBus = ipc.NewBus(queryBusDepth)

	lsn, err := listener.New(cfg, log, s.lsnBus)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	s.lsn = lsn

	s.rsvrs = make([]*rsvr.Server, cfg.RecvThdNum)
	for i := range s.rsvrs {
		s.rsvrs[i] = rsvr.New(i, cfg, log, s.lsnBus[i], s.lsnBus, s.recvq, s.sendq[i],
			s.NodeMap, s.SubTable, lsn.AuthFailures(), s.stats)
	}

	s.work = make([]*worker.Worker, cfg.WorkThdNum)
	for i := range s.work {
		lo := i * config.WorkerHdlQnum
		hi := lo + config.WorkerHdlQnum
		// Workers reuse the distributor's poll cadence as their drain tick —
		// both are "how often to sweep a shard set to empty" knobs and the
		// spec names only one constant (DistPollMs) for that purpose.
		tick := time.Duration(cfg.DistPollMs) * time.Millisecond
		s.work[i] = worker.New(i, s.recvq[lo:hi], s.Registry, log, s.stats, tick)
	}

	s.dsvr = dist.New(s.distBus, s.distq, s.sendq, s.lsnBus, s.NodeMap, s.SubTable, log, s.stats.Dist(), cfg.DistPollMs)
	s.Publisher = dist.NewPublisher(s.distq, ipc.NewNotifier(s.distBus))

	if err := s.setupQueryServers(runDir); err != nil {
		lock.Unlock()
		return nil, err
	}

	return s, nil
}

// setupQueryServers binds one external query socket per spec §6's path
// templates: lsn.usck answers QUERY_CONF_REQ (broker-wide, so one is
// enough); rsvr_%d.usck/worker_%d.usck each answer QUERY_RECV_STAT_REQ/
// QUERY_WORK_STAT_REQ for that specific thread, matching the original's
// per-thread command-socket addressing rather than one aggregate endpoint.
func (s *Server) setupQueryServers(runDir string) error {
	confSrv, err := ipc.ListenQuery(ipc.LsnPath(runDir), s.handleConfQuery)
	if err != nil {
		return fmt.Errorf("%w: query_conf listen: %v", utils.ErrResource, err)
	}
	s.query = append(s.query, confSrv)

	for i := range s.rsvrs {
		tidx := i
		srv, err := ipc.ListenQuery(ipc.RsvrPath(runDir, tidx), func(req ipc.QueryMsg) ipc.QueryMsg {
			return s.handleRecvStatQuery(tidx)
		})
		if err != nil {
			return fmt.Errorf("%w: query_recv_stat listen tidx %d: %v", utils.ErrResource, tidx, err)
		}
		s.query = append(s.query, srv)
	}

	for i := range s.work {
		tidx := i
		srv, err := ipc.ListenQuery(ipc.WorkerPath(runDir, tidx), func(req ipc.QueryMsg) ipc.QueryMsg {
			return s.handleWorkStatQuery(tidx)
		})
		if err != nil {
			return fmt.Errorf("%w: query_work_stat listen tidx %d: %v", utils.ErrResource, tidx, err)
		}
		s.query = append(s.query, srv)
	}
	return nil
}

// handleConfQuery answers QUERY_CONF_REQ directly from the held config —
// identity and pool sizes never change after Launch, so there's no benefit
// to round-tripping through a subsystem bus for them.
func (s *Server) handleConfQuery(req ipc.QueryMsg) ipc.QueryMsg {
	return ipc.QueryMsg{
		Type: ipc.QueryConfRep,
		ConfReply: ipc.ConfReply{
			Name:       s.cfg.Name,
			NodeID:     s.cfg.NodeID,
			RecvThdNum: s.cfg.RecvThdNum,
			WorkThdNum: s.cfg.WorkThdNum,
			DistqNum:   s.cfg.DistqNum,
		},
	}
}

// handleWorkStatQuery answers QUERY_WORK_STAT_REQ for worker tidx, reading
// straight from the atomic counters the worker itself updates — no round
// trip needed since WorkStats is already safe for concurrent reads.
func (s *Server) handleWorkStatQuery(tidx int) ipc.QueryMsg {
	ws := s.stats.Work(tidx)
	return ipc.QueryMsg{
		Type: ipc.QueryWorkStatRep,
		WorkStatReply: ipc.WorkStatReply{
			Tidx:        tidx,
			Dispatched:  ws.Dispatched.Load(),
			DropTotal:   ws.DropTotal.Load(),
			UnknownType: ws.UnknownType.Load(),
		},
	}
}

// handleRecvStatQuery answers QUERY_RECV_STAT_REQ for receive-server tidx by
// round-tripping through that thread's own command bus — unlike conf/work-
// stat, a receive-server's live connection count is most authoritatively
// read from inside the one goroutine that mutates its connection map, not
// copied out through a second atomic.
func (s *Server) handleRecvStatQuery(tidx int) ipc.QueryMsg {
	rep, err := s.queryRecvStat(tidx)
	if err != nil {
		s.log.Warn("query_recv_stat round trip failed", zap.Int("tidx", tidx), zap.Error(err))
		return ipc.QueryMsg{Type: ipc.QueryRecvStatRep}
	}
	return ipc.QueryMsg{Type: ipc.QueryRecvStatRep, RecvStatReply: rep}
}

func (s *Server) queryRecvStat(tidx int) (ipc.RecvStatReply, error) {
	if tidx < 0 || tidx >= len(s.lsnBus) {
		return ipc.RecvStatReply{}, fmt.Errorf("%w: recv-server tidx %d out of range", utils.ErrResource, tidx)
	}
	reply := make(chan ipc.Command, 1)
	cmd := ipc.Command{Type: ipc.QueryRecvStatReq, ReplyTo: reply}
	if err := s.lsnBus[tidx].Send(cmd, s.cfg.CmdResendTimes); err != nil {
		return ipc.RecvStatReply{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryRoundTripTimeout)
	defer cancel()
	select {
	case rep := <-reply:
		return rep.RecvStatReply, nil
	case <-ctx.Done():
		return ipc.RecvStatReply{}, ctx.Err()
	}
}

// Launch freezes the handler registry and starts every subsystem
// goroutine under an errgroup bound to ctx: the first subsystem to return a
// non-nil error cancels the context the rest run under. A subsystem that
// returns nil does not cancel its siblings.
func (s *Server) Launch(ctx context.Context) error {
	s.Registry.Launch()

	if err := s.stats.ServeHTTP(s.cfg.MetricsAddr); err != nil {
		return fmt.Errorf("%w: metrics http: %v", utils.ErrResource, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.lsn.Run(gctx) })
	g.Go(func() error { return s.dsvr.Run(gctx) })
	for _, r := range s.rsvrs {
		r := r
		g.Go(func() error { return r.Run(gctx) })
	}
	for _, w := range s.work {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}
	return g.Wait()
}

// Shutdown releases everything Launch/New acquired, aggregating every
// teardown failure instead of stopping at the first (spec's ambient-stack
// error-handling pattern: report every fault, not just the first).
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	err = multierr.Append(err, s.lsn.Close())
	for _, qs := range s.query {
		err = multierr.Append(err, qs.Close())
	}
	err = multierr.Append(err, s.stats.Shutdown(ctx))
	err = multierr.Append(err, s.lock.Unlock())
	return err
}
