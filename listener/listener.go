// Package listener implements the listener thread from spec §4.3: accepts
// new TCP connections and round-robin hands them off to a receive-server
// via ADD_SOCK. Grounded on the teacher's controller/server.go accept loop
// (net.Listen, Accept-until-error, per-connection dispatch) generalized
// from "dispatch by proxy mode" to "dispatch by round-robin rsvr index",
// and on controller/roundrobin.go's atomic target-rotation counter
// (teacher's plain sync/atomic promoted to go.uber.org/atomic, per
// SPEC_FULL.md domain stack).
package listener

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/xid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/qiware/rtmq/config"
	"github.com/qiware/rtmq/ipc"
)

// Listener is the {lsn_fd, cmd_fd, accept_counter} state from spec §4.3.
type Listener struct {
	cfg  *config.Config
	log  *zap.Logger
	ln   net.Listener
	buses []*ipc.Bus // one per receive-server thread, for ADD_SOCK hand-off

	acceptCounter atomic.Uint64

	// authFailures mirrors the teacher's controller/server.go ipCache WAF
	// guard (30s/1m TTL counter keyed by client IP) but counts failed-AUTH
	// attempts instead of raw request volume — an AUTH_WAIT abuse guard
	// rather than a blanket rate limiter (spec's non-goals exclude dynamic
	// reconfiguration and TLS, not abuse mitigation).
	authFailures *cache.Cache
}

// New binds the listener to the configured port. buses must have length
// cfg.RecvThdNum, indexed by receive-server tidx.
func New(cfg *config.Config, log *zap.Logger, buses []*ipc.Bus) (*Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(int(cfg.Port))))
	if err != nil {
		return nil, err
	}
	return &Listener{
		cfg:          cfg,
		log:          log,
		ln:           ln,
		buses:        buses,
		authFailures: cache.New(30*time.Second, time.Minute),
	}, nil
}

// AuthFailures exposes the WAF-style guard so rsvr can record failed AUTH
// attempts observed post-handoff (the listener itself never inspects frame
// content; it only decides whether to keep accepting from a given IP).
func (l *Listener) AuthFailures() *cache.Cache { return l.authFailures }

// Addr returns the bound listen address, useful for logging the actual
// ephemeral port when cfg.Port is left as 0.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Run accepts connections until ctx is cancelled, round-robin handing each
// one to a receive-server via ADD_SOCK (spec §4.3). Retries ADD_SOCK up to
// CmdResendTimes before giving up and closing the fd.
func (l *Listener) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		c, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			l.log.Error("accept failed", zap.Error(err))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		host, _, _ := net.SplitHostPort(c.RemoteAddr().String())
		if n, found := l.authFailures.Get(host); found && n.(int) >= 5 {
			l.log.Warn("rejecting connection from ip with repeated auth failures", zap.String("ip", host))
			c.Close()
			continue
		}

		tc, _ := c.(*net.TCPConn)
		if tc != nil {
			tc.SetNoDelay(true)
		}

		tidx := int(l.acceptCounter.Add(1)-1) % len(l.buses)
		id := xid.New()
		cmd := ipc.Command{Type: ipc.AddSock, Conn: c, PeerIP: host, ConnID: id}
		if err := l.buses[tidx].Send(cmd, l.cfg.CmdResendTimes); err != nil {
			l.log.Error("ADD_SOCK delivery failed, closing connection",
				zap.Int("tidx", tidx), zap.String("conn", id.String()), zap.Error(err))
			c.Close()
			continue
		}
	}
}

// Close stops accepting.
func (l *Listener) Close() error {
	return l.ln.Close()
}
