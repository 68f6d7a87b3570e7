package dist_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qiware/rtmq/dist"
	"github.com/qiware/rtmq/ipc"
	"github.com/qiware/rtmq/nodemap"
	"github.com/qiware/rtmq/queue"
	"github.com/qiware/rtmq/stats"
	"github.com/qiware/rtmq/subtable"
)

func newQueues(n int) []*queue.Queue {
	qs := make([]*queue.Queue, n)
	for i := range qs {
		qs[i] = queue.Creat(8, 64)
	}
	return qs
}

func runForOneTick(d *dist.Distributor, pollMs int) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(pollMs)*5*time.Millisecond)
	defer cancel()
	d.Run(ctx)
}

func TestDirectRouteDeliversToOwningShard(t *testing.T) {
	distq := newQueues(2)
	sendq := newQueues(2)
	rsvrBus := []*ipc.Bus{ipc.NewBus(4), ipc.NewBus(4)}
	nm := nodemap.New()
	st := subtable.New()

	nm.Put(100, nodemap.Location{Tidx: 1, Conn: xid.New()})

	d := dist.New(ipc.NewBus(4), distq, sendq, rsvrBus, nm, st, zap.NewNop(), &stats.DistStats{}, 2)

	slot, ok := distq[0].Malloc()
	require.True(t, ok)
	require.True(t, queue.PutFwdHeader(slot, queue.FwdHeader{Type: 5, Orig: 9, Dest: 100}, []byte("payload")))
	require.True(t, distq[0].Push(slot))

	runForOneTick(d, 2)

	out, ok := sendq[1].Pop()
	require.True(t, ok)
	h, body := queue.GetFwdHeader(out)
	assert.Equal(t, uint16(5), h.Type)
	assert.Equal(t, uint32(100), h.Dest)
	assert.Equal(t, []byte("payload"), body)

	_, ok = sendq[0].Pop()
	assert.False(t, ok)

	select {
	case cmd := <-rsvrBus[1].C():
		assert.Equal(t, ipc.Send, cmd.Type)
	default:
		t.Fatal("expected SEND wake-up on owning thread's bus")
	}
}

func TestFanoutDeliversToEverySubscriber(t *testing.T) {
	distq := newQueues(1)
	sendq := newQueues(2)
	rsvrBus := []*ipc.Bus{ipc.NewBus(4), ipc.NewBus(4)}
	nm := nodemap.New()
	st := subtable.New()

	nm.Put(1, nodemap.Location{Tidx: 0, Conn: xid.New()})
	nm.Put(2, nodemap.Location{Tidx: 1, Conn: xid.New()})
	st.Subscribe(77, 1)
	st.Subscribe(77, 2)

	d := dist.New(ipc.NewBus(4), distq, sendq, rsvrBus, nm, st, zap.NewNop(), &stats.DistStats{}, 2)

	slot, ok := distq[0].Malloc()
	require.True(t, ok)
	require.True(t, queue.PutFwdHeader(slot, queue.FwdHeader{Type: 77, Orig: 9, Dest: 0}, []byte("fanout")))
	require.True(t, distq[0].Push(slot))

	runForOneTick(d, 2)

	_, ok0 := sendq[0].Pop()
	_, ok1 := sendq[1].Pop()
	assert.True(t, ok0)
	assert.True(t, ok1)
}

func TestFanoutWithNoSubscribersDrops(t *testing.T) {
	distq := newQueues(1)
	sendq := newQueues(1)
	rsvrBus := []*ipc.Bus{ipc.NewBus(4)}
	nm := nodemap.New()
	st := subtable.New()

	distStats := &stats.DistStats{}
	d := dist.New(ipc.NewBus(4), distq, sendq, rsvrBus, nm, st, zap.NewNop(), distStats, 2)

	slot, ok := distq[0].Malloc()
	require.True(t, ok)
	require.True(t, queue.PutFwdHeader(slot, queue.FwdHeader{Type: 77, Orig: 1, Dest: 0}, nil))
	require.True(t, distq[0].Push(slot))

	runForOneTick(d, 2)

	_, ok = sendq[0].Pop()
	assert.False(t, ok)
	assert.Equal(t, uint64(1), distStats.DropTotal.Load())
}

func TestPublisherSendWakesDistributor(t *testing.T) {
	distq := newQueues(3)
	bus := ipc.NewBus(4)
	notify := ipc.NewNotifier(bus)
	pub := dist.NewPublisher(distq, notify)

	ok := pub.Send(11, 1, 0, []byte("ping"))
	assert.True(t, ok)

	select {
	case cmd := <-bus.C():
		assert.Equal(t, ipc.DistReq, cmd.Type)
	default:
		t.Fatal("expected coalesced DIST_REQ notification")
	}

	var total int
	for _, q := range distq {
		if _, popped := q.Pop(); popped {
			total++
		}
	}
	assert.Equal(t, 1, total)
}
