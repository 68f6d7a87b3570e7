package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qiware/rtmq/queue"
	"github.com/qiware/rtmq/registry"
	"github.com/qiware/rtmq/stats"
	"github.com/qiware/rtmq/worker"
)

func pushFrame(t *testing.T, q *queue.Queue, msgType uint16, orig uint32, body []byte) {
	t.Helper()
	slot, ok := q.Malloc()
	require.True(t, ok)
	require.True(t, queue.PutFwdHeader(slot, queue.FwdHeader{Type: msgType, Orig: orig, Length: uint32(len(body))}, body))
	require.True(t, q.Push(slot))
}

func runForOneTick(w *worker.Worker, tick time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*tick)
	defer cancel()
	w.Run(ctx)
}

func TestDrainDispatchesRegisteredType(t *testing.T) {
	q := queue.Creat(4, 64)
	reg := registry.New(zap.NewNop())

	var gotOrig uint32
	var gotBody []byte
	require.NoError(t, reg.Register(42, func(msgType uint16, orig uint32, body []byte, bodyLen int, param interface{}) {
		gotOrig, gotBody = orig, body
	}, nil))
	reg.Launch()

	pushFrame(t, q, 42, 7, []byte("hello"))

	statsReg := stats.New(1, 1)
	tick := 2 * time.Millisecond
	w := worker.New(0, []*queue.Queue{q}, reg, zap.NewNop(), statsReg, tick)
	runForOneTick(w, tick)

	assert.Equal(t, uint32(7), gotOrig)
	assert.Equal(t, []byte("hello"), gotBody)
	assert.Equal(t, uint64(1), statsReg.Work(0).Dispatched.Load())
}

func TestDrainAccountsUnknownType(t *testing.T) {
	q := queue.Creat(4, 64)
	reg := registry.New(zap.NewNop())
	reg.Launch()

	pushFrame(t, q, 999, 1, []byte("x"))

	statsReg := stats.New(1, 1)
	tick := 2 * time.Millisecond
	w := worker.New(0, []*queue.Queue{q}, reg, zap.NewNop(), statsReg, tick)
	runForOneTick(w, tick)

	assert.Equal(t, uint64(1), statsReg.Work(0).Dispatched.Load())
	assert.Equal(t, uint64(1), statsReg.Work(0).UnknownType.Load())
}

func TestDrainEmptiesMultipleItemsInOnePass(t *testing.T) {
	q := queue.Creat(8, 64)
	reg := registry.New(zap.NewNop())
	var count int
	require.NoError(t, reg.Register(1, func(msgType uint16, orig uint32, body []byte, bodyLen int, param interface{}) {
		count++
	}, nil))
	reg.Launch()

	for i := 0; i < 5; i++ {
		pushFrame(t, q, 1, uint32(i), []byte("x"))
	}

	statsReg := stats.New(1, 1)
	tick := 2 * time.Millisecond
	w := worker.New(0, []*queue.Queue{q}, reg, zap.NewNop(), statsReg, tick)
	runForOneTick(w, tick)

	assert.Equal(t, 5, count)
	assert.Equal(t, uint64(5), statsReg.Work(0).Dispatched.Load())
	_, ok := q.Pop()
	assert.False(t, ok)
}
