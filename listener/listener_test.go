package listener_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/qiware/rtmq/config"
	"github.com/qiware/rtmq/ipc"
	"github.com/qiware/rtmq/listener"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.NodeID = 1
	cfg.Port = 0 // OS-assigned, so tests never collide on a fixed port
	cfg.Auth = []config.AuthEntry{{NodeID: 1, User: "u", Pass: "p"}}
	return cfg
}

func TestAuthFailuresGuardTracksOffenders(t *testing.T) {
	cfg := testConfig()
	lsn, err := listener.New(cfg, zap.NewNop(), []*ipc.Bus{ipc.NewBus(4)})
	require.NoError(t, err)
	defer lsn.Close()

	guard := lsn.AuthFailures()
	require.NotNil(t, guard)

	guard.SetDefault("203.0.113.9", 5)
	n, found := guard.Get("203.0.113.9")
	require.True(t, found)
	assert.Equal(t, 5, n.(int))
}

func TestAcceptHandsOffViaAddSock(t *testing.T) {
	cfg := testConfig()
	bus := ipc.NewBus(4)
	lsn, err := listener.New(cfg, zap.NewNop(), []*ipc.Bus{bus})
	require.NoError(t, err)
	defer lsn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go lsn.Run(ctx)

	conn, err := net.DialTimeout("tcp", lsn.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case cmd := <-bus.C():
		assert.Equal(t, ipc.AddSock, cmd.Type)
		require.NotNil(t, cmd.Conn)
		assert.NotEqual(t, xid.ID{}, cmd.ConnID)
		cmd.Conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("expected ADD_SOCK within timeout")
	}
}

func TestAcceptRoundRobinsAcrossBuses(t *testing.T) {
	cfg := testConfig()
	busA, busB := ipc.NewBus(4), ipc.NewBus(4)
	lsn, err := listener.New(cfg, zap.NewNop(), []*ipc.Bus{busA, busB})
	require.NoError(t, err)
	defer lsn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go lsn.Run(ctx)

	addr := lsn.Addr().String()
	for i := 0; i < 2; i++ {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		require.NoError(t, err)
		defer conn.Close()
	}

	var gotA, gotB bool
	for i := 0; i < 2; i++ {
		select {
		case <-busA.C():
			gotA = true
		case <-busB.C():
			gotB = true
		case <-time.After(2 * time.Second):
			t.Fatal("expected two ADD_SOCK hand-offs")
		}
	}
	assert.True(t, gotA)
	assert.True(t, gotB)
}

func TestRejectsRepeatedAuthFailureIP(t *testing.T) {
	cfg := testConfig()
	bus := ipc.NewBus(4)
	lsn, err := listener.New(cfg, zap.NewNop(), []*ipc.Bus{bus})
	require.NoError(t, err)
	defer lsn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go lsn.Run(ctx)

	addr := lsn.Addr().String()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	host, _, _ := net.SplitHostPort(conn.LocalAddr().String())
	lsn.AuthFailures().SetDefault(host, 5)

	select {
	case cmd := <-bus.C():
		cmd.Conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("expected first ADD_SOCK before guard kicks in")
	}

	conn2, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn2.Close()

	select {
	case <-bus.C():
		t.Fatal("expected second connection from the same ip to be rejected, not handed off")
	case <-time.After(300 * time.Millisecond):
	}
}
