package conn_test

import (
	"net"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiware/rtmq/conn"
)

func TestStateMachine(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := conn.New(xid.New(), server, 4)
	assert.Equal(t, conn.StateNew, c.State)

	c.EnterAuthWait(int64(time.Second))
	assert.Equal(t, conn.AuthWait, c.State)

	c.Authenticate(42)
	assert.Equal(t, conn.Ready, c.State)
	assert.Equal(t, uint32(42), c.NodeID)

	c.Close()
	assert.Equal(t, conn.Closing, c.State)
	c.MarkClosed()
	assert.Equal(t, conn.Closed, c.State)
}

func TestSendFrameDropsWhenMailboxFull(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := conn.New(xid.New(), server, 1)
	require.True(t, c.SendFrame([]byte("one")))
	assert.False(t, c.SendFrame([]byte("two")))
}

func TestReadBufAccumulatesAndConsumes(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := conn.New(xid.New(), server, 1)
	c.FeedRead([]byte("ab"))
	c.FeedRead([]byte("cd"))
	assert.Equal(t, []byte("abcd"), c.ReadBuf())

	c.Consume(2)
	assert.Equal(t, []byte("cd"), c.ReadBuf())
}

func TestKeepaliveAndAuthWaitExpiry(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := conn.New(xid.New(), server, 1)
	now := time.Now().UnixNano()
	assert.False(t, c.KeepaliveExpired(now, int64(time.Minute)))
	assert.True(t, c.KeepaliveExpired(now+int64(2*time.Minute), int64(time.Minute)))

	c.EnterAuthWait(-int64(time.Second)) // already-expired deadline
	assert.True(t, c.AuthWaitExpired(time.Now().UnixNano()))
}
