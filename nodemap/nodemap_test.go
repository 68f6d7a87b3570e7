package nodemap_test

import (
	"testing"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"

	"github.com/qiware/rtmq/nodemap"
)

func TestPutLookupRemove(t *testing.T) {
	m := nodemap.New()
	conn := xid.New()

	_, ok := m.Lookup(1)
	assert.False(t, ok)

	m.Put(1, nodemap.Location{Tidx: 2, Conn: conn})
	loc, ok := m.Lookup(1)
	assert.True(t, ok)
	assert.Equal(t, 2, loc.Tidx)
	assert.Equal(t, conn, loc.Conn)
	assert.Equal(t, 1, m.Len())

	m.Remove(1, conn)
	_, ok = m.Lookup(1)
	assert.False(t, ok)
}

// TestRemoveDoesNotClobberNewerMapping exercises invariant P4/scenario S3: a
// stale disconnect's Remove must not erase a newer AUTH's mapping for the
// same node_id.
func TestRemoveDoesNotClobberNewerMapping(t *testing.T) {
	m := nodemap.New()
	first := xid.New()
	second := xid.New()

	m.Put(5, nodemap.Location{Tidx: 0, Conn: first})
	m.Put(5, nodemap.Location{Tidx: 1, Conn: second})

	m.Remove(5, first) // stale teardown racing the re-AUTH

	loc, ok := m.Lookup(5)
	assert.True(t, ok)
	assert.Equal(t, second, loc.Conn)
	assert.Equal(t, 1, loc.Tidx)
}
