// Package nodemap implements the node_id -> (rsvr_tidx, conn_handle) routing
// table from spec §3/§5: read on the distributor's hot path, written by
// receive-servers on AUTH and on disconnect. The spec mandates atomic
// visibility — the distributor must never observe a half-updated entry —
// so updates replace a value wholesale under a single RWMutex critical
// section rather than mutating fields in place.
package nodemap

import (
	"sync"

	"github.com/rs/xid"
)

// Location is where a node's live connection lives: which receive-server
// thread owns it, and that thread's opaque handle for the connection. The
// handle is an xid.ID (§2 domain stack) rather than a bare fd/index, the
// pack's idiom for compact globally-unique connection identifiers.
type Location struct {
	Tidx int
	Conn xid.ID
}

// Map is the node_id -> Location routing table. Safe for concurrent use;
// optimized for many concurrent readers (the distributor, on every
// dequeued item) against occasional writers (auth/disconnect).
type Map struct {
	mu sync.RWMutex
	m  map[uint32]Location
}

// New returns an empty node map.
func New() *Map {
	return &Map{m: make(map[uint32]Location)}
}

// Lookup returns the current location for a node, or ok=false.
func (n *Map) Lookup(nodeID uint32) (Location, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	loc, ok := n.m[nodeID]
	return loc, ok
}

// Put installs (or atomically replaces) a node's location. Invariant P4: at
// most one live connection per node_id at any instant — Put always wins,
// and callers are responsible for tearing down whatever connection
// previously held this node_id (spec §4.8: a newer AUTH disconnects the
// stale one; see rsvr's kick).
func (n *Map) Put(nodeID uint32, loc Location) {
	n.mu.Lock()
	n.m[nodeID] = loc
	n.mu.Unlock()
}

// Remove deletes a node's entry, but only if it still points at the given
// connection handle — this avoids a disconnect notification racing a newer
// AUTH and clobbering the fresh mapping (S3: first connection's teardown
// must not erase the second connection's mapping).
func (n *Map) Remove(nodeID uint32, conn xid.ID) {
	n.mu.Lock()
	if loc, ok := n.m[nodeID]; ok && loc.Conn == conn {
		delete(n.m, nodeID)
	}
	n.mu.Unlock()
}

// Len reports the current number of mapped nodes.
func (n *Map) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.m)
}
