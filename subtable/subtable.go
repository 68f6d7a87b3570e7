// Package subtable implements the msg_type -> set<node_id> subscription
// table from spec §3/§4.6: maintained by SUB/UNSUB control frames, consulted
// by the distributor when an outbound frame's dest == 0 (fanout).
package subtable

import "sync"

// Table is the msg_type -> subscriber-set mapping. Same synchronization
// discipline as nodemap: RWMutex, many concurrent distributor reads against
// occasional SUB/UNSUB writes from receive-servers.
type Table struct {
	mu   sync.RWMutex
	subs map[uint16]map[uint32]struct{}
}

// New returns an empty subscription table.
func New() *Table {
	return &Table{subs: make(map[uint16]map[uint32]struct{})}
}

// Subscribe adds nodeID to type's subscriber set. R2: subscribing twice
// leaves the set unchanged (set semantics make this a no-op already).
func (t *Table) Subscribe(msgType uint16, nodeID uint32) {
	t.mu.Lock()
	set, ok := t.subs[msgType]
	if !ok {
		set = make(map[uint32]struct{})
		t.subs[msgType] = set
	}
	set[nodeID] = struct{}{}
	t.mu.Unlock()
}

// Unsubscribe removes nodeID from type's subscriber set. R2: unsubscribing
// a non-subscriber is a no-op.
func (t *Table) Unsubscribe(msgType uint16, nodeID uint32) {
	t.mu.Lock()
	if set, ok := t.subs[msgType]; ok {
		delete(set, nodeID)
		if len(set) == 0 {
			delete(t.subs, msgType)
		}
	}
	t.mu.Unlock()
}

// Subscribers returns a snapshot slice of nodes subscribed to msgType, used
// by the distributor to fan out a dest==0 frame (S6: each subscriber
// receives exactly one copy).
func (t *Table) Subscribers(msgType uint16) []uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set, ok := t.subs[msgType]
	if !ok {
		return nil
	}
	out := make([]uint32, 0, len(set))
	for nodeID := range set {
		out = append(out, nodeID)
	}
	return out
}

// UnsubscribeAll removes nodeID from every type's subscriber set — called
// when a connection tears down, so a stale node never gets phantom fanout.
func (t *Table) UnsubscribeAll(nodeID uint32) {
	t.mu.Lock()
	for msgType, set := range t.subs {
		delete(set, nodeID)
		if len(set) == 0 {
			delete(t.subs, msgType)
		}
	}
	t.mu.Unlock()
}
