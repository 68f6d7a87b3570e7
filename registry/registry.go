// Package registry implements the msg_type -> (callback, user_param) handler
// registry from spec §4.7: mutation allowed only before launch, read-only
// (and lock-free) thereafter.
package registry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/qiware/rtmq/utils"
)

// Handler is invoked by a worker thread for each dispatched frame:
// (type, orig, body, body_len, user_param) per spec §4.5.
type Handler func(msgType uint16, orig uint32, body []byte, bodyLen int, param interface{})

type entry struct {
	handler Handler
	param   interface{}
}

// Registry holds the type->handler bindings.
type Registry struct {
	mu       sync.Mutex // guards only the pre-launch registration phase
	launched bool
	entries  map[uint16]entry
	log      *zap.Logger
}

// New returns an empty registry bound to log for default-handler warnings.
func New(log *zap.Logger) *Registry {
	return &Registry{entries: make(map[uint16]entry), log: log}
}

// Register binds a handler to msgType. Fails with ErrDupRegister (P6) if
// msgType is already bound, and with ErrResource if called after Launch.
func (r *Registry) Register(msgType uint16, h Handler, param interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.launched {
		return fmt.Errorf("%w: registry already launched, type %d", utils.ErrResource, msgType)
	}
	if _, exists := r.entries[msgType]; exists {
		return fmt.Errorf("%w: type %d", utils.ErrDupRegister, msgType)
	}
	r.entries[msgType] = entry{handler: h, param: param}
	return nil
}

// Launch freezes the registry: after this, Register always fails and
// Dispatch is lock-free (workers run concurrently with no mutation race).
func (r *Registry) Launch() {
	r.mu.Lock()
	r.launched = true
	r.mu.Unlock()
}

// Dispatch looks up msgType and invokes its handler, or the default no-op
// handler if none is registered (spec §4.7, §7: "unknown message type at
// worker dispatch: route to default no-op and log"). Safe to call
// concurrently from many worker goroutines without locking, since the map
// is immutable after Launch. Returns whether a registered handler was found,
// so callers can account unknown-type dispatches separately.
func (r *Registry) Dispatch(msgType uint16, orig uint32, body []byte) bool {
	e, ok := r.entries[msgType]
	if !ok {
		r.defaultHandler(msgType, orig, body)
		return false
	}
	e.handler(msgType, orig, body, len(body), e.param)
	return true
}

func (r *Registry) defaultHandler(msgType uint16, orig uint32, body []byte) {
	if r.log != nil {
		r.log.Warn("unregistered message type dispatched to default handler",
			zap.Uint16("type", msgType), zap.Uint32("orig", orig), zap.Int("len", len(body)))
	}
}
