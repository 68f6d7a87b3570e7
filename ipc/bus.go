package ipc

import (
	"fmt"
	"time"

	"github.com/qiware/rtmq/utils"
)

// Bus is a thread's command channel (the in-process stand-in for a cmd_fd).
// Control commands over a single Bus are FIFO (spec §5 ordering guarantee
// (c)), matching a buffered Go channel's delivery order.
type Bus struct {
	ch chan Command
}

// NewBus creates a command channel with the given buffer depth.
func NewBus(depth int) *Bus {
	return &Bus{ch: make(chan Command, depth)}
}

// C exposes the receive side for a select-loop consumer.
func (b *Bus) C() <-chan Command { return b.ch }

// Send enqueues cmd, retrying up to resendTimes with a short backoff if the
// channel is momentarily full — spec §7: "commands between threads retry up
// to RECV_CMD_RESND_TIMES before being reported; the command channel is
// expected to be reliable since it is local". Returns ErrIO after exhausting
// retries.
func (b *Bus) Send(cmd Command, resendTimes int) error {
	for attempt := 0; attempt <= resendTimes; attempt++ {
		select {
		case b.ch <- cmd:
			return nil
		default:
			if attempt < resendTimes {
				time.Sleep(time.Millisecond)
			}
		}
	}
	return fmt.Errorf("%w: command %s not delivered after %d attempts", utils.ErrIO, cmd.Type, resendTimes+1)
}

// TrySend enqueues cmd without blocking or retrying; used on paths (like
// distributor wake-up) where a dropped duplicate notify is harmless.
func (b *Bus) TrySend(cmd Command) bool {
	select {
	case b.ch <- cmd:
		return true
	default:
		return false
	}
}
