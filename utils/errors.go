package utils

import "errors"

// Error kinds from spec §7. Per-connection faults, queue-full drops, and
// init-time faults are all reported through these sentinels so callers can
// branch on kind with errors.Is, the way the teacher branches on a handful
// of named sentinel errors rather than inspecting strings.
var (
	ErrIO             = errors.New("io error")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrAuthFailed     = errors.New("auth failed")
	ErrQueueFull      = errors.New("queue full")
	ErrUnknownMsgType = errors.New("unknown message type")
	ErrDupRegister    = errors.New("duplicate registration")
	ErrConfig         = errors.New("invalid configuration")
	ErrResource       = errors.New("resource allocation failed")
)
