// Package ctrl defines the RTMQ control message types and their body
// codecs (spec §6): AUTH, AUTH_ACK, KEEPALIVE, SUB, UNSUB, PING, PONG.
// Control types occupy a small reserved range; application types start at
// MinAppType (matching spec §8 scenario S1's type=100 application example).
package ctrl

import (
	"encoding/binary"
	"fmt"

	"github.com/qiware/rtmq/utils"
)

const (
	Auth Type = iota + 1
	AuthAck
	Keepalive
	Sub
	Unsub
	Ping
	Pong
)

// Type is a control message's frame.Type value.
type Type = uint16

// MinAppType is the first message type available for application handlers;
// everything below it is reserved for control messages.
const MinAppType uint16 = 100

// IsControl reports whether t falls in the reserved control range.
func IsControl(t uint16) bool { return t >= 1 && t < MinAppType }

// AuthStatus is AUTH_ACK's status field.
type AuthStatus uint8

const (
	AuthOK AuthStatus = iota
	AuthBadCred
	AuthDupNode
)

// AuthBody is AUTH's fixed-plus-length-prefixed body:
// {node_id:u32, username:u32-prefixed-string, password:u32-prefixed-string}.
type AuthBody struct {
	NodeID   uint32
	Username string
	Password string
}

// Encode serializes an AuthBody.
func (a AuthBody) Encode() []byte {
	buf := make([]byte, 4+4+len(a.Username)+4+len(a.Password))
	binary.BigEndian.PutUint32(buf[0:4], a.NodeID)
	off := 4
	off = putLPString(buf, off, a.Username)
	putLPString(buf, off, a.Password)
	return buf
}

// DecodeAuthBody parses an AUTH body, returning utils.ErrMalformedFrame on
// truncation.
func DecodeAuthBody(b []byte) (AuthBody, error) {
	if len(b) < 4 {
		return AuthBody{}, fmt.Errorf("%w: auth body too short", utils.ErrMalformedFrame)
	}
	a := AuthBody{NodeID: binary.BigEndian.Uint32(b[0:4])}
	off := 4
	user, off, err := getLPString(b, off)
	if err != nil {
		return AuthBody{}, err
	}
	pass, _, err := getLPString(b, off)
	if err != nil {
		return AuthBody{}, err
	}
	a.Username, a.Password = user, pass
	return a, nil
}

// AuthAckBody is AUTH_ACK's body: {status}.
type AuthAckBody struct {
	Status AuthStatus
}

func (a AuthAckBody) Encode() []byte { return []byte{byte(a.Status)} }

func DecodeAuthAckBody(b []byte) (AuthAckBody, error) {
	if len(b) < 1 {
		return AuthAckBody{}, fmt.Errorf("%w: auth_ack body too short", utils.ErrMalformedFrame)
	}
	return AuthAckBody{Status: AuthStatus(b[0])}, nil
}

// SubBody is SUB/UNSUB's body: {msg_type:u16}.
type SubBody struct {
	MsgType uint16
}

func (s SubBody) Encode() []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, s.MsgType)
	return buf
}

func DecodeSubBody(b []byte) (SubBody, error) {
	if len(b) < 2 {
		return SubBody{}, fmt.Errorf("%w: sub body too short", utils.ErrMalformedFrame)
	}
	return SubBody{MsgType: binary.BigEndian.Uint16(b[0:2])}, nil
}

func putLPString(buf []byte, off int, s string) int {
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(s)))
	off += 4
	copy(buf[off:off+len(s)], s)
	return off + len(s)
}

func getLPString(b []byte, off int) (string, int, error) {
	if len(b) < off+4 {
		return "", 0, fmt.Errorf("%w: length-prefixed string truncated", utils.ErrMalformedFrame)
	}
	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if len(b) < off+n {
		return "", 0, fmt.Errorf("%w: length-prefixed string body truncated", utils.ErrMalformedFrame)
	}
	return string(b[off : off+n]), off + n, nil
}
