package frame_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiware/rtmq/frame"
	"github.com/qiware/rtmq/utils"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	body := []byte("hi")
	wire := frame.Encode(frame.Header{Type: 100, Orig: 17, Dest: 0}, body)

	h, got, n, err := frame.Parse(wire)
	require.NoError(t, err)
	assert.Equal(t, len(wire), n)
	assert.Equal(t, uint16(100), h.Type)
	assert.Equal(t, uint32(17), h.Orig)
	assert.Equal(t, uint32(0), h.Dest)
	assert.Equal(t, uint32(len(body)), h.Length)
	assert.Equal(t, body, got)
}

func TestParseNeedMoreOnPartialHeader(t *testing.T) {
	wire := frame.Encode(frame.Header{Type: 1}, []byte("x"))
	_, _, _, err := frame.Parse(wire[:frame.HeaderSize-1])
	assert.ErrorIs(t, err, frame.ErrNeedMore)
}

func TestParseNeedMoreOnPartialBody(t *testing.T) {
	wire := frame.Encode(frame.Header{Type: 1}, []byte("hello"))
	_, _, _, err := frame.Parse(wire[:frame.HeaderSize+2])
	assert.ErrorIs(t, err, frame.ErrNeedMore)
}

func TestParseBadMagicIsMalformed(t *testing.T) {
	wire := frame.Encode(frame.Header{Type: 1}, nil)
	wire[0] = 0xDE
	wire[1] = 0xAD
	wire[2] = 0xBE
	wire[3] = 0xEF
	_, _, _, err := frame.Parse(wire)
	assert.ErrorIs(t, err, utils.ErrMalformedFrame)
}

func TestParseBadChecksumIsMalformed(t *testing.T) {
	wire := frame.Encode(frame.Header{Type: 1}, nil)
	wire[20] ^= 0xFF
	_, _, _, err := frame.Parse(wire)
	assert.ErrorIs(t, err, utils.ErrMalformedFrame)
}

func TestParseZeroBodyIsValid(t *testing.T) {
	wire := frame.Encode(frame.Header{Type: 1}, nil)
	h, body, n, err := frame.Parse(wire)
	require.NoError(t, err)
	assert.Equal(t, frame.HeaderSize, n)
	assert.Equal(t, uint32(0), h.Length)
	assert.Empty(t, body)
}

func TestParseMaxBodyIsValidAndOverIsMalformed(t *testing.T) {
	max := make([]byte, frame.MaxFrameBody)
	wire := frame.Encode(frame.Header{Type: 1}, max)
	_, _, n, err := frame.Parse(wire)
	require.NoError(t, err)
	assert.Equal(t, len(wire), n)

	over := make([]byte, frame.MaxFrameBody+1)
	wire2 := frame.Encode(frame.Header{Type: 1}, over)
	_, _, _, err2 := frame.Parse(wire2)
	assert.ErrorIs(t, err2, utils.ErrMalformedFrame)
}
