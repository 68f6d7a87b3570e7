package ctrl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiware/rtmq/ctrl"
)

func TestAuthBodyRoundTrip(t *testing.T) {
	a := ctrl.AuthBody{NodeID: 42, Username: "node42", Password: "s3cr3t"}
	got, err := ctrl.DecodeAuthBody(a.Encode())
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestAuthAckBodyRoundTrip(t *testing.T) {
	a := ctrl.AuthAckBody{Status: ctrl.AuthDupNode}
	got, err := ctrl.DecodeAuthAckBody(a.Encode())
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestSubBodyRoundTrip(t *testing.T) {
	s := ctrl.SubBody{MsgType: 777}
	got, err := ctrl.DecodeSubBody(s.Encode())
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestDecodeAuthBodyTruncated(t *testing.T) {
	_, err := ctrl.DecodeAuthBody([]byte{1, 2})
	assert.Error(t, err)
}

func TestIsControl(t *testing.T) {
	assert.True(t, ctrl.IsControl(ctrl.Auth))
	assert.True(t, ctrl.IsControl(ctrl.Pong))
	assert.False(t, ctrl.IsControl(0))
	assert.False(t, ctrl.IsControl(ctrl.MinAppType))
	assert.False(t, ctrl.IsControl(100))
}
