package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qiware/rtmq/registry"
	"github.com/qiware/rtmq/utils"
)

func TestRegisterAndDispatch(t *testing.T) {
	r := registry.New(zap.NewNop())

	var gotType uint16
	var gotOrig uint32
	var gotBody []byte
	err := r.Register(100, func(msgType uint16, orig uint32, body []byte, bodyLen int, param interface{}) {
		gotType, gotOrig, gotBody = msgType, orig, body
		assert.Equal(t, "ctx", param)
		assert.Equal(t, len(body), bodyLen)
	}, "ctx")
	require.NoError(t, err)

	r.Launch()
	found := r.Dispatch(100, 7, []byte("payload"))
	assert.True(t, found)
	assert.Equal(t, uint16(100), gotType)
	assert.Equal(t, uint32(7), gotOrig)
	assert.Equal(t, []byte("payload"), gotBody)
}

func TestDuplicateRegisterFails(t *testing.T) {
	r := registry.New(zap.NewNop())
	require.NoError(t, r.Register(1, noop, nil))
	err := r.Register(1, noop, nil)
	require.ErrorIs(t, err, utils.ErrDupRegister)
}

func TestRegisterAfterLaunchFails(t *testing.T) {
	r := registry.New(zap.NewNop())
	r.Launch()
	err := r.Register(1, noop, nil)
	require.Error(t, err)
}

func TestDispatchUnknownTypeUsesDefaultHandler(t *testing.T) {
	r := registry.New(zap.NewNop())
	r.Launch()
	found := r.Dispatch(999, 1, nil)
	assert.False(t, found)
}

func noop(msgType uint16, orig uint32, body []byte, bodyLen int, param interface{}) {}
