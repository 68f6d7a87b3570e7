package subtable_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qiware/rtmq/subtable"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	tbl := subtable.New()
	assert.Empty(t, tbl.Subscribers(100))

	tbl.Subscribe(100, 1)
	tbl.Subscribe(100, 2)
	assert.ElementsMatch(t, []uint32{1, 2}, tbl.Subscribers(100))

	// R2: subscribing twice is a no-op.
	tbl.Subscribe(100, 1)
	assert.ElementsMatch(t, []uint32{1, 2}, tbl.Subscribers(100))

	tbl.Unsubscribe(100, 1)
	assert.ElementsMatch(t, []uint32{2}, tbl.Subscribers(100))

	// R2: unsubscribing a non-subscriber is a no-op.
	tbl.Unsubscribe(100, 1)
	assert.ElementsMatch(t, []uint32{2}, tbl.Subscribers(100))
}

func TestUnsubscribeAllRemovesFromEveryType(t *testing.T) {
	tbl := subtable.New()
	tbl.Subscribe(100, 1)
	tbl.Subscribe(200, 1)
	tbl.Subscribe(200, 2)

	tbl.UnsubscribeAll(1)

	assert.Empty(t, tbl.Subscribers(100))
	assert.ElementsMatch(t, []uint32{2}, tbl.Subscribers(200))
}
