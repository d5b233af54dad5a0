package udt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skycoin/udt/pkg/udt/packet"
)

func TestNativeCongestion(t *testing.T) {
	cc := NewNativeCongestion()
	cc.Init(64, 100)
	assert.Equal(t, uint32(initCongestionWindow), cc.Window())

	cc.OnACK(16, 0)
	assert.Equal(t, uint32(32), cc.Window(), "slow start grows by the acked count")

	cc.OnACK(100, 0)
	assert.Equal(t, uint32(64), cc.Window(), "window is capped")

	cc.OnNAK([]packet.SeqNum{150}, 200)
	assert.Equal(t, uint32(32), cc.Window())

	cc.OnNAK([]packet.SeqNum{160}, 210)
	assert.Equal(t, uint32(32), cc.Window(), "losses from the same round cut once")

	cc.OnNAK([]packet.SeqNum{205}, 220)
	assert.Equal(t, uint32(16), cc.Window())

	cc.OnACK(16, 0)
	assert.Equal(t, uint32(17), cc.Window(), "congestion avoidance grows by one per window")

	for i := 0; i < 10; i++ {
		cc.OnTimeout()
	}
	assert.Equal(t, uint32(minCongestionWindow), cc.Window())
}
