package udt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSender(c *Conn, now time.Time) *sender {
	cc := NewNativeCongestion()
	cc.Init(64, 0)
	return newSender(c, cc, 7, 0, 1500, 64, now)
}

func TestSenderPeerTimeout(t *testing.T) {
	c, closeConn := idleConn(t, StreamMode)
	defer closeConn()

	start := time.Now()
	s := newTestSender(c, start)
	s.enqueue([]byte("hello"))
	s.flush(start)
	require.Equal(t, 1, s.pending.Len())

	var (
		now = start
		err error
	)
	for now.Sub(start) < 2*time.Minute {
		now = now.Add(100 * time.Millisecond)
		if err = s.onTick(now); err != nil {
			break
		}
	}
	assert.Equal(t, ErrPeerTimeout, err)
	assert.True(t, now.Sub(start) > peerIdleTimeout)
	assert.True(t, s.expCount > maxExpCount)
	assert.Equal(t, 1, s.pending.Len(), "unacknowledged data stays queued for retransmission")
}

func TestSenderPeerActivityResetsTimer(t *testing.T) {
	c, closeConn := idleConn(t, StreamMode)
	defer closeConn()

	start := time.Now()
	s := newTestSender(c, start)

	now := start
	for i := 0; i < 50; i++ {
		now = now.Add(100 * time.Millisecond)
		require.NoError(t, s.onTick(now))
	}
	require.True(t, s.expCount > 0)
	grown := s.expInterval()

	s.onPeerActivity(now)
	assert.Equal(t, 0, s.expCount)
	assert.Equal(t, now, s.lastResp)
	assert.True(t, s.nextExp.After(now))
	assert.True(t, s.expInterval() <= grown)

	// Silence shorter than the idle timeout never ends the connection.
	for i := 0; i < 40; i++ {
		now = now.Add(100 * time.Millisecond)
		require.NoError(t, s.onTick(now))
	}
}
