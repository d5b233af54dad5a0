package ioutil

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLatch(t *testing.T) {
	var l Latch
	assert.False(t, l.Tripped())
	assert.True(t, l.Trip())
	assert.True(t, l.Tripped())
	assert.False(t, l.Trip(), "a set latch stays set")
	assert.True(t, l.Tripped())
}

func TestLatchSingleWinner(t *testing.T) {
	var (
		l       Latch
		wg      sync.WaitGroup
		winners int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Trip() {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners)
}
