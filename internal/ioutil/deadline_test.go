package ioutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeadline(t *testing.T) {
	t.Run("unset never fires", func(t *testing.T) {
		d := NewDeadline()
		select {
		case <-d.Wait():
			t.Fatal("deadline fired without being set")
		case <-time.After(20 * time.Millisecond):
		}
		assert.False(t, d.Expired())
	})

	t.Run("past expires immediately", func(t *testing.T) {
		d := NewDeadline()
		d.Set(time.Now().Add(-time.Second))
		assert.True(t, d.Expired())
	})

	t.Run("future fires", func(t *testing.T) {
		d := NewDeadline()
		d.Set(time.Now().Add(20 * time.Millisecond))
		assert.False(t, d.Expired())
		select {
		case <-d.Wait():
		case <-time.After(time.Second):
			t.Fatal("deadline did not fire")
		}
	})

	t.Run("reset after expiry", func(t *testing.T) {
		d := NewDeadline()
		d.Set(time.Now())
		assert.True(t, d.Expired())
		d.Set(time.Time{})
		assert.False(t, d.Expired())
		d.Set(time.Now().Add(time.Hour))
		assert.False(t, d.Expired())
	})

	t.Run("extend before expiry", func(t *testing.T) {
		d := NewDeadline()
		d.Set(time.Now().Add(10 * time.Millisecond))
		d.Set(time.Now().Add(time.Hour))
		time.Sleep(30 * time.Millisecond)
		assert.False(t, d.Expired())
	})
}
