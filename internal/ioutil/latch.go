package ioutil

import "sync/atomic"

// Latch is a flag that can be set once and never cleared. The zero value is unset.
type Latch struct {
	state uint32
}

// Trip sets the latch. Only the call that sets it reports true.
func (l *Latch) Trip() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Tripped reports whether the latch is set.
func (l *Latch) Tripped() bool {
	return atomic.LoadUint32(&l.state) != 0
}
