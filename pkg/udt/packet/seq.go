package packet

import (
	"fmt"
)

// MaxSeqNum is the largest packet sequence number; sequence numbers wrap to 0 after it.
const MaxSeqNum = 0x7FFFFFFF

// MaxMsgID is the largest message number.
const MaxMsgID = 0x1FFFFFFF

// SeqNum is a 31-bit packet sequence number with wraparound arithmetic.
type SeqNum uint32

// Add returns s advanced by n (n may be negative), wrapping at MaxSeqNum.
func (s SeqNum) Add(n int32) SeqNum {
	return SeqNum(uint32(int32(s)+n) & MaxSeqNum)
}

// Incr returns the sequence number following s.
func (s SeqNum) Incr() SeqNum { return s.Add(1) }

// Decr returns the sequence number preceding s.
func (s SeqNum) Decr() SeqNum { return s.Add(-1) }

// BlindDiff returns the signed distance s-o, assuming the two numbers are less than
// half the sequence space apart.
func (s SeqNum) BlindDiff(o SeqNum) int32 {
	d := (uint32(s) - uint32(o)) & MaxSeqNum
	if d >= 1<<30 {
		return int32(d - 1<<31)
	}
	return int32(d)
}

// Less reports whether s comes before o.
func (s SeqNum) Less(o SeqNum) bool { return s.BlindDiff(o) < 0 }

func (s SeqNum) String() string { return fmt.Sprintf("%d", uint32(s)) }

// NextMsgID returns the message number following id.
func NextMsgID(id uint32) uint32 {
	return (id + 1) & MaxMsgID
}
