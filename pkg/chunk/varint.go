package chunk

import (
	"io"

	"github.com/pkg/errors"

	"github.com/skycoin/udt/pkg/buffer"
)

// Varint layout. Values below 0x80 are a single byte. Larger values use a lead byte
// whose leading 1-bits count the bytes of the encoding, followed by continuation
// bytes of the form 10xxxxxx. Lead 0xFE carries 6 continuation bytes and 0xFF
// carries 11, which covers the full 64-bit range.
const (
	contMask   = 0xC0
	contMarker = 0x80
	contBits   = 6
	contValue  = 0x3F
)

// varintLimits[n] is the first value that does not fit in an encoding with n
// continuation bytes.
var varintLimits = [...]uint64{
	0: 0x80,
	1: 0x800,
	2: 0x10000,
	3: 0x200000,
	4: 0x4000000,
	5: 0x80000000,
	6: 0x1000000000,
}

const longVarintConts = 11

// UvarintLen returns the number of bytes AppendUvarint uses for v.
func UvarintLen(v uint64) int {
	for n, limit := range varintLimits {
		if v < limit {
			return n + 1
		}
	}
	return longVarintConts + 1
}

// AppendUvarint appends the varint encoding of v to dst.
func AppendUvarint(dst []byte, v uint64) []byte {
	conts := UvarintLen(v) - 1
	switch {
	case conts == 0:
		return append(dst, byte(v))
	case conts == longVarintConts:
		dst = append(dst, 0xFF)
	default:
		// conts+1 leading ones followed by a zero, then the top payload bits.
		lead := byte(0xFF << uint(7-conts))
		dst = append(dst, lead|byte(v>>(uint(conts)*contBits)))
	}
	for i := conts - 1; i >= 0; i-- {
		dst = append(dst, contMarker|byte(v>>(uint(i)*contBits))&contValue)
	}
	return dst
}

// WriteUvarint writes the varint encoding of v to w.
func WriteUvarint(w io.ByteWriter, v uint64) error {
	var scratch [longVarintConts + 1]byte
	for _, b := range AppendUvarint(scratch[:0], v) {
		if err := w.WriteByte(b); err != nil {
			return err
		}
	}
	return nil
}

// ReadUvarint consumes one varint from the front of s.
// An empty s yields buffer.ErrEndOfData; malformed or truncated encodings yield ErrCorrupt.
func ReadUvarint(s *buffer.Slice) (uint64, error) {
	lead, err := s.PopFront()
	if err != nil {
		return 0, err
	}
	if lead < 0x80 {
		return uint64(lead), nil
	}
	if lead&contMask == contMarker {
		return 0, errors.Wrapf(ErrCorrupt, "varint: unexpected continuation byte %#x", lead)
	}

	var conts int
	var v uint64
	if lead == 0xFF {
		conts = longVarintConts
	} else {
		ones := 0
		for b := lead; b&0x80 != 0; b <<= 1 {
			ones++
		}
		conts = ones - 1
		v = uint64(lead & (0xFF >> uint(ones+1)))
	}

	for i := 0; i < conts; i++ {
		b, err := s.PopFront()
		if err != nil {
			return 0, errors.Wrap(ErrCorrupt, "varint: truncated")
		}
		if b&contMask != contMarker {
			return 0, errors.Wrapf(ErrCorrupt, "varint: bad continuation byte %#x", b)
		}
		if v>>(64-contBits) != 0 {
			return 0, errors.Wrap(ErrCorrupt, "varint: overflows 64 bits")
		}
		v = v<<contBits | uint64(b&contValue)
	}
	return v, nil
}
