// Package buffer provides the byte containers used by the codec and the transport:
// an immutable, shareable Slice view and an append-only block Rope.
package buffer

import (
	"errors"
)

// ErrEndOfData is returned when a read needs more bytes than a Slice holds.
// It is recoverable: the caller asked for bytes that are not there (yet).
var ErrEndOfData = errors.New("end of data")

// Slice is a window (offset, length) over a shared backing byte sequence.
// Deriving a Slice from another never copies; the backing bytes are never
// mutated once a Slice has been created over them.
type Slice struct {
	data []byte
	off  int
	n    int
}

// NewSlice copies b into a fresh backing sequence and returns a view over all of it.
func NewSlice(b []byte) Slice {
	data := make([]byte, len(b))
	copy(data, b)
	return Slice{data: data, n: len(data)}
}

// Len returns the number of bytes remaining in the window.
func (s Slice) Len() int { return s.n }

// Empty reports whether the window holds no bytes.
func (s Slice) Empty() bool { return s.n == 0 }

// At returns the i-th byte of the window. It panics if i is out of range.
func (s Slice) At(i int) byte {
	if i < 0 || i >= s.n {
		panic("buffer: index out of range")
	}
	return s.data[s.off+i]
}

// Bytes returns the window as a byte slice sharing the backing sequence.
// The result must be treated as read-only.
func (s Slice) Bytes() []byte {
	return s.data[s.off : s.off+s.n : s.off+s.n]
}

// String returns a copy of the window as a string.
func (s Slice) String() string {
	return string(s.Bytes())
}

// PopFront removes and returns the first byte of the window.
func (s *Slice) PopFront() (byte, error) {
	if s.n == 0 {
		return 0, ErrEndOfData
	}
	b := s.data[s.off]
	s.off++
	s.n--
	return b, nil
}

// Substring returns a view of [offset, offset+length) of the window without consuming it.
// Both values are clamped to the bytes available: an offset past the end yields an
// empty view positioned at the end, and length is cut to what remains after offset.
func (s Slice) Substring(offset, length int) Slice {
	start, n := s.clamp(offset, length)
	return Slice{data: s.data, off: s.off + start, n: n}
}

// PopSubstring is Substring that also advances the window past the returned region,
// so the bytes before and inside the region are consumed.
func (s *Slice) PopSubstring(offset, length int) Slice {
	start, n := s.clamp(offset, length)
	out := Slice{data: s.data, off: s.off + start, n: n}
	s.off += start + n
	s.n -= start + n
	return out
}

// Append returns a new Slice holding the bytes of s followed by the bytes of o.
// The result has its own backing sequence.
func (s Slice) Append(o Slice) Slice {
	data := make([]byte, 0, s.n+o.n)
	data = append(data, s.Bytes()...)
	data = append(data, o.Bytes()...)
	return Slice{data: data, n: len(data)}
}

func (s Slice) clamp(offset, length int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > s.n {
		offset = s.n
	}
	if length < 0 {
		length = 0
	}
	if rem := s.n - offset; length > rem {
		length = rem
	}
	return offset, length
}
