package buffer

import (
	"io"
)

// DefaultBlockSize is the block size used by NewRope when given a non-positive size.
const DefaultBlockSize = 512

// Rope is an append-only output buffer made of fixed-size blocks.
// Growing never moves bytes that were already written.
// It is not safe for concurrent use.
type Rope struct {
	blockSize int
	blocks    [][]byte
	used      int // bytes used in the last block
}

// NewRope creates an empty Rope with the given block size.
func NewRope(blockSize int) *Rope {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Rope{blockSize: blockSize}
}

// Len returns the number of bytes written so far.
func (r *Rope) Len() int {
	if len(r.blocks) == 0 {
		return 0
	}
	return (len(r.blocks)-1)*r.blockSize + r.used
}

// Write appends p, spanning as many blocks as needed. It never fails.
func (r *Rope) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		if len(r.blocks) == 0 || r.used == r.blockSize {
			r.blocks = append(r.blocks, make([]byte, r.blockSize))
			r.used = 0
		}
		c := copy(r.blocks[len(r.blocks)-1][r.used:], p)
		r.used += c
		p = p[c:]
	}
	return n, nil
}

// WriteByte appends a single byte.
func (r *Rope) WriteByte(c byte) error {
	_, err := r.Write([]byte{c})
	return err
}

// WriteTo writes the contents of every block, in order, to w.
func (r *Rope) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for i, b := range r.blocks {
		if i == len(r.blocks)-1 {
			b = b[:r.used]
		}
		n, err := w.Write(b)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Bytes returns the contents as one contiguous, newly allocated byte slice.
func (r *Rope) Bytes() []byte {
	out := make([]byte, 0, r.Len())
	for i, b := range r.blocks {
		if i == len(r.blocks)-1 {
			b = b[:r.used]
		}
		out = append(out, b...)
	}
	return out
}

// Reset discards the contents while keeping the block size.
func (r *Rope) Reset() {
	r.blocks = nil
	r.used = 0
}
