package chunk

import (
	"encoding/binary"
	"math"

	"github.com/skycoin/udt/pkg/buffer"
)

type frame struct {
	id  uint64
	out *buffer.Rope
}

// Writer encodes chunks. Nested objects are built with Enter and Leave.
type Writer struct {
	root  *buffer.Rope
	stack []frame
}

// NewWriter creates an empty Writer.
func NewWriter() *Writer {
	return &Writer{root: buffer.NewRope(buffer.DefaultBlockSize)}
}

func (w *Writer) out() *buffer.Rope {
	if len(w.stack) == 0 {
		return w.root
	}
	return w.stack[len(w.stack)-1].out
}

// Enter starts an Object chunk with the given id. Chunks written until the
// matching Leave become its content.
func (w *Writer) Enter(id uint64) {
	w.stack = append(w.stack, frame{id: id, out: buffer.NewRope(buffer.DefaultBlockSize)})
}

// Leave closes the innermost Object chunk and appends it to its parent.
func (w *Writer) Leave() error {
	if len(w.stack) == 0 {
		return ErrNoContext
	}
	f := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]

	parent := w.out()
	writeHeader(parent, f.id, Object, 0, f.out.Len())
	_, err := f.out.WriteTo(parent)
	return err
}

// WriteChunk appends a leaf chunk. Content of exactly one byte is written as a short chunk.
func (w *Writer) WriteChunk(id uint64, t Type, flags Flags, content []byte) {
	flags &^= Short
	if len(content) == 1 {
		flags |= Short
	}
	out := w.out()
	writeHeader(out, id, t, flags, len(content))
	out.Write(content) // nolint: errcheck
}

// WriteUint writes v as a minimal big-endian Integer chunk.
func (w *Writer) WriteUint(id uint64, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	i := 0
	for i < 7 && b[i] == 0 {
		i++
	}
	w.WriteChunk(id, Integer, 0, b[i:])
}

// WriteInt writes v as a minimal big-endian two's complement Integer chunk.
func (w *Writer) WriteInt(id uint64, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	i := 0
	for i < 7 {
		if (b[i] == 0 && b[i+1]&0x80 == 0) || (b[i] == 0xFF && b[i+1]&0x80 != 0) {
			i++
			continue
		}
		break
	}
	w.WriteChunk(id, Integer, 0, b[i:])
}

// WriteFloat writes v as an 8-byte IEEE 754 Float chunk.
func (w *Writer) WriteFloat(id uint64, v float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	w.WriteChunk(id, Float, 0, b[:])
}

// WriteString writes s as a String chunk.
func (w *Writer) WriteString(id uint64, s string) {
	w.WriteChunk(id, String, 0, []byte(s))
}

// WriteBitstring writes raw bytes as a Bitstring chunk.
func (w *Writer) WriteBitstring(id uint64, b []byte) {
	w.WriteChunk(id, Bitstring, 0, b)
}

// Len returns the number of bytes written at the top level so far.
func (w *Writer) Len() int { return w.root.Len() }

// Bytes returns the encoded top-level chunks.
func (w *Writer) Bytes() ([]byte, error) {
	if len(w.stack) != 0 {
		return nil, ErrUnbalanced
	}
	return w.root.Bytes(), nil
}

func writeHeader(out *buffer.Rope, id uint64, t Type, flags Flags, length int) {
	WriteUvarint(out, id)                           // nolint: errcheck
	out.WriteByte(byte(t)<<typeShift | byte(flags)) // nolint: errcheck
	if flags&Short == 0 {
		WriteUvarint(out, uint64(length)) // nolint: errcheck
	}
}
