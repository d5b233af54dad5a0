package chunk

import (
	"github.com/pkg/errors"

	"github.com/skycoin/udt/pkg/buffer"
)

// Reader decodes chunks positionally from a buffer.
type Reader struct {
	src   *buffer.Slice
	stack []*buffer.Slice
	cur   *Chunk
}

// NewReader creates a Reader positioned at the start of src.
func NewReader(src buffer.Slice) *Reader {
	return &Reader{src: &src}
}

// Next decodes the next chunk of the current context. The returned bool reports
// whether the context is exhausted after this chunk. Next on an already exhausted
// context returns buffer.ErrEndOfData.
func (r *Reader) Next() (Chunk, bool, error) {
	if r.src.Empty() {
		return Chunk{}, true, buffer.ErrEndOfData
	}
	c, err := readChunk(r.src)
	if err != nil {
		r.cur = nil
		return Chunk{}, r.src.Empty(), err
	}
	r.cur = &c
	return c, r.src.Empty(), nil
}

// Enter makes the content of the last chunk returned by Next the current context.
func (r *Reader) Enter() error {
	if r.cur == nil || r.cur.Type != Object {
		return ErrNotObject
	}
	content := r.cur.Content
	r.stack = append(r.stack, r.src)
	r.src = &content
	r.cur = nil
	return nil
}

// Leave returns to the context that was current before the matching Enter.
// Unread chunks of the left context are skipped.
func (r *Reader) Leave() error {
	if len(r.stack) == 0 {
		return ErrNoContext
	}
	r.src = r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	r.cur = nil
	return nil
}

// Depth returns how many contexts have been entered.
func (r *Reader) Depth() int { return len(r.stack) }

func readChunk(src *buffer.Slice) (Chunk, error) {
	id, err := ReadUvarint(src)
	if err != nil {
		return Chunk{}, errors.Wrap(err, "chunk id")
	}
	tf, err := src.PopFront()
	if err != nil {
		return Chunk{}, errors.Wrap(ErrCorrupt, "missing type byte")
	}
	if tf&reservedMask != 0 {
		return Chunk{}, errors.Wrapf(ErrCorrupt, "reserved bits set in %#x", tf)
	}
	c := Chunk{
		ID:    id,
		Type:  Type(tf >> typeShift),
		Flags: Flags(tf & flagsMask),
	}
	if !validType(c.Type) {
		return Chunk{}, errors.Wrapf(ErrCorrupt, "unknown chunk type %d", byte(c.Type))
	}

	length := uint64(1)
	if c.Flags&Short == 0 {
		if length, err = ReadUvarint(src); err != nil {
			if err == buffer.ErrEndOfData {
				err = ErrCorrupt
			}
			return Chunk{}, errors.Wrap(err, "chunk length")
		}
	}
	if length > uint64(src.Len()) {
		return Chunk{}, errors.Wrapf(ErrCorrupt, "chunk %d wants %d bytes, %d left", id, length, src.Len())
	}
	c.Content = src.PopSubstring(0, int(length))
	return c, nil
}
