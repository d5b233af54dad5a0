// Package chunk implements a self-describing binary record format.
//
// Every chunk is encoded as
//
//	varint id | type/flags byte | [varint length] | content
//
// The type/flags byte holds the type in bits 7..5, the short flag in bit 4 and the
// array flag in bit 3. A short chunk has exactly one byte of content and no length.
// Object chunks contain further chunks, which Reader.Enter and Writer.Enter walk into.
package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/skycoin/udt/pkg/buffer"
)

// Errors returned by the codec.
var (
	ErrCorrupt    = errors.New("chunk: corrupt data")
	ErrNoContext  = errors.New("chunk: leave without matching enter")
	ErrNotObject  = errors.New("chunk: current chunk is not an object")
	ErrUnbalanced = errors.New("chunk: unbalanced enter/leave")
	ErrBadContent = errors.New("chunk: content does not match type")
)

// Type is the kind of content a chunk carries.
type Type byte

// Chunk types.
const (
	Object    Type = 1
	Bitstring Type = 2
	Integer   Type = 3
	Float     Type = 5
	String    Type = 6
)

var typeNames = map[Type]string{
	Object:    "OBJECT",
	Bitstring: "BITSTRING",
	Integer:   "INTEGER",
	Float:     "FLOAT",
	String:    "STRING",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN:%d", byte(t))
}

// Flags modify how a chunk is framed.
type Flags byte

// Chunk flags as they appear in the type/flags byte.
const (
	Short Flags = 0x10
	Array Flags = 0x08

	flagsMask    = byte(Short | Array)
	reservedMask = 0x07
	typeShift    = 5
)

// Chunk is one decoded record.
type Chunk struct {
	ID      uint64
	Type    Type
	Flags   Flags
	Content buffer.Slice
}

// Uint interprets the content of an Integer chunk as a big-endian unsigned number.
func (c Chunk) Uint() (uint64, error) {
	if c.Type != Integer || c.Content.Len() > 8 {
		return 0, ErrBadContent
	}
	var v uint64
	for _, b := range c.Content.Bytes() {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// Int interprets the content of an Integer chunk as a big-endian two's complement number.
func (c Chunk) Int() (int64, error) {
	v, err := c.Uint()
	if err != nil || c.Content.Len() == 0 {
		return int64(v), err
	}
	if shift := uint(64 - 8*c.Content.Len()); shift > 0 {
		return int64(v<<shift) >> shift, nil
	}
	return int64(v), nil
}

// Float interprets the content of a Float chunk (4 or 8 bytes, IEEE 754 big-endian).
func (c Chunk) Float() (float64, error) {
	if c.Type != Float {
		return 0, ErrBadContent
	}
	b := c.Content.Bytes()
	switch len(b) {
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	default:
		return 0, ErrBadContent
	}
}

// Text returns the content of a String chunk.
func (c Chunk) Text() (string, error) {
	if c.Type != String {
		return "", ErrBadContent
	}
	return c.Content.String(), nil
}

func validType(t Type) bool {
	_, ok := typeNames[t]
	return ok
}
