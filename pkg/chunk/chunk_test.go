package chunk

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/udt/pkg/buffer"
)

func TestUvarint_Boundaries(t *testing.T) {
	cases := []struct {
		v    uint64
		size int
	}{
		{0, 1},
		{0x7F, 1},
		{0x80, 2},
		{0x7FF, 2},
		{0x800, 3},
		{0xFFFF, 3},
		{0x10000, 4},
		{0x1FFFF, 4},
		{0x20000, 4},
		{0x1FFFFF, 4},
		{0x200000, 5},
		{0x3FFFFFF, 5},
		{0x4000000, 6},
		{0x7FFFFFFF, 6},
		{0x80000000, 7},
		{0xFFFFFFFFF, 7},
		{0x1000000000, 12},
		{math.MaxUint64, 12},
	}
	for _, tc := range cases {
		enc := AppendUvarint(nil, tc.v)
		assert.Len(t, enc, tc.size, "value %#x", tc.v)
		assert.Equal(t, tc.size, UvarintLen(tc.v))

		s := buffer.NewSlice(enc)
		got, err := ReadUvarint(&s)
		require.NoError(t, err, "value %#x", tc.v)
		assert.Equal(t, tc.v, got)
		assert.True(t, s.Empty())
	}
}

func TestUvarint_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	var enc []byte
	var want []uint64
	for i := 0; i < 10000; i++ {
		v := r.Uint64() >> uint(r.Intn(64))
		want = append(want, v)
		enc = AppendUvarint(enc, v)
	}

	s := buffer.NewSlice(enc)
	for _, v := range want {
		got, err := ReadUvarint(&s)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
	_, err := ReadUvarint(&s)
	assert.Equal(t, buffer.ErrEndOfData, err)
}

func TestUvarint_Corrupt(t *testing.T) {
	cases := map[string][]byte{
		"lone continuation": {0x80},
		"bad marker":        {0xC1, 0x41},
		"truncated":         {0xE0, 0x80},
		"overflow":          append([]byte{0xFF, 0xBF}, make10(0x80)...),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			s := buffer.NewSlice(in)
			_, err := ReadUvarint(&s)
			assert.Equal(t, ErrCorrupt, errors.Cause(err))
		})
	}
}

func make10(b byte) []byte {
	out := make([]byte, 10)
	for i := range out {
		out[i] = b
	}
	return out
}

type record struct {
	id      uint64
	t       Type
	flags   Flags
	content string
	depth   int
}

func TestCodec_NestedRoundTrip(t *testing.T) {
	w := NewWriter()
	w.Enter(1)
	w.WriteString(2, "hello")
	w.WriteUint(3, 0x1234)
	w.Enter(4)
	w.WriteChunk(5, Bitstring, Array, []byte{1, 2, 3})
	w.WriteUint(6, 7)
	require.NoError(t, w.Leave())
	w.WriteFloat(7, 1.5)
	require.NoError(t, w.Leave())
	w.Enter(300)
	w.WriteString(301, "sibling")
	require.NoError(t, w.Leave())
	w.WriteString(1<<40, "")

	enc, err := w.Bytes()
	require.NoError(t, err)

	want := []record{
		{1, Object, 0, "", 0},
		{2, String, 0, "hello", 1},
		{3, Integer, 0, "\x12\x34", 1},
		{4, Object, 0, "", 1},
		{5, Bitstring, Array, "\x01\x02\x03", 2},
		{6, Integer, Short, "\x07", 2},
		{7, Float, 0, "\x3f\xf8\x00\x00\x00\x00\x00\x00", 1},
		{300, Object, 0, "", 0},
		{301, String, 0, "sibling", 1},
		{1 << 40, String, 0, "", 0},
	}

	r := NewReader(buffer.NewSlice(enc))
	var got []record
	var walk func() error
	walk = func() error {
		for {
			c, exhausted, err := r.Next()
			if err != nil {
				return err
			}
			rec := record{c.ID, c.Type, c.Flags, "", r.Depth()}
			if c.Type != Object {
				rec.content = c.Content.String()
			}
			got = append(got, rec)
			if c.Type == Object {
				if err := r.Enter(); err != nil {
					return err
				}
				if err := walk(); err != nil {
					return err
				}
				if err := r.Leave(); err != nil {
					return err
				}
			}
			if exhausted {
				return nil
			}
		}
	}
	require.NoError(t, walk())
	assert.Equal(t, want, got)

	_, exhausted, err := r.Next()
	assert.True(t, exhausted)
	assert.Equal(t, buffer.ErrEndOfData, err)
}

func TestCodec_TypedValues(t *testing.T) {
	w := NewWriter()
	w.WriteUint(1, 0)
	w.WriteUint(2, math.MaxUint64)
	w.WriteInt(3, -1)
	w.WriteInt(4, -129)
	w.WriteInt(5, math.MinInt64)
	w.WriteInt(6, 128)
	w.WriteFloat(7, math.Pi)
	w.WriteString(8, "héllo")
	enc, err := w.Bytes()
	require.NoError(t, err)

	r := NewReader(buffer.NewSlice(enc))
	next := func() Chunk {
		c, _, err := r.Next()
		require.NoError(t, err)
		return c
	}

	u, err := next().Uint()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), u)

	u, err = next().Uint()
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), u)

	for _, want := range []int64{-1, -129, math.MinInt64, 128} {
		i, err := next().Int()
		require.NoError(t, err)
		assert.Equal(t, want, i)
	}

	f, err := next().Float()
	require.NoError(t, err)
	assert.Equal(t, math.Pi, f)

	s, err := next().Text()
	require.NoError(t, err)
	assert.Equal(t, "héllo", s)
}

func TestReader_Errors(t *testing.T) {
	t.Run("leave without enter", func(t *testing.T) {
		r := NewReader(buffer.NewSlice(nil))
		assert.Equal(t, ErrNoContext, r.Leave())
	})

	t.Run("enter leaf", func(t *testing.T) {
		w := NewWriter()
		w.WriteString(1, "x")
		enc, err := w.Bytes()
		require.NoError(t, err)

		r := NewReader(buffer.NewSlice(enc))
		_, _, err = r.Next()
		require.NoError(t, err)
		assert.Equal(t, ErrNotObject, r.Enter())
	})

	t.Run("truncated content", func(t *testing.T) {
		r := NewReader(buffer.NewSlice([]byte{0x01, byte(String) << 5, 0x05, 'a', 'b'}))
		_, _, err := r.Next()
		assert.Equal(t, ErrCorrupt, errors.Cause(err))
	})

	t.Run("missing length", func(t *testing.T) {
		r := NewReader(buffer.NewSlice([]byte{0x01, byte(String) << 5}))
		_, _, err := r.Next()
		assert.Equal(t, ErrCorrupt, errors.Cause(err))
	})

	t.Run("unknown type", func(t *testing.T) {
		r := NewReader(buffer.NewSlice([]byte{0x01, 4 << 5, 0x00}))
		_, _, err := r.Next()
		assert.Equal(t, ErrCorrupt, errors.Cause(err))
	})

	t.Run("reserved bits", func(t *testing.T) {
		r := NewReader(buffer.NewSlice([]byte{0x01, byte(String)<<5 | 0x01, 0x00}))
		_, _, err := r.Next()
		assert.Equal(t, ErrCorrupt, errors.Cause(err))
	})
}

func TestWriter_Unbalanced(t *testing.T) {
	w := NewWriter()
	assert.Equal(t, ErrNoContext, w.Leave())
	w.Enter(1)
	_, err := w.Bytes()
	assert.Equal(t, ErrUnbalanced, err)
	require.NoError(t, w.Leave())
	_, err = w.Bytes()
	assert.NoError(t, err)
}
