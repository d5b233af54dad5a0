package buffer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSlice(t *testing.T) {
	raw := []byte("hello")
	s := NewSlice(raw)
	raw[0] = 'j'

	assert.Equal(t, 5, s.Len())
	assert.False(t, s.Empty())
	assert.Equal(t, "hello", s.String(), "slice must own a private copy")
	assert.True(t, NewSlice(nil).Empty())
}

func TestSlice_PopFront(t *testing.T) {
	want := []byte("the quick brown fox")
	s := NewSlice(want)

	var got []byte
	for !s.Empty() {
		b, err := s.PopFront()
		require.NoError(t, err)
		got = append(got, b)
	}
	assert.Equal(t, want, got)

	_, err := s.PopFront()
	assert.Equal(t, ErrEndOfData, err)
}

func TestSlice_Substring(t *testing.T) {
	s := NewSlice([]byte("0123456789"))

	cases := []struct {
		name   string
		offset int
		length int
		want   string
	}{
		{"whole", 0, 10, "0123456789"},
		{"middle", 3, 4, "3456"},
		{"length clamped", 8, 100, "89"},
		{"offset at end", 10, 3, ""},
		{"offset past end", 42, 3, ""},
		{"negative offset", -5, 2, "01"},
		{"negative length", 2, -1, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := s.Substring(tc.offset, tc.length)
			assert.Equal(t, tc.want, sub.String())
			assert.True(t, sub.Len() <= s.Len())
		})
	}
	assert.Equal(t, 10, s.Len(), "Substring must not consume")
}

func TestSlice_SubstringNeverReadsPastEnd(t *testing.T) {
	s := NewSlice([]byte("abcdef"))
	s.PopSubstring(0, 2)

	for off := -2; off <= s.Len()+2; off++ {
		for n := -2; n <= s.Len()+2; n++ {
			sub := s.Substring(off, n)
			require.True(t, sub.Len() <= s.Len())
			require.True(t, bytes.Contains([]byte("cdef"), sub.Bytes()))
		}
	}
}

func TestSlice_PopSubstring(t *testing.T) {
	s := NewSlice([]byte("headerpayloadtrailer"))

	hdr := s.PopSubstring(0, 6)
	assert.Equal(t, "header", hdr.String())
	assert.Equal(t, "payloadtrailer", s.String())

	pl := s.PopSubstring(0, 7)
	assert.Equal(t, "payload", pl.String())

	skipped := s.PopSubstring(2, 3)
	assert.Equal(t, "ail", skipped.String())
	assert.Equal(t, "er", s.String())

	rest := s.PopSubstring(0, 100)
	assert.Equal(t, "er", rest.String())
	assert.True(t, s.Empty())
}

func TestSlice_SharedBacking(t *testing.T) {
	s := NewSlice([]byte("abcdef"))
	a := s.Substring(0, 3)
	b := s.Substring(3, 3)

	_, err := a.PopFront()
	require.NoError(t, err)

	assert.Equal(t, "bc", a.String())
	assert.Equal(t, "def", b.String())
	assert.Equal(t, "abcdef", s.String())
	assert.Equal(t, byte('e'), b.At(1))
}

func TestSlice_Append(t *testing.T) {
	a := NewSlice([]byte("foo"))
	b := NewSlice([]byte("bar"))
	assert.Equal(t, "foobar", a.Append(b).String())
	assert.Equal(t, "foo", a.String())
}

func TestRope(t *testing.T) {
	r := NewRope(4)
	assert.Equal(t, 0, r.Len())

	var want []byte
	for i := 0; i < 10; i++ {
		p := bytes.Repeat([]byte{byte('a' + i)}, i)
		n, err := r.Write(p)
		require.NoError(t, err)
		require.Equal(t, len(p), n)
		want = append(want, p...)
		require.Equal(t, len(want), r.Len())
	}
	require.NoError(t, r.WriteByte('!'))
	want = append(want, '!')

	assert.Equal(t, want, r.Bytes())

	var out bytes.Buffer
	n, err := r.WriteTo(&out)
	require.NoError(t, err)
	assert.Equal(t, int64(len(want)), n)
	assert.Equal(t, want, out.Bytes())

	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Bytes())
}

func TestRope_BlockBoundary(t *testing.T) {
	r := NewRope(0)
	p := bytes.Repeat([]byte{0xAB}, DefaultBlockSize)
	_, err := r.Write(p)
	require.NoError(t, err)
	assert.Equal(t, DefaultBlockSize, r.Len())
	require.NoError(t, r.WriteByte(1))
	assert.Equal(t, DefaultBlockSize+1, r.Len())
	assert.Len(t, r.blocks, 2)
}
