package lib

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalCodec(t *testing.T) {
	list := [][]byte{[]byte("a"), nil, []byte("ccc")}
	bz := NewCanonicalEncoder().Uint64(0).Bytes(nil).BytesList(list).Uint64(42).Encoded()
	d := NewCanonicalDecoder(bz)
	require.Equal(t, uint64(0), d.Uint64())
	require.Empty(t, d.Bytes())
	got := d.BytesList()
	require.Len(t, got, 3)
	require.Equal(t, []byte("a"), got[0])
	require.Empty(t, got[1])
	require.Equal(t, []byte("ccc"), got[2])
	require.Equal(t, uint64(42), d.Uint64())
	require.NoError(t, d.Err())
}

func TestCanonicalDecoderErrors(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		bz     []byte
		read   func(d *CanonicalDecoder)
		error  string
	}{
		{
			name:   "wrong type",
			detail: "reading bytes where a varint was written",
			bz:     NewCanonicalEncoder().Uint64(1).Encoded(),
			read:   func(d *CanonicalDecoder) { d.Bytes() },
			error:  "expected field 1",
		},
		{
			name:   "wrong order",
			detail: "skipping a field isn't allowed",
			bz:     NewCanonicalEncoder().Uint64(1).Uint64(2).Encoded()[2:],
			read:   func(d *CanonicalDecoder) { d.Uint64() },
			error:  "expected field 1",
		},
		{
			name:   "trailing",
			detail: "unread fields are an error",
			bz:     NewCanonicalEncoder().Uint64(1).Uint64(2).Encoded(),
			read:   func(d *CanonicalDecoder) { d.Uint64() },
			error:  "trailing bytes",
		},
		{
			name:   "truncated",
			detail: "a length prefix running past the end",
			bz:     NewCanonicalEncoder().Bytes([]byte("hello")).Encoded()[:4],
			read:   func(d *CanonicalDecoder) { d.Bytes() },
			error:  "unexpected EOF",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			d := NewCanonicalDecoder(test.bz)
			test.read(d)
			require.ErrorContains(t, d.Err(), test.error)
		})
	}
}
