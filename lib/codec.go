package lib

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

/*
	Canonical encoding for everything that gets hashed or signed. Fields are written with protobuf wire framing in
	a fixed order with consecutive field numbers, and zero values are always emitted, so the layout of a given
	structure never varies and any implementation speaking protobuf wire format can reproduce it byte for byte
*/

// CanonicalEncoder appends fields in call order, numbering them from 1
type CanonicalEncoder struct {
	buf   []byte
	field protowire.Number
}

// NewCanonicalEncoder() creates an empty encoder
func NewCanonicalEncoder() *CanonicalEncoder { return &CanonicalEncoder{} }

// Uint64() appends the next field as a varint
func (e *CanonicalEncoder) Uint64(v uint64) *CanonicalEncoder {
	e.field++
	e.buf = protowire.AppendTag(e.buf, e.field, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
	return e
}

// Bytes() appends the next field as length delimited bytes
func (e *CanonicalEncoder) Bytes(b []byte) *CanonicalEncoder {
	e.field++
	e.buf = protowire.AppendTag(e.buf, e.field, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, b)
	return e
}

// BytesList() appends the next field as a length delimited, nested list of bytes
func (e *CanonicalEncoder) BytesList(list [][]byte) *CanonicalEncoder {
	nested := NewCanonicalEncoder().Uint64(uint64(len(list)))
	for _, item := range list {
		nested.Bytes(item)
	}
	return e.Bytes(nested.Encoded())
}

// Encoded() returns the accumulated bytes
func (e *CanonicalEncoder) Encoded() []byte { return e.buf }

// CanonicalDecoder reads fields back in the order a CanonicalEncoder wrote them
type CanonicalDecoder struct {
	buf   []byte
	field protowire.Number
	err   error
}

// NewCanonicalDecoder() creates a decoder over bz
func NewCanonicalDecoder(bz []byte) *CanonicalDecoder { return &CanonicalDecoder{buf: bz} }

// Uint64() consumes the next varint field
func (d *CanonicalDecoder) Uint64() (v uint64) {
	if !d.next(protowire.VarintType) {
		return 0
	}
	v, n := protowire.ConsumeVarint(d.buf)
	if n < 0 {
		d.err = protowire.ParseError(n)
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

// Bytes() consumes the next length delimited field
func (d *CanonicalDecoder) Bytes() []byte {
	if !d.next(protowire.BytesType) {
		return nil
	}
	v, n := protowire.ConsumeBytes(d.buf)
	if n < 0 {
		d.err = protowire.ParseError(n)
		return nil
	}
	d.buf = d.buf[n:]
	return append([]byte(nil), v...)
}

// BytesList() consumes the next nested list of bytes
func (d *CanonicalDecoder) BytesList() (list [][]byte) {
	nested := NewCanonicalDecoder(d.Bytes())
	if d.err != nil {
		return nil
	}
	count := nested.Uint64()
	for i := uint64(0); i < count && nested.err == nil; i++ {
		list = append(list, nested.Bytes())
	}
	if nested.err != nil {
		d.err = nested.err
		return nil
	}
	return
}

// Err() returns the first decoding failure, or an error if bytes remain after the last field
func (d *CanonicalDecoder) Err() ErrorI {
	if d.err == nil && len(d.buf) != 0 {
		d.err = errors.New("trailing bytes")
	}
	if d.err != nil {
		return ErrUnmarshal(d.err)
	}
	return nil
}

// next() consumes and checks the tag of the expected next field
func (d *CanonicalDecoder) next(typ protowire.Type) bool {
	if d.err != nil {
		return false
	}
	d.field++
	num, t, n := protowire.ConsumeTag(d.buf)
	if n < 0 {
		d.err = protowire.ParseError(n)
		return false
	}
	if num != d.field || t != typ {
		d.err = fmt.Errorf("expected field %d of type %d, got field %d of type %d", d.field, typ, num, t)
		return false
	}
	d.buf = d.buf[n:]
	return true
}
