// Package codec encodes stored records in the protobuf wire format without
// generated code. Records are flat: varint and length-delimited fields only.
// Unknown fields are skipped on decode, so records can grow new fields.
package codec

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"google.golang.org/protobuf/encoding/protowire"
)

// Encoder appends fields to a record.
type Encoder struct {
	buf []byte
}

// Uint appends a varint field. Zero values are omitted.
func (e *Encoder) Uint(num protowire.Number, v uint64) *Encoder {
	if v == 0 {
		return e
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
	return e
}

// Bytes appends a length-delimited field. Empty values are omitted.
func (e *Encoder) Bytes(num protowire.Number, b []byte) *Encoder {
	if len(b) == 0 {
		return e
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, b)
	return e
}

// String appends a length-delimited string field.
func (e *Encoder) String(num protowire.Number, s string) *Encoder {
	return e.Bytes(num, []byte(s))
}

// Int appends an integer as its decimal text. A nil Int is omitted, which
// lets optional prices round-trip as absent.
func (e *Encoder) Int(num protowire.Number, v sdkmath.Int) *Encoder {
	if v.IsNil() {
		return e
	}
	return e.String(num, v.String())
}

// presence is written for records whose fields are all default, so that a
// stored value is never empty. Decoders ignore it like any other field.
const presence protowire.Number = 2047

// Encode returns the record bytes.
func (e *Encoder) Encode() []byte {
	if len(e.buf) == 0 {
		b := protowire.AppendTag(nil, presence, protowire.VarintType)
		return protowire.AppendVarint(b, 1)
	}
	return e.buf
}

// Record is a decoded flat record.
type Record struct {
	varints map[protowire.Number]uint64
	bytes   map[protowire.Number][]byte
}

// Decode parses b. Repeated fields keep the last occurrence.
func Decode(b []byte) (Record, error) {
	r := Record{
		varints: make(map[protowire.Number]uint64),
		bytes:   make(map[protowire.Number][]byte),
	}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Record{}, fmt.Errorf("codec: tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Record{}, fmt.Errorf("codec: field %d: %w", num, protowire.ParseError(n))
			}
			r.varints[num] = v
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Record{}, fmt.Errorf("codec: field %d: %w", num, protowire.ParseError(n))
			}
			r.bytes[num] = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Record{}, fmt.Errorf("codec: field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return r, nil
}

// Uint returns a varint field, or 0.
func (r Record) Uint(num protowire.Number) uint64 {
	return r.varints[num]
}

// Bytes returns a length-delimited field, or nil.
func (r Record) Bytes(num protowire.Number) []byte {
	return r.bytes[num]
}

// String returns a length-delimited field as a string.
func (r Record) String(num protowire.Number) string {
	return string(r.bytes[num])
}

// Has reports whether field num was present.
func (r Record) Has(num protowire.Number) bool {
	if _, ok := r.varints[num]; ok {
		return true
	}
	_, ok := r.bytes[num]
	return ok
}

// Int parses a field written by Encoder.Int. An absent field yields a nil
// Int and no error.
func (r Record) Int(num protowire.Number) (sdkmath.Int, error) {
	raw, ok := r.bytes[num]
	if !ok {
		return sdkmath.Int{}, nil
	}
	v, ok := sdkmath.NewIntFromString(string(raw))
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("codec: field %d: bad integer %q", num, raw)
	}
	return v, nil
}
