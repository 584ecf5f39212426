// Package pbwire reads and writes the application's own protobuf
// containers stored in ledger state, on top of protowire. Validator
// messages use the Sawtooth SDK's generated types instead.
//
// Messages are decoded field by field. Unknown fields are skipped, as
// protobuf requires; a known field carrying the wrong wire type is an
// error.
package pbwire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field is one decoded top-level field of a message.
type Field struct {
	Num  protowire.Number
	Type protowire.Type

	varint uint64
	fixed  uint64
	bytes  []byte
}

// Fields calls fn for every field of b in wire order.
func Fields(b []byte, fn func(Field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		f := Field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.fixed, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.fixed = uint64(v)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f Field) expect(typ protowire.Type) error {
	if f.Type != typ {
		return fmt.Errorf("field %d: wire type %d, expected %d", f.Num, f.Type, typ)
	}
	return nil
}

// String returns a length-delimited field as a string.
func (f Field) String() (string, error) {
	if err := f.expect(protowire.BytesType); err != nil {
		return "", err
	}
	return string(f.bytes), nil
}

// Bytes returns a length-delimited field. The slice aliases the input.
func (f Field) Bytes() ([]byte, error) {
	if err := f.expect(protowire.BytesType); err != nil {
		return nil, err
	}
	return f.bytes, nil
}

// Uint64 returns a varint field.
func (f Field) Uint64() (uint64, error) {
	if err := f.expect(protowire.VarintType); err != nil {
		return 0, err
	}
	return f.varint, nil
}

// Sint64 returns a zigzag encoded varint field.
func (f Field) Sint64() (int64, error) {
	v, err := f.Uint64()
	return protowire.DecodeZigZag(v), err
}

// Double returns a fixed64 field as a float64.
func (f Field) Double() (float64, error) {
	if err := f.expect(protowire.Fixed64Type); err != nil {
		return 0, err
	}
	return math.Float64frombits(f.fixed), nil
}

// AppendString appends a string field, omitting the proto3 default.
func AppendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// AppendMessage appends an embedded message field. Empty messages are
// still written so repeated entries keep their position.
func AppendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// AppendUint64 appends a varint field, omitting zero.
func AppendUint64(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// AppendSint64 appends a zigzag encoded varint field, omitting zero.
func AppendSint64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

// AppendDouble appends a fixed64 double field, omitting zero.
func AppendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}
