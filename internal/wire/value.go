// Package wire implements the value codec and the sql.v1 message codec for
// the litesql streaming protocol.
//
// Values travel on the wire as self-describing envelopes: a well-known-type
// URL plus the protobuf encoding of that wrapper message's single field
// (field number 1). The byte layout follows the protobuf wire format
// (https://protobuf.dev/programming-guides/encoding/) exactly, so peers that
// speak the standard google.protobuf wrapper types interoperate without any
// schema exchange.
//
// Wire layout per variant:
//
//	BoolValue    0x08 <varint 0|1>            (field 1, varint)
//	Int32Value   0x08 <varint, sign-extended>  (field 1, varint)
//	Int64Value   0x08 <varint, sign-extended>  (field 1, varint)
//	FloatValue   0x0d <4 bytes little-endian>  (field 1, fixed32)
//	DoubleValue  0x09 <8 bytes little-endian>  (field 1, fixed64)
//	StringValue  0x0a <varint len> <bytes>     (field 1, length-delimited)
//	BytesValue   0x0a <varint len> <bytes>     (field 1, length-delimited)
//	Timestamp    0x08 <varint seconds> 0x10 <varint nanos>
//	Empty        (empty payload)
//
// Negative integers occupy ten varint bytes (two's complement extended to 64
// bits), matching the protobuf int32/int64 encoding.
package wire

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/litesql/litesql-go/errors"
)

// typeURLPrefix is the resolution prefix carried on every envelope, per the
// google.protobuf.Any convention.
const typeURLPrefix = "type.googleapis.com/"

// Well-known type URLs accepted and emitted by the codec.
const (
	TypeURLEmpty     = typeURLPrefix + "google.protobuf.Empty"
	TypeURLBool      = typeURLPrefix + "google.protobuf.BoolValue"
	TypeURLInt32     = typeURLPrefix + "google.protobuf.Int32Value"
	TypeURLInt64     = typeURLPrefix + "google.protobuf.Int64Value"
	TypeURLUInt32    = typeURLPrefix + "google.protobuf.UInt32Value"
	TypeURLUInt64    = typeURLPrefix + "google.protobuf.UInt64Value"
	TypeURLFloat     = typeURLPrefix + "google.protobuf.FloatValue"
	TypeURLDouble    = typeURLPrefix + "google.protobuf.DoubleValue"
	TypeURLString    = typeURLPrefix + "google.protobuf.StringValue"
	TypeURLBytes     = typeURLPrefix + "google.protobuf.BytesValue"
	TypeURLTimestamp = typeURLPrefix + "google.protobuf.Timestamp"
)

// Type identifies the variant held by a Value.
type Type uint8

const (
	// TypeNull is the SQL NULL value. Also the zero Value.
	TypeNull Type = iota
	// TypeBool is a boolean.
	TypeBool
	// TypeInt32 is a 32-bit signed integer.
	TypeInt32
	// TypeInt64 is a 64-bit signed integer.
	TypeInt64
	// TypeFloat is a 32-bit IEEE 754 float.
	TypeFloat
	// TypeDouble is a 64-bit IEEE 754 float.
	TypeDouble
	// TypeString is UTF-8 text.
	TypeString
	// TypeBytes is an opaque octet sequence.
	TypeBytes
	// TypeTimestamp is an instant as seconds plus nanos since the Unix epoch.
	TypeTimestamp
)

// String returns the variant name.
func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Value is a database value used as a query parameter or returned from a
// query. It is a tagged union over the nine supported variants; equality is
// structural and values are immutable once constructed.
//
// The zero Value is Null.
type Value struct {
	// num holds the numeric payload: 0/1 for bool, the two's complement
	// bits for integers and timestamp seconds, the IEEE 754 bits for
	// floats. Keeping one word for all numeric variants mirrors the wire
	// encoding, where they all travel as a single scalar field.
	num   uint64
	str   string
	raw   []byte
	nanos int32
	typ   Type
}

// Null returns the SQL NULL value.
func Null() Value {
	return Value{}
}

// Bool returns a boolean value.
func Bool(v bool) Value {
	var n uint64
	if v {
		n = 1
	}
	return Value{typ: TypeBool, num: n}
}

// Int32 returns a 32-bit integer value.
func Int32(v int32) Value {
	return Value{typ: TypeInt32, num: uint64(int64(v))}
}

// Int64 returns a 64-bit integer value.
func Int64(v int64) Value {
	return Value{typ: TypeInt64, num: uint64(v)}
}

// Float returns a 32-bit float value.
func Float(v float32) Value {
	return Value{typ: TypeFloat, num: uint64(math.Float32bits(v))}
}

// Double returns a 64-bit float value.
func Double(v float64) Value {
	return Value{typ: TypeDouble, num: math.Float64bits(v)}
}

// String returns a text value. Each invalid UTF-8 byte is replaced with
// U+FFFD at construction so every encoded string payload is valid UTF-8.
func String(v string) Value {
	if !utf8.ValidString(v) {
		var b strings.Builder
		b.Grow(len(v))
		for _, r := range v {
			b.WriteRune(r)
		}
		v = b.String()
	}
	return Value{typ: TypeString, str: v}
}

// Bytes returns a binary value. The slice is copied; later mutation of v
// does not affect the Value.
func Bytes(v []byte) Value {
	return Value{typ: TypeBytes, raw: append([]byte(nil), v...)}
}

// Timestamp returns an instant value. Nanos outside [0, 1e9) are normalised
// by carrying whole seconds, so Timestamp(9, 2_500_000_000) equals
// Timestamp(11, 500_000_000) and negative nanos borrow from seconds.
func Timestamp(seconds, nanos int64) Value {
	seconds += nanos / int64(time.Second)
	nanos %= int64(time.Second)
	if nanos < 0 {
		nanos += int64(time.Second)
		seconds--
	}
	return Value{typ: TypeTimestamp, num: uint64(seconds), nanos: int32(nanos)}
}

// Time returns a timestamp value for t.
func Time(t time.Time) Value {
	return Timestamp(t.Unix(), int64(t.Nanosecond()))
}

// Type returns the variant held by the value.
func (v Value) Type() Type {
	return v.typ
}

// IsNull reports whether the value is NULL.
func (v Value) IsNull() bool {
	return v.typ == TypeNull
}

// Bool returns the boolean payload, or false for other variants.
func (v Value) Bool() bool {
	return v.typ == TypeBool && v.num != 0
}

// Int32 returns the 32-bit integer payload, or 0 for other variants.
func (v Value) Int32() int32 {
	if v.typ != TypeInt32 {
		return 0
	}
	return int32(int64(v.num))
}

// Int64 returns the 64-bit integer payload, or 0 for other variants.
func (v Value) Int64() int64 {
	if v.typ != TypeInt64 {
		return 0
	}
	return int64(v.num)
}

// Float returns the 32-bit float payload, or 0 for other variants.
func (v Value) Float() float32 {
	if v.typ != TypeFloat {
		return 0
	}
	return math.Float32frombits(uint32(v.num))
}

// Double returns the 64-bit float payload, or 0 for other variants.
func (v Value) Double() float64 {
	if v.typ != TypeDouble {
		return 0
	}
	return math.Float64frombits(v.num)
}

// Text returns the string payload, or "" for other variants.
func (v Value) Text() string {
	if v.typ != TypeString {
		return ""
	}
	return v.str
}

// Blob returns a copy of the binary payload, or nil for other variants.
func (v Value) Blob() []byte {
	if v.typ != TypeBytes {
		return nil
	}
	return append([]byte(nil), v.raw...)
}

// Timestamp returns the instant payload as seconds plus nanos since the Unix
// epoch. Nanos is always within [0, 1e9). Returns (0, 0) for other variants.
func (v Value) Timestamp() (seconds int64, nanos int32) {
	if v.typ != TypeTimestamp {
		return 0, 0
	}
	return int64(v.num), v.nanos
}

// Time returns the instant payload as a time.Time in UTC, or the zero time
// for other variants.
func (v Value) Time() time.Time {
	if v.typ != TypeTimestamp {
		return time.Time{}
	}
	return time.Unix(int64(v.num), int64(v.nanos)).UTC()
}

// Equal reports structural equality. Floats compare by bit pattern, so two
// NaN values with identical bits are equal and round-trips stay exact.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeString:
		return v.str == o.str
	case TypeBytes:
		return bytes.Equal(v.raw, o.raw)
	case TypeTimestamp:
		return v.num == o.num && v.nanos == o.nanos
	default:
		return v.num == o.num
	}
}

// String implements fmt.Stringer for logs and test failure output.
func (v Value) String() string {
	switch v.typ {
	case TypeNull:
		return "NULL"
	case TypeBool:
		return fmt.Sprintf("bool(%t)", v.Bool())
	case TypeInt32:
		return fmt.Sprintf("int32(%d)", v.Int32())
	case TypeInt64:
		return fmt.Sprintf("int64(%d)", v.Int64())
	case TypeFloat:
		return fmt.Sprintf("float(%g)", v.Float())
	case TypeDouble:
		return fmt.Sprintf("double(%g)", v.Double())
	case TypeString:
		return fmt.Sprintf("string(%q)", v.str)
	case TypeBytes:
		return fmt.Sprintf("bytes(%x)", v.raw)
	case TypeTimestamp:
		return fmt.Sprintf("timestamp(%d,%d)", int64(v.num), v.nanos)
	default:
		return "unknown"
	}
}

// Envelope is the self-describing wire form of a single Value: a well-known
// type URL plus the protobuf encoding of that wrapper's single field.
type Envelope struct {
	TypeURL string
	Payload []byte
}

// Encode converts a Value to its wire envelope.
//
// Encoding never fails: every variant has a fixed well-known type URL and a
// deterministic payload. The field-1 scalar is always written, even when it
// holds the wrapper's zero value, so the payload is self-evident without
// proto3 default-elision rules.
func Encode(v Value) Envelope {
	switch v.typ {
	case TypeBool, TypeInt32, TypeInt64:
		b := protowire.AppendTag(nil, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, v.num)
		return Envelope{TypeURL: scalarTypeURL(v.typ), Payload: b}
	case TypeFloat:
		b := protowire.AppendTag(nil, 1, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, uint32(v.num))
		return Envelope{TypeURL: TypeURLFloat, Payload: b}
	case TypeDouble:
		b := protowire.AppendTag(nil, 1, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, v.num)
		return Envelope{TypeURL: TypeURLDouble, Payload: b}
	case TypeString:
		b := protowire.AppendTag(nil, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(v.str))
		return Envelope{TypeURL: TypeURLString, Payload: b}
	case TypeBytes:
		b := protowire.AppendTag(nil, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, v.raw)
		return Envelope{TypeURL: TypeURLBytes, Payload: b}
	case TypeTimestamp:
		b := protowire.AppendTag(nil, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, v.num)
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(v.nanos)))
		return Envelope{TypeURL: TypeURLTimestamp, Payload: b}
	default:
		return Envelope{TypeURL: TypeURLEmpty}
	}
}

func scalarTypeURL(t Type) string {
	switch t {
	case TypeBool:
		return TypeURLBool
	case TypeInt32:
		return TypeURLInt32
	default:
		return TypeURLInt64
	}
}

// Decode converts a wire envelope back to a Value.
//
// The type URL is matched on its final path element, so both bare
// ("google.protobuf.Int64Value") and resolution-prefixed URLs are accepted.
// A zero-length payload decodes to the wrapper's zero value. Invalid UTF-8
// inside a StringValue is replaced with U+FFFD rather than failing; only an
// unknown type URL, a scalar payload whose leading tag is not the expected
// field 1 wire type, or a payload truncated beyond recovery yields a
// TypeConversion error.
func Decode(e Envelope) (Value, error) {
	name := e.TypeURL
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}

	switch name {
	case "google.protobuf.Empty":
		return Null(), nil

	case "google.protobuf.BoolValue":
		n, err := decodeVarintField(e.Payload)
		if err != nil {
			return Value{}, err
		}
		return Bool(n != 0), nil

	case "google.protobuf.Int32Value", "google.protobuf.UInt32Value":
		n, err := decodeVarintField(e.Payload)
		if err != nil {
			return Value{}, err
		}
		return Int32(int32(n)), nil

	case "google.protobuf.Int64Value", "google.protobuf.UInt64Value":
		n, err := decodeVarintField(e.Payload)
		if err != nil {
			return Value{}, err
		}
		return Int64(int64(n)), nil

	case "google.protobuf.FloatValue":
		n, err := decodeFixed32Field(e.Payload)
		if err != nil {
			return Value{}, err
		}
		return Float(math.Float32frombits(n)), nil

	case "google.protobuf.DoubleValue":
		n, err := decodeFixed64Field(e.Payload)
		if err != nil {
			return Value{}, err
		}
		return Double(math.Float64frombits(n)), nil

	case "google.protobuf.StringValue":
		b, err := decodeBytesField(e.Payload)
		if err != nil {
			return Value{}, err
		}
		return String(string(b)), nil

	case "google.protobuf.BytesValue":
		b, err := decodeBytesField(e.Payload)
		if err != nil {
			return Value{}, err
		}
		return Bytes(b), nil

	case "google.protobuf.Timestamp":
		return decodeTimestamp(e.Payload)

	default:
		return Value{}, errors.New(errors.TypeConversion, "decode value",
			fmt.Sprintf("unsupported type url %q", e.TypeURL))
	}
}

// truncated builds the structural-truncation error shared by the field
// decoders below.
func truncated(what string) error {
	return errors.New(errors.TypeConversion, "decode value",
		fmt.Sprintf("truncated %s payload", what))
}

// consumeField1 reads the leading tag and verifies it names field 1 with the
// expected wire type. Returns the remaining payload.
func consumeField1(payload []byte, want protowire.Type, what string) ([]byte, error) {
	num, typ, n := protowire.ConsumeTag(payload)
	if n < 0 {
		return nil, truncated(what)
	}
	if num != 1 || typ != want {
		return nil, errors.New(errors.TypeConversion, "decode value",
			fmt.Sprintf("unexpected field %d wire type %d in %s payload", num, typ, what))
	}
	return payload[n:], nil
}

func decodeVarintField(payload []byte) (uint64, error) {
	if len(payload) == 0 {
		return 0, nil
	}
	rest, err := consumeField1(payload, protowire.VarintType, "varint")
	if err != nil {
		return 0, err
	}
	v, n := protowire.ConsumeVarint(rest)
	if n < 0 {
		return 0, truncated("varint")
	}
	return v, nil
}

func decodeFixed32Field(payload []byte) (uint32, error) {
	if len(payload) == 0 {
		return 0, nil
	}
	rest, err := consumeField1(payload, protowire.Fixed32Type, "fixed32")
	if err != nil {
		return 0, err
	}
	v, n := protowire.ConsumeFixed32(rest)
	if n < 0 {
		return 0, truncated("fixed32")
	}
	return v, nil
}

func decodeFixed64Field(payload []byte) (uint64, error) {
	if len(payload) == 0 {
		return 0, nil
	}
	rest, err := consumeField1(payload, protowire.Fixed64Type, "fixed64")
	if err != nil {
		return 0, err
	}
	v, n := protowire.ConsumeFixed64(rest)
	if n < 0 {
		return 0, truncated("fixed64")
	}
	return v, nil
}

func decodeBytesField(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	rest, err := consumeField1(payload, protowire.BytesType, "length-delimited")
	if err != nil {
		return nil, err
	}
	v, n := protowire.ConsumeBytes(rest)
	if n < 0 {
		return nil, truncated("length-delimited")
	}
	return v, nil
}

// decodeTimestamp walks the payload field by field: seconds in field 1,
// nanos in field 2, anything else skipped. A payload carrying only seconds
// (or nothing at all) is valid; nanos default to zero. Out-of-range nanos
// are normalised by the Timestamp constructor.
func decodeTimestamp(payload []byte) (Value, error) {
	var seconds, nanos int64
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return Value{}, truncated("timestamp")
		}
		payload = payload[n:]

		switch {
		case num == 1 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(payload)
			if m < 0 {
				return Value{}, truncated("timestamp")
			}
			seconds = int64(v)
			payload = payload[m:]
		case num == 2 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(payload)
			if m < 0 {
				return Value{}, truncated("timestamp")
			}
			nanos = int64(v)
			payload = payload[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, payload)
			if m < 0 {
				return Value{}, truncated("timestamp")
			}
			payload = payload[m:]
		}
	}
	return Timestamp(seconds, nanos), nil
}
