package ha

import (
	"time"

	"github.com/litesql/litesql-go/internal/wire"
)

// Value is a database value used as a query parameter or returned from a
// query: one of Null, Bool, Int32, Int64, Float, Double, String, Bytes, or
// Timestamp. The zero Value is Null.
type Value = wire.Value

// Result is the outcome of one statement: column names, rows of Values, and
// the affected-row count for mutations.
type Result = wire.Result

// Null returns the SQL NULL value.
func Null() Value { return wire.Null() }

// Bool returns a boolean value.
func Bool(v bool) Value { return wire.Bool(v) }

// Int32 returns a 32-bit integer value.
func Int32(v int32) Value { return wire.Int32(v) }

// Int64 returns a 64-bit integer value.
func Int64(v int64) Value { return wire.Int64(v) }

// Float returns a 32-bit float value.
func Float(v float32) Value { return wire.Float(v) }

// Double returns a 64-bit float value.
func Double(v float64) Value { return wire.Double(v) }

// String returns a text value; invalid UTF-8 is replaced with U+FFFD.
func String(v string) Value { return wire.String(v) }

// Bytes returns a binary value; the slice is copied.
func Bytes(v []byte) Value { return wire.Bytes(v) }

// Timestamp returns an instant value; nanos outside [0, 1e9) carry into
// seconds.
func Timestamp(seconds, nanos int64) Value { return wire.Timestamp(seconds, nanos) }

// Time returns a timestamp value for t.
func Time(t time.Time) Value { return wire.Time(t) }
