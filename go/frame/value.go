// Package frame models row batches and typed column frames, and infers
// committed column types from untyped JSON values.
package frame

import (
	"fmt"
	"strconv"
	"time"
)

// ColumnType enumerates the committed types a column may take.
type ColumnType int

const (
	// String is plain text, and the fallback for values which match no
	// stricter type.
	String ColumnType = iota
	// Int is a 64-bit signed integer.
	Int
	// Float is a 64-bit float. Columns mixing integers and floats widen
	// to Float.
	Float
	// Bool is a boolean.
	Bool
	// Date is a calendar date, held as days since the Unix epoch.
	Date
	// Timestamp is an instant, held as microseconds since the Unix epoch
	// and normalized to UTC.
	Timestamp
)

func (t ColumnType) String() string {
	switch t {
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Date:
		return "date"
	case Timestamp:
		return "timestamp"
	default:
		return "string"
	}
}

// Value is a tagged scalar cell. The zero Value is null.
type Value struct {
	typ     ColumnType
	defined bool
	// Set when the decoded value was not a supported scalar (a nested
	// object or array). Such values poison their column as mixed.
	invalid bool

	i int64 // Int, Date (days), Timestamp (µs)
	f float64
	b bool
	s string
}

// NullValue returns the null Value.
func NullValue() Value { return Value{} }

// NewInt returns an integer Value.
func NewInt(v int64) Value { return Value{typ: Int, defined: true, i: v} }

// NewFloat returns a float Value.
func NewFloat(v float64) Value { return Value{typ: Float, defined: true, f: v} }

// NewBool returns a boolean Value.
func NewBool(v bool) Value { return Value{typ: Bool, defined: true, b: v} }

// NewString returns a string Value.
func NewString(v string) Value { return Value{typ: String, defined: true, s: v} }

// NewDate returns a date Value of the given days since the Unix epoch.
func NewDate(days int32) Value { return Value{typ: Date, defined: true, i: int64(days)} }

// NewTimestamp returns a timestamp Value of the given microseconds since
// the Unix epoch, UTC.
func NewTimestamp(micros int64) Value { return Value{typ: Timestamp, defined: true, i: micros} }

func newInvalid() Value { return Value{defined: true, invalid: true} }

// IsNull reports whether the Value is null.
func (v Value) IsNull() bool { return !v.defined }

// Type returns the Value's type tag. Meaningless for null values.
func (v Value) Type() ColumnType { return v.typ }

// Int64 returns the integer payload.
func (v Value) Int64() int64 { return v.i }

// Float64 returns the float payload.
func (v Value) Float64() float64 { return v.f }

// Bool returns the boolean payload.
func (v Value) Bool() bool { return v.b }

// Text returns the string payload.
func (v Value) Text() string { return v.s }

// Days returns the date payload as days since the Unix epoch.
func (v Value) Days() int32 { return int32(v.i) }

// Micros returns the timestamp payload as microseconds since the Unix
// epoch, UTC.
func (v Value) Micros() int64 { return v.i }

// Equal reports whether two Values compare equal as merge keys.
// Integers and floats compare numerically across types.
func (v Value) Equal(o Value) bool {
	if v.IsNull() || o.IsNull() {
		return v.IsNull() && o.IsNull()
	}
	if v.invalid || o.invalid {
		return false
	}
	switch v.typ {
	case Int:
		if o.typ == Int {
			return v.i == o.i
		} else if o.typ == Float {
			return float64(v.i) == o.f
		}
	case Float:
		if o.typ == Float {
			return v.f == o.f
		} else if o.typ == Int {
			return v.f == float64(o.i)
		}
	case Bool:
		return o.typ == Bool && v.b == o.b
	case String:
		return o.typ == String && v.s == o.s
	case Date:
		return o.typ == Date && v.i == o.i
	case Timestamp:
		return o.typ == Timestamp && v.i == o.i
	}
	return false
}

// keyEncode appends a canonical encoding of the Value for use as part of
// a composite join key. Numerically equal integers and floats encode
// identically.
func (v Value) keyEncode(b []byte) []byte {
	switch {
	case v.IsNull():
		return append(b, "_:"...)
	case v.typ == Int:
		b = append(b, "n:"...)
		return strconv.AppendInt(b, v.i, 10)
	case v.typ == Float:
		b = append(b, "n:"...)
		return strconv.AppendFloat(b, v.f, 'g', -1, 64)
	case v.typ == Bool:
		b = append(b, "b:"...)
		return strconv.AppendBool(b, v.b)
	case v.typ == Date:
		b = append(b, "d:"...)
		return strconv.AppendInt(b, v.i, 10)
	case v.typ == Timestamp:
		b = append(b, "t:"...)
		return strconv.AppendInt(b, v.i, 10)
	default:
		b = append(b, "s:"...)
		return strconv.AppendQuote(b, v.s)
	}
}

// Key encodes values as one composite join key. Numerically equal
// integer and float keys encode identically.
func Key(vals ...Value) string {
	var b []byte
	for _, v := range vals {
		b = v.keyEncode(b)
		b = append(b, 0)
	}
	return string(b)
}

// GoString renders the Value for test failure messages.
func (v Value) GoString() string {
	switch {
	case v.IsNull():
		return "null"
	case v.typ == Int:
		return strconv.FormatInt(v.i, 10)
	case v.typ == Float:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case v.typ == Bool:
		return strconv.FormatBool(v.b)
	case v.typ == Date:
		return time.Unix(v.i*86400, 0).UTC().Format("2006-01-02")
	case v.typ == Timestamp:
		return time.UnixMicro(v.i).UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%q", v.s)
	}
}
