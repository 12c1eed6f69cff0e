// Package value defines ScalarValue, the tagged union of leaf values a
// document can hold, and ObjType, the three container kinds (Map, List,
// Text). Both types are immutable once constructed.
//
// Equality on ScalarValue is structural; floats compare by bit pattern
// (not IEEE equality) so that NaN and signed zero participate
// deterministically in conflict-resolution tie-breaks (spec §4.2).
package value

import (
	"bytes"
	"fmt"
	"math"
)

// Kind tags which variant of ScalarValue is populated.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindF64
	KindStr
	KindBytes
	KindTimestamp
	KindCounter
)

// String renders a Kind name, used in WrongType error messages.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindF64:
		return "f64"
	case KindStr:
		return "str"
	case KindBytes:
		return "bytes"
	case KindTimestamp:
		return "timestamp"
	case KindCounter:
		return "counter"
	default:
		return "unknown"
	}
}

// ObjType names the three container kinds a Make operation can create.
type ObjType uint8

const (
	ObjMap ObjType = iota
	ObjList
	ObjText
)

// String renders an ObjType name.
func (t ObjType) String() string {
	switch t {
	case ObjMap:
		return "map"
	case ObjList:
		return "list"
	case ObjText:
		return "text"
	default:
		return "unknown"
	}
}

// ScalarValue is the tagged union of leaf values: Null, Bool, Int, Uint,
// F64, Str, Bytes, Timestamp, Counter (spec §3). Counter is distinguished
// from Int because it is the only variant an Increment op may target.
//
// Example:
//
//	v := value.Str("hello")
//	v2 := value.Counter(10)
//	v2, _ = v2.IncrementBy(5) // Counter(15)
type ScalarValue struct {
	kind  Kind
	b     bool
	i     int64
	u     uint64
	f     float64
	bytes []byte // backs both Str (UTF-8) and Bytes
}

// Null is the absence of a value.
var Null = ScalarValue{kind: KindNull}

// Bool constructs a boolean scalar.
func Bool(b bool) ScalarValue { return ScalarValue{kind: KindBool, b: b} }

// Int constructs a signed-integer scalar.
func Int(i int64) ScalarValue { return ScalarValue{kind: KindInt, i: i} }

// Uint constructs an unsigned-integer scalar.
func Uint(u uint64) ScalarValue { return ScalarValue{kind: KindUint, u: u} }

// F64 constructs a float scalar.
func F64(f float64) ScalarValue { return ScalarValue{kind: KindF64, f: f} }

// Str constructs a UTF-8 string scalar. The byte count + pointer is the
// contract (spec §6: "Implementations must not use C-string termination");
// in Go this is simply a string/[]byte, which already carries no
// terminator, so the contract is free.
func Str(s string) ScalarValue {
	return ScalarValue{kind: KindStr, bytes: []byte(s)}
}

// Bytes constructs an opaque byte-string scalar. The slice is copied.
func Bytes(b []byte) ScalarValue {
	cp := make([]byte, len(b))
	copy(cp, b)
	return ScalarValue{kind: KindBytes, bytes: cp}
}

// Timestamp constructs a millisecond (or any caller-chosen unit, per the
// host's convention) epoch timestamp scalar.
func Timestamp(t int64) ScalarValue { return ScalarValue{kind: KindTimestamp, i: t} }

// Counter constructs a counter scalar: an integer that additionally
// supports local Increment semantics.
func Counter(c int64) ScalarValue { return ScalarValue{kind: KindCounter, i: c} }

// Kind reports which variant is populated.
func (v ScalarValue) Kind() Kind { return v.kind }

// IsNull reports whether this is the Null variant.
func (v ScalarValue) IsNull() bool { return v.kind == KindNull }

// AsBool returns the bool payload and whether the kind matched.
func (v ScalarValue) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the int64 payload and whether the kind matched.
func (v ScalarValue) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsUint returns the uint64 payload and whether the kind matched.
func (v ScalarValue) AsUint() (uint64, bool) { return v.u, v.kind == KindUint }

// AsF64 returns the float64 payload and whether the kind matched.
func (v ScalarValue) AsF64() (float64, bool) { return v.f, v.kind == KindF64 }

// AsStr returns the string payload and whether the kind matched.
func (v ScalarValue) AsStr() (string, bool) {
	if v.kind != KindStr {
		return "", false
	}
	return string(v.bytes), true
}

// AsBytes returns the byte payload and whether the kind matched. The
// caller must not mutate the returned slice.
func (v ScalarValue) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.bytes, true
}

// AsTimestamp returns the timestamp payload and whether the kind matched.
func (v ScalarValue) AsTimestamp() (int64, bool) { return v.i, v.kind == KindTimestamp }

// AsCounter returns the counter payload and whether the kind matched.
func (v ScalarValue) AsCounter() (int64, bool) { return v.i, v.kind == KindCounter }

// IncrementBy returns a new Counter scalar with delta added. Returns an
// error if called on a non-Counter value (spec §6: WrongType, "increment
// on non-counter").
func (v ScalarValue) IncrementBy(delta int64) (ScalarValue, error) {
	if v.kind != KindCounter {
		return ScalarValue{}, fmt.Errorf("value: increment target must be Counter, got %s", v.kind)
	}
	return Counter(v.i + delta), nil
}

// Equal reports structural equality. Floats compare by bit pattern for
// deterministic tie-breaks (spec §4.2), not IEEE ==, so NaN == NaN here.
func (v ScalarValue) Equal(other ScalarValue) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt, KindTimestamp, KindCounter:
		return v.i == other.i
	case KindUint:
		return v.u == other.u
	case KindF64:
		return math.Float64bits(v.f) == math.Float64bits(other.f)
	case KindStr, KindBytes:
		return bytes.Equal(v.bytes, other.bytes)
	default:
		return false
	}
}

// String renders a ScalarValue for diagnostics.
func (v ScalarValue) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindUint:
		return fmt.Sprintf("%d", v.u)
	case KindF64:
		return fmt.Sprintf("%g", v.f)
	case KindStr:
		return fmt.Sprintf("%q", string(v.bytes))
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.bytes))
	case KindTimestamp:
		return fmt.Sprintf("ts(%d)", v.i)
	case KindCounter:
		return fmt.Sprintf("counter(%d)", v.i)
	default:
		return "?"
	}
}
