package resp

import (
	"math"
	"strconv"
)

var (
	okValue   = MakeSimpleString("OK")
	nullBulk  = Value{Type: TypeBulkString, IsNull: true}
	nullArray = Value{Type: TypeArray, IsNull: true}
)

// MakeSimpleString construct SimpleString Value from string
func MakeSimpleString(s string) Value {
	return Value{
		Type:   TypeSimpleString,
		String: []byte(s),
	}
}

// MakeOK returns the +OK status reply
func MakeOK() Value {
	return okValue
}

// MakeError construct Error Value from string
func MakeError(s string) Value {
	return Value{
		Type:   TypeError,
		String: []byte(s),
	}
}

// MakeBulkString construct BulkString Value from string
func MakeBulkString(s string) Value {
	return Value{
		Type:   TypeBulkString,
		String: []byte(s),
	}
}

// MakeBulkBytes construct BulkString Value from raw bytes without copying
func MakeBulkBytes(b []byte) Value {
	return Value{
		Type:   TypeBulkString,
		String: b,
	}
}

// MakeBulkFloat formats f the way scores and INCRBYFLOAT results are shown
func MakeBulkFloat(f float64) Value {
	switch {
	case math.IsInf(f, 1):
		return MakeBulkString("inf")
	case math.IsInf(f, -1):
		return MakeBulkString("-inf")
	}
	return MakeBulkString(strconv.FormatFloat(f, 'f', -1, 64))
}

// MakeNilBulkString construct nil BulkSting Value
func MakeNilBulkString() Value {
	return nullBulk
}

// MakeNilArray construct nil Array Value
func MakeNilArray() Value {
	return nullArray
}

// MakeInteger construct Integer Value from int64
func MakeInteger(n int64) Value {
	return Value{
		Type:    TypeInteger,
		Integer: n,
	}
}

// MakeBool maps true/false onto the integer replies 1/0
func MakeBool(b bool) Value {
	if b {
		return MakeInteger(1)
	}
	return MakeInteger(0)
}

// MakeArray creates a standard RESP array containing the provided elements
func MakeArray(values []Value) Value {
	return Value{
		Type:  TypeArray,
		Array: values,
	}
}

// MakeBulkArray creates an array of bulk strings
func MakeBulkArray(items []string) Value {
	vals := make([]Value, len(items))
	for i, s := range items {
		vals[i] = MakeBulkString(s)
	}
	return MakeArray(vals)
}
