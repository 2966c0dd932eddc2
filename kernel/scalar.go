package kernel

import (
	"fmt"
	"strconv"
	"strings"
)

// ScalarType is the device-side type of a scalar argument
type ScalarType int

const (
	Int32 ScalarType = iota + 1
	Uint32
	Int64
	Uint64
	Float32
	Float64
)

// Size returns the size in bytes of the type
func (st ScalarType) Size() int {
	switch st {
	case Int32, Uint32, Float32:
		return 4
	default:
		return 8
	}
}

// CName returns the C type name used in kernel signatures
func (st ScalarType) CName() string {
	switch st {
	case Int32:
		return "int"
	case Uint32:
		return "unsigned"
	case Int64:
		return "long long"
	case Uint64:
		return "unsigned long long"
	case Float32:
		return "float"
	case Float64:
		return "double"
	default:
		return "void"
	}
}

func (st ScalarType) String() string {
	switch st {
	case Int32:
		return "int32"
	case Uint32:
		return "uint32"
	case Int64:
		return "int64"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("ScalarType(%d)", int(st))
	}
}

// ParseScalarType accepts the String form of a type, or its C name
func ParseScalarType(s string) (ScalarType, error) {
	for st := Int32; st <= Float64; st++ {
		if s == st.String() || s == st.CName() {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown scalar type %q", s)
}

// Parse converts raw text to a Go value of the matching width
func (st ScalarType) Parse(raw string) (interface{}, error) {
	raw = strings.TrimSpace(raw)
	switch st {
	case Int32:
		v, err := strconv.ParseInt(raw, 0, 32)
		return int32(v), err
	case Uint32:
		v, err := strconv.ParseUint(raw, 0, 32)
		return uint32(v), err
	case Int64:
		v, err := strconv.ParseInt(raw, 0, 64)
		return v, err
	case Uint64:
		v, err := strconv.ParseUint(raw, 0, 64)
		return v, err
	case Float32:
		v, err := strconv.ParseFloat(raw, 32)
		return float32(v), err
	case Float64:
		v, err := strconv.ParseFloat(raw, 64)
		return v, err
	default:
		return nil, fmt.Errorf("cannot parse values of %v", st)
	}
}

// FromCount converts an element count to a value of this type
func (st ScalarType) FromCount(n int) (interface{}, error) {
	switch st {
	case Int32:
		return int32(n), nil
	case Uint32:
		return uint32(n), nil
	case Int64:
		return int64(n), nil
	case Uint64:
		return uint64(n), nil
	default:
		return nil, fmt.Errorf("a count cannot be a %v", st)
	}
}

// TypeOfValue returns the ScalarType of a parsed value, or 0
func TypeOfValue(v interface{}) ScalarType {
	switch v.(type) {
	case int32:
		return Int32
	case uint32:
		return Uint32
	case int64:
		return Int64
	case uint64:
		return Uint64
	case float32:
		return Float32
	case float64:
		return Float64
	default:
		return 0
	}
}

// AsCount interprets an integral scalar value as a non-negative count
func AsCount(v interface{}) (uint64, error) {
	switch x := v.(type) {
	case int32:
		if x < 0 {
			return 0, fmt.Errorf("negative count %d", x)
		}
		return uint64(x), nil
	case uint32:
		return uint64(x), nil
	case int64:
		if x < 0 {
			return 0, fmt.Errorf("negative count %d", x)
		}
		return uint64(x), nil
	case uint64:
		return x, nil
	default:
		return 0, fmt.Errorf("value of type %T is not a count", v)
	}
}
