package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnknownKind is returned for kind bytes outside the supported set.
	ErrUnknownKind = errors.New("unknown variable kind")

	// ErrValueType is returned when a Go value does not match the requested kind.
	ErrValueType = errors.New("value does not match kind")
)

// EncodeValue packs v into a value field. v must have the exact Go type of
// kind (bool, int8, uint8, int16, uint16, int32, uint32, int64, uint64,
// float32, float64, string). Strings longer than ValueLen-1 bytes are cut and
// truncated is reported.
func EncodeValue(kind Kind, v any) (raw [ValueLen]byte, truncated bool, err error) {
	if !kind.Valid() {
		return raw, false, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(kind))
	}

	le := binary.LittleEndian
	ok := true
	switch kind {
	case KindBoolean:
		var b bool
		if b, ok = v.(bool); ok && b {
			raw[0] = 1
		}
	case KindSByte:
		var x int8
		if x, ok = v.(int8); ok {
			raw[0] = byte(x)
		}
	case KindByte:
		var x uint8
		if x, ok = v.(uint8); ok {
			raw[0] = x
		}
	case KindInt16:
		var x int16
		if x, ok = v.(int16); ok {
			le.PutUint16(raw[:], uint16(x))
		}
	case KindUInt16:
		var x uint16
		if x, ok = v.(uint16); ok {
			le.PutUint16(raw[:], x)
		}
	case KindInt32:
		var x int32
		if x, ok = v.(int32); ok {
			le.PutUint32(raw[:], uint32(x))
		}
	case KindUInt32:
		var x uint32
		if x, ok = v.(uint32); ok {
			le.PutUint32(raw[:], x)
		}
	case KindInt64:
		var x int64
		if x, ok = v.(int64); ok {
			le.PutUint64(raw[:], uint64(x))
		}
	case KindUInt64:
		var x uint64
		if x, ok = v.(uint64); ok {
			le.PutUint64(raw[:], x)
		}
	case KindFloat:
		var x float32
		if x, ok = v.(float32); ok {
			le.PutUint32(raw[:], math.Float32bits(x))
		}
	case KindDouble:
		var x float64
		if x, ok = v.(float64); ok {
			le.PutUint64(raw[:], math.Float64bits(x))
		}
	case KindString:
		var s string
		if s, ok = v.(string); ok {
			truncated = PutString(raw[:], s)
		}
	}
	if !ok {
		return raw, false, fmt.Errorf("%w: %s wants %s, got %T", ErrValueType, kind, goTypeName(kind), v)
	}
	return raw, truncated, nil
}

// DecodeValue unpacks a value field as kind. For strings, overflow reports a
// field without a NUL terminator; the field is truncated in place.
func DecodeValue(kind Kind, raw *[ValueLen]byte) (v any, overflow bool, err error) {
	le := binary.LittleEndian
	switch kind {
	case KindBoolean:
		return raw[0] != 0, false, nil
	case KindSByte:
		return int8(raw[0]), false, nil
	case KindByte:
		return raw[0], false, nil
	case KindInt16:
		return int16(le.Uint16(raw[:])), false, nil
	case KindUInt16:
		return le.Uint16(raw[:]), false, nil
	case KindInt32:
		return int32(le.Uint32(raw[:])), false, nil
	case KindUInt32:
		return le.Uint32(raw[:]), false, nil
	case KindInt64:
		return int64(le.Uint64(raw[:])), false, nil
	case KindUInt64:
		return le.Uint64(raw[:]), false, nil
	case KindFloat:
		return math.Float32frombits(le.Uint32(raw[:])), false, nil
	case KindDouble:
		return math.Float64frombits(le.Uint64(raw[:])), false, nil
	case KindString:
		s, overflow := Terminated(raw[:])
		return s, overflow, nil
	default:
		return nil, false, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(kind))
	}
}

// KindOf returns the kind matching the dynamic Go type of v.
func KindOf(v any) (Kind, bool) {
	switch v.(type) {
	case bool:
		return KindBoolean, true
	case int8:
		return KindSByte, true
	case uint8:
		return KindByte, true
	case int16:
		return KindInt16, true
	case uint16:
		return KindUInt16, true
	case int32:
		return KindInt32, true
	case uint32:
		return KindUInt32, true
	case int64:
		return KindInt64, true
	case uint64:
		return KindUInt64, true
	case float32:
		return KindFloat, true
	case float64:
		return KindDouble, true
	case string:
		return KindString, true
	default:
		return 0, false
	}
}

func goTypeName(k Kind) string {
	switch k {
	case KindBoolean:
		return "bool"
	case KindSByte:
		return "int8"
	case KindByte:
		return "uint8"
	case KindUInt16:
		return "uint16"
	case KindUInt32:
		return "uint32"
	case KindUInt64:
		return "uint64"
	case KindFloat:
		return "float32"
	case KindDouble:
		return "float64"
	default:
		return k.String()
	}
}
