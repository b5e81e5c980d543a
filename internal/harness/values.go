package harness

import (
	"fmt"
	"math"

	"github.com/roach88/uabridge/internal/wire"
)

// convertValue turns a YAML scalar into the exact Go type of kind.
func convertValue(kind wire.Kind, v any) (any, error) {
	switch kind {
	case wire.KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("boolean value expected, got %T", v)
		}
		return b, nil
	case wire.KindSByte:
		return toInteger[int8](v, math.MinInt8, math.MaxInt8)
	case wire.KindByte:
		return toInteger[uint8](v, 0, math.MaxUint8)
	case wire.KindInt16:
		return toInteger[int16](v, math.MinInt16, math.MaxInt16)
	case wire.KindUInt16:
		return toInteger[uint16](v, 0, math.MaxUint16)
	case wire.KindInt32:
		return toInteger[int32](v, math.MinInt32, math.MaxInt32)
	case wire.KindUInt32:
		return toInteger[uint32](v, 0, math.MaxUint32)
	case wire.KindInt64:
		return toInteger[int64](v, math.MinInt64, math.MaxInt64)
	case wire.KindUInt64:
		if u, ok := v.(uint64); ok {
			return u, nil
		}
		return toInteger[uint64](v, 0, math.MaxInt64)
	case wire.KindFloat:
		f, err := toFloat(v)
		return float32(f), err
	case wire.KindDouble:
		return toFloat(v)
	case wire.KindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("string value expected, got %T", v)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %d", wire.ErrUnknownKind, uint8(kind))
	}
}

type integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func toInteger[T integer](v any, lo, hi int64) (T, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int64:
		n = x
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("value %d out of range", x)
		}
		n = int64(x)
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("integer value expected, got %v", x)
		}
		n = int64(x)
	default:
		return 0, fmt.Errorf("integer value expected, got %T", v)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("value %d out of range [%d, %d]", n, lo, hi)
	}
	return T(n), nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("numeric value expected, got %T", v)
	}
}
