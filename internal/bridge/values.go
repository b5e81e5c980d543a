package bridge

import (
	"fmt"
	"strconv"

	"github.com/gopcua/opcua/ua"

	"github.com/roach88/uabridge/internal/wire"
)

var typeIDs = map[wire.Kind]ua.TypeID{
	wire.KindBoolean: ua.TypeIDBoolean,
	wire.KindSByte:   ua.TypeIDSByte,
	wire.KindByte:    ua.TypeIDByte,
	wire.KindInt16:   ua.TypeIDInt16,
	wire.KindUInt16:  ua.TypeIDUint16,
	wire.KindInt32:   ua.TypeIDInt32,
	wire.KindUInt32:  ua.TypeIDUint32,
	wire.KindInt64:   ua.TypeIDInt64,
	wire.KindUInt64:  ua.TypeIDUint64,
	wire.KindFloat:   ua.TypeIDFloat,
	wire.KindDouble:  ua.TypeIDDouble,
	wire.KindString:  ua.TypeIDString,
}

// TypeIDOf returns the OPC UA built-in type of kind.
func TypeIDOf(kind wire.Kind) (ua.TypeID, bool) {
	t, ok := typeIDs[kind]
	return t, ok
}

// KindOfType is the inverse of TypeIDOf.
func KindOfType(t ua.TypeID) (wire.Kind, bool) {
	for k, id := range typeIDs {
		if id == t {
			return k, true
		}
	}
	return 0, false
}

// VariantFromRaw decodes a value field as kind. overflow reports an
// unterminated string field, which is cut to fit.
func VariantFromRaw(kind wire.Kind, raw *[wire.ValueLen]byte) (v *ua.Variant, overflow bool, err error) {
	val, overflow, err := wire.DecodeValue(kind, raw)
	if err != nil {
		return nil, false, err
	}
	v, err = ua.NewVariant(val)
	if err != nil {
		return nil, false, fmt.Errorf("%s value: %w", kind, err)
	}
	return v, overflow, nil
}

// RawFromVariant packs a variant into a value field as kind. Strings longer
// than the field allows are cut and truncated is reported.
func RawFromVariant(kind wire.Kind, v *ua.Variant) (raw [wire.ValueLen]byte, truncated bool, err error) {
	if v == nil {
		return raw, false, fmt.Errorf("%w: nil variant", wire.ErrValueType)
	}
	return wire.EncodeValue(kind, v.Value())
}

// AccessLevel maps a controller access mode to OPC UA access level bits.
func AccessLevel(a wire.Access) ua.AccessLevelType {
	var lvl ua.AccessLevelType
	if a&wire.AccessRead != 0 {
		lvl |= ua.AccessLevelTypeCurrentRead
	}
	if a&wire.AccessWrite != 0 {
		lvl |= ua.AccessLevelTypeCurrentWrite
	}
	return lvl
}

// FormatValue renders a variant for logs and the journal.
func FormatValue(v *ua.Variant) string {
	if v == nil {
		return ""
	}
	switch x := v.Value().(type) {
	case string:
		return strconv.Quote(x)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
