package wire

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncodeValue_Kinds(t *testing.T) {
	tests := []struct {
		kind Kind
		v    any
	}{
		{KindBoolean, true},
		{KindBoolean, false},
		{KindSByte, int8(-5)},
		{KindByte, uint8(250)},
		{KindInt16, int16(-32000)},
		{KindUInt16, uint16(65000)},
		{KindInt32, int32(-7)},
		{KindUInt32, uint32(4000000000)},
		{KindInt64, int64(math.MinInt64)},
		{KindUInt64, uint64(math.MaxUint64)},
		{KindFloat, float32(-3.5)},
		{KindDouble, 1e300},
		{KindString, "hello"},
		{KindString, ""},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			raw, truncated, err := EncodeValue(tt.kind, tt.v)
			require.NoError(t, err)
			assert.False(t, truncated)

			got, overflow, err := DecodeValue(tt.kind, &raw)
			require.NoError(t, err)
			assert.False(t, overflow)
			assert.Equal(t, tt.v, got)

			k, ok := KindOf(tt.v)
			require.True(t, ok)
			assert.Equal(t, tt.kind, k)
		})
	}
}

func TestEncodeValue_LittleEndian(t *testing.T) {
	raw, _, err := EncodeValue(KindUInt32, uint32(0x01020304))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01, 0x00}, raw[:5])
}

func TestEncodeValue_TypeMismatch(t *testing.T) {
	_, _, err := EncodeValue(KindInt16, int32(1))
	assert.ErrorIs(t, err, ErrValueType)

	_, _, err = EncodeValue(KindString, []byte("x"))
	assert.ErrorIs(t, err, ErrValueType)
}

func TestEncodeValue_UnknownKind(t *testing.T) {
	_, _, err := EncodeValue(Kind(200), true)
	assert.ErrorIs(t, err, ErrUnknownKind)

	var raw [ValueLen]byte
	_, _, err = DecodeValue(Kind(12), &raw)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestEncodeValue_StringTruncation(t *testing.T) {
	raw, truncated, err := EncodeValue(KindString, strings.Repeat("s", ValueLen))
	require.NoError(t, err)
	assert.True(t, truncated)

	v, overflow, err := DecodeValue(KindString, &raw)
	require.NoError(t, err)
	assert.False(t, overflow)
	assert.Equal(t, strings.Repeat("s", ValueLen-1), v)
}

func TestDecodeValue_StringOverflow(t *testing.T) {
	var raw [ValueLen]byte
	copy(raw[:], strings.Repeat("z", ValueLen))

	v, overflow, err := DecodeValue(KindString, &raw)
	require.NoError(t, err)
	assert.True(t, overflow)
	assert.Equal(t, strings.Repeat("z", ValueLen-1), v)
}

func TestKindOf_Unsupported(t *testing.T) {
	_, ok := KindOf(42)
	assert.False(t, ok)
	_, ok = KindOf(nil)
	assert.False(t, ok)
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(strings.ToUpper(k.String()))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("decimal")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestKindPredicates(t *testing.T) {
	assert.Len(t, Kinds(), 12)
	assert.False(t, KindBoolean.Numeric())
	assert.False(t, KindString.Numeric())
	assert.True(t, KindDouble.Numeric())
	assert.True(t, KindSByte.Numeric())
	assert.False(t, Kind(12).Valid())
	assert.Equal(t, 8, KindInt64.Width())
	assert.Equal(t, ValueLen, KindString.Width())
}

func TestParseAccess(t *testing.T) {
	for in, want := range map[string]Access{
		"read":      AccessRead,
		"W":         AccessWrite,
		"rw":        AccessReadWrite,
		"readwrite": AccessReadWrite,
	} {
		got, err := ParseAccess(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAccess("none")
	assert.Error(t, err)
}

func TestWriteRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		kind := rapid.SampledFrom(Kinds()).Draw(t, "kind")
		v := drawValue(t, kind)
		name := rapid.StringMatching(`[A-Za-z][A-Za-z0-9_]{0,30}`).Draw(t, "name")
		slot := rapid.Uint16().Draw(t, "slot")

		w, err := NewWrite(name, kind, slot, v)
		if err != nil {
			t.Fatalf("NewWrite: %v", err)
		}
		b := Encode(w)
		if len(b) != WriteSize {
			t.Fatalf("encoded %d bytes", len(b))
		}

		msg, err := Decode(b)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		got := msg.(*Write)
		gotName, overflow := got.VariableName()
		if overflow || gotName != name {
			t.Fatalf("name %q overflow=%v, want %q", gotName, overflow, name)
		}
		if got.Slot != slot || got.Kind != kind {
			t.Fatalf("slot/kind mismatch: %d/%s", got.Slot, got.Kind)
		}
		gotV, _, err := DecodeValue(kind, &got.Value)
		if err != nil {
			t.Fatalf("DecodeValue: %v", err)
		}
		if !sameValue(v, gotV) {
			t.Fatalf("value %v != %v", gotV, v)
		}
	})
}

func TestDecode_ArbitraryBytes_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.SliceOfN(rapid.Byte(), 0, 200).Draw(t, "bytes")
		msg, err := Decode(b)
		if err != nil {
			if msg != nil {
				t.Fatalf("message returned with error %v", err)
			}
			return
		}
		if SizeOf(msg.Tag()) != len(b) {
			t.Fatalf("accepted %d bytes as %s", len(b), msg.Tag())
		}
	})
}

func drawValue(t *rapid.T, kind Kind) any {
	switch kind {
	case KindBoolean:
		return rapid.Bool().Draw(t, "v")
	case KindSByte:
		return rapid.Int8().Draw(t, "v")
	case KindByte:
		return rapid.Uint8().Draw(t, "v")
	case KindInt16:
		return rapid.Int16().Draw(t, "v")
	case KindUInt16:
		return rapid.Uint16().Draw(t, "v")
	case KindInt32:
		return rapid.Int32().Draw(t, "v")
	case KindUInt32:
		return rapid.Uint32().Draw(t, "v")
	case KindInt64:
		return rapid.Int64().Draw(t, "v")
	case KindUInt64:
		return rapid.Uint64().Draw(t, "v")
	case KindFloat:
		return rapid.Float32().Draw(t, "v")
	case KindDouble:
		return rapid.Float64().Draw(t, "v")
	default:
		return rapid.StringMatching(`[ -~]{0,31}`).Draw(t, "v")
	}
}

// sameValue compares decoded values, treating NaN as equal to itself.
func sameValue(a, b any) bool {
	switch x := a.(type) {
	case float32:
		y, ok := b.(float32)
		return ok && (x == y || (x != x && y != y))
	case float64:
		y, ok := b.(float64)
		return ok && (x == y || (x != x && y != y))
	default:
		return a == b
	}
}
