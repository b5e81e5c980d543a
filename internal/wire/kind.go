package wire

import (
	"fmt"
	"strings"
)

// Kind identifies the scalar type of a bridged variable.
// Values match the OPC UA data type kinds the controller runtime sends.
type Kind uint8

const (
	KindBoolean Kind = iota
	KindSByte
	KindByte
	KindInt16
	KindUInt16
	KindInt32
	KindUInt32
	KindInt64
	KindUInt64
	KindFloat
	KindDouble
	KindString

	// kindCount is the number of supported kinds. Anything >= kindCount is rejected.
	kindCount
)

var kindNames = [kindCount]string{
	KindBoolean: "boolean",
	KindSByte:   "sbyte",
	KindByte:    "byte",
	KindInt16:   "int16",
	KindUInt16:  "uint16",
	KindInt32:   "int32",
	KindUInt32:  "uint32",
	KindInt64:   "int64",
	KindUInt64:  "uint64",
	KindFloat:   "float",
	KindDouble:  "double",
	KindString:  "string",
}

// Kinds returns every supported kind in wire order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Valid reports whether k is one of the twelve supported kinds.
func (k Kind) Valid() bool {
	return k < kindCount
}

// Numeric reports whether deadband filtering applies to k.
func (k Kind) Numeric() bool {
	return k.Valid() && k != KindBoolean && k != KindString
}

// Width is the number of payload bytes a value of kind k occupies.
// Strings use the whole value field.
func (k Kind) Width() int {
	switch k {
	case KindBoolean, KindSByte, KindByte:
		return 1
	case KindInt16, KindUInt16:
		return 2
	case KindInt32, KindUInt32, KindFloat:
		return 4
	case KindInt64, KindUInt64, KindDouble:
		return 8
	case KindString:
		return ValueLen
	default:
		return 0
	}
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// ParseKind resolves a kind by name (case-insensitive).
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Access is the access mode requested for a variable.
type Access uint8

const (
	AccessRead      Access = 1
	AccessWrite     Access = 2
	AccessReadWrite Access = 3
)

// Valid reports whether a is a known access mode.
func (a Access) Valid() bool {
	return a >= AccessRead && a <= AccessReadWrite
}

func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessReadWrite:
		return "readwrite"
	default:
		return fmt.Sprintf("access(%d)", uint8(a))
	}
}

// ParseAccess resolves an access mode by name.
func ParseAccess(s string) (Access, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read", "r":
		return AccessRead, nil
	case "write", "w":
		return AccessWrite, nil
	case "readwrite", "read-write", "rw":
		return AccessReadWrite, nil
	default:
		return 0, fmt.Errorf("unknown access mode %q", s)
	}
}
