package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Tag is the first byte of every record.
type Tag uint8

const (
	TagStart    Tag = 0xFA
	TagRegister Tag = 0xFB
	TagEnd      Tag = 0xFC
	TagWrite    Tag = 0xFD
	TagShutdown Tag = 0xFE
)

func (t Tag) String() string {
	switch t {
	case TagStart:
		return "start"
	case TagRegister:
		return "register"
	case TagEnd:
		return "end"
	case TagWrite:
		return "write"
	case TagShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("tag(0x%02X)", uint8(t))
	}
}

// Field sizes.
const (
	NameLen        = 32
	DescriptionLen = 64
	ValueLen       = 32
)

// Record sizes.
const (
	ControlSize  = 1
	RegisterSize = 1 + 1 + NameLen + DescriptionLen + 1 + ValueLen + 8 + 2 + 2
	WriteSize    = 1 + 2 + 1 + NameLen + ValueLen
)

// Register field offsets.
const (
	regKind     = 1
	regName     = regKind + 1
	regDesc     = regName + NameLen
	regAccess   = regDesc + DescriptionLen
	regValue    = regAccess + 1
	regDeadband = regValue + ValueLen
	regSlot     = regDeadband + 8
	regCapacity = regSlot + 2
)

// Write field offsets.
const (
	wrSlot  = 1
	wrKind  = wrSlot + 2
	wrName  = wrKind + 1
	wrValue = wrName + NameLen
)

var (
	// ErrUnknownTag is returned for records whose first byte is not a known tag.
	ErrUnknownTag = errors.New("unknown message tag")

	// ErrSize is wrapped by DecodeError when a record length does not match its tag.
	ErrSize = errors.New("message size mismatch")

	// ErrEmpty is returned when decoding a zero-length record.
	ErrEmpty = errors.New("empty message")
)

// DecodeError reports a record whose length does not match the static size of its tag.
type DecodeError struct {
	Tag  Tag
	Want int
	Got  int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s record is %d bytes, got %d", ErrSize, e.Tag, e.Want, e.Got)
}

func (e *DecodeError) Unwrap() error {
	return ErrSize
}

// Message is one of Start, Register, End, Write or Shutdown.
type Message interface {
	Tag() Tag
}

// Start opens a registration session.
type Start struct{}

// End closes a registration session.
type End struct{}

// Shutdown asks the bridge to tear down.
type Shutdown struct{}

func (Start) Tag() Tag    { return TagStart }
func (End) Tag() Tag      { return TagEnd }
func (Shutdown) Tag() Tag { return TagShutdown }

// Register announces one controller variable.
// Fixed arrays are kept raw so string overflow can be detected on receipt.
type Register struct {
	Kind        Kind
	Name        [NameLen]byte
	Description [DescriptionLen]byte
	Access      Access
	Value       [ValueLen]byte
	Deadband    float64
	Slot        uint16
	Capacity    uint16
}

func (*Register) Tag() Tag { return TagRegister }

// VariableName returns the NUL-bounded name and whether it overflowed.
func (r *Register) VariableName() (string, bool) {
	return Terminated(r.Name[:])
}

// VariableDescription returns the NUL-bounded description and whether it overflowed.
func (r *Register) VariableDescription() (string, bool) {
	return Terminated(r.Description[:])
}

// Write carries one variable value in either direction.
type Write struct {
	Slot  uint16
	Kind  Kind
	Name  [NameLen]byte
	Value [ValueLen]byte
}

func (*Write) Tag() Tag { return TagWrite }

// VariableName returns the NUL-bounded name and whether it overflowed.
func (w *Write) VariableName() (string, bool) {
	return Terminated(w.Name[:])
}

// SizeOf returns the static record size for t, or 0 for unknown tags.
func SizeOf(t Tag) int {
	switch t {
	case TagStart, TagEnd, TagShutdown:
		return ControlSize
	case TagRegister:
		return RegisterSize
	case TagWrite:
		return WriteSize
	default:
		return 0
	}
}

// Encode serializes m into a freshly allocated record.
func Encode(m Message) []byte {
	switch v := m.(type) {
	case Start, *Start, End, *End, Shutdown, *Shutdown:
		return []byte{byte(m.Tag())}
	case *Register:
		return encodeRegister(v)
	case *Write:
		return encodeWrite(v)
	default:
		panic(fmt.Sprintf("wire: cannot encode %T", m))
	}
}

func encodeRegister(r *Register) []byte {
	b := make([]byte, RegisterSize)
	b[0] = byte(TagRegister)
	b[regKind] = byte(r.Kind)
	copy(b[regName:], r.Name[:])
	copy(b[regDesc:], r.Description[:])
	b[regAccess] = byte(r.Access)
	copy(b[regValue:], r.Value[:])
	binary.LittleEndian.PutUint64(b[regDeadband:], math.Float64bits(r.Deadband))
	binary.LittleEndian.PutUint16(b[regSlot:], r.Slot)
	binary.LittleEndian.PutUint16(b[regCapacity:], r.Capacity)
	return b
}

func encodeWrite(w *Write) []byte {
	b := make([]byte, WriteSize)
	b[0] = byte(TagWrite)
	binary.LittleEndian.PutUint16(b[wrSlot:], w.Slot)
	b[wrKind] = byte(w.Kind)
	copy(b[wrName:], w.Name[:])
	copy(b[wrValue:], w.Value[:])
	return b
}

// Decode parses one record. The kind byte is not validated here; callers
// decide how to treat unknown kinds.
func Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, ErrEmpty
	}

	tag := Tag(b[0])
	want := SizeOf(tag)
	if want == 0 {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownTag, b[0])
	}
	if len(b) != want {
		return nil, &DecodeError{Tag: tag, Want: want, Got: len(b)}
	}

	switch tag {
	case TagStart:
		return Start{}, nil
	case TagEnd:
		return End{}, nil
	case TagShutdown:
		return Shutdown{}, nil
	case TagRegister:
		r := &Register{
			Kind:     Kind(b[regKind]),
			Access:   Access(b[regAccess]),
			Deadband: math.Float64frombits(binary.LittleEndian.Uint64(b[regDeadband:])),
			Slot:     binary.LittleEndian.Uint16(b[regSlot:]),
			Capacity: binary.LittleEndian.Uint16(b[regCapacity:]),
		}
		copy(r.Name[:], b[regName:regDesc])
		copy(r.Description[:], b[regDesc:regAccess])
		copy(r.Value[:], b[regValue:regDeadband])
		return r, nil
	default: // TagWrite
		w := &Write{
			Slot: binary.LittleEndian.Uint16(b[wrSlot:]),
			Kind: Kind(b[wrKind]),
		}
		copy(w.Name[:], b[wrName:wrValue])
		copy(w.Value[:], b[wrValue:WriteSize])
		return w, nil
	}
}
