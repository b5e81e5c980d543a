package wire

import (
	"errors"
	"fmt"
)

// ErrFieldTooLong is returned by the builders when a string does not fit its field.
var ErrFieldTooLong = errors.New("field too long")

// Variable is the Go-side description of a registration record.
type Variable struct {
	Name        string
	Description string
	Kind        Kind
	Access      Access
	Value       any
	Deadband    float64
	Slot        uint16
	Capacity    uint16
}

// NewRegister builds a registration record. It refuses to truncate: names,
// descriptions and string values must fit their fields.
func NewRegister(v Variable) (*Register, error) {
	if v.Name == "" {
		return nil, errors.New("variable name is required")
	}
	if !v.Access.Valid() {
		return nil, fmt.Errorf("invalid access mode %d", uint8(v.Access))
	}

	r := &Register{
		Kind:     v.Kind,
		Access:   v.Access,
		Deadband: v.Deadband,
		Slot:     v.Slot,
		Capacity: v.Capacity,
	}

	var truncated bool
	if r.Name, truncated = NameField(v.Name); truncated {
		return nil, fmt.Errorf("%w: name %q exceeds %d bytes", ErrFieldTooLong, v.Name, NameLen-1)
	}
	if r.Description, truncated = DescriptionField(v.Description); truncated {
		return nil, fmt.Errorf("%w: description exceeds %d bytes", ErrFieldTooLong, DescriptionLen-1)
	}

	raw, truncated, err := EncodeValue(v.Kind, v.Value)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("%w: value exceeds %d bytes", ErrFieldTooLong, ValueLen-1)
	}
	r.Value = raw
	return r, nil
}

// NewWrite builds a write record for the named variable.
func NewWrite(name string, kind Kind, slot uint16, value any) (*Write, error) {
	w := &Write{Kind: kind, Slot: slot}

	var truncated bool
	if w.Name, truncated = NameField(name); truncated {
		return nil, fmt.Errorf("%w: name %q exceeds %d bytes", ErrFieldTooLong, name, NameLen-1)
	}

	raw, truncated, err := EncodeValue(kind, value)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("%w: value exceeds %d bytes", ErrFieldTooLong, ValueLen-1)
	}
	w.Value = raw
	return w, nil
}
