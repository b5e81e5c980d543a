package wire

import "bytes"

// Terminated reads a NUL-bounded string from a fixed field.
//
// If the field holds a NUL, the bytes before it are returned. Otherwise the
// field is truncated in place (its last byte becomes NUL), the first len-1
// bytes are returned and overflow is true. An empty field is reported as
// overflow as well. The result is never longer than len(field)-1.
func Terminated(field []byte) (s string, overflow bool) {
	if len(field) == 0 {
		return "", true
	}
	if i := bytes.IndexByte(field, 0); i >= 0 {
		return string(field[:i]), false
	}
	field[len(field)-1] = 0
	return string(field[:len(field)-1]), true
}

// PutString copies s into a fixed field, NUL-terminates it and zeroes the
// remainder. If s does not fit in len(field)-1 bytes it is cut and truncated
// is true.
func PutString(field []byte, s string) (truncated bool) {
	if len(field) == 0 {
		return len(s) > 0
	}
	limit := len(field) - 1
	if len(s) > limit {
		s = s[:limit]
		truncated = true
	}
	n := copy(field, s)
	clear(field[n:])
	return truncated
}

// NameField packs a variable name into a name array.
func NameField(name string) (f [NameLen]byte, truncated bool) {
	truncated = PutString(f[:], name)
	return f, truncated
}

// DescriptionField packs a description into a description array.
func DescriptionField(desc string) (f [DescriptionLen]byte, truncated bool) {
	truncated = PutString(f[:], desc)
	return f, truncated
}
