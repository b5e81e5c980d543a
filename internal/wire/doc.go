// Package wire implements the fixed-size message protocol spoken between the
// controller runtime and the bridge.
//
// Every record starts with a one-byte tag and has a static size for that tag.
// Records are packed and little-endian; nothing is length-prefixed beyond the
// static size. The transport delivers whole records, so there is no framing or
// reassembly here.
//
// # Records
//
//	Start     { tag }                                              1 byte
//	Register  { tag, kind, name[32], description[64], access,
//	            value[32], deadband f64, slot u16, capacity u16 }  143 bytes
//	End       { tag }                                              1 byte
//	Write     { tag, slot u16, kind, name[32], value[32] }         68 bytes
//	Shutdown  { tag }                                              1 byte
//
// # Failing closed
//
// Decode never guesses. An unknown tag returns ErrUnknownTag, a record whose
// length does not match the static size of its tag returns a *DecodeError
// wrapping ErrSize. Callers drop such records and keep reading.
//
// # Strings
//
// Names, descriptions and string values are NUL-bounded inside their fixed
// arrays. A field with no NUL is truncated in place to len-1 bytes and
// reported as overflow; see Terminated.
package wire
