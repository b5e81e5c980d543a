package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTerminated(t *testing.T) {
	tests := []struct {
		name         string
		field        []byte
		want         string
		wantOverflow bool
	}{
		{"empty string", make([]byte, 8), "", false},
		{"short", []byte("abc\x00\x00\x00\x00\x00"), "abc", false},
		{"stops at first nul", []byte("ab\x00cd\x00\x00\x00"), "ab", false},
		{"exactly len-1 bytes", []byte("abcdefg\x00"), "abcdefg", false},
		{"no terminator", []byte("abcdefgh"), "abcdefg", true},
		{"zero-length field", []byte{}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, overflow := Terminated(tt.field)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOverflow, overflow)
		})
	}
}

func TestTerminated_TruncatesInPlace(t *testing.T) {
	field := []byte(strings.Repeat("n", NameLen))

	s, overflow := Terminated(field)
	assert.True(t, overflow)
	assert.Len(t, s, NameLen-1)
	assert.Equal(t, byte(0), field[NameLen-1])

	// A second read sees a terminated field.
	s2, overflow := Terminated(field)
	assert.False(t, overflow)
	assert.Equal(t, s, s2)
}

func TestPutString(t *testing.T) {
	field := []byte("XXXXXXXX")

	truncated := PutString(field, "hi")
	assert.False(t, truncated)
	assert.Equal(t, []byte("hi\x00\x00\x00\x00\x00\x00"), field)

	truncated = PutString(field, "abcdefg")
	assert.False(t, truncated)
	assert.Equal(t, []byte("abcdefg\x00"), field)

	truncated = PutString(field, "abcdefgh")
	assert.True(t, truncated)
	assert.Equal(t, []byte("abcdefg\x00"), field)
}

func TestNameField_Boundary(t *testing.T) {
	f, truncated := NameField(strings.Repeat("a", NameLen-1))
	assert.False(t, truncated)
	got, overflow := Terminated(f[:])
	assert.False(t, overflow)
	assert.Len(t, got, NameLen-1)

	f, truncated = NameField(strings.Repeat("a", NameLen))
	assert.True(t, truncated)
	got, _ = Terminated(f[:])
	assert.Len(t, got, NameLen-1)
}

func TestDescriptionField(t *testing.T) {
	f, truncated := DescriptionField("Main pump speed")
	assert.False(t, truncated)
	got, _ := Terminated(f[:])
	assert.Equal(t, "Main pump speed", got)
}
