package testutil

// FixedSessionGenerator returns the same session id every time.
//
// Scenario runs and CLI tests use it so every journal session and trace
// snapshot carries a stable id.
//
// Thread-safety: FixedSessionGenerator is stateless and safe for concurrent use.
type FixedSessionGenerator struct {
	id string
}

// DefaultSessionID is returned when no id is configured.
const DefaultSessionID = "test-session-default"

// NewFixedSessionGenerator creates a generator for id. If id is empty,
// Generate returns DefaultSessionID.
func NewFixedSessionGenerator(id string) *FixedSessionGenerator {
	if id == "" {
		id = DefaultSessionID
	}
	return &FixedSessionGenerator{id: id}
}

// Generate returns the fixed session id.
//
// Implements bridge.SessionIDGenerator.
func (g *FixedSessionGenerator) Generate() string {
	return g.id
}
