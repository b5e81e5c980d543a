package journal

import "time"

// Direction tells which side of the bridge an event came from.
type Direction string

const (
	// Inbound events originate at the controller.
	Inbound Direction = "inbound"
	// Outbound events originate in the address space.
	Outbound Direction = "outbound"
)

// Action names what the bridge did with a message or change.
type Action string

const (
	ActionRegistered Action = "registered" // variable added to the address space
	ActionApplied    Action = "applied"    // controller write stored in the address space
	ActionUnchanged  Action = "unchanged"  // controller write equal to the current value
	ActionSuppressed Action = "suppressed" // change was the bridge's own echo
	ActionForwarded  Action = "forwarded"  // change sent to the controller
	ActionDropped    Action = "dropped"    // change could not be sent
	ActionRejected   Action = "rejected"   // message discarded
	ActionSession    Action = "session"    // registration session or lifecycle transition
)

// Entry is one journal row.
type Entry struct {
	Session    string    `json:"session"`
	Seq        int64     `json:"seq"`
	Direction  Direction `json:"direction"`
	Action     Action    `json:"action"`
	Variable   string    `json:"variable,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Slot       int       `json:"slot"`
	Value      string    `json:"value,omitempty"`
	Status     string    `json:"status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Session is one bridge run.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Transport string    `json:"transport"`
	Inbound   string    `json:"inbound"`
	Outbound  string    `json:"outbound"`
	Events    int       `json:"events"`
}

// Recorder accepts journal entries. Record must not block.
type Recorder interface {
	Record(e Entry)
}

// Discard is a Recorder that drops everything.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(Entry) {}
