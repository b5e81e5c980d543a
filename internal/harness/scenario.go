package harness

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/uabridge/internal/bridge"
	"github.com/roach88/uabridge/internal/wire"
)

// Scenario defines a bridge scenario: a flow of controller records and
// external address-space writes, with expectations on what reaches the
// controller and assertions on the resulting trace and final values.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Server overrides address space limits.
	Server ServerSpec `yaml:"server,omitempty"`

	// SessionID is a fixed journal session id for deterministic traces.
	// If empty, testutil.DefaultSessionID is used.
	SessionID string `yaml:"session_id,omitempty"`

	// Flow is executed in order. The harness waits for each step to settle
	// before running the next one.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace, journal and address space.
	Assertions []Assertion `yaml:"assertions"`
}

// ServerSpec holds address space overrides.
type ServerSpec struct {
	MaxMonitoredItems int `yaml:"max_monitored_items,omitempty"`
}

// FlowStep is one action. Exactly one of Send, Raw or ClientWrite is set.
type FlowStep struct {
	// Send is a controller record: start, register, end, write or shutdown.
	Send string `yaml:"send,omitempty"`

	// Variable describes the record for register and write.
	Variable *VariableSpec `yaml:"variable,omitempty"`

	// Raw is a hex-encoded record sent verbatim.
	Raw string `yaml:"raw,omitempty"`

	// ClientWrite writes a value through the address space, as an OPC UA
	// client would.
	ClientWrite *ClientWrite `yaml:"client_write,omitempty"`

	// Expect checks the outcome of this step.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// VariableSpec is the YAML form of a registration or write record.
type VariableSpec struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description,omitempty"`
	Kind        string  `yaml:"kind"`
	Access      string  `yaml:"access,omitempty"`
	Value       any     `yaml:"value"`
	Deadband    float64 `yaml:"deadband,omitempty"`
	Slot        uint16  `yaml:"slot,omitempty"`
	Capacity    uint16  `yaml:"capacity,omitempty"`
}

// ClientWrite is an external write through the address space.
type ClientWrite struct {
	Name  string `yaml:"name"`
	Value any    `yaml:"value"`
}

// ExpectClause specifies what a step must produce.
type ExpectClause struct {
	// Rejected is the error code the bridge must reject the record with.
	Rejected string `yaml:"rejected,omitempty"`

	// Controller lists the Write records that must reach the controller
	// during this step, in order. An explicit empty list asserts silence.
	Controller *[]ControllerWrite `yaml:"controller,omitempty"`

	// ClientError expects the client write to fail.
	ClientError bool `yaml:"client_error,omitempty"`
}

// ControllerWrite is an expected controller-bound record.
type ControllerWrite struct {
	Name  string `yaml:"name"`
	Slot  uint16 `yaml:"slot"`
	Kind  string `yaml:"kind,omitempty"`
	Value any    `yaml:"value"`
}

// Assertion validates the final trace, journal or address space.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action is a journal action (trace_contains, trace_count, journal_count).
	Action string `yaml:"action,omitempty"`

	// Variable narrows trace and journal assertions to one variable.
	Variable string `yaml:"variable,omitempty"`

	// Value is the expected value (trace_contains, final_value).
	Value any `yaml:"value,omitempty"`

	// Count is the expected number of occurrences (trace_count, journal_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected order of "action:variable" pairs (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Monitored is the expected monitoring state (monitored).
	Monitored *bool `yaml:"monitored,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertJournalCount  = "journal_count"
	AssertFinalValue    = "final_value"
	AssertMonitored     = "monitored"
)

// Step kinds accepted by FlowStep.Send.
const (
	SendStart    = "start"
	SendRegister = "register"
	SendEnd      = "end"
	SendWrite    = "write"
	SendShutdown = "shutdown"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *FlowStep) error {
	set := 0
	for _, present := range []bool{step.Send != "", step.Raw != "", step.ClientWrite != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("flow[%d]: exactly one of send, raw or client_write is required", index)
	}

	switch {
	case step.Raw != "":
		if _, err := decodeHex(step.Raw); err != nil {
			return fmt.Errorf("flow[%d]: raw: %w", index, err)
		}
	case step.ClientWrite != nil:
		if step.ClientWrite.Name == "" {
			return fmt.Errorf("flow[%d]: client_write.name is required", index)
		}
	default:
		switch step.Send {
		case SendStart, SendEnd, SendShutdown:
		case SendRegister, SendWrite:
			if err := validateVariable(step.Send, step.Variable); err != nil {
				return fmt.Errorf("flow[%d]: %w", index, err)
			}
		default:
			return fmt.Errorf("flow[%d]: unknown send %q", index, step.Send)
		}
	}

	if step.Expect != nil && step.Expect.Rejected != "" {
		if !knownCode(step.Expect.Rejected) {
			return fmt.Errorf("flow[%d].expect: unknown error code %q", index, step.Expect.Rejected)
		}
	}
	return nil
}

func validateVariable(send string, v *VariableSpec) error {
	if v == nil {
		return fmt.Errorf("%s: variable is required", send)
	}
	if _, err := wire.ParseKind(v.Kind); err != nil {
		return fmt.Errorf("%s: %w", send, err)
	}
	if send == SendRegister {
		if _, err := wire.ParseAccess(v.Access); err != nil {
			return fmt.Errorf("%s: %w", send, err)
		}
	}
	return nil
}

func knownCode(code string) bool {
	switch bridge.ErrorCode(code) {
	case bridge.ErrCodeMalformed, bridge.ErrCodeOutOfState, bridge.ErrCodeUnknownVariable,
		bridge.ErrCodeTypeMismatch, bridge.ErrCodeAddressSpace, bridge.ErrCodeSlotUnavailable:
		return true
	}
	return false
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount, AssertJournalCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for %s", index, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertFinalValue:
		if a.Variable == "" || a.Value == nil {
			return fmt.Errorf("assertions[%d]: variable and value are required for final_value", index)
		}
	case AssertMonitored:
		if a.Variable == "" || a.Monitored == nil {
			return fmt.Errorf("assertions[%d]: variable and monitored are required for monitored", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.Join(strings.Fields(s), ""))
}
