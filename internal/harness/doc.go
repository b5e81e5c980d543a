// Package harness runs bridge scenarios: scripted controller records and
// external address-space writes against an in-process bridge, with the
// resulting trace checked by expectations, assertions and golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	server:
//	  max_monitored_items: 8
//	flow:
//	  - send: start
//	  - send: register
//	    variable: { name: Pump, kind: boolean, access: readwrite, value: false }
//	  - send: end
//	  - client_write: { name: Pump, value: true }
//	    expect:
//	      controller:
//	        - { name: Pump, slot: 0, value: true }
//	  - send: write
//	    variable: { name: Missing, kind: int32, value: 1 }
//	    expect:
//	      rejected: UNKNOWN_VARIABLE
//	  - raw: "fb00"
//	assertions:
//	  - type: trace_contains
//	    action: forwarded
//	    variable: Pump
//	  - type: final_value
//	    variable: Pump
//	    value: true
//
// # Assertion Types
//
//   - trace_contains: an event with the action (and variable, value) exists
//   - trace_order: "action:variable" keys appear in the given order
//   - trace_count: an action appears exactly N times in the trace
//   - journal_count: the persisted journal holds exactly N matching entries
//   - final_value: a node holds the value after the run
//   - monitored: a registered variable is or is not monitored
//
// # Deterministic Testing
//
// Each scenario runs on the memory transport with a fixed session id, a
// fixed wall clock (testutil.Epoch) and a fresh in-memory journal. Every
// step settles before the next one runs: the inbound worker has handled
// the record and the address space has delivered pending notifications.
// Events of a step are ordered inbound, outbound, then records the
// controller received, and numbered by testutil.DeterministicClock.
//
// This ensures identical traces across runs for golden file comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/boolean_forward.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
