// Package bridge synchronizes controller variables with an OPC UA address
// space over a pair of message queues.
//
// Three roles run concurrently under a Bridge:
//
//   - Inbound consumes controller records. A registration session (Start,
//     Register..., End) creates one variable node per Register; Write
//     records outside a session update node values; Shutdown starts the
//     shutdown cascade.
//   - Outbound owns the controller-bound queue.
//   - The address space loop, which reports changes of monitored variables
//     to the Watcher. The watcher forwards each change to the controller as
//     a Write record unless the change is the bridge's own write coming
//     back, which the suppression buffer detects.
//
// Roles hand off through one-shot gates (see package gate) held in State.
package bridge
