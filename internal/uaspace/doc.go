// Package uaspace is an in-process OPC UA address space: variable nodes
// under the Objects folder, server-side and client-side reads and writes,
// and monitored items with data-change filters.
//
// The server is event driven. Writes update the stored value immediately
// and enqueue a change event; a single Run loop goroutine drains the event
// queue, evaluates each monitored item's filter and calls the item's
// handler synchronously. Nothing is delivered before Run starts, so items
// created during startup see their initial sample once the loop begins
// serving.
//
// Errors are ua.StatusCode values, possibly wrapped.
package uaspace
