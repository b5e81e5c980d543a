// Package journal records bridge events in a SQLite database for later
// inspection with `uabridge trace`.
//
// The journal is diagnostic only: nothing reads it back into a running
// bridge. Events are stamped with a per-session logical sequence number
// from Clock and written asynchronously by Writer, which drops events
// rather than block the caller when its buffer is full.
package journal
