// Package gate provides a named one-shot rendezvous between two goroutines.
//
// A Gate is opened by exactly one producer and awaited by exactly one
// consumer. Waiting blocks until the gate is open, then closes it again, so a
// gate can be reused for a later handshake. Opening an already-open gate is a
// no-op: signals coalesce and a Gate is not a counting semaphore.
package gate

import (
	"context"
	"fmt"
)

// Gate is a single-signal, single-waiter rendezvous.
// The zero value is not usable; create gates with New.
type Gate struct {
	name string
	ch   chan struct{}
}

// New creates a closed gate.
func New(name string) *Gate {
	return &Gate{name: name, ch: make(chan struct{}, 1)}
}

// Name returns the gate's name.
func (g *Gate) Name() string {
	return g.name
}

// Open sets the gate. It never blocks.
func (g *Gate) Open() {
	select {
	case g.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the gate is open, then closes it.
func (g *Gate) Wait() {
	<-g.ch
}

// WaitContext is Wait with cancellation. It returns ctx.Err() if ctx is done
// before the gate opens; the gate state is left untouched in that case.
func (g *Gate) WaitContext(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s: %w", g.name, ctx.Err())
	}
}

// IsOpen reports whether the gate is currently open without consuming it.
func (g *Gate) IsOpen() bool {
	return len(g.ch) == 1
}

func (g *Gate) String() string {
	return g.name
}
