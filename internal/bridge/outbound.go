package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/uabridge/internal/mqueue"
)

// ErrNotReady is returned by Outbound.Send before the queue is open or
// after it was torn down.
var ErrNotReady = errors.New("outbound queue not open")

// Outbound owns the bridge-to-controller queue. It is idle after setup;
// the watcher sends through it from the address space goroutine.
type Outbound struct {
	state     *State
	transport mqueue.Transport
	name      string
	geometry  Geometry
	logger    *slog.Logger

	mu    sync.RWMutex
	queue mqueue.Queue
}

func newOutbound(b *Bridge) *Outbound {
	return &Outbound{
		state:     b.state,
		transport: b.opts.Transport,
		name:      b.opts.Outbound,
		geometry:  b.opts.Geometry,
		logger:    b.logger.With("role", "outbound"),
	}
}

// Run waits for the inbound worker, opens the queue write-only and
// non-blocking, signals readiness and then blocks until the outbound
// shutdown gate opens or ctx is done.
func (o *Outbound) Run(ctx context.Context) error {
	if err := o.state.InboundReady.WaitContext(ctx); err != nil {
		return nil
	}

	q, err := o.transport.Open(o.name, mqueue.Options{
		Mode:        mqueue.WriteOnly,
		Create:      true,
		NonBlocking: true,
		MaxMessages: o.geometry.MaxMessages,
		MessageSize: o.geometry.MessageSize,
	})
	if err != nil {
		return NewSetupError("outbound", fmt.Errorf("open %s: %w", o.name, err))
	}

	o.mu.Lock()
	o.queue = q
	o.mu.Unlock()

	o.logger.Info("outbound queue ready", "queue", o.name)
	o.state.OutboundReady.Open()

	if err := o.state.OutboundShutdown.WaitContext(ctx); err != nil {
		o.logger.Debug("outbound stopping on cancellation", "error", err)
	}
	o.teardown()
	return nil
}

// Send enqueues one record without blocking.
func (o *Outbound) Send(msg []byte, prio uint) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.queue == nil {
		return ErrNotReady
	}
	return o.queue.Send(msg, prio)
}

func (o *Outbound) teardown() {
	o.mu.Lock()
	q := o.queue
	o.queue = nil
	o.mu.Unlock()

	if err := q.Close(); err != nil {
		o.logger.Warn("close outbound queue", "queue", o.name, "error", err)
	}
	if err := o.transport.Unlink(o.name); err != nil && !errors.Is(err, mqueue.ErrNotFound) {
		o.logger.Warn("unlink outbound queue", "queue", o.name, "error", err)
	}
	o.logger.Info("outbound queue removed", "queue", o.name)
}
