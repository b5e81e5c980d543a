package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/uabridge/internal/journal"
	"github.com/roach88/uabridge/internal/mqueue"
	"github.com/roach88/uabridge/internal/uaspace"
)

// Default channel names and delivery settings.
const (
	DefaultInbound          = "/codesys_to_opcua"
	DefaultOutbound         = "/opcua_to_codesys"
	DefaultSendPriority     = 1
	DefaultSamplingInterval = time.Second
	DefaultQueueSize        = 10
)

// Geometry is the size of a queue created by the bridge.
type Geometry struct {
	MaxMessages int
	MessageSize int
}

// MonitorSettings are applied to every monitored item the bridge creates.
type MonitorSettings struct {
	SamplingInterval time.Duration
	QueueSize        uint32
	DiscardOldest    bool
}

// Options configure a Bridge. Transport and Space are required.
type Options struct {
	Transport mqueue.Transport
	Space     uaspace.AddressSpace

	Inbound      string
	Outbound     string
	Geometry     Geometry
	SendPriority uint
	Monitor      MonitorSettings

	// Recorder receives journal entries; nil discards them.
	Recorder journal.Recorder
	Logger   *slog.Logger
}

// Bridge coordinates the inbound worker, the outbound worker and the
// address space loop.
//
// Startup order is inbound, outbound, server; each role waits for the
// previous role's ready gate. The server role additionally waits for the
// first registration session to end before it starts serving.
//
// Shutdown is a single cascade, triggered by a Shutdown record, by
// Shutdown, or by cancellation of the context passed to Run: the
// suppression buffer is released, both queue workers are told to tear
// down and the address space loop is stopped.
type Bridge struct {
	opts   Options
	logger *slog.Logger

	state    *State
	watcher  *Watcher
	inbound  *Inbound
	outbound *Outbound

	started atomic.Bool
	ready   chan struct{}
	serving chan struct{}
}

// New validates opts and wires the roles together.
func New(opts Options) (*Bridge, error) {
	if opts.Transport == nil {
		return nil, errors.New("bridge: transport is required")
	}
	if opts.Space == nil {
		return nil, errors.New("bridge: address space is required")
	}
	if opts.Inbound == "" {
		opts.Inbound = DefaultInbound
	}
	if opts.Outbound == "" {
		opts.Outbound = DefaultOutbound
	}
	for _, name := range []string{opts.Inbound, opts.Outbound} {
		if err := mqueue.ValidateName(name); err != nil {
			return nil, fmt.Errorf("bridge: %w", err)
		}
	}
	if opts.Inbound == opts.Outbound {
		return nil, fmt.Errorf("bridge: inbound and outbound queues must differ (both %s)", opts.Inbound)
	}
	if opts.SendPriority == 0 {
		opts.SendPriority = DefaultSendPriority
	}
	if opts.Monitor.SamplingInterval <= 0 {
		opts.Monitor.SamplingInterval = DefaultSamplingInterval
	}
	if opts.Monitor.QueueSize == 0 {
		opts.Monitor.QueueSize = DefaultQueueSize
	}
	if opts.Recorder == nil {
		opts.Recorder = journal.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	b := &Bridge{
		opts:    opts,
		logger:  opts.Logger.With("component", "bridge"),
		state:   NewState(),
		ready:   make(chan struct{}),
		serving: make(chan struct{}),
	}
	b.outbound = newOutbound(b)
	b.watcher = NewWatcher(b.state, b.outbound, opts.SendPriority, opts.Recorder, opts.Logger)
	b.inbound = newInbound(b)
	return b, nil
}

// State returns the shared state.
func (b *Bridge) State() *State { return b.state }

// Inbound returns the inbound worker.
func (b *Bridge) Inbound() *Inbound { return b.inbound }

// Outbound returns the outbound worker.
func (b *Bridge) Outbound() *Outbound { return b.outbound }

// Ready is closed once all three roles have signalled readiness.
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

// Serving is closed when the address space loop is about to start, after
// the first registration session ended.
func (b *Bridge) Serving() <-chan struct{} { return b.serving }

// Run starts the roles and blocks until all of them have stopped. It
// returns nil after an orderly shutdown (including cancellation of ctx)
// and the first setup error otherwise. Run may be called once.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return errors.New("bridge: Run called twice")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.inbound.Run(gctx) })
	g.Go(func() error { return b.outbound.Run(gctx) })
	g.Go(func() error { return b.serve(gctx) })
	g.Go(func() error {
		if err := b.state.ServerReady.WaitContext(gctx); err != nil {
			return nil
		}
		b.logger.Info("bridge ready", "inbound", b.opts.Inbound, "outbound", b.opts.Outbound)
		close(b.ready)
		return nil
	})

	stop := make(chan struct{})
	go func() {
		select {
		case <-gctx.Done():
			b.Shutdown()
		case <-stop:
		}
	}()

	err := g.Wait()
	close(stop)
	b.Shutdown()

	if err != nil {
		b.logger.Error("bridge stopped with error", "error", err)
		return err
	}
	b.logger.Info("bridge stopped")
	return nil
}

// serve is the server role.
func (b *Bridge) serve(ctx context.Context) error {
	if err := b.state.OutboundReady.WaitContext(ctx); err != nil {
		return nil
	}
	b.state.ServerReady.Open()

	b.logger.Info("waiting for variable registration")
	if err := b.state.VariablesRegistered.WaitContext(ctx); err != nil {
		return nil
	}

	close(b.serving)
	err := b.opts.Space.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("address space: %w", err)
	}
	return nil
}

// Shutdown runs the shutdown cascade. Calls after the first are no-ops.
func (b *Bridge) Shutdown() {
	if !b.state.markShutdown() {
		b.logger.Debug("shutdown already in progress")
		return
	}

	b.logger.Info("shutdown cascade started")
	if !b.state.Suppression.ReleaseAll() {
		b.logger.Debug("suppression buffer already released")
	}
	b.state.InboundShutdown.Open()
	b.state.OutboundShutdown.Open()
	// Unblocks the server role if registration never finished.
	b.state.VariablesRegistered.Open()
	b.opts.Space.Stop()

	b.opts.Recorder.Record(journal.Entry{
		Direction: journal.Inbound,
		Action:    journal.ActionSession,
		Detail:    "shutdown",
	})
}
