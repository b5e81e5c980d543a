package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gopcua/opcua/ua"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/uabridge/internal/journal"
	"github.com/roach88/uabridge/internal/mqueue"
	"github.com/roach88/uabridge/internal/registry"
	"github.com/roach88/uabridge/internal/uaspace"
	"github.com/roach88/uabridge/internal/wire"
)

// Inbound consumes controller messages and drives the registration state
// machine, the address space and the suppression buffer.
//
// Messages are handled one at a time. The queue notification is one-shot:
// the callback drains every available message and then re-arms it, so at
// most one callback is ever in flight.
type Inbound struct {
	state    *State
	space    uaspace.AddressSpace
	watcher  *Watcher
	shutdown func()

	transport mqueue.Transport
	name      string
	geometry  Geometry
	monitor   MonitorSettings
	rec       journal.Recorder
	logger    *slog.Logger

	queue   mqueue.Queue
	drainMu sync.Mutex
	closing atomic.Bool

	mu        sync.Mutex
	processed int64
	changed   chan struct{}
}

func newInbound(b *Bridge) *Inbound {
	return &Inbound{
		state:     b.state,
		space:     b.opts.Space,
		watcher:   b.watcher,
		shutdown:  b.Shutdown,
		transport: b.opts.Transport,
		name:      b.opts.Inbound,
		geometry:  b.opts.Geometry,
		monitor:   b.opts.Monitor,
		rec:       b.opts.Recorder,
		logger:    b.logger.With("role", "inbound"),
		changed:   make(chan struct{}),
	}
}

// Run opens the controller-to-bridge queue, arms its notification, signals
// readiness and then blocks until the inbound shutdown gate opens or ctx is
// done. The queue is closed and unlinked on the way out.
func (in *Inbound) Run(ctx context.Context) error {
	q, err := in.transport.Open(in.name, mqueue.Options{
		Mode:        mqueue.ReadOnly,
		Create:      true,
		NonBlocking: true,
		MaxMessages: in.geometry.MaxMessages,
		MessageSize: in.geometry.MessageSize,
	})
	if err != nil {
		return NewSetupError("inbound", fmt.Errorf("open %s: %w", in.name, err))
	}
	in.queue = q

	if err := q.Notify(in.onReadable); err != nil {
		_ = q.Close()
		_ = in.transport.Unlink(in.name)
		return NewSetupError("inbound", fmt.Errorf("notify %s: %w", in.name, err))
	}

	in.logger.Info("inbound queue ready", "queue", in.name)
	in.state.InboundReady.Open()

	if err := in.state.InboundShutdown.WaitContext(ctx); err != nil {
		in.logger.Debug("inbound stopping on cancellation", "error", err)
	}
	in.teardown()
	return nil
}

func (in *Inbound) teardown() {
	in.closing.Store(true)
	if err := in.queue.Notify(nil); err != nil {
		in.logger.Debug("disarm notification", "error", err)
	}

	in.drainMu.Lock()
	defer in.drainMu.Unlock()

	if err := in.queue.Close(); err != nil {
		in.logger.Warn("close inbound queue", "queue", in.name, "error", err)
	}
	if err := in.transport.Unlink(in.name); err != nil && !errors.Is(err, mqueue.ErrNotFound) {
		in.logger.Warn("unlink inbound queue", "queue", in.name, "error", err)
	}
	in.logger.Info("inbound queue removed", "queue", in.name)
}

// onReadable is the queue notification callback.
func (in *Inbound) onReadable() {
	in.drainMu.Lock()
	defer in.drainMu.Unlock()

	if in.closing.Load() {
		return
	}

	for !in.closing.Load() && !in.state.ShuttingDown() {
		msg, _, err := in.queue.Receive()
		if errors.Is(err, mqueue.ErrWouldBlock) {
			break
		}
		if err != nil {
			if !errors.Is(err, mqueue.ErrClosed) {
				in.logger.Error("receive failed", "queue", in.name, "error", err)
			}
			return
		}
		_ = in.Handle(msg)
	}

	if in.closing.Load() || in.state.ShuttingDown() {
		return
	}
	if err := in.queue.Notify(in.onReadable); err != nil {
		in.logger.Error("re-arm notification failed", "queue", in.name, "error", err)
	}
}

// Processed returns how many messages Handle has seen.
func (in *Inbound) Processed() int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.processed
}

// WaitProcessed blocks until Handle has seen at least n messages or ctx is done.
func (in *Inbound) WaitProcessed(ctx context.Context, n int64) error {
	for {
		in.mu.Lock()
		if in.processed >= n {
			in.mu.Unlock()
			return nil
		}
		wait := in.changed
		in.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d inbound messages: %w", n, ctx.Err())
		}
	}
}

func (in *Inbound) done() {
	in.mu.Lock()
	in.processed++
	close(in.changed)
	in.changed = make(chan struct{})
	in.mu.Unlock()
}

// Handle processes one controller record. A non-nil error means the record
// was discarded; it has already been logged and journaled.
func (in *Inbound) Handle(b []byte) error {
	defer in.done()

	err := in.handle(b)
	if err != nil {
		in.reject(err)
	}
	return err
}

func (in *Inbound) handle(b []byte) error {
	msg, err := wire.Decode(b)
	if err != nil {
		return NewMalformedError("", "undecodable record", err)
	}
	if in.state.ShuttingDown() {
		return NewOutOfStateError(fmt.Sprintf("%s after shutdown", msg.Tag()))
	}

	switch m := msg.(type) {
	case wire.Start:
		if !in.state.BeginRegistration() {
			return NewOutOfStateError("start while registration is active")
		}
		in.logger.Info("registration started")
		in.session("registration started")
		return nil

	case wire.End:
		if !in.state.EndRegistration() {
			return NewOutOfStateError("end without start")
		}
		in.logger.Info("registration finished", "variables", in.state.Registry.Len())
		in.session("registration finished")
		in.state.VariablesRegistered.Open()
		return nil

	case *wire.Register:
		if !in.state.Registering() {
			name, _ := m.VariableName()
			return &Error{Code: ErrCodeOutOfState, Message: "register outside registration", Variable: name}
		}
		return in.register(m)

	case *wire.Write:
		if in.state.Registering() {
			name, _ := m.VariableName()
			return &Error{Code: ErrCodeOutOfState, Message: "write during registration", Variable: name}
		}
		return in.write(m)

	case wire.Shutdown:
		in.logger.Info("shutdown requested by controller")
		in.shutdown()
		return nil

	default:
		return NewMalformedError("", fmt.Sprintf("unhandled record %T", msg), nil)
	}
}

func (in *Inbound) register(m *wire.Register) error {
	name, overflow := m.VariableName()
	if overflow {
		in.logger.Warn("variable name not terminated, truncated", "variable", name)
	}
	if name == "" {
		return NewMalformedError("", "register with empty name", nil)
	}
	if !m.Kind.Valid() {
		return NewMalformedError(name, "register with unknown kind", fmt.Errorf("%w: %d", wire.ErrUnknownKind, uint8(m.Kind)))
	}
	if !m.Access.Valid() {
		return NewMalformedError(name, fmt.Sprintf("register with invalid access %d", uint8(m.Access)), nil)
	}
	desc, overflow := m.VariableDescription()
	if overflow {
		in.logger.Warn("description not terminated, truncated", "variable", name)
	}
	if in.state.Registry.Has(name) {
		return NewAddressSpaceError(name, "register", fmt.Errorf("%w: %w", registry.ErrDuplicate, ua.StatusBadNodeIDExists))
	}

	value, overflow, err := VariantFromRaw(m.Kind, &m.Value)
	if err != nil {
		return NewMalformedError(name, "initial value", err)
	}
	if overflow {
		in.logger.Warn("initial string value not terminated, truncated", "variable", name)
	}

	capacity := in.state.Suppression.Allocate(m.Kind, m.Capacity)

	err = in.space.AddVariable(uaspace.Node{
		Name:        name,
		DisplayName: norm.NFC.String(name),
		Description: norm.NFC.String(desc),
		Value:       value,
		AccessLevel: AccessLevel(m.Access),
	})
	if err != nil {
		return NewAddressSpaceError(name, "add variable", err)
	}

	d := &registry.Descriptor{
		Name:        name,
		Description: desc,
		Kind:        m.Kind,
		Access:      m.Access,
		Deadband:    m.Deadband,
		Slot:        m.Slot,
		Capacity:    m.Capacity,
	}

	if m.Access == wire.AccessReadWrite {
		in.monitorVariable(d, capacity)
	}

	if err := in.state.Registry.Add(d); err != nil {
		return NewAddressSpaceError(name, "registry", err)
	}

	in.logger.Info("variable registered",
		"variable", name,
		"kind", m.Kind,
		"access", m.Access,
		"slot", m.Slot,
		"monitored", d.Monitored,
	)
	in.rec.Record(journal.Entry{
		Direction: journal.Inbound,
		Action:    journal.ActionRegistered,
		Variable:  name,
		Kind:      m.Kind.String(),
		Slot:      int(m.Slot),
		Value:     FormatValue(value),
		Detail:    fmt.Sprintf("access=%s monitored=%t", m.Access, d.Monitored),
	})
	return nil
}

// monitorVariable subscribes the watcher to d. Failures leave the variable
// registered but unmonitored.
func (in *Inbound) monitorVariable(d *registry.Descriptor, capacity int) {
	if !in.state.Suppression.Usable(d.Kind, d.Slot) {
		err := NewSlotUnavailableError(d.Name, d.Slot, capacity)
		in.logger.Warn("variable left unmonitored", "variable", d.Name, "error", err)
		return
	}

	req := uaspace.MonitorRequest{
		SamplingInterval: in.monitor.SamplingInterval,
		QueueSize:        in.monitor.QueueSize,
		DiscardOldest:    in.monitor.DiscardOldest,
		Filter:           ChangeFilter(d.Kind, d.Deadband),
	}
	id, err := in.space.Monitor(d.Name, req, in.watcher.Handler(d))
	if err != nil {
		in.logger.Warn("variable left unmonitored",
			"variable", d.Name,
			"status", uaspace.StatusOf(err),
			"error", err,
		)
		return
	}
	d.Monitored = true
	d.MonitorID = id
}

// ChangeFilter returns the data-change filter used for a kind: status and
// value changes, with an absolute deadband for numeric kinds.
func ChangeFilter(kind wire.Kind, deadband float64) *ua.DataChangeFilter {
	f := &ua.DataChangeFilter{
		Trigger:      ua.DataChangeTriggerStatusValue,
		DeadbandType: uint32(ua.DeadbandTypeNone),
	}
	if kind.Numeric() && deadband > 0 {
		f.DeadbandType = uint32(ua.DeadbandTypeAbsolute)
		f.DeadbandValue = deadband
	}
	return f
}

func (in *Inbound) write(m *wire.Write) error {
	name, overflow := m.VariableName()
	if overflow {
		in.logger.Warn("variable name not terminated, truncated", "variable", name)
	}
	if !m.Kind.Valid() {
		return NewMalformedError(name, "write with unknown kind", fmt.Errorf("%w: %d", wire.ErrUnknownKind, uint8(m.Kind)))
	}

	d, ok := in.state.Registry.Lookup(name)
	if !ok {
		return NewUnknownVariableError(name)
	}

	current, err := in.space.Read(name)
	if err != nil {
		return NewAddressSpaceError(name, "read current value", err)
	}
	nodeKind, ok := KindOfType(current.Type())
	if !ok || nodeKind != m.Kind {
		return NewTypeMismatchError(name, m.Kind, current.Type())
	}

	value, overflow, err := VariantFromRaw(nodeKind, &m.Value)
	if err != nil {
		return NewMalformedError(name, "write value", err)
	}
	if overflow {
		in.logger.Warn("string value not terminated, truncated", "variable", name)
	}

	slot := d.Slot
	if m.Slot != slot {
		in.logger.Warn("write slot differs from registration, using registered slot",
			"variable", name, "slot", m.Slot, "registered_slot", slot)
	}

	if value.Value() == current.Value() {
		in.logger.Debug("write unchanged", "variable", name, "value", FormatValue(value))
		in.rec.Record(journal.Entry{
			Direction: journal.Inbound,
			Action:    journal.ActionUnchanged,
			Variable:  name,
			Kind:      nodeKind.String(),
			Slot:      int(slot),
			Value:     FormatValue(value),
		})
		return nil
	}

	// Mark before writing: the watcher may see the change before Write returns.
	// A change no monitored item reports (e.g. inside the deadband) never
	// reaches the watcher, so its mark is cleared once delivery is done.
	marked := d.Monitored && in.state.Suppression.Mark(nodeKind, slot)
	var unreported func(bool)
	if marked {
		unreported = func(reported bool) {
			if !reported && in.state.Suppression.ConsumeIfSet(nodeKind, slot) {
				in.logger.Debug("write not reported, mark cleared", "variable", name, "slot", slot)
			}
		}
	}
	if err := in.space.WriteNotify(name, value, unreported); err != nil {
		if marked {
			in.state.Suppression.ConsumeIfSet(nodeKind, slot)
		}
		return NewAddressSpaceError(name, "write", err)
	}

	in.logger.Debug("write applied", "variable", name, "value", FormatValue(value), "slot", slot)
	in.rec.Record(journal.Entry{
		Direction: journal.Inbound,
		Action:    journal.ActionApplied,
		Variable:  name,
		Kind:      nodeKind.String(),
		Slot:      int(slot),
		Value:     FormatValue(value),
	})
	return nil
}

func (in *Inbound) reject(err error) {
	var be *Error
	if !errors.As(err, &be) {
		be = &Error{Message: err.Error()}
	}
	in.logger.Warn("message discarded", "code", be.Code, "variable", be.Variable, "error", err)
	in.rec.Record(journal.Entry{
		Direction: journal.Inbound,
		Action:    journal.ActionRejected,
		Variable:  be.Variable,
		Status:    string(be.Code),
		Detail:    err.Error(),
	})
}

func (in *Inbound) session(detail string) {
	in.rec.Record(journal.Entry{
		Direction: journal.Inbound,
		Action:    journal.ActionSession,
		Detail:    detail,
	})
}
