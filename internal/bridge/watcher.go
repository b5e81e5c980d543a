package bridge

import (
	"log/slog"

	"github.com/roach88/uabridge/internal/journal"
	"github.com/roach88/uabridge/internal/registry"
	"github.com/roach88/uabridge/internal/uaspace"
	"github.com/roach88/uabridge/internal/wire"
)

// Sender is the controller-bound side of the bridge.
type Sender interface {
	Send(msg []byte, prio uint) error
}

// Watcher turns address-space changes into Write records for the controller.
//
// OnChange runs on the address space loop goroutine and never blocks: the
// send is non-blocking and a failed send drops the notification.
type Watcher struct {
	state    *State
	out      Sender
	priority uint
	rec      journal.Recorder
	logger   *slog.Logger
}

// NewWatcher creates a watcher sending to out with the given priority.
func NewWatcher(state *State, out Sender, priority uint, rec journal.Recorder, logger *slog.Logger) *Watcher {
	if rec == nil {
		rec = journal.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		state:    state,
		out:      out,
		priority: priority,
		rec:      rec,
		logger:   logger.With("role", "watcher"),
	}
}

// Handler binds the watcher to one registered variable.
func (w *Watcher) Handler(d *registry.Descriptor) uaspace.Handler {
	return func(c uaspace.Change) {
		w.OnChange(d, c)
	}
}

// OnChange handles one reported change of d.
func (w *Watcher) OnChange(d *registry.Descriptor, c uaspace.Change) {
	if c.Initial {
		w.logger.Debug("initial sample", "variable", d.Name)
		return
	}
	if w.state.Registering() {
		w.logger.Debug("change ignored during registration", "variable", d.Name)
		return
	}
	if c.Value == nil || c.Value.Value == nil {
		w.logger.Debug("change without value", "variable", d.Name)
		return
	}

	entry := journal.Entry{
		Direction: journal.Outbound,
		Variable:  d.Name,
		Kind:      d.Kind.String(),
		Slot:      int(d.Slot),
		Value:     FormatValue(c.Value.Value),
		Status:    c.Value.Status.Error(),
	}

	if w.state.Suppression.ConsumeIfSet(d.Kind, d.Slot) {
		w.logger.Debug("own write suppressed", "variable", d.Name, "slot", d.Slot)
		entry.Action = journal.ActionSuppressed
		w.rec.Record(entry)
		return
	}

	raw, truncated, err := RawFromVariant(d.Kind, c.Value.Value)
	if err != nil {
		w.drop(entry, "encode", err)
		return
	}
	if truncated {
		w.logger.Warn("string value truncated for controller", "variable", d.Name)
	}

	msg := &wire.Write{Slot: d.Slot, Kind: d.Kind, Value: raw}
	msg.Name, _ = wire.NameField(d.Name)

	if err := w.out.Send(wire.Encode(msg), w.priority); err != nil {
		w.drop(entry, "send", err)
		return
	}

	w.logger.Debug("change forwarded", "variable", d.Name, "slot", d.Slot, "value", entry.Value)
	entry.Action = journal.ActionForwarded
	w.rec.Record(entry)
}

func (w *Watcher) drop(entry journal.Entry, stage string, err error) {
	w.logger.Warn("change dropped", "variable", entry.Variable, "stage", stage, "error", err)
	entry.Action = journal.ActionDropped
	entry.Detail = stage + ": " + err.Error()
	w.rec.Record(entry)
}
