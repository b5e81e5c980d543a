package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gopcua/opcua/ua"

	"github.com/roach88/uabridge/internal/bridge"
	"github.com/roach88/uabridge/internal/journal"
	"github.com/roach88/uabridge/internal/mqueue"
	"github.com/roach88/uabridge/internal/testutil"
	"github.com/roach88/uabridge/internal/uaspace"
	"github.com/roach88/uabridge/internal/wire"
)

// StepTimeout bounds every wait the harness performs.
const StepTimeout = 5 * time.Second

// collector tees journal entries: everything goes to the journal writer,
// and a copy is kept until the harness takes it for the trace.
type collector struct {
	mu      sync.Mutex
	pending []journal.Entry
	next    journal.Recorder
}

func (c *collector) Record(e journal.Entry) {
	c.mu.Lock()
	c.pending = append(c.pending, e)
	c.mu.Unlock()
	c.next.Record(e)
}

func (c *collector) take() []journal.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

// Harness runs one scenario against an in-process bridge on the memory
// transport, with a deterministic clock and session id and an in-memory
// journal.
type Harness struct {
	scenario *Scenario
	session  string
	clock    *testutil.DeterministicClock
	logger   *slog.Logger

	transport *mqueue.Memory
	space     *uaspace.Server
	bridge    *bridge.Bridge
	store     *journal.Store
	writer    *journal.Writer
	collector *collector

	toBridge   mqueue.Queue
	fromBridge mqueue.Queue
	sent       int64
	serving    bool
	stopped    bool

	cancel  context.CancelFunc
	runDone chan struct{}
	runErr  error
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh bridge and journal. Execution flow:
// 1. Start the bridge and wait until it is ready
// 2. Execute flow steps, letting each one settle and checking its expect clause
// 3. Stop the bridge if the flow did not
// 4. Evaluate assertions
//
// An error is returned when the scenario could not be executed at all;
// failed expectations are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	h, err := start(scenario)
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	for i, step := range scenario.Flow {
		if err := h.executeStep(i+1, step, result); err != nil {
			return nil, fmt.Errorf("flow step %d: %w", i+1, err)
		}
	}

	if err := h.stop(len(scenario.Flow)+1, result); err != nil {
		return nil, err
	}

	actx := &AssertionContext{
		Ctx:      context.Background(),
		Store:    h.store,
		Session:  h.session,
		Space:    h.space,
		Registry: h.bridge.State().Registry,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func start(s *Scenario) (*Harness, error) {
	ctx := context.Background()

	st, err := journal.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
	}

	session := testutil.NewFixedSessionGenerator(s.SessionID).Generate()
	err = st.BeginSession(ctx, journal.Session{
		ID:        session,
		StartedAt: testutil.Epoch,
		Transport: "memory",
		Inbound:   bridge.DefaultInbound,
		Outbound:  bridge.DefaultOutbound,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	h := &Harness{
		scenario:  s,
		session:   session,
		clock:     testutil.NewDeterministicClock(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in scenarios
		transport: mqueue.NewMemory(),
		store:     st,
		writer:    journal.NewWriter(st, session, journal.WithNow(testutil.FixedNow(testutil.Epoch))),
		runDone:   make(chan struct{}),
	}
	h.collector = &collector{next: h.writer}
	h.space = uaspace.NewServer(uaspace.Options{
		MaxMonitoredItems: s.Server.MaxMonitoredItems,
		Now:               testutil.FixedNow(testutil.Epoch),
		Logger:            h.logger,
	})

	h.bridge, err = bridge.New(bridge.Options{
		Transport: h.transport,
		Space:     h.space,
		Recorder:  h.collector,
		Logger:    h.logger,
	})
	if err != nil {
		h.close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	go func() {
		h.runErr = h.bridge.Run(runCtx)
		close(h.runDone)
	}()

	select {
	case <-h.bridge.Ready():
	case <-h.runDone:
		h.close()
		return nil, fmt.Errorf("bridge stopped during startup: %w", h.runErr)
	case <-time.After(StepTimeout):
		h.close()
		return nil, errors.New("bridge did not become ready")
	}

	if h.toBridge, err = h.transport.Open(bridge.DefaultInbound, mqueue.Options{Mode: mqueue.WriteOnly}); err != nil {
		h.close()
		return nil, err
	}
	h.fromBridge, err = h.transport.Open(bridge.DefaultOutbound, mqueue.Options{Mode: mqueue.ReadOnly, NonBlocking: true})
	if err != nil {
		h.close()
		return nil, err
	}
	return h, nil
}

// close releases everything start acquired. Safe to call more than once.
func (h *Harness) close() {
	if h.cancel != nil {
		h.cancel()
		select {
		case <-h.runDone:
		case <-time.After(StepTimeout):
			h.logger.Error("bridge did not stop")
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), StepTimeout)
	defer cancel()
	_ = h.writer.Close(ctx)
	_ = h.store.Close()
}

// executeStep performs one flow step, waits for it to settle and appends
// its events to the trace.
func (h *Harness) executeStep(n int, step FlowStep, result *Result) error {
	switch {
	case step.ClientWrite != nil:
		err := h.clientWrite(step.ClientWrite)
		expectErr := step.Expect != nil && step.Expect.ClientError
		switch {
		case err != nil && !expectErr:
			result.AddErrorf("step %d: client write %s failed: %v", n, step.ClientWrite.Name, err)
		case err == nil && expectErr:
			result.AddErrorf("step %d: client write %s succeeded, expected failure", n, step.ClientWrite.Name)
		}

	case step.Raw != "":
		b, err := decodeHex(step.Raw)
		if err != nil {
			return err
		}
		if err := h.send(b); err != nil {
			return err
		}

	default:
		msg, err := buildRecord(step)
		if err != nil {
			return err
		}
		if err := h.send(wire.Encode(msg)); err != nil {
			return err
		}
	}

	events, err := h.settle(n)
	if err != nil {
		return err
	}
	checkExpect(n, step.Expect, events, result)
	result.Trace = append(result.Trace, events...)
	return nil
}

// send delivers one record and waits until the inbound worker handled it.
func (h *Harness) send(b []byte) error {
	if h.stopped {
		return errors.New("bridge already stopped")
	}
	if err := h.toBridge.SendTimeout(b, 0, StepTimeout); err != nil {
		return fmt.Errorf("send to bridge: %w", err)
	}
	h.sent++

	ctx, cancel := context.WithTimeout(context.Background(), StepTimeout)
	defer cancel()
	return h.bridge.Inbound().WaitProcessed(ctx, h.sent)
}

func (h *Harness) clientWrite(cw *ClientWrite) error {
	current, err := h.space.Read(cw.Name)
	if err != nil {
		return err
	}
	kind, ok := bridge.KindOfType(current.Type())
	if !ok {
		return fmt.Errorf("node %s has unsupported type", cw.Name)
	}
	v, err := convertValue(kind, cw.Value)
	if err != nil {
		return err
	}
	variant, err := ua.NewVariant(v)
	if err != nil {
		return err
	}
	return h.space.ClientWrite(cw.Name, variant)
}

// settle waits until everything the last step caused has happened and
// returns the step's events in a deterministic order: inbound journal
// entries, then outbound ones, then records the controller received.
func (h *Harness) settle(n int) ([]TraceEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), StepTimeout)
	defer cancel()

	entries := h.collector.take()

	if h.bridge.State().ShuttingDown() {
		if err := h.waitStopped(); err != nil {
			return nil, err
		}
	}

	if !h.serving && !h.stopped && registrationFinished(entries) {
		select {
		case <-h.bridge.Serving():
			h.serving = true
		case <-ctx.Done():
			return nil, errors.New("address space did not start serving")
		}
	}

	if h.serving && !h.stopped {
		if err := h.space.Sync(ctx); err != nil && uaspace.StatusOf(err) != ua.StatusBadServerHalted {
			return nil, fmt.Errorf("sync address space: %w", err)
		}
	}

	entries = append(entries, h.collector.take()...)
	return h.events(n, entries), nil
}

func (h *Harness) waitStopped() error {
	select {
	case <-h.runDone:
		h.stopped = true
		if h.runErr != nil {
			return fmt.Errorf("bridge stopped with error: %w", h.runErr)
		}
		return nil
	case <-time.After(StepTimeout):
		return errors.New("bridge did not stop")
	}
}

// stop ends the run if the flow did not and records the teardown events
// as step n. It flushes the journal so assertions can query it.
func (h *Harness) stop(n int, result *Result) error {
	if !h.stopped {
		h.cancel()
		if err := h.waitStopped(); err != nil {
			return err
		}
	}
	result.Trace = append(result.Trace, h.events(n, h.collector.take())...)

	ctx, cancel := context.WithTimeout(context.Background(), StepTimeout)
	defer cancel()
	return h.writer.Close(ctx)
}

func (h *Harness) events(n int, entries []journal.Entry) []TraceEvent {
	// Inbound entries come from one goroutine and outbound ones from
	// another; each group is already in order.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Direction == journal.Inbound && entries[j].Direction != journal.Inbound
	})

	events := make([]TraceEvent, 0, len(entries))
	for _, e := range entries {
		events = append(events, fromEntry(n, e))
	}

	_, err := mqueue.Drain(h.fromBridge, func(msg []byte, _ uint) {
		events = append(events, received(n, msg))
	})
	if err != nil {
		h.logger.Error("drain controller queue", "error", err)
	}

	for i := range events {
		events[i].Seq = h.clock.Next()
	}
	return events
}

func received(n int, msg []byte) TraceEvent {
	ev := TraceEvent{Step: n, Direction: DirectionController, Action: ActionReceived}

	m, err := wire.Decode(msg)
	if err != nil {
		ev.Detail = err.Error()
		return ev
	}
	w, ok := m.(*wire.Write)
	if !ok {
		ev.Detail = m.Tag().String()
		return ev
	}

	ev.Variable, _ = w.VariableName()
	ev.Kind = w.Kind.String()
	ev.Slot = int(w.Slot)
	if v, _, err := bridge.VariantFromRaw(w.Kind, &w.Value); err == nil {
		ev.Value = bridge.FormatValue(v)
	}
	return ev
}

func registrationFinished(entries []journal.Entry) bool {
	for _, e := range entries {
		if e.Action == journal.ActionSession && e.Detail == "registration finished" {
			return true
		}
	}
	return false
}

// buildRecord turns a send step into a wire record.
func buildRecord(step FlowStep) (wire.Message, error) {
	switch step.Send {
	case SendStart:
		return wire.Start{}, nil
	case SendEnd:
		return wire.End{}, nil
	case SendShutdown:
		return wire.Shutdown{}, nil
	}

	v := step.Variable
	kind, err := wire.ParseKind(v.Kind)
	if err != nil {
		return nil, err
	}
	value, err := convertValue(kind, v.Value)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", step.Send, v.Name, err)
	}

	if step.Send == SendWrite {
		return wire.NewWrite(v.Name, kind, v.Slot, value)
	}

	access, err := wire.ParseAccess(v.Access)
	if err != nil {
		return nil, err
	}
	return wire.NewRegister(wire.Variable{
		Name:        v.Name,
		Description: v.Description,
		Kind:        kind,
		Access:      access,
		Value:       value,
		Deadband:    v.Deadband,
		Slot:        v.Slot,
		Capacity:    v.Capacity,
	})
}

// checkExpect validates one step's events against its expect clause.
func checkExpect(n int, expect *ExpectClause, events []TraceEvent, result *Result) {
	if expect == nil {
		return
	}

	var rejected []string
	for _, ev := range events {
		if ev.Action == string(journal.ActionRejected) {
			rejected = append(rejected, ev.Status)
		}
	}
	switch {
	case expect.Rejected != "" && !contains(rejected, expect.Rejected):
		result.AddErrorf("step %d: expected rejection %s, got %v", n, expect.Rejected, rejected)
	case expect.Rejected == "" && len(rejected) > 0:
		result.AddErrorf("step %d: unexpected rejection %v", n, rejected)
	}

	if expect.Controller == nil {
		return
	}
	var got []TraceEvent
	for _, ev := range events {
		if ev.Direction == DirectionController {
			got = append(got, ev)
		}
	}
	want := *expect.Controller
	if len(got) != len(want) {
		result.AddErrorf("step %d: expected %d records at the controller, got %d", n, len(want), len(got))
		return
	}
	for i, w := range want {
		if msg := matchControllerWrite(w, got[i]); msg != "" {
			result.AddErrorf("step %d: controller record %d: %s", n, i+1, msg)
		}
	}
}

func matchControllerWrite(want ControllerWrite, got TraceEvent) string {
	if got.Variable != want.Name {
		return fmt.Sprintf("variable %q, want %q", got.Variable, want.Name)
	}
	if got.Slot != int(want.Slot) {
		return fmt.Sprintf("slot %d, want %d", got.Slot, want.Slot)
	}
	if want.Kind != "" && got.Kind != want.Kind {
		return fmt.Sprintf("kind %s, want %s", got.Kind, want.Kind)
	}
	kind, err := wire.ParseKind(got.Kind)
	if err != nil {
		return err.Error()
	}
	if text, err := formatExpected(kind, want.Value); err != nil {
		return err.Error()
	} else if text != got.Value {
		return fmt.Sprintf("value %s, want %s", got.Value, text)
	}
	return ""
}

// formatExpected renders a YAML value the way the journal renders values.
func formatExpected(kind wire.Kind, v any) (string, error) {
	value, err := convertValue(kind, v)
	if err != nil {
		return "", err
	}
	variant, err := ua.NewVariant(value)
	if err != nil {
		return "", err
	}
	return bridge.FormatValue(variant), nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
