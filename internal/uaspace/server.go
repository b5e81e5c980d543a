package uaspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
)

// AddressSpace is the surface the bridge consumes.
type AddressSpace interface {
	Read(name string) (*ua.Variant, error)
	Write(name string, v *ua.Variant) error
	WriteNotify(name string, v *ua.Variant, after func(reported bool)) error
	AddVariable(n Node) error
	Monitor(name string, req MonitorRequest, h Handler) (uint32, error)
	Run(ctx context.Context) error
	Stop()
}

// Node describes a variable node to add under the Objects folder.
type Node struct {
	// Name is the string identifier of the node in the server namespace.
	Name        string
	DisplayName string
	Description string
	Value       *ua.Variant
	AccessLevel ua.AccessLevelType
}

// NodeInfo is a snapshot of a node for browsing.
type NodeInfo struct {
	NodeID      *ua.NodeID
	Name        string
	DisplayName string
	Description string
	Type        ua.TypeID
	Value       *ua.Variant
	AccessLevel ua.AccessLevelType
	Monitors    int
}

// Options configure a Server. Zero values select the defaults below.
type Options struct {
	Namespace           uint16
	MaxMonitoredItems   int
	MinSamplingInterval time.Duration

	// Now stamps data values; defaults to time.Now.
	Now func() time.Time

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

const (
	DefaultNamespace           = 1
	DefaultMaxMonitoredItems   = 200
	DefaultMinSamplingInterval = 50 * time.Millisecond
)

type variable struct {
	node     Node
	nodeID   *ua.NodeID
	typ      ua.TypeID
	value    *ua.Variant
	status   ua.StatusCode
	source   time.Time
	monitors []uint32
}

// Server is the in-process address space.
//
// Thread-safety: Read, Write, ClientWrite, AddVariable and Monitor are safe
// from any goroutine. Run must be called from exactly one goroutine; handlers
// run on that goroutine and may call back into the server.
type Server struct {
	opts   Options
	root   *ua.NodeID
	queue  *eventQueue
	logger *slog.Logger

	mu     sync.RWMutex
	vars   map[string]*variable
	items  map[uint32]*monitoredItem
	nextID uint32

	stopOnce sync.Once
}

// NewServer creates an empty address space.
func NewServer(opts Options) *Server {
	if opts.Namespace == 0 {
		opts.Namespace = DefaultNamespace
	}
	if opts.MaxMonitoredItems <= 0 {
		opts.MaxMonitoredItems = DefaultMaxMonitoredItems
	}
	if opts.MinSamplingInterval <= 0 {
		opts.MinSamplingInterval = DefaultMinSamplingInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		opts:   opts,
		root:   ua.NewNumericNodeID(0, id.ObjectsFolder),
		queue:  newEventQueue(),
		logger: opts.Logger.With("component", "uaspace"),
		vars:   make(map[string]*variable),
		items:  make(map[uint32]*monitoredItem),
	}
}

// Root returns the folder every variable is organized under.
func (s *Server) Root() *ua.NodeID {
	return s.root
}

// NodeID returns the node id a variable called name has in this server.
func (s *Server) NodeID(name string) *ua.NodeID {
	return ua.NewStringNodeID(s.opts.Namespace, name)
}

// AddVariable creates a variable node. The node's data type is fixed by
// the type of its initial value.
func (s *Server) AddVariable(n Node) error {
	if n.Name == "" || n.Value == nil {
		return fmt.Errorf("add variable %q: %w", n.Name, ua.StatusBadInvalidArgument)
	}
	if s.queue.Closed() {
		return ua.StatusBadServerHalted
	}
	if n.DisplayName == "" {
		n.DisplayName = n.Name
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vars[n.Name]; ok {
		return fmt.Errorf("add variable %q: %w", n.Name, ua.StatusBadNodeIDExists)
	}
	s.vars[n.Name] = &variable{
		node:   n,
		nodeID: s.NodeID(n.Name),
		typ:    n.Value.Type(),
		value:  n.Value,
		status: ua.StatusOK,
		source: s.opts.Now(),
	}
	return nil
}

// Read returns the current value of a variable.
func (s *Server) Read(name string) (*ua.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vars[name]
	if !ok {
		return nil, fmt.Errorf("read %q: %w", name, ua.StatusBadNodeIDUnknown)
	}
	return v.value, nil
}

// DataType returns the data type a variable was created with.
func (s *Server) DataType(name string) (ua.TypeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vars[name]
	if !ok {
		return 0, fmt.Errorf("data type %q: %w", name, ua.StatusBadNodeIDUnknown)
	}
	return v.typ, nil
}

// Write stores a value as the server itself, bypassing access levels.
// The value must have the node's data type.
func (s *Server) Write(name string, val *ua.Variant) error {
	return s.write(name, val, false, nil)
}

// WriteNotify is Write that calls after on the Run loop once the change has
// been offered to every monitored item of the node. reported is false when
// no item reported it, e.g. because it fell inside a deadband. after runs
// before any later event is handled and is skipped if the server stops
// first.
func (s *Server) WriteNotify(name string, val *ua.Variant, after func(reported bool)) error {
	return s.write(name, val, false, after)
}

// ClientWrite stores a value on behalf of a client; the node must be
// writable.
func (s *Server) ClientWrite(name string, val *ua.Variant) error {
	return s.write(name, val, true, nil)
}

func (s *Server) write(name string, val *ua.Variant, client bool, after func(bool)) error {
	if val == nil {
		return fmt.Errorf("write %q: %w", name, ua.StatusBadInvalidArgument)
	}
	if s.queue.Closed() {
		return ua.StatusBadServerHalted
	}

	s.mu.Lock()
	v, ok := s.vars[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("write %q: %w", name, ua.StatusBadNodeIDUnknown)
	}
	if client && v.node.AccessLevel&ua.AccessLevelTypeCurrentWrite == 0 {
		s.mu.Unlock()
		return fmt.Errorf("write %q: %w", name, ua.StatusBadNotWritable)
	}
	if val.Type() != v.typ {
		s.mu.Unlock()
		return fmt.Errorf("write %q: %w", name, ua.StatusBadTypeMismatch)
	}
	v.value = val
	v.status = ua.StatusOK
	v.source = s.opts.Now()
	smp := sample{value: val, status: v.status, source: v.source}
	s.mu.Unlock()

	if !s.queue.Enqueue(event{typ: eventChange, node: name, sample: smp, after: after}) {
		return ua.StatusBadServerHalted
	}
	return nil
}

// Nodes returns a snapshot of every variable, sorted by name.
func (s *Server) Nodes() []NodeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]NodeInfo, 0, len(s.vars))
	for _, v := range s.vars {
		out = append(out, NodeInfo{
			NodeID:      v.nodeID,
			Name:        v.node.Name,
			DisplayName: v.node.DisplayName,
			Description: v.node.Description,
			Type:        v.typ,
			Value:       v.value,
			AccessLevel: v.node.AccessLevel,
			Monitors:    len(v.monitors),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run serves change notifications until Stop is called or ctx is done.
// It returns nil after Stop and ctx.Err() on cancellation. Calling Run
// after Stop returns immediately.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("address space serving", "variables", s.varCount(), "monitored_items", s.itemCount())

	for {
		if e, ok := s.queue.TryDequeue(); ok {
			s.process(e)
			continue
		}

		select {
		case <-ctx.Done():
			s.logger.Info("address space stopping: context cancelled")
			s.queue.Close()
			return ctx.Err()
		case <-s.queue.Wait():
			if s.queue.Closed() {
				s.logger.Info("address space stopping: stopped")
				return nil
			}
		}
	}
}

// Stop ends the Run loop. It is safe to call more than once and before Run.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.queue.Close()
	})
}

// Stopped reports whether Stop has been called or Run was cancelled.
func (s *Server) Stopped() bool {
	return s.queue.Closed()
}

// Sync blocks until every event enqueued before the call has been handled
// by the Run loop.
func (s *Server) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if !s.queue.Enqueue(event{typ: eventSync, done: done}) {
		return ua.StatusBadServerHalted
	}
	select {
	case <-done:
		if s.queue.Closed() {
			return ua.StatusBadServerHalted
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) process(e event) {
	switch e.typ {
	case eventSync:
		close(e.done)
	case eventSample:
		s.deliver(e.item, e.node, e.sample, true)
	case eventChange:
		s.mu.RLock()
		var ids []uint32
		if v, ok := s.vars[e.node]; ok {
			ids = append(ids, v.monitors...)
		}
		s.mu.RUnlock()
		reported := false
		for _, item := range ids {
			if s.deliver(item, e.node, e.sample, false) {
				reported = true
			}
		}
		if e.after != nil {
			e.after(reported)
		}
	}
}

// deliver runs an item's filter and, if the sample passes, its handler.
// It reports whether the handler ran.
func (s *Server) deliver(itemID uint32, node string, smp sample, initial bool) bool {
	s.mu.RLock()
	item, ok := s.items[itemID]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	if !item.accept(smp, initial) {
		s.logger.Debug("change filtered", "node", node, "item", itemID)
		return false
	}

	item.handler(Change{
		ItemID: itemID,
		Node:   node,
		Value: &ua.DataValue{
			Value:           smp.value,
			Status:          smp.status,
			SourceTimestamp: smp.source,
			ServerTimestamp: s.opts.Now(),
		},
		Initial: initial,
	})
	return true
}

func (s *Server) varCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vars)
}

func (s *Server) itemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// StatusOf extracts the status code carried by err. A nil error is
// StatusOK; errors without a status map to
// StatusBadUnexpectedError.
func StatusOf(err error) ua.StatusCode {
	if err == nil {
		return ua.StatusOK
	}
	var sc ua.StatusCode
	if errors.As(err, &sc) {
		return sc
	}
	return ua.StatusBadUnexpectedError
}
