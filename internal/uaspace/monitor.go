package uaspace

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gopcua/opcua/ua"
)

// Change is delivered to a Handler when a monitored value is reported.
type Change struct {
	ItemID uint32
	Node   string
	Value  *ua.DataValue

	// Initial is set on the first sample reported after the item was created.
	Initial bool
}

// Handler receives reported changes on the Run loop goroutine. It must not
// block.
type Handler func(Change)

// MonitorRequest carries the monitored item parameters. A nil Filter
// reports every status or value change. QueueSize and DiscardOldest are only
// revised and echoed back: handlers receive changes synchronously, so items
// never queue.
type MonitorRequest struct {
	SamplingInterval time.Duration
	QueueSize        uint32
	DiscardOldest    bool
	Filter           *ua.DataChangeFilter
}

// MonitorResult holds the parameters the server actually applied.
type MonitorResult struct {
	ItemID                  uint32
	RevisedSamplingInterval time.Duration
	RevisedQueueSize        uint32
}

type sample struct {
	value  *ua.Variant
	status ua.StatusCode
	source time.Time
}

type monitoredItem struct {
	id      uint32
	node    string
	req     MonitorRequest
	handler Handler

	mu       sync.Mutex // guards last and reported
	last     sample
	reported bool
}

// Monitor creates a monitored item on a variable and queues its initial
// sample. It fails with StatusBadTooManyMonitoredItems once the server's
// item limit is reached.
func (s *Server) Monitor(name string, req MonitorRequest, h Handler) (uint32, error) {
	res, err := s.MonitorWithResult(name, req, h)
	return res.ItemID, err
}

// MonitorWithResult is Monitor returning the revised parameters.
func (s *Server) MonitorWithResult(name string, req MonitorRequest, h Handler) (MonitorResult, error) {
	if h == nil {
		return MonitorResult{}, fmt.Errorf("monitor %q: %w", name, ua.StatusBadInvalidArgument)
	}
	if err := validateFilter(req.Filter); err != nil {
		return MonitorResult{}, fmt.Errorf("monitor %q: %w", name, err)
	}
	if s.queue.Closed() {
		return MonitorResult{}, ua.StatusBadServerHalted
	}

	if req.SamplingInterval < s.opts.MinSamplingInterval {
		req.SamplingInterval = s.opts.MinSamplingInterval
	}
	if req.QueueSize == 0 {
		req.QueueSize = 1
	}

	s.mu.Lock()
	v, ok := s.vars[name]
	if !ok {
		s.mu.Unlock()
		return MonitorResult{}, fmt.Errorf("monitor %q: %w", name, ua.StatusBadNodeIDUnknown)
	}
	if len(s.items) >= s.opts.MaxMonitoredItems {
		s.mu.Unlock()
		return MonitorResult{}, fmt.Errorf("monitor %q: %w", name, ua.StatusBadTooManyMonitoredItems)
	}
	s.nextID++
	item := &monitoredItem{id: s.nextID, node: name, req: req, handler: h}
	s.items[item.id] = item
	v.monitors = append(v.monitors, item.id)
	initial := sample{value: v.value, status: v.status, source: v.source}
	s.mu.Unlock()

	s.queue.Enqueue(event{typ: eventSample, node: name, item: item.id, sample: initial})

	return MonitorResult{
		ItemID:                  item.id,
		RevisedSamplingInterval: req.SamplingInterval,
		RevisedQueueSize:        req.QueueSize,
	}, nil
}

// DeleteMonitor removes a monitored item.
func (s *Server) DeleteMonitor(itemID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return ua.StatusBadMonitoredItemIDInvalid
	}
	delete(s.items, itemID)
	if v, ok := s.vars[item.node]; ok {
		for i, id := range v.monitors {
			if id == itemID {
				v.monitors = append(v.monitors[:i], v.monitors[i+1:]...)
				break
			}
		}
	}
	return nil
}

func validateFilter(f *ua.DataChangeFilter) error {
	if f == nil {
		return nil
	}
	switch f.DeadbandType {
	case uint32(ua.DeadbandTypeNone):
	case uint32(ua.DeadbandTypeAbsolute):
		if f.DeadbandValue < 0 || math.IsNaN(f.DeadbandValue) {
			return ua.StatusBadDeadbandFilterInvalid
		}
	default:
		// Percent deadband needs an EURange property, which nodes here do not carry.
		return ua.StatusBadMonitoredItemFilterUnsupported
	}
	return nil
}

// accept applies the item's data-change filter against the last reported
// sample and records smp as reported when it passes. The initial sample is
// always reported.
func (m *monitoredItem) accept(smp sample, initial bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if initial || !m.reported || passes(m.req.Filter, m.last, smp) {
		m.last = smp
		m.reported = true
		return true
	}
	return false
}

func passes(f *ua.DataChangeFilter, last, next sample) bool {
	trigger := ua.DataChangeTriggerStatusValue
	if f != nil {
		trigger = f.Trigger
	}

	if next.status != last.status {
		return true
	}
	if trigger == ua.DataChangeTriggerStatus {
		return false
	}

	if trigger == ua.DataChangeTriggerStatusValueTimestamp && !next.source.Equal(last.source) {
		return true
	}

	prev, cur := last.value.Value(), next.value.Value()
	if f != nil && f.DeadbandType == uint32(ua.DeadbandTypeAbsolute) && f.DeadbandValue > 0 {
		a, okA := numeric(prev)
		b, okB := numeric(cur)
		if okA && okB {
			return math.Abs(b-a) >= f.DeadbandValue
		}
	}
	return prev != cur
}

// numeric widens the scalar numeric types a variant can hold.
func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case int8:
		return float64(x), true
	case uint8:
		return float64(x), true
	case int16:
		return float64(x), true
	case uint16:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}
