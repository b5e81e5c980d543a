package uaspace

import "sync"

type eventType int

const (
	eventChange eventType = iota + 1 // a node's value changed
	eventSample                      // initial sample for a new monitored item
	eventSync                        // barrier, closes done when reached
)

type event struct {
	typ    eventType
	node   string
	item   uint32
	sample sample
	done   chan struct{}
	after  func(reported bool) // eventChange only
}

// eventQueue is a thread-safe FIFO feeding the Run loop.
//
// Writers (bridge goroutines, clients) enqueue from any goroutine; only the
// Run loop dequeues. The signal channel has a buffer of one, so bursts of
// enqueues coalesce into a single wakeup.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends e. Returns false once the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front event without blocking.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.events) == 0 {
		return event{}, false
	}

	e := q.events[0]
	q.events[0] = event{} // release references held by the backing array
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns the wakeup channel. It is closed when the queue closes.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops the queue. Pending events are discarded: any sync barriers
// among them are released so their waiters do not hang.
func (q *eventQueue) Close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.closed = true
	for _, e := range q.events {
		if e.done != nil {
			close(e.done)
		}
	}
	q.events = nil
	close(q.signal)
	return true
}

func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
