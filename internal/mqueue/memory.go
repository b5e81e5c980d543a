package mqueue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/queues/priorityqueue"
)

// Memory is an in-process queue namespace. Queues live until they are
// unlinked and the last handle is closed, like their POSIX counterparts.
//
// Thread-safety: safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	queues map[string]*memQueue
}

// NewMemory creates an empty namespace.
func NewMemory() *Memory {
	return &Memory{queues: make(map[string]*memQueue)}
}

// Open opens or creates the named queue.
func (m *Memory) Open(name string, opts Options) (Queue, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[name]
	switch {
	case ok && opts.Create && opts.Exclusive:
		return nil, ErrExists
	case !ok && !opts.Create:
		return nil, ErrNotFound
	case !ok:
		q = newMemQueue(name, opts.MaxMessages, opts.MessageSize)
		m.queues[name] = q
	}

	return &memHandle{q: q, mode: opts.Mode, nonblock: opts.NonBlocking}, nil
}

// Unlink removes name from the namespace. Open handles keep working.
func (m *Memory) Unlink(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[name]; !ok {
		return ErrNotFound
	}
	delete(m.queues, name)
	return nil
}

// Exists reports whether name is currently linked.
func (m *Memory) Exists(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.queues[name]
	return ok
}

type memMessage struct {
	data []byte
	prio uint
	seq  uint64
}

// byPriority orders messages highest priority first, then by arrival.
func byPriority(a, b interface{}) int {
	x, y := a.(memMessage), b.(memMessage)
	switch {
	case x.prio > y.prio:
		return -1
	case x.prio < y.prio:
		return 1
	case x.seq < y.seq:
		return -1
	case x.seq > y.seq:
		return 1
	default:
		return 0
	}
}

type memQueue struct {
	name        string
	maxMessages int
	messageSize int

	mu       sync.Mutex
	pq       *priorityqueue.Queue
	seq      uint64
	changed  chan struct{} // closed and replaced on every state change
	notify   func()
	notifier *memHandle
}

func newMemQueue(name string, maxMessages, messageSize int) *memQueue {
	return &memQueue{
		name:        name,
		maxMessages: maxMessages,
		messageSize: messageSize,
		pq:          priorityqueue.NewWith(byPriority),
		changed:     make(chan struct{}),
	}
}

// broadcast wakes every waiter. Caller holds q.mu.
func (q *memQueue) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// fireNotify runs the armed notification if the queue is non-empty.
// Caller holds q.mu.
func (q *memQueue) fireNotify() {
	if q.notify == nil || q.pq.Empty() {
		return
	}
	fn := q.notify
	q.notify, q.notifier = nil, nil
	go fn()
}

type memHandle struct {
	q        *memQueue
	mode     Mode
	nonblock bool
	closed   atomic.Bool
}

func (h *memHandle) Name() string { return h.q.name }

func (h *memHandle) Send(msg []byte, prio uint) error {
	return h.send(msg, prio, nil)
}

func (h *memHandle) SendTimeout(msg []byte, prio uint, d time.Duration) error {
	return h.send(msg, prio, time.After(d))
}

func (h *memHandle) send(msg []byte, prio uint, deadline <-chan time.Time) error {
	if h.closed.Load() {
		return ErrClosed
	}
	if !h.mode.canSend() {
		return ErrAccess
	}
	q := h.q
	if len(msg) > q.messageSize {
		return ErrMessageSize
	}

	for {
		q.mu.Lock()
		if q.pq.Size() < q.maxMessages {
			q.seq++
			q.pq.Enqueue(memMessage{data: append([]byte(nil), msg...), prio: prio, seq: q.seq})
			q.broadcast()
			q.fireNotify()
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		if h.nonblock {
			return ErrWouldBlock
		}
		if err := h.await(wait, deadline); err != nil {
			return err
		}
	}
}

func (h *memHandle) Receive() ([]byte, uint, error) {
	return h.receive(nil)
}

func (h *memHandle) ReceiveTimeout(d time.Duration) ([]byte, uint, error) {
	return h.receive(time.After(d))
}

func (h *memHandle) receive(deadline <-chan time.Time) ([]byte, uint, error) {
	if h.closed.Load() {
		return nil, 0, ErrClosed
	}
	if !h.mode.canReceive() {
		return nil, 0, ErrAccess
	}
	q := h.q

	for {
		q.mu.Lock()
		if v, ok := q.pq.Dequeue(); ok {
			q.broadcast()
			q.mu.Unlock()
			m := v.(memMessage)
			return m.data, m.prio, nil
		}
		wait := q.changed
		q.mu.Unlock()

		if h.nonblock {
			return nil, 0, ErrWouldBlock
		}
		if err := h.await(wait, deadline); err != nil {
			return nil, 0, err
		}
	}
}

func (h *memHandle) await(changed <-chan struct{}, deadline <-chan time.Time) error {
	select {
	case <-changed:
		if h.closed.Load() {
			return ErrClosed
		}
		return nil
	case <-deadline:
		return ErrTimeout
	}
}

func (h *memHandle) Notify(fn func()) error {
	if h.closed.Load() {
		return ErrClosed
	}
	q := h.q
	q.mu.Lock()
	defer q.mu.Unlock()

	if fn == nil {
		if q.notifier == h {
			q.notify, q.notifier = nil, nil
		}
		return nil
	}
	if q.notify != nil && q.notifier != h {
		return ErrBusy
	}
	q.notify, q.notifier = fn, h
	q.fireNotify()
	return nil
}

func (h *memHandle) Attr() (Attr, error) {
	if h.closed.Load() {
		return Attr{}, ErrClosed
	}
	q := h.q
	q.mu.Lock()
	defer q.mu.Unlock()
	return Attr{
		MaxMessages: q.maxMessages,
		MessageSize: q.messageSize,
		Current:     q.pq.Size(),
		NonBlocking: h.nonblock,
	}, nil
}

func (h *memHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	q := h.q
	q.mu.Lock()
	if q.notifier == h {
		q.notify, q.notifier = nil, nil
	}
	q.broadcast()
	q.mu.Unlock()
	return nil
}
