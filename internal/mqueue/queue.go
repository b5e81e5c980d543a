// Package mqueue is a byte-oriented, priority-ordered, capacity-bounded
// message queue abstraction modeled on POSIX message queues.
//
// Two transports are provided: Posix, backed by the kernel mq_* calls on
// Linux, and Memory, an in-process namespace used by tests and the
// simulator. Both deliver whole messages, highest priority first and FIFO
// within a priority.
package mqueue

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrWouldBlock  = errors.New("mqueue: operation would block")
	ErrTimeout     = errors.New("mqueue: timed out")
	ErrClosed      = errors.New("mqueue: queue closed")
	ErrNotFound    = errors.New("mqueue: queue does not exist")
	ErrExists      = errors.New("mqueue: queue already exists")
	ErrMessageSize = errors.New("mqueue: message too large")
	ErrAccess      = errors.New("mqueue: operation not permitted by open mode")
	ErrBusy        = errors.New("mqueue: notification already registered")
	ErrInvalid     = errors.New("mqueue: invalid argument")
)

// Mode is the access mode a queue is opened with.
type Mode int

const (
	ReadOnly Mode = iota
	WriteOnly
	ReadWrite
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case WriteOnly:
		return "write-only"
	case ReadWrite:
		return "read-write"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) canSend() bool    { return m == WriteOnly || m == ReadWrite }
func (m Mode) canReceive() bool { return m == ReadOnly || m == ReadWrite }

// Defaults used when Options leave the queue geometry unset.
const (
	DefaultMaxMessages = 5
	DefaultMessageSize = 1024
	DefaultPerm        = 0o644
)

// Options control how a queue is opened.
type Options struct {
	Mode        Mode
	Create      bool
	Exclusive   bool
	NonBlocking bool

	// Geometry applies only when the queue is created.
	MaxMessages int
	MessageSize int
	Perm        uint32
}

func (o Options) withDefaults() Options {
	if o.MaxMessages <= 0 {
		o.MaxMessages = DefaultMaxMessages
	}
	if o.MessageSize <= 0 {
		o.MessageSize = DefaultMessageSize
	}
	if o.Perm == 0 {
		o.Perm = DefaultPerm
	}
	return o
}

// Attr describes a queue's geometry and current depth.
type Attr struct {
	MaxMessages int
	MessageSize int
	Current     int
	NonBlocking bool
}

// Queue is an open handle on a named queue.
type Queue interface {
	Name() string

	// Send enqueues msg with the given priority. In non-blocking mode a
	// full queue returns ErrWouldBlock.
	Send(msg []byte, prio uint) error

	// SendTimeout is Send that gives up with ErrTimeout after d.
	SendTimeout(msg []byte, prio uint, d time.Duration) error

	// Receive dequeues the oldest message of the highest priority. In
	// non-blocking mode an empty queue returns ErrWouldBlock.
	Receive() ([]byte, uint, error)

	// ReceiveTimeout is Receive that gives up with ErrTimeout after d.
	ReceiveTimeout(d time.Duration) ([]byte, uint, error)

	// Notify arms a one-shot notification: fn runs on its own goroutine
	// once the queue holds at least one message, after which the
	// registration is gone and must be re-armed. Arming on a non-empty
	// queue fires promptly. Notify(nil) disarms.
	Notify(fn func()) error

	Attr() (Attr, error)
	Close() error
}

// Transport opens and removes named queues.
type Transport interface {
	Open(name string, opts Options) (Queue, error)
	Unlink(name string) error
	Exists(name string) bool
}

// ValidateName checks the POSIX naming rule: a leading slash followed by
// at least one character and no further slashes.
func ValidateName(name string) error {
	if len(name) < 2 || name[0] != '/' || strings.Contains(name[1:], "/") {
		return fmt.Errorf("%w: queue name %q", ErrInvalid, name)
	}
	return nil
}

// Drain calls fn for every message currently available on a non-blocking
// queue and returns the number delivered. It stops at the first error other
// than ErrWouldBlock and returns it.
func Drain(q Queue, fn func(msg []byte, prio uint)) (int, error) {
	n := 0
	for {
		msg, prio, err := q.Receive()
		if errors.Is(err, ErrWouldBlock) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		fn(msg, prio)
		n++
	}
}
