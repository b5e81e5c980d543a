//go:build linux

package mqueue

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pollInterval bounds how long a notification watcher sleeps in poll(2)
// before checking whether it has been disarmed.
const pollInterval = 100 // milliseconds

// mqAttr mirrors struct mq_attr; every field is a C long.
type mqAttr struct {
	Flags    int
	MaxMsg   int
	MsgSize  int
	CurMsgs  int
	reserved [4]int
}

// Posix opens kernel message queues through the mq_* system calls.
// Queue names follow the POSIX rule (leading slash); the slash is stripped
// before reaching the kernel, as libc does.
type Posix struct{}

// NewPosix returns the kernel transport.
func NewPosix() *Posix {
	return &Posix{}
}

func (p *Posix) Open(name string, opts Options) (Queue, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	flags := unix.O_CLOEXEC
	switch opts.Mode {
	case ReadOnly:
		flags |= unix.O_RDONLY
	case WriteOnly:
		flags |= unix.O_WRONLY
	case ReadWrite:
		flags |= unix.O_RDWR
	default:
		return nil, fmt.Errorf("%w: mode %s", ErrInvalid, opts.Mode)
	}
	if opts.NonBlocking {
		flags |= unix.O_NONBLOCK
	}

	var attrPtr unsafe.Pointer
	if opts.Create {
		flags |= unix.O_CREAT
		if opts.Exclusive {
			flags |= unix.O_EXCL
		}
		attr := &mqAttr{MaxMsg: opts.MaxMessages, MsgSize: opts.MessageSize}
		attrPtr = unsafe.Pointer(attr)
	}

	kname, err := unix.BytePtrFromString(name[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	fd, _, errno := unix.Syscall6(unix.SYS_MQ_OPEN,
		uintptr(unsafe.Pointer(kname)), uintptr(flags), uintptr(opts.Perm), uintptr(attrPtr), 0, 0)
	if errno != 0 {
		return nil, mapErrno("mq_open", name, errno)
	}

	q := &posixQueue{name: name, fd: int(fd)}
	a, err := q.Attr()
	if err != nil {
		_ = unix.Close(q.fd)
		return nil, err
	}
	q.msgSize = a.MessageSize
	return q, nil
}

func (p *Posix) Unlink(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	kname, err := unix.BytePtrFromString(name[1:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	_, _, errno := unix.Syscall(unix.SYS_MQ_UNLINK, uintptr(unsafe.Pointer(kname)), 0, 0)
	if errno != 0 {
		return mapErrno("mq_unlink", name, errno)
	}
	return nil
}

func (p *Posix) Exists(name string) bool {
	q, err := p.Open(name, Options{Mode: ReadOnly, NonBlocking: true})
	if err != nil {
		return errors.Is(err, ErrAccess)
	}
	_ = q.Close()
	return true
}

type posixQueue struct {
	name    string
	fd      int
	msgSize int

	mu     sync.Mutex
	closed bool
	stop   chan struct{} // closes to disarm the active watcher
	done   chan struct{} // closed when the active watcher exits
}

func (q *posixQueue) Name() string { return q.name }

func (q *posixQueue) Send(msg []byte, prio uint) error {
	return q.send(msg, prio, nil)
}

func (q *posixQueue) SendTimeout(msg []byte, prio uint, d time.Duration) error {
	ts := unix.NsecToTimespec(time.Now().Add(d).UnixNano())
	return q.send(msg, prio, &ts)
}

func (q *posixQueue) send(msg []byte, prio uint, abs *unix.Timespec) error {
	fd, err := q.handle()
	if err != nil {
		return err
	}
	for {
		_, _, errno := unix.Syscall6(unix.SYS_MQ_TIMEDSEND,
			uintptr(fd),
			uintptr(unsafe.Pointer(unsafe.SliceData(msg))),
			uintptr(len(msg)),
			uintptr(prio),
			uintptr(unsafe.Pointer(abs)),
			0)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return mapErrno("mq_timedsend", q.name, errno)
		}
		return nil
	}
}

func (q *posixQueue) Receive() ([]byte, uint, error) {
	return q.receive(nil)
}

func (q *posixQueue) ReceiveTimeout(d time.Duration) ([]byte, uint, error) {
	ts := unix.NsecToTimespec(time.Now().Add(d).UnixNano())
	return q.receive(&ts)
}

func (q *posixQueue) receive(abs *unix.Timespec) ([]byte, uint, error) {
	fd, err := q.handle()
	if err != nil {
		return nil, 0, err
	}
	buf := make([]byte, q.msgSize)
	var prio uint32
	for {
		n, _, errno := unix.Syscall6(unix.SYS_MQ_TIMEDRECEIVE,
			uintptr(fd),
			uintptr(unsafe.Pointer(unsafe.SliceData(buf))),
			uintptr(len(buf)),
			uintptr(unsafe.Pointer(&prio)),
			uintptr(unsafe.Pointer(abs)),
			0)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return nil, 0, mapErrno("mq_timedreceive", q.name, errno)
		}
		return buf[:n], uint(prio), nil
	}
}

// Notify watches the descriptor with poll(2) rather than mq_notify(3):
// SIGEV_THREAD delivery needs libc, and poll readiness is level-triggered,
// so a message that arrives between a drain and the re-arm is not missed.
func (q *posixQueue) Notify(fn func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.disarmLocked()
	if fn == nil {
		return nil
	}

	stop, done := make(chan struct{}), make(chan struct{})
	q.stop, q.done = stop, done
	go q.watch(fn, stop, done)
	return nil
}

// disarmLocked stops the active watcher. Caller holds q.mu.
func (q *posixQueue) disarmLocked() {
	if q.stop == nil {
		return
	}
	close(q.stop)
	done := q.done
	q.stop, q.done = nil, nil

	q.mu.Unlock()
	<-done
	q.mu.Lock()
}

func (q *posixQueue) watch(fn func(), stop, done chan struct{}) {
	fds := []unix.PollFd{{Fd: int32(q.fd), Events: unix.POLLIN}}
	for {
		select {
		case <-stop:
			close(done)
			return
		default:
		}

		n, err := unix.Poll(fds, pollInterval)
		if err == unix.EINTR {
			continue
		}
		if err != nil || (n > 0 && fds[0].Revents&unix.POLLNVAL != 0) {
			close(done)
			return
		}
		if n == 0 || fds[0].Revents&unix.POLLIN == 0 {
			continue
		}

		q.mu.Lock()
		armed := q.stop == stop
		if armed {
			q.stop, q.done = nil, nil
		}
		q.mu.Unlock()
		close(done)

		if armed {
			fn()
		}
		return
	}
}

func (q *posixQueue) Attr() (Attr, error) {
	fd, err := q.handle()
	if err != nil {
		return Attr{}, err
	}
	var a mqAttr
	_, _, errno := unix.Syscall(unix.SYS_MQ_GETSETATTR, uintptr(fd), 0, uintptr(unsafe.Pointer(&a)))
	if errno != 0 {
		return Attr{}, mapErrno("mq_getattr", q.name, errno)
	}
	return Attr{
		MaxMessages: a.MaxMsg,
		MessageSize: a.MsgSize,
		Current:     a.CurMsgs,
		NonBlocking: a.Flags&unix.O_NONBLOCK != 0,
	}, nil
}

func (q *posixQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.disarmLocked()
	q.closed = true
	if err := unix.Close(q.fd); err != nil {
		return fmt.Errorf("mq_close %s: %w", q.name, err)
	}
	return nil
}

func (q *posixQueue) handle() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return -1, ErrClosed
	}
	return q.fd, nil
}

func mapErrno(op, name string, errno unix.Errno) error {
	var sentinel error
	switch errno {
	case unix.EAGAIN:
		sentinel = ErrWouldBlock
	case unix.ETIMEDOUT:
		sentinel = ErrTimeout
	case unix.ENOENT:
		sentinel = ErrNotFound
	case unix.EEXIST:
		sentinel = ErrExists
	case unix.EMSGSIZE:
		sentinel = ErrMessageSize
	case unix.EACCES, unix.EBADF, unix.EPERM:
		sentinel = ErrAccess
	case unix.EBUSY:
		sentinel = ErrBusy
	default:
		return fmt.Errorf("%s %s: %w", op, name, errno)
	}
	return fmt.Errorf("%s %s: %w: %w", op, name, sentinel, errno)
}
