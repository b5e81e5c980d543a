package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuffer is the Writer queue length when none is configured.
const DefaultBuffer = 256

// maxBatch bounds how many entries go into one transaction.
const maxBatch = 64

// Writer stamps entries with the session id and a sequence number and
// persists them on a background goroutine.
//
// Record never blocks: when the buffer is full the entry is dropped and
// counted. Stamping happens in Record, so sequence numbers reflect the
// order events were observed even when some are dropped.
type Writer struct {
	store   *Store
	session string
	clock   *Clock
	now     func() time.Time

	ch      chan Entry
	dropped atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithBuffer sets the queue length.
func WithBuffer(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.ch = make(chan Entry, n)
		}
	}
}

// WithNow overrides the timestamp source.
func WithNow(now func() time.Time) WriterOption {
	return func(w *Writer) {
		w.now = now
	}
}

// NewWriter creates a Writer for one session and starts its flush loop.
// The session row must already exist (see Store.BeginSession).
func NewWriter(store *Store, session string, opts ...WriterOption) *Writer {
	w := &Writer{
		store:   store,
		session: session,
		clock:   NewClock(),
		now:     time.Now,
		ch:      make(chan Entry, DefaultBuffer),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.loop()
	return w
}

// Record queues e for writing.
func (w *Writer) Record(e Entry) {
	select {
	case <-w.closed:
		w.dropped.Add(1)
		return
	default:
	}

	e.Session = w.session
	e.Seq = w.clock.Next()
	if e.RecordedAt.IsZero() {
		e.RecordedAt = w.now()
	}

	select {
	case w.ch <- e:
	default:
		w.dropped.Add(1)
	}
}

// Dropped returns how many entries were discarded.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Close stops accepting entries, flushes what is queued and waits for the
// flush loop to finish or ctx to end.
func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() { close(w.closed) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) loop() {
	defer close(w.done)

	batch := make([]Entry, 0, maxBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.store.Write(context.Background(), batch); err != nil {
			slog.Warn("journal write failed", "events", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-w.ch:
			batch = append(batch, e)
			// Take whatever else is already queued.
		more:
			for len(batch) < maxBatch {
				select {
				case e := <-w.ch:
					batch = append(batch, e)
				default:
					break more
				}
			}
			flush()
		case <-w.closed:
			for {
				select {
				case e := <-w.ch:
					batch = append(batch, e)
					if len(batch) == maxBatch {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
