package uaspace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for _, name := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(event{typ: eventChange, node: name}))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"A", "B", "C"} {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, e.node)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_SignalCoalesces(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(event{typ: eventChange})
	q.Enqueue(event{typ: eventChange})

	<-q.Wait()
	select {
	case <-q.Wait():
		t.Fatal("two enqueues produced two signals")
	default:
	}
	assert.Equal(t, 2, q.Len())
}

func TestEventQueue_CloseReleasesBarriers(t *testing.T) {
	q := newEventQueue()
	done := make(chan struct{})
	q.Enqueue(event{typ: eventChange})
	q.Enqueue(event{typ: eventSync, done: done})

	assert.True(t, q.Close())
	assert.False(t, q.Close(), "second close is a no-op")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("barrier not released on close")
	}

	assert.False(t, q.Enqueue(event{typ: eventChange}))
	_, ok := q.TryDequeue()
	assert.False(t, ok)
	assert.True(t, q.Closed())

	// The wakeup channel is closed, so waiters never block.
	select {
	case <-q.Wait():
	default:
		t.Fatal("wait channel should be closed")
	}
}
