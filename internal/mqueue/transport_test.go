package mqueue

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var queueSeq atomic.Int64

func uniqueName(t *testing.T) string {
	return fmt.Sprintf("/uabridge_test_%d_%d", time.Now().UnixNano()%1_000_000, queueSeq.Add(1))
}

// runTransportSuite exercises behaviour both transports must share.
func runTransportSuite(t *testing.T, tr Transport) {
	t.Run("priority then fifo", func(t *testing.T) {
		name := uniqueName(t)
		q := openRW(t, tr, name)

		require.NoError(t, q.Send([]byte("low-1"), 1))
		require.NoError(t, q.Send([]byte("high"), 7))
		require.NoError(t, q.Send([]byte("low-2"), 1))

		var got []string
		for range 3 {
			msg, _, err := q.Receive()
			require.NoError(t, err)
			got = append(got, string(msg))
		}
		assert.Equal(t, []string{"high", "low-1", "low-2"}, got)
	})

	t.Run("non-blocking full and empty", func(t *testing.T) {
		name := uniqueName(t)
		q := openRW(t, tr, name)

		_, _, err := q.Receive()
		assert.ErrorIs(t, err, ErrWouldBlock)

		for i := range 2 {
			require.NoError(t, q.Send([]byte{byte(i)}, 1))
		}
		assert.ErrorIs(t, q.Send([]byte{9}, 1), ErrWouldBlock)

		a, err := q.Attr()
		require.NoError(t, err)
		assert.Equal(t, 2, a.Current)
		assert.Equal(t, 2, a.MaxMessages)
		assert.True(t, a.NonBlocking)
	})

	t.Run("message size enforced", func(t *testing.T) {
		q := openRW(t, tr, uniqueName(t))
		err := q.Send(make([]byte, 65), 1)
		assert.ErrorIs(t, err, ErrMessageSize)
	})

	t.Run("open without create", func(t *testing.T) {
		_, err := tr.Open(uniqueName(t), Options{Mode: ReadOnly})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("exclusive create", func(t *testing.T) {
		name := uniqueName(t)
		openRW(t, tr, name)
		_, err := tr.Open(name, Options{Mode: ReadWrite, Create: true, Exclusive: true})
		assert.ErrorIs(t, err, ErrExists)
	})

	t.Run("unlink", func(t *testing.T) {
		name := uniqueName(t)
		q, err := tr.Open(name, Options{Mode: ReadWrite, Create: true, NonBlocking: true, MaxMessages: 2, MessageSize: 64})
		require.NoError(t, err)
		defer q.Close()

		assert.True(t, tr.Exists(name))
		require.NoError(t, tr.Unlink(name))
		assert.False(t, tr.Exists(name))
		assert.ErrorIs(t, tr.Unlink(name), ErrNotFound)

		// The open handle outlives the name.
		require.NoError(t, q.Send([]byte("still here"), 1))
		msg, _, err := q.Receive()
		require.NoError(t, err)
		assert.Equal(t, "still here", string(msg))
	})

	t.Run("timeouts", func(t *testing.T) {
		name := uniqueName(t)
		q, err := tr.Open(name, Options{Mode: ReadWrite, Create: true, MaxMessages: 1, MessageSize: 64})
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = q.Close()
			_ = tr.Unlink(name)
		})

		_, _, err = q.ReceiveTimeout(20 * time.Millisecond)
		assert.ErrorIs(t, err, ErrTimeout)

		require.NoError(t, q.SendTimeout([]byte("a"), 1, 20*time.Millisecond))
		assert.ErrorIs(t, q.SendTimeout([]byte("b"), 1, 20*time.Millisecond), ErrTimeout)
	})

	t.Run("notify fires once per arm", func(t *testing.T) {
		q := openRW(t, tr, uniqueName(t))

		fired := make(chan struct{}, 4)
		require.NoError(t, q.Notify(func() { fired <- struct{}{} }))

		require.NoError(t, q.Send([]byte("x"), 1))
		waitFired(t, fired)

		// Not re-armed: a second message does not notify.
		require.NoError(t, q.Send([]byte("y"), 1))
		select {
		case <-fired:
			t.Fatal("notification fired without re-arming")
		case <-time.After(250 * time.Millisecond):
		}

		// Arming on a non-empty queue fires promptly.
		require.NoError(t, q.Notify(func() { fired <- struct{}{} }))
		waitFired(t, fired)
	})

	t.Run("notify disarm", func(t *testing.T) {
		q := openRW(t, tr, uniqueName(t))

		fired := make(chan struct{}, 1)
		require.NoError(t, q.Notify(func() { fired <- struct{}{} }))
		require.NoError(t, q.Notify(nil))

		require.NoError(t, q.Send([]byte("x"), 1))
		select {
		case <-fired:
			t.Fatal("disarmed notification fired")
		case <-time.After(250 * time.Millisecond):
		}
	})

	t.Run("closed handle", func(t *testing.T) {
		name := uniqueName(t)
		q, err := tr.Open(name, Options{Mode: ReadWrite, Create: true, NonBlocking: true, MaxMessages: 2, MessageSize: 64})
		require.NoError(t, err)
		t.Cleanup(func() { _ = tr.Unlink(name) })

		require.NoError(t, q.Close())
		assert.ErrorIs(t, q.Close(), ErrClosed)
		assert.ErrorIs(t, q.Send([]byte("x"), 1), ErrClosed)
		_, _, err = q.Receive()
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func openRW(t *testing.T, tr Transport, name string) Queue {
	t.Helper()
	q, err := tr.Open(name, Options{
		Mode:        ReadWrite,
		Create:      true,
		NonBlocking: true,
		MaxMessages: 2,
		MessageSize: 64,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = q.Close()
		_ = tr.Unlink(name)
	})
	return q
}

func waitFired(t *testing.T, fired <-chan struct{}) {
	t.Helper()
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("notification did not fire")
	}
}

func TestMemoryTransport(t *testing.T) {
	runTransportSuite(t, NewMemory())
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("/codesys_to_opcua"))
	for _, bad := range []string{"", "/", "codesys", "/a/b"} {
		assert.ErrorIs(t, ValidateName(bad), ErrInvalid, bad)
	}
}

func TestMemory_AccessModes(t *testing.T) {
	m := NewMemory()
	ro, err := m.Open("/in", Options{Mode: ReadOnly, Create: true, NonBlocking: true})
	require.NoError(t, err)
	wo, err := m.Open("/in", Options{Mode: WriteOnly, NonBlocking: true})
	require.NoError(t, err)

	assert.ErrorIs(t, ro.Send([]byte("x"), 1), ErrAccess)
	_, _, err = wo.Receive()
	assert.ErrorIs(t, err, ErrAccess)

	require.NoError(t, wo.Send([]byte("x"), 1))
	msg, prio, err := ro.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), msg)
	assert.Equal(t, uint(1), prio)
}

func TestMemory_Defaults(t *testing.T) {
	m := NewMemory()
	q, err := m.Open("/defaults", Options{Mode: ReadWrite, Create: true})
	require.NoError(t, err)

	a, err := q.Attr()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxMessages, a.MaxMessages)
	assert.Equal(t, DefaultMessageSize, a.MessageSize)
	assert.False(t, a.NonBlocking)
}

func TestMemory_BlockingReceiveWakesOnSend(t *testing.T) {
	m := NewMemory()
	rx, err := m.Open("/blocking", Options{Mode: ReadOnly, Create: true})
	require.NoError(t, err)
	tx, err := m.Open("/blocking", Options{Mode: WriteOnly})
	require.NoError(t, err)

	got := make(chan string, 1)
	go func() {
		msg, _, err := rx.Receive()
		if err == nil {
			got <- string(msg)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, tx.Send([]byte("wake"), 1))

	select {
	case s := <-got:
		assert.Equal(t, "wake", s)
	case <-time.After(time.Second):
		t.Fatal("blocked receiver was not woken")
	}
}

func TestMemory_CloseWakesBlockedReceiver(t *testing.T) {
	m := NewMemory()
	rx, err := m.Open("/closing", Options{Mode: ReadOnly, Create: true})
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, _, err := rx.Receive()
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, rx.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("receiver not released by close")
	}
}

func TestMemory_NotifyBusy(t *testing.T) {
	m := NewMemory()
	a, err := m.Open("/busy", Options{Mode: ReadOnly, Create: true, NonBlocking: true})
	require.NoError(t, err)
	b, err := m.Open("/busy", Options{Mode: ReadOnly, NonBlocking: true})
	require.NoError(t, err)

	require.NoError(t, a.Notify(func() {}))
	assert.ErrorIs(t, b.Notify(func() {}), ErrBusy)

	// Closing the owner releases the registration.
	require.NoError(t, a.Close())
	assert.NoError(t, b.Notify(func() {}))
}

func TestDrain(t *testing.T) {
	m := NewMemory()
	q, err := m.Open("/drain", Options{Mode: ReadWrite, Create: true, NonBlocking: true})
	require.NoError(t, err)

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, q.Send([]byte(s), 1))
	}

	var got []string
	n, err := Drain(q, func(msg []byte, _ uint) { got = append(got, string(msg)) })
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
