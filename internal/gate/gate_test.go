package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_OpenThenWait(t *testing.T) {
	g := New("ready")
	assert.Equal(t, "ready", g.Name())
	assert.False(t, g.IsOpen())

	g.Open()
	assert.True(t, g.IsOpen())

	g.Wait()
	assert.False(t, g.IsOpen(), "wait must close the gate")
}

func TestGate_WaitBlocksUntilOpen(t *testing.T) {
	g := New("registered")
	done := make(chan struct{})

	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("wait returned before open")
	case <-time.After(20 * time.Millisecond):
	}

	g.Open()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait did not return after open")
	}
}

func TestGate_OpenCoalesces(t *testing.T) {
	g := New("shutdown")
	g.Open()
	g.Open()
	g.Open()

	g.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.WaitContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "repeated opens must not queue up signals")
}

func TestGate_Reusable(t *testing.T) {
	g := New("cycle")
	for range 3 {
		g.Open()
		require.NoError(t, g.WaitContext(context.Background()))
	}
}

func TestGate_WaitContextCancelled(t *testing.T) {
	g := New("server-ready")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.WaitContext(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "server-ready")

	// A later open is still delivered.
	g.Open()
	assert.NoError(t, g.WaitContext(context.Background()))
}
