package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_RecordAndClose(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.BeginSession(ctx, Session{ID: "run", StartedAt: t0}))

	w := NewWriter(s, "run", WithNow(func() time.Time { return t0 }))
	for i := range 100 {
		w.Record(Entry{Direction: Outbound, Action: ActionForwarded, Slot: i})
	}
	require.NoError(t, w.Close(ctx))

	entries, err := s.Read(ctx, Filter{Session: "run"})
	require.NoError(t, err)
	require.Len(t, entries, 100-int(w.Dropped()))
	for i, e := range entries {
		assert.Equal(t, "run", e.Session)
		assert.Equal(t, t0, e.RecordedAt)
		if i > 0 {
			assert.Greater(t, e.Seq, entries[i-1].Seq)
		}
	}
}

func TestWriter_DropsWhenFull(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.BeginSession(ctx, Session{ID: "run", StartedAt: t0}))

	w := NewWriter(s, "run", WithBuffer(1))
	for range 500 {
		w.Record(Entry{Direction: Inbound, Action: ActionApplied})
	}
	require.NoError(t, w.Close(ctx))

	entries, err := s.Read(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(500), int64(len(entries))+w.Dropped())
}

func TestWriter_RecordAfterClose(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.BeginSession(ctx, Session{ID: "run", StartedAt: t0}))

	w := NewWriter(s, "run")
	require.NoError(t, w.Close(ctx))
	require.NoError(t, w.Close(ctx), "close is idempotent")

	w.Record(Entry{Direction: Inbound, Action: ActionApplied})
	assert.Equal(t, int64(1), w.Dropped())
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard.Record(Entry{}) })
}
