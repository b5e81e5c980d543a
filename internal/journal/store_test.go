package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	var mode string
	require.NoError(t, s2.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var version int
	require.NoError(t, s2.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestStore_WriteRead(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginSession(ctx, Session{ID: "s1", StartedAt: t0, Transport: "memory"}))
	require.NoError(t, s.Write(ctx, []Entry{
		{Session: "s1", Seq: 2, Direction: Outbound, Action: ActionForwarded, Variable: "Pump", Kind: "boolean", Slot: 0, Value: "true", RecordedAt: t0.Add(2 * time.Millisecond)},
		{Session: "s1", Seq: 1, Direction: Inbound, Action: ActionRegistered, Variable: "Pump", Kind: "boolean", Slot: 0, Value: "false", RecordedAt: t0.Add(time.Millisecond)},
	}))

	entries, err := s.Read(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Seq, "ordered by seq")
	assert.Equal(t, ActionRegistered, entries[0].Action)
	assert.Equal(t, Inbound, entries[0].Direction)
	assert.Equal(t, t0.Add(time.Millisecond), entries[0].RecordedAt)
	assert.Equal(t, "true", entries[1].Value)
}

func TestStore_WriteIgnoresDuplicates(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.BeginSession(ctx, Session{ID: "s1", StartedAt: t0}))
	require.NoError(t, s.BeginSession(ctx, Session{ID: "s1", StartedAt: t0}))

	e := Entry{Session: "s1", Seq: 1, Direction: Inbound, Action: ActionApplied, Slot: -1, RecordedAt: t0}
	require.NoError(t, s.Write(ctx, []Entry{e}))
	require.NoError(t, s.Write(ctx, []Entry{e}))

	entries, err := s.Read(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_WriteRequiresSession(t *testing.T) {
	s := createTestStore(t)
	err := s.Write(context.Background(), []Entry{{Session: "missing", Seq: 1, Direction: Inbound, Action: ActionApplied, RecordedAt: t0}})
	assert.Error(t, err, "foreign key enforcement")
}

func TestStore_ReadFilter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.BeginSession(ctx, Session{ID: "a", StartedAt: t0}))
	require.NoError(t, s.BeginSession(ctx, Session{ID: "b", StartedAt: t0.Add(time.Hour)}))

	require.NoError(t, s.Write(ctx, []Entry{
		{Session: "a", Seq: 1, Direction: Inbound, Action: ActionApplied, Variable: "X", RecordedAt: t0},
		{Session: "a", Seq: 2, Direction: Outbound, Action: ActionSuppressed, Variable: "X", RecordedAt: t0},
		{Session: "b", Seq: 1, Direction: Outbound, Action: ActionForwarded, Variable: "Y", RecordedAt: t0},
	}))

	got, err := s.Read(ctx, Filter{Session: "a"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Read(ctx, Filter{Variable: "Y"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Session)

	got, err = s.Read(ctx, Filter{Action: ActionSuppressed})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Seq)

	got, err = s.Read(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Session, "older session first")

	got, err = s.Read(ctx, Filter{Session: "none"})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStore_Sessions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.BeginSession(ctx, Session{ID: "a", StartedAt: t0, Transport: "posix", Inbound: "/in", Outbound: "/out"}))
	require.NoError(t, s.BeginSession(ctx, Session{ID: "b", StartedAt: t0.Add(time.Minute)}))
	require.NoError(t, s.Write(ctx, []Entry{
		{Session: "a", Seq: 1, Direction: Inbound, Action: ActionSession, RecordedAt: t0},
	}))

	sessions, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "a", sessions[0].ID)
	assert.Equal(t, 1, sessions[0].Events)
	assert.Equal(t, "posix", sessions[0].Transport)
	assert.Equal(t, "/in", sessions[0].Inbound)
	assert.Equal(t, 0, sessions[1].Events)
}

func TestClock(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}
