package cli

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/uabridge/internal/bridge"
	"github.com/roach88/uabridge/internal/config"
	"github.com/roach88/uabridge/internal/journal"
	"github.com/roach88/uabridge/internal/testutil"
)

const runTimeout = 5 * time.Second

// runInBackground executes runBridge and returns a channel with its result.
func runInBackground(t *testing.T, ctx context.Context, opts *RunOptions, out io.Writer) <-chan error {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetContext(ctx)

	done := make(chan error, 1)
	go func() { done <- runBridge(opts, cmd) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(runTimeout):
		t.Fatal("bridge did not stop")
		return nil
	}
}

func TestRunShutdownFromHook(t *testing.T) {
	out := &bytes.Buffer{}
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		Transport:   config.TransportMemory,
		Started:     func(b *bridge.Bridge) { b.Shutdown() },
	}

	err := waitRun(t, runInBackground(t, context.Background(), opts, out))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Bridge ready. Controller queues: /codesys_to_opcua -> /opcua_to_codesys")
	assert.Contains(t, out.String(), "Address space namespace 1. Press Ctrl-C to stop.")
	assert.NotContains(t, out.String(), "websocket", "the address space has no network endpoint")
}

func TestRunContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		Transport:   config.TransportMemory,
		Started:     func(*bridge.Bridge) { cancel() },
	}

	err := waitRun(t, runInBackground(t, ctx, opts, &bytes.Buffer{}))
	assert.NoError(t, err)
}

func TestRunRecordsJournalSession(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	opts := &RunOptions{
		RootOptions:      &RootOptions{Format: "text"},
		Transport:        config.TransportMemory,
		Journal:          dbPath,
		SessionGenerator: testutil.NewFixedSessionGenerator("run-session-1"),
		Started:          func(b *bridge.Bridge) { b.Shutdown() },
	}

	require.NoError(t, waitRun(t, runInBackground(t, context.Background(), opts, &bytes.Buffer{})))

	st, err := journal.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	sessions, err := st.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "run-session-1", sessions[0].ID)
	assert.Equal(t, config.TransportMemory, sessions[0].Transport)

	entries, err := st.Read(context.Background(), journal.Filter{
		Session: "run-session-1",
		Action:  journal.ActionSession,
	})
	require.NoError(t, err)

	var details []string
	for _, e := range entries {
		details = append(details, e.Detail)
	}
	assert.Contains(t, details, "shutdown")
}

func TestRunUsesConfigFile(t *testing.T) {
	path := writeConfig(t, `
transport:
  kind: memory
  inbound: /cfg_in
  outbound: /cfg_out
`)
	out := &bytes.Buffer{}
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		ConfigPath:  path,
		Watch:       false,
		Started:     func(b *bridge.Bridge) { b.Shutdown() },
	}

	require.NoError(t, waitRun(t, runInBackground(t, context.Background(), opts, out)))
	assert.Contains(t, out.String(), "/cfg_in -> /cfg_out")
}

func TestRunInvalidConfig(t *testing.T) {
	path := writeConfig(t, "transport:\n  kind: tcp\n")

	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--config", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRunMissingConfigFile(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--config", "/nonexistent/bridge.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunUnknownTransport(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--transport", "tcp"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid transport")
}

func TestRunRejectsArguments(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"extra"})

	require.Error(t, cmd.Execute())
}

func TestEffectiveLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "warn"

	assert.Equal(t, "WARN", effectiveLevel(cfg, false).String())
	assert.Equal(t, "DEBUG", effectiveLevel(cfg, true).String())
}

func TestNewTransport(t *testing.T) {
	tr, err := newTransport(config.TransportMemory)
	require.NoError(t, err)
	assert.NotNil(t, tr)

	tr, err = newTransport("")
	require.NoError(t, err)
	assert.NotNil(t, tr)

	_, err = newTransport("tcp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}
