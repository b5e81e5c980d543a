package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/uabridge/internal/bridge"
	"github.com/roach88/uabridge/internal/config"
	"github.com/roach88/uabridge/internal/journal"
	"github.com/roach88/uabridge/internal/mqueue"
	"github.com/roach88/uabridge/internal/uaspace"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
	Transport  string // overrides transport.kind
	Journal    string // overrides journal.path
	Watch      bool

	// SessionGenerator allows overriding the journal session id generator
	// (for testing). If nil, defaults to UUIDv7Generator.
	SessionGenerator bridge.SessionIDGenerator

	// Started, if set, is called once the bridge is ready (for testing).
	Started func(*bridge.Bridge)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the bridge",
		Long: `Start the bridge between the controller queues and the OPC UA address space.

The bridge creates the controller-to-bridge queue, waits for the
controller's registration session, and then serves the address space
until the controller sends a shutdown record or the process receives
SIGINT or SIGTERM. Both queues are removed on the way out.

With --config the file is watched and the log level follows edits.

Example:
  uabridge run --config /etc/uabridge.yaml
  uabridge run --journal /var/lib/uabridge/journal.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to configuration file")
	cmd.Flags().StringVar(&opts.Transport, "transport", "", "override transport kind (posix|memory)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "override journal database path")
	cmd.Flags().BoolVar(&opts.Watch, "watch", true, "reload log level when the config file changes")

	return cmd
}

func runBridge(opts *RunOptions, cmd *cobra.Command) error {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}
	if opts.Transport != "" {
		cfg.Transport.Kind = opts.Transport
	}
	if opts.Journal != "" {
		cfg.Journal.Path = opts.Journal
	}

	// Configure logging: the level lives in a LevelVar so reloads can change it
	level := &slog.LevelVar{}
	level.Set(effectiveLevel(cfg, opts.Verbose))
	logger := slog.New(newLogHandler(cmd.ErrOrStderr(), cfg.Log.Format, level))
	slog.SetDefault(logger)

	transport, err := newTransport(cfg.Transport.Kind)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid transport", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	var recorder journal.Recorder = journal.Discard
	if cfg.Journal.Path != "" {
		gen := opts.SessionGenerator
		if gen == nil {
			gen = bridge.UUIDv7Generator{}
		}
		writer, closeJournal, err := openJournal(ctx, cfg, gen.Generate())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer closeJournal()
		recorder = writer
	}

	space := uaspace.NewServer(uaspace.Options{
		Namespace:           cfg.Server.Namespace,
		MaxMonitoredItems:   cfg.Server.MaxSubscriptions,
		MinSamplingInterval: cfg.Server.MinSamplingInterval,
		Logger:              logger,
	})

	b, err := bridge.New(bridge.Options{
		Transport: transport,
		Space:     space,
		Inbound:   cfg.Transport.Inbound,
		Outbound:  cfg.Transport.Outbound,
		Geometry: bridge.Geometry{
			MaxMessages: cfg.Transport.MaxMessages,
			MessageSize: cfg.Transport.MessageSize,
		},
		SendPriority: cfg.Transport.SendPriority,
		Monitor: bridge.MonitorSettings{
			SamplingInterval: cfg.Monitor.SamplingInterval,
			QueueSize:        cfg.Monitor.QueueSize,
			DiscardOldest:    cfg.Monitor.ShouldDiscardOldest(),
		},
		Recorder: recorder,
		Logger:   logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid bridge configuration", err)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			b.Shutdown()
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	if opts.ConfigPath != "" && opts.Watch {
		go watchConfig(ctx, opts.ConfigPath, level, opts.Verbose)
	}

	go func() {
		select {
		case <-b.Ready():
			fmt.Fprintf(cmd.OutOrStdout(), "Bridge ready. Controller queues: %s -> %s\n",
				cfg.Transport.Inbound, cfg.Transport.Outbound)
			fmt.Fprintf(cmd.OutOrStdout(), "Address space namespace %d. Press Ctrl-C to stop.\n",
				cfg.Server.Namespace)
			if opts.Started != nil {
				opts.Started(b)
			}
		case <-ctx.Done():
		}
	}()

	slog.Info("bridge starting",
		"transport", cfg.Transport.Kind,
		"inbound", cfg.Transport.Inbound,
		"outbound", cfg.Transport.Outbound,
	)
	if err := b.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "bridge failed", err)
	}

	slog.Info("bridge stopped gracefully")
	return nil
}

func effectiveLevel(cfg *config.Config, verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return cfg.Log.SlogLevel()
}

func newLogHandler(w io.Writer, format string, level slog.Leveler) slog.Handler {
	hopts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, hopts)
	}
	return slog.NewTextHandler(w, hopts)
}

func newTransport(kind string) (mqueue.Transport, error) {
	switch kind {
	case config.TransportPosix, "":
		return mqueue.NewPosix(), nil
	case config.TransportMemory:
		return mqueue.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

// openJournal opens the journal database, starts a session and returns
// its writer with a function that flushes and closes everything.
func openJournal(ctx context.Context, cfg *config.Config, session string) (*journal.Writer, func(), error) {
	st, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return nil, nil, err
	}
	err = st.BeginSession(ctx, journal.Session{
		ID:        session,
		StartedAt: time.Now(),
		Transport: cfg.Transport.Kind,
		Inbound:   cfg.Transport.Inbound,
		Outbound:  cfg.Transport.Outbound,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	slog.Info("journal ready", "path", cfg.Journal.Path, "session", session)

	w := journal.NewWriter(st, session, journal.WithBuffer(cfg.Journal.Buffer))
	closeFn := func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.Close(flushCtx); err != nil {
			slog.Error("error flushing journal", "error", err)
		}
		if n := w.Dropped(); n > 0 {
			slog.Warn("journal entries dropped", "count", n)
		}
		if err := st.Close(); err != nil {
			slog.Error("error closing journal", "error", err)
		}
	}
	return w, closeFn, nil
}

// watchConfig follows edits of the config file. Only the log level is
// applied at runtime; every other setting needs a restart.
func watchConfig(ctx context.Context, path string, level *slog.LevelVar, verbose bool) {
	err := config.Watch(ctx, path, config.DefaultDebounce, func(cfg *config.Config, err error) {
		if err != nil {
			slog.Warn("config reload failed, keeping previous settings", "path", path, "error", err)
			return
		}
		next := effectiveLevel(cfg, verbose)
		if next != level.Level() {
			level.Set(next)
			slog.Info("log level changed", "level", next)
		}
		slog.Info("config reloaded", "path", path)
	})
	if err != nil {
		slog.Warn("config watch stopped", "error", err)
	}
}
