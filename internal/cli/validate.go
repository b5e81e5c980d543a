package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/uabridge/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool             `json:"valid"`
	Path     string           `json:"path"`
	Problems []config.Problem `json:"problems,omitempty"`
	Config   *config.Config   `json:"config,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Validate a configuration file",
		Long: `Validate a bridge configuration file against the configuration schema.

Every problem is reported, not only the first one. With --verbose the
effective configuration (defaults applied) is printed as well.

Exit codes:
  0 - Configuration valid
  1 - Configuration invalid
  2 - File could not be read`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	formatter.VerboseLog("Validating %s", path)

	cfg, err := config.Load(path)
	if err != nil {
		var ve *config.ValidationError
		if !errors.As(err, &ve) {
			_ = formatter.Error("E001", err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}

		result := ValidationResult{Path: path, Problems: ve.Problems}
		if formatter.JSON() {
			_ = formatter.Error("INVALID_CONFIG", ve.Error(), result)
		} else {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "✗ %s: %d problem(s)\n", path, len(ve.Problems))
			for _, p := range ve.Problems {
				fmt.Fprintf(w, "  - %s\n", p)
			}
		}
		return NewExitError(ExitFailure, "configuration invalid")
	}

	result := ValidationResult{Valid: true, Path: path}
	if opts.Verbose {
		result.Config = cfg
	}
	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ %s: configuration valid\n", path)
	if opts.Verbose {
		fmt.Fprintf(w, "  transport: %s %s -> %s (max %d messages of %d bytes, priority %d)\n",
			cfg.Transport.Kind, cfg.Transport.Inbound, cfg.Transport.Outbound,
			cfg.Transport.MaxMessages, cfg.Transport.MessageSize, cfg.Transport.SendPriority)
		fmt.Fprintf(w, "  server: namespace %d, max %d monitored items, min sampling %s\n",
			cfg.Server.Namespace, cfg.Server.MaxSubscriptions, cfg.Server.MinSamplingInterval)
		fmt.Fprintf(w, "  monitor: sampling %s, queue %d, discard oldest %t\n",
			cfg.Monitor.SamplingInterval, cfg.Monitor.QueueSize, cfg.Monitor.ShouldDiscardOldest())
		fmt.Fprintf(w, "  log: %s (%s)\n", cfg.Log.Level, cfg.Log.Format)
		if cfg.Journal.Path != "" {
			fmt.Fprintf(w, "  journal: %s\n", cfg.Journal.Path)
		}
	}
	return nil
}
