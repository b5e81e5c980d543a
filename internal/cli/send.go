package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/uabridge/internal/bridge"
	"github.com/roach88/uabridge/internal/config"
	"github.com/roach88/uabridge/internal/mqueue"
	"github.com/roach88/uabridge/internal/wire"
)

// SendOptions holds flags for the send command.
type SendOptions struct {
	*RootOptions
	TransportKind string
	Queue         string
	Priority      uint
	Timeout       time.Duration

	Name        string
	Description string
	Kind        string
	Access      string
	Value       string
	Deadband    float64
	Slot        uint16
	Capacity    uint16

	// Transport allows injecting a transport (for testing). If nil, one is
	// built from TransportKind.
	Transport mqueue.Transport
}

// SendResult describes the record that was sent.
type SendResult struct {
	Queue  string `json:"queue"`
	Record string `json:"record"`
	Bytes  int    `json:"bytes"`
	Hex    string `json:"hex"`
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	return newSendCommand(&SendOptions{RootOptions: rootOpts})
}

func newSendCommand(opts *SendOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <start|register|end|write|shutdown>",
		Short: "Send one controller record to the bridge",
		Long: `Encode one controller record and send it to the controller-to-bridge queue.

This plays the controller side by hand: a registration session is
start, one register per variable, end. Values are parsed according to
--kind.

Examples:
  uabridge send start
  uabridge send register --name Pump --kind boolean --access readwrite --value false --slot 0 --capacity 1
  uabridge send end
  uabridge send write --name Pump --kind boolean --value true
  uabridge send shutdown`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TransportKind, "transport", config.TransportPosix, "transport kind (posix|memory)")
	cmd.Flags().StringVar(&opts.Queue, "queue", bridge.DefaultInbound, "queue to send to")
	cmd.Flags().UintVar(&opts.Priority, "priority", bridge.DefaultSendPriority, "message priority")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 2*time.Second, "how long to wait for room in the queue")

	cmd.Flags().StringVar(&opts.Name, "name", "", "variable name (register, write)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "variable description (register)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "value kind, e.g. boolean, int32, double, string")
	cmd.Flags().StringVar(&opts.Access, "access", "readwrite", "access mode (read|write|readwrite)")
	cmd.Flags().StringVar(&opts.Value, "value", "", "value, parsed according to --kind")
	cmd.Flags().Float64Var(&opts.Deadband, "deadband", 0, "absolute deadband for numeric kinds (register)")
	cmd.Flags().Uint16Var(&opts.Slot, "slot", 0, "suppression slot index")
	cmd.Flags().Uint16Var(&opts.Capacity, "capacity", 0, "suppression slots needed for the kind (register)")

	return cmd
}

func runSend(opts *SendOptions, record string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	msg, err := buildMessage(opts, record)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid record", err)
	}
	data := wire.Encode(msg)

	transport := opts.Transport
	if transport == nil {
		if transport, err = newTransport(opts.TransportKind); err != nil {
			return WrapExitError(ExitCommandError, "invalid transport", err)
		}
	}

	q, err := transport.Open(opts.Queue, mqueue.Options{Mode: mqueue.WriteOnly})
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to open queue %s", opts.Queue), err)
	}
	defer q.Close()

	formatter.VerboseLog("Sending %s (%d bytes) to %s", msg.Tag(), len(data), opts.Queue)
	if err := q.SendTimeout(data, opts.Priority, opts.Timeout); err != nil {
		return WrapExitError(ExitFailure, "send failed", err)
	}

	result := SendResult{
		Queue:  opts.Queue,
		Record: msg.Tag().String(),
		Bytes:  len(data),
		Hex:    fmt.Sprintf("%x", data),
	}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %s (%d bytes) to %s\n", result.Record, result.Bytes, result.Queue)
	return nil
}

// buildMessage turns the flags into a wire record.
func buildMessage(opts *SendOptions, record string) (wire.Message, error) {
	switch strings.ToLower(record) {
	case "start":
		return wire.Start{}, nil
	case "end":
		return wire.End{}, nil
	case "shutdown":
		return wire.Shutdown{}, nil
	case "register", "write":
	default:
		return nil, fmt.Errorf("unknown record %q (want start, register, end, write or shutdown)", record)
	}

	if opts.Name == "" {
		return nil, fmt.Errorf("%s requires --name", record)
	}
	kind, err := wire.ParseKind(opts.Kind)
	if err != nil {
		return nil, err
	}
	value, err := parseValue(kind, opts.Value)
	if err != nil {
		return nil, fmt.Errorf("--value: %w", err)
	}

	if record == "write" {
		return wire.NewWrite(opts.Name, kind, opts.Slot, value)
	}

	access, err := wire.ParseAccess(opts.Access)
	if err != nil {
		return nil, err
	}
	return wire.NewRegister(wire.Variable{
		Name:        opts.Name,
		Description: opts.Description,
		Kind:        kind,
		Access:      access,
		Value:       value,
		Deadband:    opts.Deadband,
		Slot:        opts.Slot,
		Capacity:    opts.Capacity,
	})
}

// parseValue parses s as a value of kind. An empty string is the zero
// value of every kind.
func parseValue(kind wire.Kind, s string) (any, error) {
	if s == "" && kind != wire.KindString {
		s = "0"
		if kind == wire.KindBoolean {
			s = "false"
		}
	}

	switch kind {
	case wire.KindBoolean:
		return strconv.ParseBool(s)
	case wire.KindSByte:
		n, err := strconv.ParseInt(s, 0, 8)
		return int8(n), err
	case wire.KindByte:
		n, err := strconv.ParseUint(s, 0, 8)
		return uint8(n), err
	case wire.KindInt16:
		n, err := strconv.ParseInt(s, 0, 16)
		return int16(n), err
	case wire.KindUInt16:
		n, err := strconv.ParseUint(s, 0, 16)
		return uint16(n), err
	case wire.KindInt32:
		n, err := strconv.ParseInt(s, 0, 32)
		return int32(n), err
	case wire.KindUInt32:
		n, err := strconv.ParseUint(s, 0, 32)
		return uint32(n), err
	case wire.KindInt64:
		return strconv.ParseInt(s, 0, 64)
	case wire.KindUInt64:
		return strconv.ParseUint(s, 0, 64)
	case wire.KindFloat:
		f, err := strconv.ParseFloat(s, 32)
		return float32(f), err
	case wire.KindDouble:
		return strconv.ParseFloat(s, 64)
	case wire.KindString:
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %d", wire.ErrUnknownKind, uint8(kind))
	}
}
