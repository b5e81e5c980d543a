// Package config loads and validates the bridge configuration file.
//
// Files are YAML. Before decoding, the document is checked against an
// embedded CUE schema so that typos and out-of-range values are reported
// with their path instead of being silently ignored.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Config is the full bridge configuration.
type Config struct {
	Transport Transport `yaml:"transport" json:"transport"`
	Server    Server    `yaml:"server" json:"server"`
	Monitor   Monitor   `yaml:"monitor" json:"monitor"`
	Log       Log       `yaml:"log" json:"log"`
	Journal   Journal   `yaml:"journal" json:"journal"`
}

// Transport selects the message queue implementation and queue geometry.
type Transport struct {
	Kind         string `yaml:"kind" json:"kind"`
	Inbound      string `yaml:"inbound" json:"inbound"`
	Outbound     string `yaml:"outbound" json:"outbound"`
	MaxMessages  int    `yaml:"max_messages" json:"max_messages"`
	MessageSize  int    `yaml:"message_size" json:"message_size"`
	SendPriority uint   `yaml:"send_priority" json:"send_priority"`
}

// Server holds address-space limits.
//
// Namespace, MaxSubscriptions and MinSamplingInterval configure the
// in-process address space. The address space has no network endpoint, so
// MaxSessions, MaxSessionTimeout, MinPublishingInterval and WebsocketPort
// are informational only: they are validated but nothing listens on them.
type Server struct {
	Namespace             uint16        `yaml:"namespace" json:"namespace"`
	MaxSessions           int           `yaml:"max_sessions" json:"max_sessions"`
	MaxSubscriptions      int           `yaml:"max_subscriptions" json:"max_subscriptions"`
	MaxSessionTimeout     time.Duration `yaml:"max_session_timeout" json:"max_session_timeout"`
	MinPublishingInterval time.Duration `yaml:"min_publishing_interval" json:"min_publishing_interval"`
	MinSamplingInterval   time.Duration `yaml:"min_sampling_interval" json:"min_sampling_interval"`
	WebsocketPort         int           `yaml:"websocket_port" json:"websocket_port"` // informational
}

// Monitor holds the parameters for monitored items the bridge creates.
//
// QueueSize and DiscardOldest are informational only. Monitored items hand
// every accepted change to the bridge synchronously, so nothing is queued;
// the values are passed through and echoed back as revised parameters.
type Monitor struct {
	SamplingInterval time.Duration `yaml:"sampling_interval" json:"sampling_interval"`
	QueueSize        uint32        `yaml:"queue_size" json:"queue_size"`
	DiscardOldest    *bool         `yaml:"discard_oldest" json:"discard_oldest"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Journal configures the optional diagnostic journal.
type Journal struct {
	Path   string `yaml:"path" json:"path"`
	Buffer int    `yaml:"buffer" json:"buffer"`
}

// Transport kinds.
const (
	TransportPosix  = "posix"
	TransportMemory = "memory"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	setDefault(&c.Transport.Kind, TransportPosix)
	setDefault(&c.Transport.Inbound, "/codesys_to_opcua")
	setDefault(&c.Transport.Outbound, "/opcua_to_codesys")
	setDefault(&c.Transport.MaxMessages, 5)
	setDefault(&c.Transport.MessageSize, 1024)
	setDefault(&c.Transport.SendPriority, 1)

	setDefault(&c.Server.Namespace, 1)
	setDefault(&c.Server.MaxSessions, 20)
	setDefault(&c.Server.MaxSubscriptions, 200)
	setDefault(&c.Server.MaxSessionTimeout, 30*time.Second)
	setDefault(&c.Server.MinPublishingInterval, 100*time.Millisecond)
	setDefault(&c.Server.MinSamplingInterval, 50*time.Millisecond)
	setDefault(&c.Server.WebsocketPort, 7681)

	setDefault(&c.Monitor.SamplingInterval, time.Second)
	setDefault(&c.Monitor.QueueSize, 10)
	if c.Monitor.DiscardOldest == nil {
		t := true
		c.Monitor.DiscardOldest = &t
	}

	setDefault(&c.Log.Level, "info")
	setDefault(&c.Log.Format, "text")

	setDefault(&c.Journal.Buffer, 256)
}

func setDefault[T comparable](field *T, v T) {
	var zero T
	if *field == zero {
		*field = v
	}
}

// ShouldDiscardOldest reports the monitor queue discard policy.
func (m Monitor) ShouldDiscardOldest() bool {
	return m.DiscardOldest == nil || *m.DiscardOldest
}

// SlogLevel maps the configured level name to a slog.Level.
func (l Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads, validates and decodes a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates and decodes a YAML document. An empty document yields
// the defaults.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(raw); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// ValidationError lists every schema violation found in a document.
type ValidationError struct {
	Problems []Problem
}

// Problem is one schema violation.
type Problem struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid config: " + e.Problems[0].String()
	}
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return fmt.Sprintf("invalid config (%d problems): %s", len(e.Problems), strings.Join(parts, "; "))
}

func (p Problem) String() string {
	if p.Path == "" {
		return p.Message
	}
	return p.Path + ": " + p.Message
}

// Validate checks a decoded YAML document against the schema.
func Validate(raw map[string]any) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	if raw == nil {
		raw = map[string]any{}
	}
	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return toValidationError(err)
	}
	return nil
}

func toValidationError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Problems: []Problem{{Message: err.Error()}}}
	}

	ve := &ValidationError{}
	seen := make(map[string]bool)
	for _, e := range errs {
		format, args := e.Msg()
		p := Problem{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		}
		if seen[p.String()] {
			continue
		}
		seen[p.String()] = true
		ve.Problems = append(ve.Problems, p)
	}
	return ve
}
