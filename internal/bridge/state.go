package bridge

import (
	"sync/atomic"

	"github.com/roach88/uabridge/internal/gate"
	"github.com/roach88/uabridge/internal/registry"
)

// State is everything the bridge roles share for the lifetime of a run.
//
// The registry and suppression buffer are written by the inbound worker and
// read by the watcher. The session flag is written by the inbound worker only
// and read by the watcher from the address space goroutine.
type State struct {
	Registry    *registry.Registry
	Suppression *registry.Suppression

	// Startup gates, opened in this order.
	InboundReady  *gate.Gate
	OutboundReady *gate.Gate
	ServerReady   *gate.Gate

	// VariablesRegistered opens when a registration session ends or on shutdown.
	VariablesRegistered *gate.Gate

	InboundShutdown  *gate.Gate
	OutboundShutdown *gate.Gate

	registering  atomic.Bool
	shuttingDown atomic.Bool
}

// NewState creates empty shared state with closed gates.
func NewState() *State {
	return &State{
		Registry:            registry.New(),
		Suppression:         registry.NewSuppression(),
		InboundReady:        gate.New("inbound-ready"),
		OutboundReady:       gate.New("outbound-ready"),
		ServerReady:         gate.New("server-ready"),
		VariablesRegistered: gate.New("variables-registered"),
		InboundShutdown:     gate.New("inbound-shutdown"),
		OutboundShutdown:    gate.New("outbound-shutdown"),
	}
}

// Registering reports whether a registration session is active.
func (s *State) Registering() bool {
	return s.registering.Load()
}

// BeginRegistration moves Inactive to Active. It returns false if a session
// is already active.
func (s *State) BeginRegistration() bool {
	return s.registering.CompareAndSwap(false, true)
}

// EndRegistration moves Active to Inactive. It returns false if no session
// was active.
func (s *State) EndRegistration() bool {
	return s.registering.CompareAndSwap(true, false)
}

// ShuttingDown reports whether the shutdown cascade has started.
func (s *State) ShuttingDown() bool {
	return s.shuttingDown.Load()
}

// markShutdown flips the shutdown flag and reports whether this call did it.
func (s *State) markShutdown() bool {
	return s.shuttingDown.CompareAndSwap(false, true)
}
