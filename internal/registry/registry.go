package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/uabridge/internal/wire"
)

var (
	// ErrDuplicate is returned when a variable name is registered twice.
	ErrDuplicate = errors.New("variable already registered")

	// ErrNotFound is returned when a name has no descriptor.
	ErrNotFound = errors.New("variable not registered")
)

// Descriptor describes one bridged variable. It is created from a
// registration message and never modified afterwards.
type Descriptor struct {
	Name        string
	Description string
	Kind        wire.Kind
	Access      wire.Access
	Deadband    float64
	Slot        uint16
	Capacity    uint16

	// Monitored is true when a monitored item forwards changes of this
	// variable to the controller.
	Monitored bool

	// MonitorID is the address-space monitored item id, 0 if unmonitored.
	MonitorID uint32
}

// Registry maps variable names to descriptors for the lifetime of a run.
// There is no unregistration.
//
// Thread-safety: safe for concurrent use. The inbound worker is the only
// writer.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Descriptor
	order  []*Descriptor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byName: make(map[string]*Descriptor),
	}
}

// Add stores d. The registry keeps the pointer; callers must not modify d
// after adding it.
func (r *Registry) Add(d *Descriptor) error {
	if d == nil || d.Name == "" {
		return errors.New("descriptor has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[d.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, d.Name)
	}
	r.byName[d.Name] = d
	r.order = append(r.order, d)
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Len returns the number of registered variables.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// All returns the descriptors in registration order.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Descriptor(nil), r.order...)
}
