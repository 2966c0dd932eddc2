package kernel

import (
	"fmt"
	"sort"
	"sync"

	"github.com/notargets/kernelrunner/fault"
)

// Registry maps kernel keys to descriptors
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Default is the process-wide registry built-in descriptors register into
var Default = NewRegistry()

// Register adds d under its key. Registering a key twice fails unless
// override is set.
func (r *Registry) Register(d Descriptor, override bool) error {
	if d == nil {
		return fmt.Errorf("cannot register a nil descriptor")
	}
	key := d.Key()
	if key == "" {
		return fmt.Errorf("descriptor has an empty key")
	}
	if err := CheckParameters(d.Parameters()); err != nil {
		return fmt.Errorf("descriptor %s: %w", key, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[key]; exists && !override {
		return fmt.Errorf("a descriptor is already registered for key %s", key)
	}
	r.descriptors[key] = d
	return nil
}

// MustRegister registers d in the Default registry, panicking on conflict.
// Intended for init functions.
func MustRegister(d Descriptor) {
	if err := Default.Register(d, false); err != nil {
		panic(err)
	}
}

// Lookup returns the descriptor for key
func (r *Registry) Lookup(key string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[key]
	if !ok {
		return nil, fault.Configurationf("no kernel descriptor is registered for key %s", key)
	}
	return d, nil
}

// Has reports whether key is registered
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.descriptors[key]
	return ok
}

// Keys returns all registered keys, sorted
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.descriptors))
	for k := range r.descriptors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
