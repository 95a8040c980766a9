package adapter

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the known language definitions by name.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates a registry holding defs. It panics on an invalid or
// duplicate definition, since defs are built into the program.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{defs: make(map[string]Definition)}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds def. Names must be unique.
func (r *Registry) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("adapter %q already registered", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownAdapter, name)
	}
	return def, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForFile returns the definition whose file patterns match path. When
// several match, the first by name wins.
func (r *Registry) ForFile(path string) (Definition, error) {
	for _, name := range r.Names() {
		def, err := r.Get(name)
		if err != nil {
			continue
		}
		if def.Handles(path) {
			return def, nil
		}
	}
	return Definition{}, fmt.Errorf("%w: %s", ErrNoAdapter, path)
}
