package backend

import (
	"sync"

	"github.com/seantiz/voxhub/internal/model"
)

// Registry holds registered backends in registration order. The scheduler
// iterates it once per tick, so the order is also the dispatch tie-break.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	backends map[string]model.BackendDescriptor
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]model.BackendDescriptor),
	}
}

// Register validates the descriptor and adds it to the registry. A backend
// registering again under the same name replaces its descriptor but keeps
// its original position.
func (r *Registry) Register(d model.BackendDescriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.backends[d.Name]; !ok {
		r.order = append(r.order, d.Name)
	}
	d.Capabilities = append([]string(nil), d.Capabilities...)
	r.backends[d.Name] = d
	return nil
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (model.BackendDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.backends[name]
	return d, ok
}

// List returns a copy of all registered descriptors in registration order.
func (r *Registry) List() []model.BackendDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.BackendDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.backends[name])
	}
	return out
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
