package schema

import (
	"fmt"
	"sync"
)

// Registry indexes entities by table name. Populate it at startup; lookups
// after that are read-only.
type Registry struct {
	mu      sync.RWMutex
	byTable map[string]*Entity
	order   []*Entity
}

func NewRegistry() *Registry {
	return &Registry{byTable: map[string]*Entity{}}
}

// Register adds entities. A table may be registered only once.
func (r *Registry) Register(entities ...*Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entities {
		if _, dup := r.byTable[e.Table]; dup {
			return fmt.Errorf("schema: table %q already registered", e.Table)
		}
		r.byTable[e.Table] = e
		r.order = append(r.order, e)
	}
	return nil
}

func (r *Registry) Lookup(table string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byTable[table]
	return e, ok
}

// All returns entities in registration order.
func (r *Registry) All() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entity, len(r.order))
	copy(out, r.order)
	return out
}
