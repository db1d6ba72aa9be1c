package actor

import (
	"fmt"
	"sort"
	"sync"
)

// =============================================================================
// Factory Table
// =============================================================================

// Constructor builds one actor instance from creation params.
type Constructor func(params map[string]any) (Actor, error)

// FactoryTable is an explicit actor_type → constructor map, registered at
// service startup. It is the plugin contract of a hosting service.
type FactoryTable struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewFactoryTable creates an empty factory table.
func NewFactoryTable() *FactoryTable {
	return &FactoryTable{constructors: make(map[string]Constructor)}
}

// Register binds an actor type to its constructor.
func (f *FactoryTable) Register(actorType string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[actorType] = ctor
}

// Supports returns true if the type has a registered constructor.
func (f *FactoryTable) Supports(actorType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.constructors[actorType]
	return ok
}

// Create instantiates an actor of the given type.
func (f *FactoryTable) Create(actorType string, params map[string]any) (Actor, error) {
	f.mu.RLock()
	ctor, ok := f.constructors[actorType]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActorType, actorType)
	}
	return ctor(params)
}

// Types lists the supported actor types, sorted.
func (f *FactoryTable) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.constructors))
	for t := range f.constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
