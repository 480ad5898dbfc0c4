package task

import (
	"fmt"
	"slices"
	"sync"
)

// Registry maps task names, as written in environment files, to their
// constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register panics when name is already taken.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ctors[name]; ok {
		panic(fmt.Sprintf("task %q registered twice", name))
	}
	r.ctors[name] = ctor
}

func (r *Registry) Lookup(name string) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctor, ok := r.ctors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return ctor, nil
}

func (r *Registry) Build(name string, env Env) (Task, error) {
	ctor, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return New(ctor, env), nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
