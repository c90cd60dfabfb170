// Package function holds the function registrations of an environment and
// the table that maps function references of a binary image onto them.
package function

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Unbounded marks a function without an upper argument limit.
const Unbounded = -1

var (
	// ErrDuplicate is returned when a function name is registered twice.
	ErrDuplicate = errors.New("function already registered")

	// ErrNotFound is returned when a function name is not registered.
	ErrNotFound = errors.New("function not found")
)

// Func is the implementation of a registered function.
type Func func(ctx context.Context, args []any) (any, error)

// Descriptor describes one registered function.
type Descriptor struct {
	Name         string
	MinArgs      int
	MaxArgs      int    // Unbounded for no limit
	Restrictions string // per-argument type restrictions, e.g. "sy"
	ReturnType   string
	Impl         Func
	Context      any
}

// Arity formats the accepted argument counts of d.
func (d *Descriptor) Arity() string {
	switch {
	case d.MaxArgs == Unbounded:
		return fmt.Sprintf("%d+", d.MinArgs)
	case d.MinArgs == d.MaxArgs:
		return fmt.Sprintf("%d", d.MinArgs)
	default:
		return fmt.Sprintf("%d..%d", d.MinArgs, d.MaxArgs)
	}
}

// CheckArgs validates an argument count against the arity of d.
func (d *Descriptor) CheckArgs(n int) error {
	if d.MinArgs == d.MaxArgs {
		return CheckArgCount(d.Name, Exactly, d.MinArgs, n)
	}
	if err := CheckArgCount(d.Name, AtLeast, d.MinArgs, n); err != nil {
		return err
	}
	if d.MaxArgs != Unbounded {
		return CheckArgCount(d.Name, NoMoreThan, d.MaxArgs, n)
	}
	return nil
}

// Call checks the argument count and invokes the implementation.
func (d *Descriptor) Call(ctx context.Context, args []any) (any, error) {
	if err := d.CheckArgs(len(args)); err != nil {
		return nil, err
	}
	if d.Impl == nil {
		return nil, fmt.Errorf("function %s has no implementation", d.Name)
	}
	return d.Impl(ctx, args)
}

// Registry is the ordered set of functions registered in an environment.
// Enumeration order is registration order. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	order  []*Descriptor
	byName map[string]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Descriptor)}
}

// Register adds d to the registry.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || d.Name == "" {
		return errors.New("function: descriptor must have a name")
	}
	if d.MaxArgs != Unbounded && d.MaxArgs < d.MinArgs {
		return fmt.Errorf("function %s: max args %d below min args %d", d.Name, d.MaxArgs, d.MinArgs)
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

// Remove unregisters the function called name.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; !ok {
		return false
	}
	delete(r.byName, name)
	for i, d := range r.order {
		if d.Name == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Lookup returns the function called name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Snapshot returns the registered functions in enumeration order. The slice
// is a copy; the descriptors are shared.
func (r *Registry) Snapshot() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
