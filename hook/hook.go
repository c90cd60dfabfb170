// Package hook implements the lifecycle callback registries of binary image
// loads.
//
// A Registry keeps named entries sorted by ascending priority; entries with
// equal priority run in registration order. A Set bundles the four
// registries an environment consults: before-load, after-load, abort and
// clear-ready.
package hook

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDuplicate is returned when a hook name is already registered.
	ErrDuplicate = errors.New("hook already registered")

	// ErrPanicked matches every *PanicError.
	ErrPanicked = errors.New("hook panicked")
)

// Func is a lifecycle notification. It cannot veto.
type Func func(context any)

// Query is a clear-ready callback. Returning false refuses the unload.
type Query func(context any) bool

// Callback is the set of callback types a Registry holds.
type Callback interface {
	Func | Query
}

// PanicError reports a hook that panicked. The panic does not propagate.
type PanicError struct {
	Hook  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("hook %s panicked: %v", e.Hook, e.Value)
}

func (e *PanicError) Is(target error) bool { return target == ErrPanicked }

func isNil[F Callback](fn F) bool {
	switch f := any(fn).(type) {
	case Func:
		return f == nil
	case Query:
		return f == nil
	}
	return true
}

// Entry is one registered callback.
type Entry[F Callback] struct {
	Name     string
	Priority int
	Fn       F
	Context  any

	seq uint64
}

// Registry is a priority-ordered list of callbacks. It is safe for
// concurrent use; callbacks run outside the lock.
type Registry[F Callback] struct {
	mu      sync.Mutex
	entries []Entry[F]
	seq     uint64
}

// Add registers fn under name.
func (r *Registry[F]) Add(name string, priority int, fn F, context any) error {
	if name == "" {
		return errors.New("hook: name must not be empty")
	}
	if isNil(fn) {
		return fmt.Errorf("hook: %s: callback must not be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.Name == name {
			return fmt.Errorf("%w: %s", ErrDuplicate, name)
		}
	}
	r.seq++
	r.entries = append(r.entries, Entry[F]{Name: name, Priority: priority, Fn: fn, Context: context, seq: r.seq})
	sort.SliceStable(r.entries, func(i, j int) bool {
		if r.entries[i].Priority != r.entries[j].Priority {
			return r.entries[i].Priority < r.entries[j].Priority
		}
		return r.entries[i].seq < r.entries[j].seq
	})
	return nil
}

// Remove unregisters name.
func (r *Registry[F]) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.Name == name {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Entries returns a copy of the entries in invocation order.
func (r *Registry[F]) Entries() []Entry[F] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry[F], len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of entries.
func (r *Registry[F]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry[F]) clone() Registry[F] {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]Entry[F], len(r.entries))
	copy(entries, r.entries)
	return Registry[F]{entries: entries, seq: r.seq}
}

// Set holds the hooks of one environment.
type Set struct {
	BeforeLoad Registry[Func]
	AfterLoad  Registry[Func]
	Abort      Registry[Func]
	ClearReady Registry[Query]
}

// Run calls every entry of r in order. A hook that panics does not stop the
// others; Run returns a *PanicError for each one.
func Run(r *Registry[Func]) error {
	var errs []error
	for _, e := range r.Entries() {
		if err := call(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func call(e Entry[Func]) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Hook: e.Name, Value: p}
		}
	}()
	e.Fn(e.Context)
	return nil
}

func ask(e Entry[Query]) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			ok = false
		}
	}()
	return e.Fn(e.Context)
}

// RunBeforeLoad calls the before-load hooks.
func (s *Set) RunBeforeLoad() error { return Run(&s.BeforeLoad) }

// RunAfterLoad calls the after-load hooks.
func (s *Set) RunAfterLoad() error { return Run(&s.AfterLoad) }

// RunAbort calls the abort hooks.
func (s *Set) RunAbort() error { return Run(&s.Abort) }

// PollClearReady calls every clear-ready query, including after a veto, and
// returns the names of those that refused. A query that panics refuses.
func (s *Set) PollClearReady() []string {
	var vetoes []string
	for _, e := range s.ClearReady.Entries() {
		if !ask(e) {
			vetoes = append(vetoes, e.Name)
		}
	}
	return vetoes
}

var defaults Set

// RegisterDefaultBeforeLoad adds a before-load hook to every Set created
// afterwards by NewSet.
func RegisterDefaultBeforeLoad(name string, priority int, fn Func, context any) error {
	return defaults.BeforeLoad.Add(name, priority, fn, context)
}

// RegisterDefaultAfterLoad adds an after-load hook to every new Set.
func RegisterDefaultAfterLoad(name string, priority int, fn Func, context any) error {
	return defaults.AfterLoad.Add(name, priority, fn, context)
}

// RegisterDefaultAbort adds an abort hook to every new Set.
func RegisterDefaultAbort(name string, priority int, fn Func, context any) error {
	return defaults.Abort.Add(name, priority, fn, context)
}

// RegisterDefaultClearReady adds a clear-ready query to every new Set.
func RegisterDefaultClearReady(name string, priority int, fn Query, context any) error {
	return defaults.ClearReady.Add(name, priority, fn, context)
}

// ResetDefaults removes every default hook.
func ResetDefaults() {
	for _, e := range defaults.BeforeLoad.Entries() {
		defaults.BeforeLoad.Remove(e.Name)
	}
	for _, e := range defaults.AfterLoad.Entries() {
		defaults.AfterLoad.Remove(e.Name)
	}
	for _, e := range defaults.Abort.Entries() {
		defaults.Abort.Remove(e.Name)
	}
	for _, e := range defaults.ClearReady.Entries() {
		defaults.ClearReady.Remove(e.Name)
	}
}

// NewSet returns a Set initialized with a copy of the default hooks.
// Defaults registered later do not affect it.
func NewSet() *Set {
	return &Set{
		BeforeLoad: defaults.BeforeLoad.clone(),
		AfterLoad:  defaults.AfterLoad.clone(),
		Abort:      defaults.Abort.clone(),
		ClearReady: defaults.ClearReady.clone(),
	}
}
