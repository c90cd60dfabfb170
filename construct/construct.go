// Package construct defines the named constructs a binary image carries.
package construct

import (
	"context"
	"sync"

	"github.com/tildemin3/clips-core/expr"
	"github.com/tildemin3/clips-core/function"
	"github.com/tildemin3/clips-core/symbol"
)

const (
	KindDeffunction = "deffunction"
	KindDefglobal   = "defglobal"
)

// Deffunction is a function defined in the rule language.
type Deffunction struct {
	Name    *symbol.Value
	MinArgs int
	MaxArgs int // function.Unbounded for wildcard parameters
	Body    *expr.Expression
}

func (d *Deffunction) ConstructName() string { return d.Name.Lexeme() }
func (d *Deffunction) ConstructKind() string { return KindDeffunction }

// Invoke checks the argument count and evaluates the body.
func (d *Deffunction) Invoke(ctx context.Context, ev *expr.Evaluator, args []any) (any, error) {
	desc := function.Descriptor{Name: d.ConstructName(), MinArgs: d.MinArgs, MaxArgs: d.MaxArgs}
	if err := desc.CheckArgs(len(args)); err != nil {
		return nil, err
	}
	return ev.EvalBody(ctx, d.Body, args)
}

// Defglobal is a global variable with an initial value expression.
type Defglobal struct {
	Name    *symbol.Value
	Initial *expr.Expression

	mu    sync.Mutex
	value any
	bound bool
}

func (g *Defglobal) ConstructName() string { return g.Name.Lexeme() }
func (g *Defglobal) ConstructKind() string { return KindDefglobal }

// Value returns the current value, evaluating the initial expression on
// first access.
func (g *Defglobal) Value(ctx context.Context, ev *expr.Evaluator) (any, error) {
	g.mu.Lock()
	if g.bound {
		v := g.value
		g.mu.Unlock()
		return v, nil
	}
	g.mu.Unlock()

	if err := g.Reset(ctx, ev); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value, nil
}

// Set binds v.
func (g *Defglobal) Set(v any) {
	g.mu.Lock()
	g.value, g.bound = v, true
	g.mu.Unlock()
}

// Reset re-evaluates the initial expression.
func (g *Defglobal) Reset(ctx context.Context, ev *expr.Evaluator) error {
	var v any
	if g.Initial != nil {
		var err error
		if v, err = ev.Eval(ctx, g.Initial); err != nil {
			return err
		}
	}
	g.Set(v)
	return nil
}

// Set is the collection of constructs of one knowledge base, in definition
// order.
type Set struct {
	Deffunctions []*Deffunction
	Defglobals   []*Defglobal
}

// Deffunction looks up a deffunction by name.
func (s *Set) Deffunction(name string) (*Deffunction, bool) {
	for _, d := range s.Deffunctions {
		if d.ConstructName() == name {
			return d, true
		}
	}
	return nil, false
}

// Defglobal looks up a defglobal by name.
func (s *Set) Defglobal(name string) (*Defglobal, bool) {
	for _, g := range s.Defglobals {
		if g.ConstructName() == name {
			return g, true
		}
	}
	return nil, false
}

// Len returns the number of constructs.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Deffunctions) + len(s.Defglobals)
}
