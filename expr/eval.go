package expr

import (
	"context"
	"errors"
	"fmt"

	"github.com/tildemin3/clips-core/function"
)

// DefaultMaxDepth bounds nested calls during evaluation.
const DefaultMaxDepth = 512

var (
	// ErrDepthExceeded is returned when evaluation nests deeper than the
	// evaluator allows.
	ErrDepthExceeded = errors.New("expression nesting too deep")

	// ErrUnboundLocal is returned for a parameter reference outside a
	// deffunction or beyond its arguments.
	ErrUnboundLocal = errors.New("unbound parameter reference")
)

// Callable is a construct that can be called from an expression.
type Callable interface {
	Construct
	Invoke(ctx context.Context, ev *Evaluator, args []any) (any, error)
}

// Variable is a construct that holds a value.
type Variable interface {
	Construct
	Value(ctx context.Context, ev *Evaluator) (any, error)
}

// UnresolvedCallError reports a deferred call whose function is still not
// registered at first use.
type UnresolvedCallError struct {
	Name string
}

func (e *UnresolvedCallError) Error() string {
	return fmt.Sprintf("function %s is not registered", e.Name)
}

func (e *UnresolvedCallError) Is(target error) bool { return target == function.ErrNotFound }

// Evaluator computes the value of expressions.
//
// Literals evaluate to their atom (*symbol.Value), calls to whatever the
// function returns. Calls whose descriptor was deferred at load time are
// looked up by name in Functions on every evaluation.
type Evaluator struct {
	Functions *function.Registry
	MaxDepth  int
}

type frameKey struct{}

type frame struct {
	args  []any
	depth int
}

// Eval evaluates e (without its siblings).
func (ev *Evaluator) Eval(ctx context.Context, e *Expression) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch e.Kind {
	case KindCall:
		d := e.Function
		if d == nil {
			var ok bool
			if ev.Functions != nil {
				d, ok = ev.Functions.Lookup(e.FunctionName)
			}
			if !ok {
				return nil, &UnresolvedCallError{Name: e.FunctionName}
			}
		}
		args, err := ev.EvalArgs(ctx, e.Args)
		if err != nil {
			return nil, err
		}
		return d.Call(ctx, args)
	case KindDeffunctionCall:
		c, ok := e.Construct.(Callable)
		if !ok {
			return nil, fmt.Errorf("%s %s is not callable", e.Construct.ConstructKind(), e.Construct.ConstructName())
		}
		args, err := ev.EvalArgs(ctx, e.Args)
		if err != nil {
			return nil, err
		}
		return c.Invoke(ctx, ev, args)
	case KindGlobal:
		v, ok := e.Construct.(Variable)
		if !ok {
			return nil, fmt.Errorf("%s %s has no value", e.Construct.ConstructKind(), e.Construct.ConstructName())
		}
		return v.Value(ctx, ev)
	case KindLocal:
		f, _ := ctx.Value(frameKey{}).(*frame)
		if f == nil || e.Index < 0 || e.Index >= len(f.args) {
			return nil, fmt.Errorf("%w: ?%d", ErrUnboundLocal, e.Index)
		}
		return f.args[e.Index], nil
	default:
		if !e.Kind.IsLiteral() || e.Atom == nil {
			return nil, fmt.Errorf("cannot evaluate %s node", e.Kind)
		}
		return e.Atom, nil
	}
}

// EvalArgs evaluates a sibling chain.
func (ev *Evaluator) EvalArgs(ctx context.Context, first *Expression) ([]any, error) {
	var out []any
	for a := first; a != nil; a = a.Next {
		v, err := ev.Eval(ctx, a)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// EvalBody evaluates a sibling chain as a sequence of actions with args
// bound as parameters, returning the value of the last one.
func (ev *Evaluator) EvalBody(ctx context.Context, body *Expression, args []any) (any, error) {
	depth := 1
	if f, ok := ctx.Value(frameKey{}).(*frame); ok {
		depth = f.depth + 1
	}
	limit := ev.MaxDepth
	if limit <= 0 {
		limit = DefaultMaxDepth
	}
	if depth > limit {
		return nil, fmt.Errorf("%w: limit %d", ErrDepthExceeded, limit)
	}

	ctx = context.WithValue(ctx, frameKey{}, &frame{args: args, depth: depth})
	var result any
	for n := body; n != nil; n = n.Next {
		v, err := ev.Eval(ctx, n)
		if err != nil {
			return nil, err
		}
		result = v
	}
	return result, nil
}
