package clips

import (
	"context"
	"fmt"

	"github.com/tildemin3/clips-core/bload"
	"github.com/tildemin3/clips-core/construct"
	"github.com/tildemin3/clips-core/expr"
	"github.com/tildemin3/clips-core/function"
)

// checkMutable refuses construct changes unless the loader is idle.
func (e *Environment) checkMutable(op, kind string) error {
	if e.loader.State() == bload.StateIdle {
		return nil
	}
	e.diag.CannotLoadWithImageMessage(kind)
	return &CannotPerformWhileLoadedError{Operation: op, Construct: kind}
}

// DefineDeffunction adds df, replacing a deffunction of the same name.
func (e *Environment) DefineDeffunction(df *construct.Deffunction) error {
	if df == nil || df.Name == nil {
		return fmt.Errorf("deffunction must have a name")
	}
	if err := e.checkMutable("define", construct.KindDeffunction); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, d := range e.constructs.Deffunctions {
		if d.ConstructName() == df.ConstructName() {
			e.constructs.Deffunctions[i] = df
			return nil
		}
	}
	e.constructs.Deffunctions = append(e.constructs.Deffunctions, df)
	return nil
}

// DefineGlobal adds g, replacing a defglobal of the same name.
func (e *Environment) DefineGlobal(g *construct.Defglobal) error {
	if g == nil || g.Name == nil {
		return fmt.Errorf("defglobal must have a name")
	}
	if err := e.checkMutable("define", construct.KindDefglobal); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, d := range e.constructs.Defglobals {
		if d.ConstructName() == g.ConstructName() {
			e.constructs.Defglobals[i] = g
			return nil
		}
	}
	e.constructs.Defglobals = append(e.constructs.Defglobals, g)
	return nil
}

// UndefineDeffunction removes the deffunction called name and reports
// whether it existed.
func (e *Environment) UndefineDeffunction(name string) (bool, error) {
	if err := e.checkMutable("undefine", construct.KindDeffunction); err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, d := range e.constructs.Deffunctions {
		if d.ConstructName() == name {
			e.constructs.Deffunctions = append(e.constructs.Deffunctions[:i], e.constructs.Deffunctions[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Deffunction returns the deffunction called name.
func (e *Environment) Deffunction(name string) (*construct.Deffunction, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.constructs.Deffunction(name)
}

// Defglobal returns the defglobal called name.
func (e *Environment) Defglobal(name string) (*construct.Defglobal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.constructs.Defglobal(name)
}

// GlobalValue returns the current value of the defglobal called name.
func (e *Environment) GlobalValue(ctx context.Context, name string) (any, error) {
	g, ok := e.Defglobal(name)
	if !ok {
		return nil, fmt.Errorf("defglobal %s not found", name)
	}
	return g.Value(ctx, e.eval)
}

// Register adds a function to the registry of the environment.
func (e *Environment) Register(d *function.Descriptor) error {
	return e.functions.Register(d)
}

// Call invokes the registered function or, failing that, the deffunction
// called name. Failures are also printed to the diagnostics writer.
func (e *Environment) Call(ctx context.Context, name string, args ...any) (any, error) {
	v, err := e.call(ctx, name, args)
	if err != nil {
		e.diag.Error(name, err)
		return nil, err
	}
	return v, nil
}

func (e *Environment) call(ctx context.Context, name string, args []any) (any, error) {
	if d, ok := e.functions.Lookup(name); ok {
		return d.Call(ctx, args)
	}
	if df, ok := e.Deffunction(name); ok {
		return df.Invoke(ctx, e.eval, args)
	}
	return nil, fmt.Errorf("%w: %s", function.ErrNotFound, name)
}

// Eval evaluates x in the environment.
func (e *Environment) Eval(ctx context.Context, x *expr.Expression) (any, error) {
	return e.eval.Eval(ctx, x)
}
