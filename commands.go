package clips

import (
	"context"

	"github.com/tildemin3/clips-core/diag"
	"github.com/tildemin3/clips-core/function"
	"github.com/tildemin3/clips-core/symbol"
)

// registerCommands installs the image commands every environment offers.
func (e *Environment) registerCommands() {
	for _, d := range []*function.Descriptor{
		{Name: "bload", MinArgs: 1, MaxArgs: 1, Restrictions: "sy", ReturnType: "b", Impl: e.bloadCommand},
		{Name: "bsave", MinArgs: 1, MaxArgs: 1, Restrictions: "sy", ReturnType: "b", Impl: e.bsaveCommand},
		{Name: "unload-image", MinArgs: 0, MaxArgs: 0, ReturnType: "b", Impl: e.unloadCommand},
		{Name: "image-loaded-p", MinArgs: 0, MaxArgs: 0, ReturnType: "b", Impl: e.imageLoadedCommand},
	} {
		if err := e.functions.Register(d); err != nil {
			panic(err)
		}
	}
}

func (e *Environment) boolean(b bool) *symbol.Value {
	if b {
		return e.trueSym
	}
	return e.falseSym
}

func (e *Environment) bloadCommand(ctx context.Context, args []any) (any, error) {
	_, name, err := diag.CheckType("bload", 1, args[0], symbol.KindString, symbol.KindSymbol)
	if err != nil {
		return nil, err
	}
	if err := e.LoadImage(ctx, name); err != nil {
		return nil, err
	}
	return e.trueSym, nil
}

func (e *Environment) bsaveCommand(ctx context.Context, args []any) (any, error) {
	_, name, err := diag.CheckType("bsave", 1, args[0], symbol.KindString, symbol.KindSymbol)
	if err != nil {
		return nil, err
	}
	if err := e.SaveImage(ctx, name); err != nil {
		return nil, err
	}
	return e.trueSym, nil
}

func (e *Environment) unloadCommand(context.Context, []any) (any, error) {
	if err := e.Unload(); err != nil {
		return nil, err
	}
	return e.trueSym, nil
}

func (e *Environment) imageLoadedCommand(context.Context, []any) (any, error) {
	return e.boolean(e.IsImageLoaded()), nil
}
