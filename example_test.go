package clips_test

import (
	"context"
	"fmt"

	clips "github.com/tildemin3/clips-core"
	"github.com/tildemin3/clips-core/blobstore"
	"github.com/tildemin3/clips-core/construct"
	"github.com/tildemin3/clips-core/expr"
	"github.com/tildemin3/clips-core/function"
	"github.com/tildemin3/clips-core/symbol"
)

func register(env *clips.Environment) {
	tab := env.Symbols()
	_ = env.Register(&function.Descriptor{
		Name:    "*",
		MinArgs: 2,
		MaxArgs: function.Unbounded,
		Impl: func(_ context.Context, args []any) (any, error) {
			p := int64(1)
			for _, a := range args {
				p *= a.(*symbol.Value).Integer()
			}
			return tab.Integer(p), nil
		},
	})
}

func Example() {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	// Compile and save.
	dev := clips.New(clips.WithBlobStore(store))
	register(dev)
	tab := dev.Symbols()
	_ = dev.DefineDeffunction(&construct.Deffunction{
		Name:    tab.Symbol("square"),
		MinArgs: 1,
		MaxArgs: 1,
		Body:    expr.CallNamed("*", expr.Local(0), expr.Local(0)),
	})
	if err := dev.SaveImage(ctx, "kb.img"); err != nil {
		fmt.Println(err)
		return
	}

	// Load into a fresh environment.
	prod := clips.New(clips.WithBlobStore(store))
	register(prod)
	if err := prod.LoadImage(ctx, "kb.img"); err != nil {
		fmt.Println(err)
		return
	}
	defer prod.Close()

	v, _ := prod.Call(ctx, "square", prod.Symbols().Integer(7))
	fmt.Println(v, prod.IsImageLoaded())

	err := prod.DefineDeffunction(&construct.Deffunction{Name: prod.Symbols().Symbol("late")})
	fmt.Println(err)
	// Output:
	// 49 true
	// cannot define deffunction while a binary image is loaded
}
