package bload

import (
	"bytes"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildemin3/clips-core/bsave"
	"github.com/tildemin3/clips-core/expr"
	"github.com/tildemin3/clips-core/function"
	"github.com/tildemin3/clips-core/hook"
	"github.com/tildemin3/clips-core/image"
	"github.com/tildemin3/clips-core/symbol"
)

// withArgs crafts two symbol literals, the first of which has its argument
// list pointing at args.
func withArgs(args image.Ordinal) *crafted {
	c := &crafted{}
	x := c.symbol("x")
	c.exprs = []image.ExpressionRecord{
		{Kind: image.ExprSymbol, Value: x, Args: args, Next: image.NullOrdinal},
		{Kind: image.ExprSymbol, Value: x, Args: image.NullOrdinal, Next: image.NullOrdinal},
	}
	return c
}

func TestOrdinalBounds(t *testing.T) {
	tests := []struct {
		name    string
		ordinal image.Ordinal
		ok      bool
	}{
		{"null", image.NullOrdinal, true},
		{"last", 1, true},
		{"count", 2, false},
		{"max-1", math.MaxUint32 - 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syms := symbol.NewTable()
			l := newLoader(t, Options{Symbols: syms})
			err := l.Load(bytes.NewReader(withArgs(tt.ordinal).bytes(t)))
			if tt.ok {
				require.NoError(t, err)
				return
			}

			var dre *image.DanglingReferenceError
			require.ErrorAs(t, err, &dre)
			assert.Equal(t, image.TagExpressions, dre.Segment)
			assert.Equal(t, "args", dre.Field)
			assert.Equal(t, 0, dre.Index)
			assert.Equal(t, tt.ordinal, dre.Ordinal)
			assert.Equal(t, StateIdle, l.State())
			assert.Equal(t, 0, syms.Len())
		})
	}
}

func TestAtomOrdinalBounds(t *testing.T) {
	c := &crafted{}
	c.symbol("x")
	c.exprs = []image.ExpressionRecord{{Kind: image.ExprSymbol, Value: 1, Args: image.NullOrdinal, Next: image.NullOrdinal}}

	err := newLoader(t, Options{}).Load(bytes.NewReader(c.bytes(t)))
	var dre *image.DanglingReferenceError
	require.ErrorAs(t, err, &dre)
	assert.Equal(t, "value", dre.Field)
	assert.Equal(t, 1, dre.Limit)

	// A literal must carry an atom.
	c.exprs[0].Value = image.NullOrdinal
	err = newLoader(t, Options{}).Load(bytes.NewReader(c.bytes(t)))
	assert.ErrorIs(t, err, image.ErrCorruptImage)

	// And an atom of its own kind.
	c.exprs[0].Kind = image.ExprInteger
	c.exprs[0].Value = 0
	err = newLoader(t, Options{}).Load(bytes.NewReader(c.bytes(t)))
	assert.ErrorIs(t, err, image.ErrCorruptImage)
}

func TestMalformedRecords(t *testing.T) {
	tests := []struct {
		name  string
		build func(c *crafted)
	}{
		{"lexeme outside pool", func(c *crafted) {
			c.atoms = append(c.atoms, image.AtomRecord{Kind: image.AtomString, Length: 10, Payload: 1})
		}},
		{"unknown atom kind", func(c *crafted) {
			c.atoms = append(c.atoms, image.AtomRecord{Kind: 99})
		}},
		{"unknown expression kind", func(c *crafted) {
			c.exprs = append(c.exprs, image.ExpressionRecord{Kind: 99, Args: image.NullOrdinal, Next: image.NullOrdinal})
		}},
		{"next cycle", func(c *crafted) {
			x := c.symbol("x")
			c.exprs = append(c.exprs,
				image.ExpressionRecord{Kind: image.ExprSymbol, Value: x, Args: image.NullOrdinal, Next: 1},
				image.ExpressionRecord{Kind: image.ExprSymbol, Value: x, Args: image.NullOrdinal, Next: 0})
		}},
		{"self argument", func(c *crafted) {
			x := c.symbol("x")
			c.exprs = append(c.exprs, image.ExpressionRecord{Kind: image.ExprSymbol, Value: x, Args: 0, Next: image.NullOrdinal})
		}},
		{"name is not a symbol", func(c *crafted) {
			n := c.integer(7)
			c.globals = append(c.globals, image.DefglobalRecord{Name: n, Initial: image.NullOrdinal})
		}},
		{"null deffunction call", func(c *crafted) {
			c.exprs = append(c.exprs, image.ExpressionRecord{Kind: image.ExprDeffunctionCall, Value: image.NullOrdinal, Args: image.NullOrdinal, Next: image.NullOrdinal})
		}},
		{"negative arity", func(c *crafted) {
			n := c.symbol("f")
			c.defs = append(c.defs, image.DeffunctionRecord{Name: n, MinArgs: -1, MaxArgs: 2, Body: image.NullOrdinal})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &crafted{}
			tt.build(c)
			syms := symbol.NewTable()
			l := newLoader(t, Options{Symbols: syms})
			err := l.Load(bytes.NewReader(c.bytes(t)))
			assert.ErrorIs(t, err, image.ErrCorruptImage)
			assert.Equal(t, StateIdle, l.State())
			assert.Equal(t, 0, syms.Len())
		})
	}
}

func TestRecursionThroughDeffunctionIsLegal(t *testing.T) {
	c := &crafted{}
	name := c.symbol("loop")
	c.exprs = []image.ExpressionRecord{{Kind: image.ExprDeffunctionCall, Value: 0, Args: image.NullOrdinal, Next: image.NullOrdinal}}
	c.defs = []image.DeffunctionRecord{{Name: name, MinArgs: 0, MaxArgs: 0, Body: 0}}

	l := newLoader(t, Options{})
	require.NoError(t, l.Load(bytes.NewReader(c.bytes(t))))
	img := l.Image()
	assert.Same(t, &img.Deffunctions[0], img.Expressions[0].Construct)
	assert.Same(t, &img.Expressions[0], img.Deffunctions[0].Body)
}

func TestUnresolvedFunctions(t *testing.T) {
	build := func() *crafted {
		c := &crafted{}
		name := c.symbol("ext-lookup")
		c.funcs = []image.FunctionRecord{{Name: name, MinArgs: 1, MaxArgs: 1}}
		c.exprs = []image.ExpressionRecord{{Kind: image.ExprCall, Value: 0, Args: image.NullOrdinal, Next: image.NullOrdinal}}
		return c
	}

	t.Run("rejected", func(t *testing.T) {
		syms := symbol.NewTable()
		l := newLoader(t, Options{Symbols: syms})
		err := l.Load(bytes.NewReader(build().bytes(t)))
		var ue *function.UnresolvedError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, "ext-lookup", ue.Want.Name)
		assert.ErrorIs(t, err, image.ErrDanglingReference)
		assert.Equal(t, 0, syms.Len())
	})

	t.Run("arity mismatch", func(t *testing.T) {
		reg := function.NewRegistry()
		require.NoError(t, reg.Register(&function.Descriptor{Name: "ext-lookup", MinArgs: 2, MaxArgs: 2}))
		l := newLoader(t, Options{Functions: reg})
		var ue *function.UnresolvedError
		require.ErrorAs(t, l.Load(bytes.NewReader(build().bytes(t))), &ue)
		require.NotNil(t, ue.Have)
	})

	t.Run("deferred", func(t *testing.T) {
		l := newLoader(t, Options{Policy: function.ResolvePolicy{Defer: []string{"ext-*"}}})
		require.NoError(t, l.Load(bytes.NewReader(build().bytes(t))))

		e := &l.Image().Expressions[0]
		assert.Equal(t, expr.KindCall, e.Kind)
		assert.Nil(t, e.Function)
		assert.Equal(t, "ext-lookup", e.FunctionName)
		assert.True(t, l.Image().Functions.Unresolved().Contains(0))
	})

	t.Run("null call", func(t *testing.T) {
		c := build()
		c.exprs[0].Value = image.NullOrdinal
		l := newLoader(t, Options{Policy: function.ResolvePolicy{Defer: []string{"*"}}})
		require.NoError(t, l.Load(bytes.NewReader(c.bytes(t))))
		e := &l.Image().Expressions[0]
		assert.Nil(t, e.Function)
		assert.Empty(t, e.FunctionName)
	})

	t.Run("function ordinal out of range", func(t *testing.T) {
		c := build()
		c.exprs[0].Value = 1
		l := newLoader(t, Options{Policy: function.ResolvePolicy{Defer: []string{"*"}}})
		var dre *image.DanglingReferenceError
		require.ErrorAs(t, l.Load(bytes.NewReader(c.bytes(t))), &dre)
		assert.Equal(t, image.TagExpressions, dre.Segment)
		assert.Equal(t, "function", dre.Field)
		assert.Equal(t, 0, dre.Index)
	})
}

func TestHookOrdering(t *testing.T) {
	var order []int
	var states []State
	hooks := &hook.Set{}
	var l *Loader
	for _, p := range []int{1, 5, 3} {
		require.NoError(t, hooks.BeforeLoad.Add(string(rune('a'+p)), p, func(ctx any) {
			order = append(order, ctx.(int))
			states = append(states, l.State())
		}, p))
	}
	var sawImage bool
	require.NoError(t, hooks.AfterLoad.Add("after", 0, func(any) {
		sawImage = l.Active() && l.Image() != nil && l.State() == StateAfterHooksRunning
	}, nil))
	aborted := 0
	require.NoError(t, hooks.Abort.Add("abort", 0, func(any) { aborted++ }, nil))

	var committed *Image
	l = newLoader(t, Options{Hooks: hooks, OnCommit: func(img *Image) { committed = img }})
	require.NoError(t, l.Load(bytes.NewReader(save(t, nil, bsave.Options{}))))

	assert.Equal(t, []int{1, 3, 5}, order)
	assert.Equal(t, []State{StateBeforeHooksRunning, StateBeforeHooksRunning, StateBeforeHooksRunning}, states)
	assert.True(t, sawImage)
	assert.Same(t, l.Image(), committed)
	assert.Equal(t, 0, aborted)
}

func TestAbortHooksRunOnSegmentFailure(t *testing.T) {
	var calls []string
	hooks := &hook.Set{}
	require.NoError(t, hooks.BeforeLoad.Add("before", 0, func(any) { calls = append(calls, "before") }, nil))
	require.NoError(t, hooks.AfterLoad.Add("after", 0, func(any) { calls = append(calls, "after") }, nil))
	require.NoError(t, hooks.Abort.Add("abort-2", 2, func(any) { calls = append(calls, "abort-2") }, nil))
	require.NoError(t, hooks.Abort.Add("abort-1", 1, func(any) { calls = append(calls, "abort-1") }, nil))

	l := newLoader(t, Options{Hooks: hooks})
	err := l.Load(bytes.NewReader(withArgs(5).bytes(t)))
	assert.ErrorIs(t, err, image.ErrDanglingReference)
	assert.Equal(t, []string{"before", "abort-1", "abort-2"}, calls)
}

func TestNestedLoadFromHook(t *testing.T) {
	hooks := &hook.Set{}
	var nested error
	var l *Loader
	r := &countingReader{}
	require.NoError(t, hooks.BeforeLoad.Add("nested", 0, func(any) { nested = l.Load(r) }, nil))

	l = newLoader(t, Options{Hooks: hooks})
	require.NoError(t, l.Load(bytes.NewReader(save(t, nil, bsave.Options{}))))

	var ale *image.AlreadyLoadedError
	require.ErrorAs(t, nested, &ale)
	assert.Equal(t, StateBeforeHooksRunning.String(), ale.State)
	assert.Zero(t, r.reads)
}

func TestConcurrentLoadRejection(t *testing.T) {
	l := newLoader(t, Options{})
	require.NoError(t, l.Load(bytes.NewReader(save(t, nil, bsave.Options{}))))

	var wg sync.WaitGroup
	readers := make([]*countingReader, 8)
	errs := make([]error, len(readers))
	for i := range readers {
		readers[i] = &countingReader{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.Load(readers[i])
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.ErrorIs(t, err, image.ErrAlreadyLoaded)
		assert.Zero(t, readers[i].reads)
	}
	assert.True(t, l.Active())
}

func TestUnloadVeto(t *testing.T) {
	syms := symbol.NewTable()
	hooks := &hook.Set{}
	polled := map[string]int{}
	require.NoError(t, hooks.ClearReady.Add("engine", 1, func(any) bool { polled["engine"]++; return false }, nil))
	require.NoError(t, hooks.ClearReady.Add("agenda", 2, func(any) bool { polled["agenda"]++; return false }, nil))
	require.NoError(t, hooks.ClearReady.Add("ok", 3, func(any) bool { polled["ok"]++; return true }, nil))

	var unloaded *Image
	l := newLoader(t, Options{Symbols: syms, Hooks: hooks, OnUnload: func(img *Image) { unloaded = img }})
	c := withArgs(image.NullOrdinal)
	require.NoError(t, l.Load(bytes.NewReader(c.bytes(t))))
	require.Equal(t, 1, syms.Len())

	err := l.Unload()
	var iue *image.ImageInUseError
	require.ErrorAs(t, err, &iue)
	assert.Equal(t, []string{"engine", "agenda"}, iue.Vetoes)
	assert.Equal(t, map[string]int{"engine": 1, "agenda": 1, "ok": 1}, polled)
	assert.True(t, l.Active())
	assert.Equal(t, StateActive, l.State())
	assert.NotNil(t, l.Image())

	hooks.ClearReady.Remove("engine")
	hooks.ClearReady.Remove("agenda")
	img := l.Image()
	require.NoError(t, l.Unload())
	assert.Same(t, img, unloaded)
	assert.False(t, l.Active())
	assert.Equal(t, 0, syms.Len())

	// Loadable again.
	require.NoError(t, l.Load(bytes.NewReader(c.bytes(t))))
}

func TestSegmentHeaderMismatch(t *testing.T) {
	data := (&crafted{}).bytes(t)
	// The strings block follows the directory; announce one element there.
	sizes := image.CurrentSizes()
	off := len(image.PrefixID) + image.VersionSize + 4 + 6*len(sizes) + 4 + 6*len(image.LoadOrder)
	data[off] = 1

	err := newLoader(t, Options{}).Load(bytes.NewReader(data))
	assert.ErrorIs(t, err, image.ErrCorruptImage)
	assert.Contains(t, err.Error(), "directory announced")
}
