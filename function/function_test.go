package function

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildemin3/clips-core/image"
)

func newRegistry(t *testing.T, ds ...*Descriptor) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, d := range ds {
		require.NoError(t, r.Register(d))
	}
	return r
}

func TestRegistry(t *testing.T) {
	r := newRegistry(t,
		&Descriptor{Name: "+", MinArgs: 2, MaxArgs: Unbounded},
		&Descriptor{Name: "abs", MinArgs: 1, MaxArgs: 1},
		&Descriptor{Name: "str-cat", MinArgs: 0, MaxArgs: Unbounded},
	)

	err := r.Register(&Descriptor{Name: "abs", MinArgs: 1, MaxArgs: 1})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Error(t, r.Register(&Descriptor{Name: "bad", MinArgs: 2, MaxArgs: 1}))

	d, ok := r.Lookup("abs")
	require.True(t, ok)
	assert.Equal(t, "abs", d.Name)

	assert.True(t, r.Remove("abs"))
	assert.False(t, r.Remove("abs"))

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "+", snap[0].Name)
	assert.Equal(t, "str-cat", snap[1].Name)
}

func TestCheckArgCount(t *testing.T) {
	tests := []struct {
		name    string
		d       Descriptor
		n       int
		wantErr bool
		rel     CountRelation
	}{
		{name: "exact ok", d: Descriptor{MinArgs: 1, MaxArgs: 1}, n: 1},
		{name: "exact short", d: Descriptor{MinArgs: 1, MaxArgs: 1}, n: 0, wantErr: true, rel: Exactly},
		{name: "at least", d: Descriptor{MinArgs: 2, MaxArgs: Unbounded}, n: 1, wantErr: true, rel: AtLeast},
		{name: "unbounded", d: Descriptor{MinArgs: 2, MaxArgs: Unbounded}, n: 40},
		{name: "too many", d: Descriptor{MinArgs: 0, MaxArgs: 2}, n: 3, wantErr: true, rel: NoMoreThan},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.d.Name = "f"
			err := tt.d.CheckArgs(tt.n)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var ece *ExpectedCountError
			require.ErrorAs(t, err, &ece)
			assert.Equal(t, tt.rel, ece.Relation)
			assert.Equal(t, tt.n, ece.Actual)
		})
	}
}

func TestDescriptorCall(t *testing.T) {
	d := &Descriptor{
		Name:    "twice",
		MinArgs: 1,
		MaxArgs: 1,
		Impl: func(_ context.Context, args []any) (any, error) {
			return args[0].(int) * 2, nil
		},
	}
	v, err := d.Call(context.Background(), []any{21})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = d.Call(context.Background(), nil)
	assert.Error(t, err)
}

func TestBuildTable(t *testing.T) {
	r := newRegistry(t,
		&Descriptor{Name: "str-cat", MinArgs: 0, MaxArgs: Unbounded},
		&Descriptor{Name: "+", MinArgs: 2, MaxArgs: Unbounded},
	)
	refs := []ImageFunction{
		{Name: "+", MinArgs: 2, MaxArgs: Unbounded},
		{Name: "str-cat", MinArgs: 0, MaxArgs: Unbounded},
	}

	tab, err := BuildTable(r.Snapshot(), refs, ResolvePolicy{})
	require.NoError(t, err)
	assert.Equal(t, 2, tab.Len())

	d, err := tab.Resolve(0)
	require.NoError(t, err)
	assert.Equal(t, "+", d.Name)

	d, err = tab.Resolve(1)
	require.NoError(t, err)
	assert.Equal(t, "str-cat", d.Name)

	d, err = tab.Resolve(image.NullOrdinal)
	require.NoError(t, err)
	assert.Nil(t, d)

	for _, o := range []image.Ordinal{2, image.NullOrdinal - 1} {
		_, err = tab.Resolve(o)
		assert.ErrorIs(t, err, image.ErrDanglingReference)
	}
	assert.True(t, tab.Unresolved().IsEmpty())
}

func TestBuildTableUnresolved(t *testing.T) {
	r := newRegistry(t, &Descriptor{Name: "abs", MinArgs: 1, MaxArgs: 1})

	t.Run("missing", func(t *testing.T) {
		_, err := BuildTable(r.Snapshot(), []ImageFunction{{Name: "gone", MinArgs: 0, MaxArgs: 0}}, ResolvePolicy{})
		var ue *UnresolvedError
		require.ErrorAs(t, err, &ue)
		assert.Nil(t, ue.Have)
		assert.ErrorIs(t, err, image.ErrDanglingReference)
	})

	t.Run("arity mismatch", func(t *testing.T) {
		_, err := BuildTable(r.Snapshot(), []ImageFunction{{Name: "abs", MinArgs: 1, MaxArgs: 2}}, ResolvePolicy{})
		var ue *UnresolvedError
		require.ErrorAs(t, err, &ue)
		require.NotNil(t, ue.Have)
		assert.Contains(t, err.Error(), "1..2")
	})

	t.Run("deferred", func(t *testing.T) {
		refs := []ImageFunction{
			{Name: "abs", MinArgs: 1, MaxArgs: 1},
			{Name: "user-hook", MinArgs: 0, MaxArgs: 0},
		}
		tab, err := BuildTable(r.Snapshot(), refs, ResolvePolicy{Defer: []string{"user-*"}})
		require.NoError(t, err)

		d, err := tab.Resolve(1)
		require.NoError(t, err)
		assert.Nil(t, d)
		assert.True(t, tab.Deferred(1))
		assert.False(t, tab.Deferred(0))
		assert.Equal(t, "user-hook", tab.Name(1))
		assert.Equal(t, refs[1], tab.Ref(1))
		assert.Equal(t, ImageFunction{}, tab.Ref(image.NullOrdinal))
		assert.Equal(t, []uint32{1}, tab.Unresolved().ToArray())
	})

	t.Run("bad pattern", func(t *testing.T) {
		_, err := BuildTable(nil, nil, ResolvePolicy{Defer: []string{"["}})
		assert.Error(t, err)
	})
}
