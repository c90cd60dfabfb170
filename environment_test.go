package clips

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildemin3/clips-core/blobstore"
	"github.com/tildemin3/clips-core/bload"
	"github.com/tildemin3/clips-core/construct"
	"github.com/tildemin3/clips-core/expr"
	"github.com/tildemin3/clips-core/function"
	"github.com/tildemin3/clips-core/image"
	"github.com/tildemin3/clips-core/symbol"
)

func plus(tab *symbol.Table) *function.Descriptor {
	return &function.Descriptor{
		Name:    "+",
		MinArgs: 2,
		MaxArgs: function.Unbounded,
		Impl: func(_ context.Context, args []any) (any, error) {
			var sum int64
			for _, a := range args {
				sum += a.(*symbol.Value).Integer()
			}
			return tab.Integer(sum), nil
		},
	}
}

func newEnv(t *testing.T, opts ...Option) *Environment {
	t.Helper()
	env := New(opts...)
	require.NoError(t, env.Register(plus(env.Symbols())))
	return env
}

// define adds (deffunction double (?x) (+ ?x ?x)) and (defglobal ?*limit* = 10).
func define(t *testing.T, env *Environment) {
	t.Helper()
	tab := env.Symbols()
	require.NoError(t, env.DefineDeffunction(&construct.Deffunction{
		Name:    tab.Symbol("double"),
		MinArgs: 1,
		MaxArgs: 1,
		Body:    expr.CallNamed("+", expr.Local(0), expr.Local(0)),
	}))
	require.NoError(t, env.DefineGlobal(&construct.Defglobal{
		Name:    tab.Symbol("limit"),
		Initial: expr.Literal(tab.Integer(10)),
	}))
}

func readBlob(t *testing.T, store blobstore.BlobStore, name string) []byte {
	t.Helper()
	rc, err := blobstore.OpenReader(context.Background(), store, name, nil)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	src := newEnv(t, WithBlobStore(store))
	define(t, src)
	require.NoError(t, src.SaveImage(ctx, "kb.img"))

	dst := newEnv(t, WithBlobStore(store))
	require.NoError(t, dst.LoadImage(ctx, "kb.img"))
	assert.True(t, dst.IsImageLoaded())
	assert.Equal(t, bload.StateActive, dst.State())

	v, err := dst.Call(ctx, "double", dst.Symbols().Integer(21))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.(*symbol.Value).Integer())

	v, err = dst.GlobalValue(ctx, "limit")
	require.NoError(t, err)
	assert.Equal(t, int64(10), v.(*symbol.Value).Integer())

	require.NoError(t, dst.Close())
	assert.False(t, dst.IsImageLoaded())
	_, ok := dst.Deffunction("double")
	assert.False(t, ok)
}

func TestLoadReplacesConstructs(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	src := newEnv(t, WithBlobStore(store))
	define(t, src)
	require.NoError(t, src.SaveImage(ctx, "kb.img"))

	dst := newEnv(t, WithBlobStore(store))
	require.NoError(t, dst.DefineDeffunction(&construct.Deffunction{Name: dst.Symbols().Symbol("old"), Body: expr.Local(0), MinArgs: 1, MaxArgs: 1}))
	require.NoError(t, dst.LoadImage(ctx, "kb.img"))

	_, ok := dst.Deffunction("old")
	assert.False(t, ok)
	_, ok = dst.Deffunction("double")
	assert.True(t, ok)
	assert.Equal(t, 2, dst.Constructs().Len())
}

func TestMutationsRefusedWhileLoaded(t *testing.T) {
	ctx := context.Background()
	var diagnostics bytes.Buffer
	env := newEnv(t, WithDiagnostics(&diagnostics))
	require.NoError(t, env.SaveImage(ctx, "empty.img"))
	require.NoError(t, env.LoadImage(ctx, "empty.img"))

	err := env.DefineDeffunction(&construct.Deffunction{Name: env.Symbols().Symbol("f")})
	var cpe *CannotPerformWhileLoadedError
	require.ErrorAs(t, err, &cpe)
	assert.Equal(t, construct.KindDeffunction, cpe.Construct)
	assert.ErrorIs(t, err, ErrImageActive)
	assert.Contains(t, diagnostics.String(), "[BLOAD1] Cannot load deffunction construct with binary load in effect.")

	err = env.DefineGlobal(&construct.Defglobal{Name: env.Symbols().Symbol("g")})
	assert.ErrorIs(t, err, ErrImageActive)

	_, err = env.UndefineDeffunction("f")
	assert.ErrorIs(t, err, ErrImageActive)

	err = env.SaveImage(ctx, "other.img")
	assert.ErrorIs(t, err, ErrImageActive)

	require.NoError(t, env.Unload())
	require.NoError(t, env.DefineDeffunction(&construct.Deffunction{Name: env.Symbols().Symbol("f")}))
	removed, err := env.UndefineDeffunction("f")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestUnloadVeto(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsCollector{}
	env := newEnv(t, WithMetricsCollector(metrics))
	define(t, env)
	require.NoError(t, env.SaveImage(ctx, "kb.img"))
	require.NoError(t, env.LoadImage(ctx, "kb.img"))

	require.NoError(t, env.RegisterClearReadyHook("agenda", 0, func(any) bool { return false }, nil))
	err := env.Unload()
	var iue *ImageInUseError
	require.ErrorAs(t, err, &iue)
	assert.Equal(t, []string{"agenda"}, iue.Vetoes)
	assert.True(t, env.IsImageLoaded())
	_, ok := env.Deffunction("double")
	assert.True(t, ok)

	assert.True(t, env.RemoveClearReadyHook("agenda"))
	require.NoError(t, env.Unload())
	assert.False(t, env.IsImageLoaded())
	assert.ErrorIs(t, env.Unload(), bload.ErrNotLoaded)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.UnloadVetoes)
	assert.Equal(t, int64(1), stats.UnloadCount)
}

func TestLoadMissingImage(t *testing.T) {
	env := newEnv(t)
	err := env.LoadImage(context.Background(), "missing.img")

	var oe *OpenError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "missing.img", oe.Name)
	assert.ErrorIs(t, err, ErrOpen)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
	assert.Equal(t, bload.StateIdle, env.State())
}

func TestCorruptImageRollsBack(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	src := newEnv(t, WithBlobStore(store))
	define(t, src)
	require.NoError(t, src.SaveImage(ctx, "kb.img"))
	data := readBlob(t, store, "kb.img")
	require.NoError(t, store.Put(ctx, "bad.img", data[:len(data)-5]))

	metrics := &BasicMetricsCollector{}
	dst := newEnv(t, WithBlobStore(store), WithMetricsCollector(metrics))
	require.NoError(t, dst.DefineDeffunction(&construct.Deffunction{Name: dst.Symbols().Symbol("keep")}))
	symbols := dst.Symbols().Len()

	var aborted []string
	require.NoError(t, dst.RegisterAbortHook("cleanup", 0, func(c any) { aborted = append(aborted, c.(string)) }, "cleanup"))

	err := dst.LoadImage(ctx, "bad.img")
	assert.ErrorIs(t, err, ErrCorruptImage)
	assert.Equal(t, []string{"cleanup"}, aborted)
	assert.False(t, dst.IsImageLoaded())
	assert.Equal(t, symbols, dst.Symbols().Len())
	_, ok := dst.Deffunction("keep")
	assert.True(t, ok)
	assert.Zero(t, dst.Resources().MemoryUsage())

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.LoadCount)
	assert.Equal(t, int64(1), stats.LoadErrors)
}

func TestCompressedImage(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	for _, c := range []Compression{CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			src := newEnv(t, WithBlobStore(store), WithCompression(c))
			define(t, src)
			require.NoError(t, src.SaveImage(ctx, "kb.img"))

			dst := newEnv(t, WithBlobStore(store))
			require.NoError(t, dst.LoadImage(ctx, "kb.img"))
			v, err := dst.Call(ctx, "double", dst.Symbols().Integer(4))
			require.NoError(t, err)
			assert.Equal(t, int64(8), v.(*symbol.Value).Integer())
		})
	}
}

func TestLoadFromHookRejected(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	require.NoError(t, env.SaveImage(ctx, "empty.img"))

	var nested error
	require.NoError(t, env.RegisterBeforeLoadHook("nested", 0, func(any) { nested = env.LoadImage(ctx, "empty.img") }, nil))
	require.NoError(t, env.LoadImage(ctx, "empty.img"))

	assert.ErrorIs(t, nested, ErrAlreadyLoaded)
	assert.ErrorIs(t, env.LoadImage(ctx, "empty.img"), ErrAlreadyLoaded)
	assert.True(t, env.RemoveBeforeLoadHook("nested"))
}

func TestDeferredFunctions(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	src := newEnv(t, WithBlobStore(store))
	require.NoError(t, src.Register(&function.Descriptor{Name: "ext-lookup", MinArgs: 1, MaxArgs: 1}))
	require.NoError(t, src.DefineDeffunction(&construct.Deffunction{
		Name:    src.Symbols().Symbol("lookup"),
		MinArgs: 1,
		MaxArgs: 1,
		Body:    expr.CallNamed("ext-lookup", expr.Local(0)),
	}))
	require.NoError(t, src.SaveImage(ctx, "kb.img"))

	strict := newEnv(t, WithBlobStore(store))
	var ue *function.UnresolvedError
	require.ErrorAs(t, strict.LoadImage(ctx, "kb.img"), &ue)
	assert.ErrorIs(t, strict.LoadImage(ctx, "kb.img"), ErrDanglingReference)

	lenient := newEnv(t, WithBlobStore(store), WithDeferredFunctions("ext-*"))
	require.NoError(t, lenient.LoadImage(ctx, "kb.img"))
	assert.Equal(t, uint64(1), lenient.Image().Functions.Unresolved().GetCardinality())

	_, err := lenient.Call(ctx, "lookup", "key")
	assert.ErrorIs(t, err, function.ErrNotFound)
}

func TestVersionMismatch(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	build := image.CurrentBuild()
	build.Version = "V6.30"
	old := New(WithBlobStore(store), WithBuild(build))
	require.NoError(t, old.SaveImage(ctx, "old.img"))

	env := newEnv(t, WithBlobStore(store))
	err := env.LoadImage(ctx, "old.img")
	var iie *IncompatibleImageError
	require.ErrorAs(t, err, &iie)
	assert.Equal(t, "V6.30", iie.Actual)
	assert.Equal(t, bload.StateIdle, env.State())
}

func TestLogging(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	env := newEnv(t, WithLogger(logger))
	define(t, env)
	require.NoError(t, env.SaveImage(ctx, "kb.img"))
	require.NoError(t, env.LoadImage(ctx, "kb.img"))
	require.NoError(t, env.Unload())

	out := buf.String()
	assert.Contains(t, out, `"msg":"image saved"`)
	assert.Contains(t, out, `"msg":"image loaded"`)
	assert.Contains(t, out, `"load_id"`)
	assert.Contains(t, out, `"msg":"image unloaded"`)
	assert.NotContains(t, out, "segment loaded")
}
