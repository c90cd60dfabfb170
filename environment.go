package clips

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tildemin3/clips-core/blobstore"
	"github.com/tildemin3/clips-core/bload"
	"github.com/tildemin3/clips-core/bsave"
	"github.com/tildemin3/clips-core/construct"
	"github.com/tildemin3/clips-core/diag"
	"github.com/tildemin3/clips-core/expr"
	"github.com/tildemin3/clips-core/function"
	"github.com/tildemin3/clips-core/hook"
	"github.com/tildemin3/clips-core/image"
	"github.com/tildemin3/clips-core/internal/envelope"
	"github.com/tildemin3/clips-core/internal/resource"
	"github.com/tildemin3/clips-core/relocate"
	"github.com/tildemin3/clips-core/symbol"
)

// Environment holds the symbols, functions, hooks and constructs of one
// rule engine instance together with the binary image loader that can
// replace its constructs.
type Environment struct {
	opts      options
	logger    *Logger
	metrics   MetricsCollector
	resources *resource.Controller
	diag      *diag.Printer

	symbols   *symbol.Table
	functions *function.Registry
	hooks     *hook.Set
	eval      *expr.Evaluator
	loader    *bload.Loader

	trueSym  *symbol.Value
	falseSym *symbol.Value

	mu         sync.RWMutex
	constructs *construct.Set
}

// New creates an Environment with the built-in image commands registered
// and the default hooks installed.
func New(optFns ...Option) *Environment {
	o := applyOptions(optFns)

	e := &Environment{
		opts:       o,
		logger:     o.logger,
		metrics:    o.metricsCollector,
		resources:  resource.NewController(o.resources),
		diag:       diag.NewPrinter(o.diagnostics),
		symbols:    symbol.NewTable(),
		functions:  function.NewRegistry(),
		hooks:      hook.NewSet(),
		constructs: &construct.Set{},
	}
	e.eval = &expr.Evaluator{Functions: e.functions, MaxDepth: o.maxEvalDepth}
	e.trueSym = e.symbols.Symbol("TRUE")
	e.falseSym = e.symbols.Symbol("FALSE")

	rel := relocate.DefaultOptions()
	rel.Resources = e.resources
	rel.MaxSegmentBytes = o.maxSegmentBytes

	e.loader = bload.New(bload.Options{
		Build:     o.build,
		Symbols:   e.symbols,
		Functions: e.functions,
		Policy:    function.ResolvePolicy{Defer: o.deferred},
		Hooks:     e.hooks,
		Relocate:  rel,
		Logger:    o.logger.Logger,
		OnCommit:  e.commit,
		OnUnload:  e.discard,
	})

	e.registerCommands()
	return e
}

// Close unloads the active image, if any. Clear-ready hooks are still
// consulted.
func (e *Environment) Close() error {
	if e == nil {
		return nil
	}
	err := e.Unload()
	if errors.Is(err, bload.ErrNotLoaded) {
		return nil
	}
	return err
}

// Symbols returns the symbol table of the environment.
func (e *Environment) Symbols() *symbol.Table { return e.symbols }

// Functions returns the function registry of the environment.
func (e *Environment) Functions() *function.Registry { return e.functions }

// Resources returns the controller that accounts load scratch memory.
func (e *Environment) Resources() *resource.Controller { return e.resources }

// State returns the state of the image loader.
func (e *Environment) State() bload.State { return e.loader.State() }

// Image returns the active image, or nil.
func (e *Environment) Image() *bload.Image { return e.loader.Image() }

// IsImageLoaded reports whether a binary image is active.
func (e *Environment) IsImageLoaded() bool { return e.loader.Active() }

// LoadImage loads the image called name from the blob store and makes its
// constructs the constructs of the environment. A compressed image is
// detected and decompressed.
func (e *Environment) LoadImage(ctx context.Context, name string) error {
	// Reject before the blob is opened; the loader checks again atomically.
	if st := e.loader.State(); st != bload.StateIdle {
		err := &image.AlreadyLoadedError{State: st.String()}
		e.logger.LogLoad(ctx, name, nil, 0, err)
		return err
	}

	start := time.Now()
	err := e.loadImage(ctx, name)
	duration := time.Since(start)

	var bytes int64
	img := e.loader.Image()
	switch {
	case err == nil:
		bytes = imageBytes(img)
		e.logger.LogLoad(ctx, name, img, duration, nil)
	case errors.Is(err, ErrOpen), errors.Is(err, ErrAlreadyLoaded):
		e.logger.LogLoad(ctx, name, nil, duration, err)
	default:
		e.logger.LogAbort(ctx, name, err)
	}
	e.metrics.RecordLoad(duration, bytes, err)
	return err
}

func (e *Environment) loadImage(ctx context.Context, name string) error {
	rc, err := blobstore.OpenReader(ctx, e.opts.store, name, e.resources)
	if err != nil {
		return translateOpenError(name, err)
	}
	defer rc.Close()

	r, err := envelope.NewReader(rc)
	if err != nil {
		return image.NewOpenError(name, err)
	}
	defer r.Close()

	if err := e.loader.Load(r); err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	return nil
}

func imageBytes(img *bload.Image) int64 {
	if img == nil {
		return 0
	}
	n := int64(image.DigestSize)
	for _, d := range img.Directory {
		n += int64(d.Count) * int64(img.Header.Sizes[d.Tag])
	}
	return n
}

// SaveImage writes the constructs of the environment to the blob store as
// name. It is refused while an image is loaded.
func (e *Environment) SaveImage(ctx context.Context, name string) error {
	if e.loader.State() != bload.StateIdle {
		err := &CannotPerformWhileLoadedError{Operation: "save a binary image"}
		e.logger.LogSave(ctx, name, "", 0, err)
		e.metrics.RecordSave(0, 0, err)
		return err
	}

	cs := e.snapshot()
	start := time.Now()
	var res *bsave.Result
	err := blobstore.WriteBlob(ctx, e.opts.store, name, e.resources, func(w io.Writer) error {
		var err error
		res, err = bsave.Save(w, cs, bsave.Options{
			Build:       e.opts.build,
			Functions:   e.functions,
			Compression: e.opts.compression,
		})
		return err
	})
	duration := time.Since(start)

	if err != nil {
		err = fmt.Errorf("save %s: %w", name, err)
		e.logger.LogSave(ctx, name, "", 0, err)
		e.metrics.RecordSave(duration, 0, err)
		return err
	}
	e.logger.LogSave(ctx, name, res.Digest.String(), res.Bytes, nil)
	e.metrics.RecordSave(duration, res.Bytes, nil)
	return nil
}

// Unload discards the active image after every clear-ready hook agreed.
// The environment is left without constructs.
func (e *Environment) Unload() error {
	img := e.loader.Image()
	err := e.loader.Unload()
	if errors.Is(err, bload.ErrNotLoaded) {
		return err
	}
	e.logger.LogUnload(context.Background(), img, err)
	e.metrics.RecordUnload(err)
	return err
}

func (e *Environment) commit(img *bload.Image) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.constructs = img.Constructs()
}

func (e *Environment) discard(*bload.Image) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.constructs = &construct.Set{}
}

func (e *Environment) snapshot() *construct.Set {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &construct.Set{
		Deffunctions: append([]*construct.Deffunction(nil), e.constructs.Deffunctions...),
		Defglobals:   append([]*construct.Defglobal(nil), e.constructs.Defglobals...),
	}
}

// Constructs returns a copy of the construct list of the environment.
func (e *Environment) Constructs() *construct.Set {
	return e.snapshot()
}
