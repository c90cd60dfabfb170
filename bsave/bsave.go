// Package bsave flattens the constructs of an environment into a binary
// image.
//
// Saving walks every deffunction body and defglobal initial value, assigns
// each distinct node an ordinal in discovery order and rewrites every
// reference as the ordinal of its target. Shared nodes are written once, so
// a load restores the sharing.
package bsave

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/tildemin3/clips-core/construct"
	"github.com/tildemin3/clips-core/expr"
	"github.com/tildemin3/clips-core/function"
	"github.com/tildemin3/clips-core/image"
	"github.com/tildemin3/clips-core/internal/envelope"
)

// ErrUnsupported is returned for graphs that have no image encoding.
var ErrUnsupported = errors.New("bsave: unsupported expression")

// Options configures Save.
type Options struct {
	// Build is written into the header. Zero means image.CurrentBuild().
	Build image.Build

	// Functions supplies the arity of calls whose descriptor is not bound.
	// May be nil.
	Functions *function.Registry

	// Compression wraps the image in a compression frame.
	Compression envelope.Compression
}

// Result describes a written image.
type Result struct {
	Digest    image.Digest
	Directory image.Directory
	Bytes     int64 // image size before compression
}

// Save writes the constructs of cs to w. cs may be nil.
func Save(w io.Writer, cs *construct.Set, opts Options) (*Result, error) {
	f, err := flatten(cs, opts.Functions)
	if err != nil {
		return nil, err
	}

	build := opts.Build
	if build.Prefix == "" {
		build = image.CurrentBuild()
	}

	ew, err := envelope.NewWriter(w, opts.Compression)
	if err != nil {
		return nil, err
	}

	iw := image.NewWriter(ew)
	if err := iw.WriteHeader(image.Header{Prefix: build.Prefix, Version: build.Version, Sizes: build.Sizes}); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	dir := f.directory()
	if err := iw.WriteDirectory(dir); err != nil {
		return nil, fmt.Errorf("write directory: %w", err)
	}
	for _, b := range f.blocks() {
		if err := iw.WriteBlock(b.count, b.stride, b.raw); err != nil {
			return nil, fmt.Errorf("write %s: %w", b.tag, err)
		}
	}
	digest, err := iw.Close()
	if err != nil {
		return nil, fmt.Errorf("write trailer: %w", err)
	}
	if err := ew.Close(); err != nil {
		return nil, fmt.Errorf("close %s frame: %w", opts.Compression, err)
	}

	return &Result{Digest: digest, Directory: dir, Bytes: iw.Written()}, nil
}

type block struct {
	tag    image.Tag
	count  uint32
	stride uint32
	raw    []byte
}

type atomKey struct {
	kind   image.AtomKind
	lexeme string
	bits   uint64
}

// flattened holds the ordinal-indexed records of one image.
type flattened struct {
	strings  []byte
	lexemes  map[string]uint32
	atoms    []image.AtomRecord
	atomOrd  map[atomKey]image.Ordinal
	funcs    []image.FunctionRecord
	funcOrd  map[string]image.Ordinal
	exprs    []image.ExpressionRecord
	exprOrd  map[*expr.Expression]image.Ordinal
	defs     []image.DeffunctionRecord
	defOrd   map[*construct.Deffunction]image.Ordinal
	globals  []image.DefglobalRecord
	globOrd  map[*construct.Defglobal]image.Ordinal
	registry *function.Registry
}

func flatten(cs *construct.Set, reg *function.Registry) (*flattened, error) {
	f := &flattened{
		lexemes:  make(map[string]uint32),
		atomOrd:  make(map[atomKey]image.Ordinal),
		funcOrd:  make(map[string]image.Ordinal),
		exprOrd:  make(map[*expr.Expression]image.Ordinal),
		defOrd:   make(map[*construct.Deffunction]image.Ordinal),
		globOrd:  make(map[*construct.Defglobal]image.Ordinal),
		registry: reg,
	}
	if cs == nil {
		return f, nil
	}

	// Constructs get their ordinals first so that expressions can refer to
	// any of them, including recursively.
	for i, d := range cs.Deffunctions {
		f.defOrd[d] = image.Ordinal(i)
	}
	for i, g := range cs.Defglobals {
		f.globOrd[g] = image.Ordinal(i)
	}

	f.defs = make([]image.DeffunctionRecord, len(cs.Deffunctions))
	for i, d := range cs.Deffunctions {
		name, err := f.atom(d.Name)
		if err != nil {
			return nil, fmt.Errorf("deffunction %d: %w", i, err)
		}
		body, err := f.expression(d.Body)
		if err != nil {
			return nil, fmt.Errorf("deffunction %s: %w", d.ConstructName(), err)
		}
		minArgs, maxArgs, err := arity(d.MinArgs, d.MaxArgs)
		if err != nil {
			return nil, fmt.Errorf("deffunction %s: %w", d.ConstructName(), err)
		}
		f.defs[i] = image.DeffunctionRecord{Name: name, MinArgs: minArgs, MaxArgs: maxArgs, Body: body}
	}

	f.globals = make([]image.DefglobalRecord, len(cs.Defglobals))
	for i, g := range cs.Defglobals {
		name, err := f.atom(g.Name)
		if err != nil {
			return nil, fmt.Errorf("defglobal %d: %w", i, err)
		}
		initial, err := f.expression(g.Initial)
		if err != nil {
			return nil, fmt.Errorf("defglobal %s: %w", g.ConstructName(), err)
		}
		f.globals[i] = image.DefglobalRecord{Name: name, Initial: initial}
	}
	return f, nil
}

func arity(minArgs, maxArgs int) (int16, int16, error) {
	if minArgs < 0 || minArgs > math.MaxInt16 || maxArgs < function.Unbounded || maxArgs > math.MaxInt16 {
		return 0, 0, fmt.Errorf("arity %d..%d out of range", minArgs, maxArgs)
	}
	return int16(minArgs), int16(maxArgs), nil
}
