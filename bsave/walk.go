package bsave

import (
	"fmt"
	"math"

	"github.com/tildemin3/clips-core/construct"
	"github.com/tildemin3/clips-core/expr"
	"github.com/tildemin3/clips-core/function"
	"github.com/tildemin3/clips-core/image"
	"github.com/tildemin3/clips-core/symbol"
)

var atomKinds = map[symbol.Kind]image.AtomKind{
	symbol.KindSymbol:       image.AtomSymbol,
	symbol.KindString:       image.AtomString,
	symbol.KindInstanceName: image.AtomInstanceName,
	symbol.KindInteger:      image.AtomInteger,
	symbol.KindFloat:        image.AtomFloat,
}

var exprKinds = map[expr.Kind]image.ExprKind{
	expr.KindSymbol:          image.ExprSymbol,
	expr.KindString:          image.ExprString,
	expr.KindInstanceName:    image.ExprInstanceName,
	expr.KindInteger:         image.ExprInteger,
	expr.KindFloat:           image.ExprFloat,
	expr.KindCall:            image.ExprCall,
	expr.KindDeffunctionCall: image.ExprDeffunctionCall,
	expr.KindGlobal:          image.ExprGlobal,
	expr.KindLocal:           image.ExprLocal,
}

// literalKinds pairs each literal expression kind with the atom kind it
// must carry.
var literalKinds = map[expr.Kind]symbol.Kind{
	expr.KindSymbol:       symbol.KindSymbol,
	expr.KindString:       symbol.KindString,
	expr.KindInstanceName: symbol.KindInstanceName,
	expr.KindInteger:      symbol.KindInteger,
	expr.KindFloat:        symbol.KindFloat,
}

func (f *flattened) atom(v *symbol.Value) (image.Ordinal, error) {
	if v == nil {
		return image.NullOrdinal, fmt.Errorf("%w: missing atom", ErrUnsupported)
	}
	k := atomKey{kind: atomKinds[v.Kind()]}
	switch v.Kind() {
	case symbol.KindInteger:
		k.bits = uint64(v.Integer())
	case symbol.KindFloat:
		k.bits = math.Float64bits(v.Float())
	default:
		k.lexeme = v.Lexeme()
	}
	return f.atomFor(k)
}

func (f *flattened) atomFor(k atomKey) (image.Ordinal, error) {
	if o, ok := f.atomOrd[k]; ok {
		return o, nil
	}
	rec := image.AtomRecord{Kind: k.kind, Payload: k.bits}
	if k.kind != image.AtomInteger && k.kind != image.AtomFloat {
		if uint64(len(k.lexeme)) > math.MaxUint32 {
			return image.NullOrdinal, fmt.Errorf("%w: lexeme of %d bytes", ErrUnsupported, len(k.lexeme))
		}
		rec.Payload = uint64(f.lexeme(k.lexeme))
		rec.Length = uint32(len(k.lexeme))
	}
	o := image.Ordinal(len(f.atoms))
	f.atoms = append(f.atoms, rec)
	f.atomOrd[k] = o
	return o, nil
}

// lexeme returns the pool offset of s, appending it on first use.
func (f *flattened) lexeme(s string) uint32 {
	if off, ok := f.lexemes[s]; ok {
		return off
	}
	off := uint32(len(f.strings))
	f.strings = append(f.strings, s...)
	f.lexemes[s] = off
	return off
}

func (f *flattened) function(e *expr.Expression) (image.Ordinal, error) {
	name := e.FunctionName
	if e.Function != nil {
		name = e.Function.Name
	}
	if name == "" {
		return image.NullOrdinal, nil
	}
	if o, ok := f.funcOrd[name]; ok {
		return o, nil
	}

	d := e.Function
	if d == nil && f.registry != nil {
		d, _ = f.registry.Lookup(name)
	}
	minArgs, maxArgs := 0, function.Unbounded
	if d != nil {
		minArgs, maxArgs = d.MinArgs, d.MaxArgs
	}
	lo, hi, err := arity(minArgs, maxArgs)
	if err != nil {
		return image.NullOrdinal, fmt.Errorf("function %s: %w", name, err)
	}

	nameOrd, err := f.atomFor(atomKey{kind: image.AtomSymbol, lexeme: name})
	if err != nil {
		return image.NullOrdinal, err
	}
	o := image.Ordinal(len(f.funcs))
	f.funcs = append(f.funcs, image.FunctionRecord{Name: nameOrd, MinArgs: lo, MaxArgs: hi})
	f.funcOrd[name] = o
	return o, nil
}

// expression assigns ordinals to every node reachable from root and returns
// the ordinal of root. Nodes are numbered in discovery order.
func (f *flattened) expression(root *expr.Expression) (image.Ordinal, error) {
	var stack []*expr.Expression
	ord := func(e *expr.Expression) image.Ordinal {
		if e == nil {
			return image.NullOrdinal
		}
		if o, ok := f.exprOrd[e]; ok {
			return o
		}
		o := image.Ordinal(len(f.exprs))
		f.exprs = append(f.exprs, image.ExpressionRecord{})
		f.exprOrd[e] = o
		stack = append(stack, e)
		return o
	}

	rootOrd := ord(root)
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		rec, err := f.node(e)
		if err != nil {
			return image.NullOrdinal, err
		}
		rec.Args = ord(e.Args)
		rec.Next = ord(e.Next)
		f.exprs[f.exprOrd[e]] = rec
	}
	return rootOrd, nil
}

func (f *flattened) node(e *expr.Expression) (image.ExpressionRecord, error) {
	kind, ok := exprKinds[e.Kind]
	if !ok {
		return image.ExpressionRecord{}, fmt.Errorf("%w: kind %s", ErrUnsupported, e.Kind)
	}
	rec := image.ExpressionRecord{Kind: kind}

	var err error
	switch e.Kind {
	case expr.KindCall:
		rec.Value, err = f.function(e)
	case expr.KindDeffunctionCall:
		d, ok := e.Construct.(*construct.Deffunction)
		if !ok {
			return rec, fmt.Errorf("%w: call of %T", ErrUnsupported, e.Construct)
		}
		if rec.Value, ok = f.defOrd[d]; !ok {
			return rec, fmt.Errorf("%w: deffunction %s is not part of the saved constructs", ErrUnsupported, d.ConstructName())
		}
	case expr.KindGlobal:
		g, ok := e.Construct.(*construct.Defglobal)
		if !ok {
			return rec, fmt.Errorf("%w: reference to %T", ErrUnsupported, e.Construct)
		}
		if rec.Value, ok = f.globOrd[g]; !ok {
			return rec, fmt.Errorf("%w: defglobal %s is not part of the saved constructs", ErrUnsupported, g.ConstructName())
		}
	case expr.KindLocal:
		if e.Index < 0 || uint64(e.Index) >= uint64(image.NullOrdinal) {
			return rec, fmt.Errorf("%w: parameter index %d", ErrUnsupported, e.Index)
		}
		rec.Value = image.Ordinal(e.Index)
	default:
		if e.Atom == nil || e.Atom.Kind() != literalKinds[e.Kind] {
			return rec, fmt.Errorf("%w: %s literal without a matching atom", ErrUnsupported, e.Kind)
		}
		rec.Value, err = f.atom(e.Atom)
	}
	return rec, err
}

func (f *flattened) directory() image.Directory {
	return image.Directory{
		{Tag: image.TagStrings, Count: uint32(len(f.strings))},
		{Tag: image.TagAtoms, Count: uint32(len(f.atoms))},
		{Tag: image.TagFunctions, Count: uint32(len(f.funcs))},
		{Tag: image.TagExpressions, Count: uint32(len(f.exprs))},
		{Tag: image.TagDeffunctions, Count: uint32(len(f.defs))},
		{Tag: image.TagDefglobals, Count: uint32(len(f.globals))},
	}
}

type appender interface {
	Append(dst []byte) []byte
}

func encode[T appender](tag image.Tag, records []T) block {
	stride := image.CurrentSizes()[tag]
	raw := make([]byte, 0, len(records)*int(stride))
	for _, r := range records {
		raw = r.Append(raw)
	}
	return block{tag: tag, count: uint32(len(records)), stride: stride, raw: raw}
}

func (f *flattened) blocks() []block {
	return []block{
		{tag: image.TagStrings, count: uint32(len(f.strings)), stride: 1, raw: f.strings},
		encode(image.TagAtoms, f.atoms),
		encode(image.TagFunctions, f.funcs),
		encode(image.TagExpressions, f.exprs),
		encode(image.TagDeffunctions, f.defs),
		encode(image.TagDefglobals, f.globals),
	}
}
