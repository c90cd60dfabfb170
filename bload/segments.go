package bload

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/tildemin3/clips-core/construct"
	"github.com/tildemin3/clips-core/expr"
	"github.com/tildemin3/clips-core/function"
	"github.com/tildemin3/clips-core/image"
	"github.com/tildemin3/clips-core/relocate"
	"github.com/tildemin3/clips-core/symbol"
)

// session holds the state of one load between header and commit.
type session struct {
	l   *Loader
	r   *image.Reader
	img *Image

	// exprArgs and exprNext keep the child ordinals of every expression for
	// the cycle check.
	exprArgs []image.Ordinal
	exprNext []image.Ordinal

	// charged is the memory held against the resource controller for the
	// live arrays of this load.
	charged int64
}

// segmentHeader reads the block header of tag and checks it against the
// directory and the build.
func (s *session) segmentHeader(tag image.Tag) (uint32, error) {
	count, stride, err := relocate.ReadSegmentHeader(s.r, tag)
	if err != nil {
		return 0, err
	}
	if want := s.img.Directory.Count(tag); count != want {
		return 0, image.NewCorruptImageError(tag, fmt.Sprintf("block holds %d elements, directory announced %d", count, want), nil)
	}
	if want := s.l.opts.Build.Sizes[tag]; stride != want {
		return 0, image.NewCorruptImageError(tag, fmt.Sprintf("stride %d, want %d", stride, want), nil)
	}
	return stride, nil
}

// checkDirectory bounds the raw size of every segment and of the image as a
// whole before anything is allocated from the announced counts.
func (s *session) checkDirectory() error {
	opts := s.l.opts.Relocate
	var total int64
	for _, e := range s.img.Directory {
		size, err := relocate.Size(e.Tag, e.Count, s.l.opts.Build.Sizes[e.Tag], opts)
		if err != nil {
			return err
		}
		total += size
	}
	if total > opts.MaxBytes() {
		return image.NewCorruptImageError(0, fmt.Sprintf("directory announces %d bytes, limit is %d", total, opts.MaxBytes()), nil)
	}
	s.img.Referenced = roaring.New()
	return nil
}

// charge accounts n live elements of the given size.
func (s *session) charge(tag image.Tag, n uint32, size uintptr) error {
	bytes := int64(n) * int64(size)
	if err := s.l.opts.Relocate.Resources.AcquireMemory(bytes); err != nil {
		return fmt.Errorf("allocate %s: %w", tag, err)
	}
	s.charged += bytes
	return nil
}

// releaseMemory gives back everything charge took.
func (s *session) releaseMemory() {
	s.l.opts.Relocate.Resources.ReleaseMemory(s.charged)
	s.charged = 0
}

func (s *session) loadSegments() error {
	loaders := []struct {
		tag  image.Tag
		load func(stride uint32) error
	}{
		{image.TagStrings, s.loadStrings},
		{image.TagAtoms, s.loadAtoms},
		{image.TagFunctions, s.loadFunctions},
		{image.TagExpressions, s.loadExpressions},
		{image.TagDeffunctions, s.loadDeffunctions},
		{image.TagDefglobals, s.loadDefglobals},
	}
	for _, seg := range loaders {
		stride, err := s.segmentHeader(seg.tag)
		if err != nil {
			return err
		}
		if err := seg.load(stride); err != nil {
			return err
		}
		s.l.logger.Debug("segment loaded",
			"load_id", s.img.LoadID.String(),
			"segment", seg.tag.String(),
			"count", s.img.Directory.Count(seg.tag),
			"offset", s.r.Offset())
	}
	return s.checkAcyclic()
}

func (s *session) loadStrings(stride uint32) error {
	n := s.img.Directory.Count(image.TagStrings)
	if err := s.charge(image.TagStrings, n, 1); err != nil {
		return err
	}
	s.img.Strings = make([]byte, n)
	return relocate.LoadInto(s.r, image.TagStrings, stride, s.img.Strings, s.l.opts.Relocate,
		func(raw []byte, i int, dst []byte) error {
			dst[i] = raw[0]
			return nil
		})
}

// atom checks o, held by element index of seg, against the atoms segment
// and returns the atom, or nil for the null ordinal.
func (s *session) atom(seg image.Tag, field string, index int, o image.Ordinal) (*symbol.Value, error) {
	ok, err := o.Check(seg, field, index, len(s.img.Atoms))
	if !ok {
		return nil, err
	}
	s.img.Referenced.Add(uint32(o))
	return s.img.Atoms[o], nil
}

// name resolves a construct or function name, which must be a symbol.
func (s *session) name(seg image.Tag, index int, o image.Ordinal) (*symbol.Value, error) {
	v, err := s.atom(seg, "name", index, o)
	if err != nil {
		return nil, err
	}
	if v == nil || v.Kind() != symbol.KindSymbol {
		return nil, image.NewCorruptImageError(seg, fmt.Sprintf("element %d: name is not a symbol", index), nil)
	}
	return v, nil
}

func (s *session) loadAtoms(stride uint32) error {
	n := s.img.Directory.Count(image.TagAtoms)
	if err := s.charge(image.TagAtoms, n, unsafe.Sizeof((*symbol.Value)(nil))); err != nil {
		return err
	}
	s.img.Atoms = make([]*symbol.Value, n)

	syms := s.l.opts.Symbols
	pool := s.img.Strings
	return relocate.LoadInto(s.r, image.TagAtoms, stride, s.img.Atoms, s.l.opts.Relocate,
		func(raw []byte, i int, dst []*symbol.Value) error {
			rec := image.DecodeAtomRecord(raw)
			switch rec.Kind {
			case image.AtomInteger:
				dst[i] = syms.Integer(int64(rec.Payload))
				return nil
			case image.AtomFloat:
				dst[i] = syms.Float(math.Float64frombits(rec.Payload))
				return nil
			}

			kind, ok := lexemeKinds[rec.Kind]
			if !ok {
				return image.NewCorruptImageError(image.TagAtoms, fmt.Sprintf("element %d: unknown kind %d", i, rec.Kind), nil)
			}
			end := rec.Payload + uint64(rec.Length)
			if end < rec.Payload || end > uint64(len(pool)) {
				return image.NewCorruptImageError(image.TagAtoms,
					fmt.Sprintf("element %d: lexeme %d+%d outside string pool of %d bytes", i, rec.Payload, rec.Length, len(pool)), nil)
			}
			v, err := syms.Intern(kind, string(pool[rec.Payload:end]))
			if err != nil {
				return err
			}
			dst[i] = v
			return nil
		})
}

var lexemeKinds = map[image.AtomKind]symbol.Kind{
	image.AtomSymbol:       symbol.KindSymbol,
	image.AtomString:       symbol.KindString,
	image.AtomInstanceName: symbol.KindInstanceName,
}

func (s *session) loadFunctions(stride uint32) error {
	n := s.img.Directory.Count(image.TagFunctions)
	if err := s.charge(image.TagFunctions, n, unsafe.Sizeof(function.ImageFunction{})); err != nil {
		return err
	}
	refs := make([]function.ImageFunction, n)
	err := relocate.LoadInto(s.r, image.TagFunctions, stride, refs, s.l.opts.Relocate,
		func(raw []byte, i int, dst []function.ImageFunction) error {
			rec := image.DecodeFunctionRecord(raw)
			name, err := s.name(image.TagFunctions, i, rec.Name)
			if err != nil {
				return err
			}
			dst[i] = function.ImageFunction{Name: name.Lexeme(), MinArgs: int(rec.MinArgs), MaxArgs: int(rec.MaxArgs)}
			return nil
		})
	if err != nil {
		return err
	}

	var snapshot []*function.Descriptor
	if s.l.opts.Functions != nil {
		snapshot = s.l.opts.Functions.Snapshot()
	}
	s.img.Functions, err = function.BuildTable(snapshot, refs, s.l.opts.Policy)
	return err
}

var literalKinds = map[image.ExprKind]struct {
	expr expr.Kind
	atom symbol.Kind
}{
	image.ExprSymbol:       {expr.KindSymbol, symbol.KindSymbol},
	image.ExprString:       {expr.KindString, symbol.KindString},
	image.ExprInstanceName: {expr.KindInstanceName, symbol.KindInstanceName},
	image.ExprInteger:      {expr.KindInteger, symbol.KindInteger},
	image.ExprFloat:        {expr.KindFloat, symbol.KindFloat},
}

// loadExpressions also allocates the deffunction and defglobal arrays, which
// call and global nodes point into before those segments are read.
func (s *session) loadExpressions(stride uint32) error {
	d := s.img.Directory
	n := d.Count(image.TagExpressions)
	if err := s.charge(image.TagExpressions, n, unsafe.Sizeof(expr.Expression{})+2*unsafe.Sizeof(image.Ordinal(0))); err != nil {
		return err
	}
	if err := s.charge(image.TagDeffunctions, d.Count(image.TagDeffunctions), unsafe.Sizeof(construct.Deffunction{})); err != nil {
		return err
	}
	if err := s.charge(image.TagDefglobals, d.Count(image.TagDefglobals), unsafe.Sizeof(construct.Defglobal{})); err != nil {
		return err
	}
	s.img.Expressions = make([]expr.Expression, n)
	s.exprArgs = make([]image.Ordinal, n)
	s.exprNext = make([]image.Ordinal, n)
	s.img.Deffunctions = make([]construct.Deffunction, d.Count(image.TagDeffunctions))
	s.img.Defglobals = make([]construct.Defglobal, d.Count(image.TagDefglobals))

	return relocate.LoadInto(s.r, image.TagExpressions, stride, s.img.Expressions, s.l.opts.Relocate, s.relocateExpression)
}

func (s *session) relocateExpression(raw []byte, i int, dst []expr.Expression) error {
	rec := image.DecodeExpressionRecord(raw)
	e := &dst[i]

	switch rec.Kind {
	case image.ExprCall:
		d, err := s.img.Functions.Resolve(rec.Value)
		if err != nil {
			return asDangling(err, image.TagExpressions, "function", i)
		}
		e.Kind = expr.KindCall
		e.Function = d
		e.FunctionName = s.img.Functions.Name(rec.Value)
	case image.ExprDeffunctionCall:
		ok, err := rec.Value.Check(image.TagExpressions, "deffunction", i, len(s.img.Deffunctions))
		if err != nil {
			return err
		}
		if !ok {
			return image.NewCorruptImageError(image.TagExpressions, fmt.Sprintf("element %d: call of a null deffunction", i), nil)
		}
		e.Kind = expr.KindDeffunctionCall
		e.Construct = &s.img.Deffunctions[rec.Value]
	case image.ExprGlobal:
		ok, err := rec.Value.Check(image.TagExpressions, "defglobal", i, len(s.img.Defglobals))
		if err != nil {
			return err
		}
		if !ok {
			return image.NewCorruptImageError(image.TagExpressions, fmt.Sprintf("element %d: reference to a null defglobal", i), nil)
		}
		e.Kind = expr.KindGlobal
		e.Construct = &s.img.Defglobals[rec.Value]
	case image.ExprLocal:
		if rec.Value.IsNull() || uint64(rec.Value) > math.MaxInt32 {
			return image.NewCorruptImageError(image.TagExpressions, fmt.Sprintf("element %d: parameter index %d", i, rec.Value), nil)
		}
		e.Kind = expr.KindLocal
		e.Index = int(rec.Value)
	default:
		lit, ok := literalKinds[rec.Kind]
		if !ok {
			return image.NewCorruptImageError(image.TagExpressions, fmt.Sprintf("element %d: unknown kind %d", i, rec.Kind), nil)
		}
		v, err := s.atom(image.TagExpressions, "value", i, rec.Value)
		if err != nil {
			return err
		}
		if v == nil || v.Kind() != lit.atom {
			return image.NewCorruptImageError(image.TagExpressions, fmt.Sprintf("element %d: %s literal without a %s atom", i, lit.expr, lit.atom), nil)
		}
		e.Kind = lit.expr
		e.Atom = v
	}

	var err error
	if e.Args, err = s.child(dst, "args", i, rec.Args); err != nil {
		return err
	}
	if e.Next, err = s.child(dst, "next", i, rec.Next); err != nil {
		return err
	}
	s.exprArgs[i], s.exprNext[i] = rec.Args, rec.Next
	return nil
}

func (s *session) child(dst []expr.Expression, field string, i int, o image.Ordinal) (*expr.Expression, error) {
	ok, err := o.Check(image.TagExpressions, field, i, len(dst))
	if !ok {
		return nil, err
	}
	return &dst[o], nil
}

// asDangling places a function table error at the expression that holds
// the ordinal.
func asDangling(err error, seg image.Tag, field string, index int) error {
	if dre, ok := err.(*image.DanglingReferenceError); ok {
		dre.Segment, dre.Field, dre.Index = seg, field, index
	}
	return err
}

// checkAcyclic rejects images whose Args/Next links form a cycle. Cycles
// are only legal through deffunction calls, which are not followed here.
func (s *session) checkAcyclic() error {
	const (
		white = iota
		grey
		black
	)
	n := len(s.img.Expressions)
	color := make([]uint8, n)

	type item struct {
		node  image.Ordinal
		child int
	}
	for start := 0; start < n; start++ {
		if color[start] != white {
			continue
		}
		stack := []item{{node: image.Ordinal(start)}}
		color[start] = grey
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			next := image.NullOrdinal
			switch top.child {
			case 0:
				next = s.exprArgs[top.node]
			case 1:
				next = s.exprNext[top.node]
			default:
				color[top.node] = black
				stack = stack[:len(stack)-1]
				continue
			}
			top.child++
			if next.IsNull() {
				continue
			}
			switch color[next] {
			case grey:
				return image.NewCorruptImageError(image.TagExpressions, fmt.Sprintf("element %d: cycle through args/next", next), nil)
			case white:
				color[next] = grey
				stack = append(stack, item{node: next})
			}
		}
	}
	return nil
}

func (s *session) loadDeffunctions(stride uint32) error {
	return relocate.LoadInto(s.r, image.TagDeffunctions, stride, s.img.Deffunctions, s.l.opts.Relocate,
		func(raw []byte, i int, dst []construct.Deffunction) error {
			rec := image.DecodeDeffunctionRecord(raw)
			name, err := s.name(image.TagDeffunctions, i, rec.Name)
			if err != nil {
				return err
			}
			if rec.MinArgs < 0 || rec.MaxArgs < function.Unbounded || (rec.MaxArgs != function.Unbounded && rec.MaxArgs < rec.MinArgs) {
				return image.NewCorruptImageError(image.TagDeffunctions, fmt.Sprintf("element %d: arity %d..%d", i, rec.MinArgs, rec.MaxArgs), nil)
			}
			body, err := s.child(s.img.Expressions, "body", i, rec.Body)
			if err != nil {
				return asDangling(err, image.TagDeffunctions, "body", i)
			}
			dst[i].Name = name
			dst[i].MinArgs = int(rec.MinArgs)
			dst[i].MaxArgs = int(rec.MaxArgs)
			dst[i].Body = body
			return nil
		})
}

func (s *session) loadDefglobals(stride uint32) error {
	return relocate.LoadInto(s.r, image.TagDefglobals, stride, s.img.Defglobals, s.l.opts.Relocate,
		func(raw []byte, i int, dst []construct.Defglobal) error {
			rec := image.DecodeDefglobalRecord(raw)
			name, err := s.name(image.TagDefglobals, i, rec.Name)
			if err != nil {
				return err
			}
			initial, err := s.child(s.img.Expressions, "initial", i, rec.Initial)
			if err != nil {
				return asDangling(err, image.TagDefglobals, "initial", i)
			}
			dst[i].Name = name
			dst[i].Initial = initial
			return nil
		})
}
