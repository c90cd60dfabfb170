package bload

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tildemin3/clips-core/bsave"
	"github.com/tildemin3/clips-core/construct"
	"github.com/tildemin3/clips-core/expr"
	"github.com/tildemin3/clips-core/function"
	"github.com/tildemin3/clips-core/image"
	"github.com/tildemin3/clips-core/internal/resource"
	"github.com/tildemin3/clips-core/relocate"
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

func save(t *testing.T, cs *construct.Set, opts bsave.Options) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := bsave.Save(&buf, cs, opts)
	require.NoError(t, err)
	return buf.Bytes()
}

// crafted assembles an image record by record, for images bsave would never
// write.
type crafted struct {
	strings []byte
	atoms   []image.AtomRecord
	funcs   []image.FunctionRecord
	exprs   []image.ExpressionRecord
	defs    []image.DeffunctionRecord
	globals []image.DefglobalRecord
}

func (c *crafted) symbol(s string) image.Ordinal {
	off := len(c.strings)
	c.strings = append(c.strings, s...)
	c.atoms = append(c.atoms, image.AtomRecord{Kind: image.AtomSymbol, Length: uint32(len(s)), Payload: uint64(off)})
	return image.Ordinal(len(c.atoms) - 1)
}

func (c *crafted) integer(i int64) image.Ordinal {
	c.atoms = append(c.atoms, image.AtomRecord{Kind: image.AtomInteger, Payload: uint64(i)})
	return image.Ordinal(len(c.atoms) - 1)
}

func appendAll[T interface{ Append([]byte) []byte }](records []T) []byte {
	var raw []byte
	for _, r := range records {
		raw = r.Append(raw)
	}
	return raw
}

func (c *crafted) bytes(t *testing.T) []byte {
	t.Helper()
	sizes := image.CurrentSizes()
	var buf bytes.Buffer
	w := image.NewWriter(&buf)
	require.NoError(t, w.WriteHeader(image.Header{Prefix: image.PrefixID, Version: image.VersionID, Sizes: sizes}))
	require.NoError(t, w.WriteDirectory(image.Directory{
		{Tag: image.TagStrings, Count: uint32(len(c.strings))},
		{Tag: image.TagAtoms, Count: uint32(len(c.atoms))},
		{Tag: image.TagFunctions, Count: uint32(len(c.funcs))},
		{Tag: image.TagExpressions, Count: uint32(len(c.exprs))},
		{Tag: image.TagDeffunctions, Count: uint32(len(c.defs))},
		{Tag: image.TagDefglobals, Count: uint32(len(c.globals))},
	}))
	require.NoError(t, w.WriteBlock(uint32(len(c.strings)), 1, c.strings))
	require.NoError(t, w.WriteBlock(uint32(len(c.atoms)), sizes[image.TagAtoms], appendAll(c.atoms)))
	require.NoError(t, w.WriteBlock(uint32(len(c.funcs)), sizes[image.TagFunctions], appendAll(c.funcs)))
	require.NoError(t, w.WriteBlock(uint32(len(c.exprs)), sizes[image.TagExpressions], appendAll(c.exprs)))
	require.NoError(t, w.WriteBlock(uint32(len(c.defs)), sizes[image.TagDeffunctions], appendAll(c.defs)))
	require.NoError(t, w.WriteBlock(uint32(len(c.globals)), sizes[image.TagDefglobals], appendAll(c.globals)))
	_, err := w.Close()
	require.NoError(t, err)
	return buf.Bytes()
}

// countingReader fails the test if anything reads from it.
type countingReader struct {
	reads int
}

func (r *countingReader) Read([]byte) (int, error) {
	r.reads++
	return 0, io.EOF
}

func relocateOptions(rc *resource.Controller) relocate.Options {
	opts := relocate.DefaultOptions()
	opts.Resources = rc
	return opts
}

// sampleImage holds (defglobal ?*x* = "y").
func sampleImage(t *testing.T) []byte {
	t.Helper()
	src := symbol.NewTable()
	return save(t, &construct.Set{Defglobals: []*construct.Defglobal{
		{Name: src.Symbol("x"), Initial: expr.Literal(src.StringValue("y"))},
	}}, bsave.Options{})
}
