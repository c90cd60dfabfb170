package bload

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"

	"github.com/tildemin3/clips-core/construct"
	"github.com/tildemin3/clips-core/expr"
	"github.com/tildemin3/clips-core/function"
	"github.com/tildemin3/clips-core/image"
	"github.com/tildemin3/clips-core/symbol"
)

// Image is the reconstructed graph of one loaded image. Every ordinal of the
// stream has been replaced by a pointer into these arrays, so nodes that
// were shared when saved are shared again.
type Image struct {
	LoadID    uuid.UUID
	Header    image.Header
	Directory image.Directory
	Digest    image.Digest

	Strings      []byte
	Atoms        []*symbol.Value
	Functions    *function.Table
	Expressions  []expr.Expression
	Deffunctions []construct.Deffunction
	Defglobals   []construct.Defglobal

	// Referenced holds the ordinals of atoms that functions, expressions or
	// constructs point to.
	Referenced *roaring.Bitmap
}

// Constructs returns the constructs of the image as a construct.Set whose
// elements point into the image arrays.
func (img *Image) Constructs() *construct.Set {
	cs := &construct.Set{
		Deffunctions: make([]*construct.Deffunction, len(img.Deffunctions)),
		Defglobals:   make([]*construct.Defglobal, len(img.Defglobals)),
	}
	for i := range img.Deffunctions {
		cs.Deffunctions[i] = &img.Deffunctions[i]
	}
	for i := range img.Defglobals {
		cs.Defglobals[i] = &img.Defglobals[i]
	}
	return cs
}

// Expression returns the node with ordinal o, or nil.
func (img *Image) Expression(o image.Ordinal) *expr.Expression {
	if o.IsNull() || int(o) >= len(img.Expressions) {
		return nil
	}
	return &img.Expressions[o]
}

// Unreferenced returns the ordinals of atoms nothing in the image points to.
func (img *Image) Unreferenced() *roaring.Bitmap {
	all := roaring.New()
	all.AddRange(0, uint64(len(img.Atoms)))
	all.AndNot(img.Referenced)
	return all
}

// release gives back every atom reference the load took.
func (img *Image) release(t *symbol.Table) {
	for i, v := range img.Atoms {
		if v != nil {
			t.Release(v)
			img.Atoms[i] = nil
		}
	}
}
