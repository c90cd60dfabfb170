package function

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/gobwas/glob"

	"github.com/tildemin3/clips-core/image"
)

// ImageFunction is a function reference as recorded in a binary image: the
// name and arity the function had in the saving environment.
type ImageFunction struct {
	Name    string
	MinArgs int
	MaxArgs int
}

// ResolvePolicy controls how references to functions that the loading
// environment does not provide are treated.
type ResolvePolicy struct {
	// Defer lists glob patterns. An unresolved function whose name matches
	// one of them is deferred to first use instead of failing the load.
	Defer []string
}

func (p ResolvePolicy) compile() ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(p.Defer))
	for _, pattern := range p.Defer {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid deferred function pattern %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// UnresolvedError reports an image function reference that no registration
// of the loading environment satisfies.
type UnresolvedError struct {
	Ordinal image.Ordinal
	Want    ImageFunction
	Have    *Descriptor // registration with the same name, if any
}

func (e *UnresolvedError) Error() string {
	if e.Have == nil {
		return fmt.Sprintf("function %s (ordinal %d) is not registered", e.Want.Name, e.Ordinal)
	}
	want := Descriptor{MinArgs: e.Want.MinArgs, MaxArgs: e.Want.MaxArgs}
	return fmt.Sprintf("function %s (ordinal %d) expects %s arguments in the image, %s registered",
		e.Want.Name, e.Ordinal, want.Arity(), e.Have.Arity())
}

func (e *UnresolvedError) Is(target error) bool { return target == image.ErrDanglingReference }

// Table maps the function ordinals of one image onto the descriptors of the
// loading environment. It is built once per load and never mutated.
type Table struct {
	refs       []ImageFunction
	entries    []*Descriptor
	unresolved *roaring.Bitmap
}

// BuildTable resolves every reference of an image against snapshot, the
// current registrations in enumeration order. A reference resolves when a
// registration with the same name and the same arity exists.
func BuildTable(snapshot []*Descriptor, refs []ImageFunction, policy ResolvePolicy) (*Table, error) {
	globs, err := policy.compile()
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*Descriptor, len(snapshot))
	for _, d := range snapshot {
		if _, ok := byName[d.Name]; !ok {
			byName[d.Name] = d
		}
	}

	t := &Table{
		refs:       refs,
		entries:    make([]*Descriptor, len(refs)),
		unresolved: roaring.New(),
	}
	for i, ref := range refs {
		d, ok := byName[ref.Name]
		if ok && d.MinArgs == ref.MinArgs && d.MaxArgs == ref.MaxArgs {
			t.entries[i] = d
			continue
		}
		if deferred(globs, ref.Name) {
			t.unresolved.Add(uint32(i))
			continue
		}
		return nil, &UnresolvedError{Ordinal: image.Ordinal(i), Want: ref, Have: d}
	}
	return t, nil
}

func deferred(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Len returns the number of function references in the image.
func (t *Table) Len() int { return len(t.entries) }

// Resolve returns the descriptor for o. The null ordinal and deferred
// references resolve to nil without error.
func (t *Table) Resolve(o image.Ordinal) (*Descriptor, error) {
	ok, err := o.Check(image.TagFunctions, "", -1, len(t.entries))
	if !ok {
		return nil, err
	}
	return t.entries[o], nil
}

// Name returns the image name of o, also for deferred references.
func (t *Table) Name(o image.Ordinal) string {
	if o.IsNull() || int(o) >= len(t.refs) {
		return ""
	}
	return t.refs[o].Name
}

// Ref returns the reference recorded for o.
func (t *Table) Ref(o image.Ordinal) ImageFunction {
	if o.IsNull() || int(o) >= len(t.refs) {
		return ImageFunction{}
	}
	return t.refs[o]
}

// Deferred reports whether o was deferred by the resolve policy.
func (t *Table) Deferred(o image.Ordinal) bool {
	return !o.IsNull() && t.unresolved.Contains(uint32(o))
}

// Unresolved returns the deferred ordinals.
func (t *Table) Unresolved() *roaring.Bitmap {
	return t.unresolved.Clone()
}
