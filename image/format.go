package image

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	// PrefixID identifies binary image files.
	PrefixID = "\x01\x02\x03\x04CLIPS"

	// VersionID is the format version written by this build.
	VersionID = "V6.40"

	// VersionSize is the fixed on-disk width of the version field.
	VersionSize = 8

	// DigestSize is the size of the BLAKE3 trailer.
	DigestSize = 32
)

// Tag identifies a segment (and its record type) within an image.
type Tag uint16

const (
	TagStrings Tag = iota + 1
	TagAtoms
	TagFunctions
	TagExpressions
	TagDeffunctions
	TagDefglobals
)

func (t Tag) String() string {
	switch t {
	case TagStrings:
		return "strings"
	case TagAtoms:
		return "atoms"
	case TagFunctions:
		return "functions"
	case TagExpressions:
		return "expressions"
	case TagDeffunctions:
		return "deffunctions"
	case TagDefglobals:
		return "defglobals"
	default:
		return fmt.Sprintf("tag(%d)", uint16(t))
	}
}

// LoadOrder is the fixed dependency order in which segments appear in an
// image: lexemes before atoms, atoms before functions, everything before the
// expressions that reference them, and constructs last.
var LoadOrder = []Tag{
	TagStrings,
	TagAtoms,
	TagFunctions,
	TagExpressions,
	TagDeffunctions,
	TagDefglobals,
}

// Ordinal stands in for a reference in the serialized stream.
type Ordinal uint32

// NullOrdinal is the sentinel for an absent reference.
const NullOrdinal Ordinal = math.MaxUint32

// IsNull reports whether o is the null sentinel.
func (o Ordinal) IsNull() bool { return o == NullOrdinal }

// Check validates o against a target segment of limit elements. The null
// sentinel is accepted and reported as ok=false.
func (o Ordinal) Check(seg Tag, field string, index, limit int) (ok bool, err error) {
	if o.IsNull() {
		return false, nil
	}
	if uint64(o) >= uint64(limit) {
		return false, &DanglingReferenceError{Segment: seg, Field: field, Index: index, Ordinal: o, Limit: limit}
	}
	return true, nil
}

// AtomKind is the wire encoding of an atom's type.
type AtomKind uint8

const (
	AtomSymbol AtomKind = iota + 1
	AtomString
	AtomInstanceName
	AtomInteger
	AtomFloat
)

// ExprKind is the wire encoding of an expression node's type.
type ExprKind uint16

const (
	ExprSymbol ExprKind = iota + 1
	ExprString
	ExprInstanceName
	ExprInteger
	ExprFloat
	ExprCall
	ExprDeffunctionCall
	ExprGlobal
	ExprLocal
)

// AtomRecord is the on-disk layout of one interned value. Lexeme kinds store
// the offset into the strings segment in Payload; numeric kinds store their
// bits.
type AtomRecord struct {
	Kind    AtomKind
	Pad     [3]byte
	Length  uint32
	Payload uint64
}

// FunctionRecord references a function by name and the arity it had when
// the image was written.
type FunctionRecord struct {
	Name    Ordinal
	MinArgs int16
	MaxArgs int16
}

// ExpressionRecord is one node of an expression tree.
type ExpressionRecord struct {
	Kind  ExprKind
	Pad   uint16
	Value Ordinal
	Args  Ordinal
	Next  Ordinal
}

// DeffunctionRecord is one serialized deffunction.
type DeffunctionRecord struct {
	Name    Ordinal
	MinArgs int16
	MaxArgs int16
	Body    Ordinal
}

// DefglobalRecord is one serialized defglobal.
type DefglobalRecord struct {
	Name    Ordinal
	Initial Ordinal
}

// SizeTable maps every segment tag to its record size.
type SizeTable map[Tag]uint32

// CurrentSizes returns the record sizes of this build.
func CurrentSizes() SizeTable {
	return SizeTable{
		TagStrings:      1,
		TagAtoms:        uint32(binary.Size(AtomRecord{})),
		TagFunctions:    uint32(binary.Size(FunctionRecord{})),
		TagExpressions:  uint32(binary.Size(ExpressionRecord{})),
		TagDeffunctions: uint32(binary.Size(DeffunctionRecord{})),
		TagDefglobals:   uint32(binary.Size(DefglobalRecord{})),
	}
}

// Tags returns the tags of st in ascending order.
func (st SizeTable) Tags() []Tag {
	tags := make([]Tag, 0, len(st))
	for t := range st {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

func (st SizeTable) String() string {
	var b strings.Builder
	for i, t := range st.Tags() {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%d", t, st[t])
	}
	return b.String()
}

// Verify checks that every tag of want is present in st with the same size.
// Tags in st that want does not know are ignored.
func (st SizeTable) Verify(want SizeTable) error {
	for _, t := range want.Tags() {
		got, ok := st[t]
		if !ok || got != want[t] {
			return &IncompatibleImageError{
				Reason:   ReasonSizeTable,
				Expected: fmt.Sprintf("%s=%d", t, want[t]),
				Actual:   fmt.Sprintf("%s=%d", t, got),
			}
		}
	}
	return nil
}

// Build describes the constants an image must match to be loadable.
type Build struct {
	Prefix  string
	Version string
	Sizes   SizeTable
}

// CurrentBuild returns the constants of the running build.
func CurrentBuild() Build {
	return Build{Prefix: PrefixID, Version: VersionID, Sizes: CurrentSizes()}
}

// Header is the validated prologue of an image.
type Header struct {
	Prefix  string
	Version string
	Sizes   SizeTable
}

// DirectoryEntry announces the element count of one segment.
type DirectoryEntry struct {
	Tag   Tag
	Count uint32
}

// Directory lists the segments of an image in load order.
type Directory []DirectoryEntry

// Count returns the element count announced for tag, or 0.
func (d Directory) Count(tag Tag) uint32 {
	for _, e := range d {
		if e.Tag == tag {
			return e.Count
		}
	}
	return 0
}
