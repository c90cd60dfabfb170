// Package symbol interns the atomic values of a knowledge base.
//
// Every distinct symbol, string, instance name, integer and float exists
// once per Table, so atoms compare by pointer. Values are reference counted:
// Intern and the typed helpers return a retained value, Release gives the
// reference back, and a value whose count drops to zero leaves the table.
package symbol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// Kind is the type of an interned value.
type Kind uint8

const (
	KindSymbol Kind = iota + 1
	KindString
	KindInstanceName
	KindInteger
	KindFloat
)

func (k Kind) String() string {
	switch k {
	case KindSymbol:
		return "SYMBOL"
	case KindString:
		return "STRING"
	case KindInstanceName:
		return "INSTANCE-NAME"
	case KindInteger:
		return "INTEGER"
	case KindFloat:
		return "FLOAT"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// IsLexeme reports whether values of k carry a lexeme.
func (k Kind) IsLexeme() bool {
	return k == KindSymbol || k == KindString || k == KindInstanceName
}

// Value is an interned atom. Values are only created by a Table.
type Value struct {
	kind    Kind
	lexeme  string
	integer int64
	float   float64
	refs    int64
}

func (v *Value) Kind() Kind     { return v.kind }
func (v *Value) Lexeme() string { return v.lexeme }
func (v *Value) Integer() int64 { return v.integer }
func (v *Value) Float() float64 { return v.float }

// String returns the printed form of the value.
func (v *Value) String() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.lexeme)
	case KindInstanceName:
		return "[" + v.lexeme + "]"
	case KindInteger:
		return strconv.FormatInt(v.integer, 10)
	case KindFloat:
		s := strconv.FormatFloat(v.float, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEnN") {
			s += ".0"
		}
		return s
	default:
		return v.lexeme
	}
}

type lexKey struct {
	kind   Kind
	lexeme string
}

// Table interns values. It is safe for concurrent use.
type Table struct {
	mu       sync.Mutex
	lexemes  map[lexKey]*Value
	integers map[int64]*Value
	floats   map[uint64]*Value
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		lexemes:  make(map[lexKey]*Value),
		integers: make(map[int64]*Value),
		floats:   make(map[uint64]*Value),
	}
}

// Intern returns the retained value for a lexeme of kind k.
func (t *Table) Intern(k Kind, lexeme string) (*Value, error) {
	if !k.IsLexeme() {
		return nil, fmt.Errorf("symbol: %s is not a lexeme kind", k)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := lexKey{kind: k, lexeme: lexeme}
	v, ok := t.lexemes[key]
	if !ok {
		v = &Value{kind: k, lexeme: lexeme}
		t.lexemes[key] = v
	}
	v.refs++
	return v, nil
}

// Symbol interns a symbol.
func (t *Table) Symbol(s string) *Value {
	v, _ := t.Intern(KindSymbol, s)
	return v
}

// StringValue interns a string.
func (t *Table) StringValue(s string) *Value {
	v, _ := t.Intern(KindString, s)
	return v
}

// InstanceName interns an instance name.
func (t *Table) InstanceName(s string) *Value {
	v, _ := t.Intern(KindInstanceName, s)
	return v
}

// Integer interns an integer.
func (t *Table) Integer(i int64) *Value {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.integers[i]
	if !ok {
		v = &Value{kind: KindInteger, integer: i}
		t.integers[i] = v
	}
	v.refs++
	return v
}

// Float interns a float. Floats are keyed by their bit pattern, so -0.0 and
// 0.0 are distinct and every NaN payload is its own value.
func (t *Table) Float(f float64) *Value {
	t.mu.Lock()
	defer t.mu.Unlock()

	bits := math.Float64bits(f)
	v, ok := t.floats[bits]
	if !ok {
		v = &Value{kind: KindFloat, float: f}
		t.floats[bits] = v
	}
	v.refs++
	return v
}

// Find looks up a lexeme without retaining it.
func (t *Table) Find(k Kind, lexeme string) (*Value, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.lexemes[lexKey{kind: k, lexeme: lexeme}]
	return v, ok
}

// Retain adds a reference to v.
func (t *Table) Retain(v *Value) {
	if v == nil {
		return
	}
	t.mu.Lock()
	v.refs++
	t.mu.Unlock()
}

// Release drops a reference to v, removing it from the table when no
// references remain.
func (t *Table) Release(v *Value) {
	if v == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if v.refs <= 0 {
		return
	}
	v.refs--
	if v.refs > 0 {
		return
	}
	switch v.kind {
	case KindInteger:
		if t.integers[v.integer] == v {
			delete(t.integers, v.integer)
		}
	case KindFloat:
		bits := math.Float64bits(v.float)
		if t.floats[bits] == v {
			delete(t.floats, bits)
		}
	default:
		key := lexKey{kind: v.kind, lexeme: v.lexeme}
		if t.lexemes[key] == v {
			delete(t.lexemes, key)
		}
	}
}

// Refs returns the current reference count of v.
func (t *Table) Refs(v *Value) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return v.refs
}

// Len returns the number of interned values.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lexemes) + len(t.integers) + len(t.floats)
}
