// Package expr defines the expression graph that encodes function bodies
// and initial values of a knowledge base.
//
// An expression is a node with an optional argument list (Args) and a
// sibling link (Next). Nodes may be shared: two calls that take the same
// argument list point to the same nodes. Because siblings are linked through
// Next, a shared node always shares its tail as well.
package expr

import (
	"strconv"
	"strings"

	"github.com/tildemin3/clips-core/function"
	"github.com/tildemin3/clips-core/symbol"
)

// Kind is the type of an expression node.
type Kind uint8

const (
	KindSymbol Kind = iota + 1
	KindString
	KindInstanceName
	KindInteger
	KindFloat
	KindCall            // call of a registered function
	KindDeffunctionCall // call of a deffunction
	KindGlobal          // reference to a defglobal
	KindLocal           // reference to a deffunction parameter
)

// IsLiteral reports whether nodes of k carry an atom.
func (k Kind) IsLiteral() bool { return k >= KindSymbol && k <= KindFloat }

func (k Kind) String() string {
	switch k {
	case KindSymbol:
		return "symbol"
	case KindString:
		return "string"
	case KindInstanceName:
		return "instance-name"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindCall:
		return "call"
	case KindDeffunctionCall:
		return "deffunction-call"
	case KindGlobal:
		return "global"
	case KindLocal:
		return "local"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Construct is a named construct an expression can refer to.
type Construct interface {
	ConstructName() string
	ConstructKind() string
}

// Expression is one node of the graph.
type Expression struct {
	Kind Kind

	Atom *symbol.Value // literals

	Function     *function.Descriptor // KindCall; nil while deferred
	FunctionName string               // KindCall

	Construct Construct // KindDeffunctionCall, KindGlobal
	Index     int       // KindLocal

	Args *Expression
	Next *Expression
}

// Literal creates a literal node for v.
func Literal(v *symbol.Value) *Expression {
	e := &Expression{Atom: v}
	switch v.Kind() {
	case symbol.KindString:
		e.Kind = KindString
	case symbol.KindInstanceName:
		e.Kind = KindInstanceName
	case symbol.KindInteger:
		e.Kind = KindInteger
	case symbol.KindFloat:
		e.Kind = KindFloat
	default:
		e.Kind = KindSymbol
	}
	return e
}

// Call creates a call of d with args.
func Call(d *function.Descriptor, args ...*Expression) *Expression {
	return &Expression{Kind: KindCall, Function: d, FunctionName: d.Name, Args: Chain(args...)}
}

// CallNamed creates a call of a function that is resolved at first use.
func CallNamed(name string, args ...*Expression) *Expression {
	return &Expression{Kind: KindCall, FunctionName: name, Args: Chain(args...)}
}

// CallConstruct creates a call of a deffunction.
func CallConstruct(c Construct, args ...*Expression) *Expression {
	return &Expression{Kind: KindDeffunctionCall, Construct: c, Args: Chain(args...)}
}

// Global creates a reference to a defglobal.
func Global(c Construct) *Expression {
	return &Expression{Kind: KindGlobal, Construct: c}
}

// Local creates a reference to parameter i of the enclosing deffunction.
func Local(i int) *Expression {
	return &Expression{Kind: KindLocal, Index: i}
}

// Chain links nodes through Next and returns the first one. It panics if a
// node is already linked to a different sibling.
func Chain(nodes ...*Expression) *Expression {
	for i := 0; i+1 < len(nodes); i++ {
		if nodes[i].Next != nil && nodes[i].Next != nodes[i+1] {
			panic("expr: node already linked to another sibling")
		}
		nodes[i].Next = nodes[i+1]
	}
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

// Arguments returns the argument nodes of e.
func (e *Expression) Arguments() []*Expression {
	var out []*Expression
	for a := e.Args; a != nil; a = a.Next {
		out = append(out, a)
	}
	return out
}

// Walk visits every node reachable from e once, following Args and Next.
// Constructs are not entered. Walk stops when fn returns false.
func Walk(e *Expression, fn func(*Expression) bool) {
	seen := make(map[*Expression]struct{})
	stack := []*Expression{e}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		if !fn(n) {
			return
		}
		stack = append(stack, n.Next, n.Args)
	}
}

// String prints the expression and its siblings.
func (e *Expression) String() string {
	var b strings.Builder
	for n := e; n != nil; n = n.Next {
		if n != e {
			b.WriteByte(' ')
		}
		n.format(&b)
	}
	return b.String()
}

func (e *Expression) format(b *strings.Builder) {
	switch e.Kind {
	case KindCall, KindDeffunctionCall:
		b.WriteByte('(')
		if e.Kind == KindCall {
			b.WriteString(e.FunctionName)
		} else {
			b.WriteString(e.Construct.ConstructName())
		}
		if e.Args != nil {
			b.WriteByte(' ')
			b.WriteString(e.Args.String())
		}
		b.WriteByte(')')
	case KindGlobal:
		b.WriteString("?*" + e.Construct.ConstructName() + "*")
	case KindLocal:
		b.WriteString("?" + strconv.Itoa(e.Index))
	default:
		if e.Atom == nil {
			b.WriteString("<nil>")
			return
		}
		b.WriteString(e.Atom.String())
	}
}
