package expr

// Equivalent reports whether a and b are observationally the same graph:
// same shape, same atoms by kind and printed form, same function and
// construct names, and the same sharing. A node shared within a must be
// shared at the same places within b and vice versa.
func Equivalent(a, b *Expression) bool {
	m := matcher{ab: make(map[*Expression]*Expression), ba: make(map[*Expression]*Expression)}
	return m.match(a, b)
}

type matcher struct {
	ab map[*Expression]*Expression
	ba map[*Expression]*Expression
}

func (m *matcher) match(a, b *Expression) bool {
	for a != nil && b != nil {
		if pb, ok := m.ab[a]; ok {
			return pb == b && m.ba[b] == a
		}
		if _, ok := m.ba[b]; ok {
			return false
		}
		m.ab[a] = b
		m.ba[b] = a

		if !sameNode(a, b) || !m.match(a.Args, b.Args) {
			return false
		}
		a, b = a.Next, b.Next
	}
	return a == nil && b == nil
}

func sameNode(a, b *Expression) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindCall:
		return a.FunctionName == b.FunctionName
	case KindDeffunctionCall, KindGlobal:
		return a.Construct.ConstructName() == b.Construct.ConstructName()
	case KindLocal:
		return a.Index == b.Index
	default:
		if a.Atom == nil || b.Atom == nil {
			return a.Atom == b.Atom
		}
		return a.Atom.Kind() == b.Atom.Kind() && a.Atom.String() == b.Atom.String()
	}
}
