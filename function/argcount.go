package function

import "fmt"

// CountRelation is how an argument count is compared with its bound.
type CountRelation int

const (
	Exactly CountRelation = iota
	AtLeast
	NoMoreThan
)

func (r CountRelation) String() string {
	switch r {
	case AtLeast:
		return "at least"
	case NoMoreThan:
		return "no more than"
	default:
		return "exactly"
	}
}

// ExpectedCountError reports a call with the wrong number of arguments.
type ExpectedCountError struct {
	Function string
	Relation CountRelation
	Expected int
	Actual   int
}

func (e *ExpectedCountError) Error() string {
	noun := "arguments"
	if e.Expected == 1 {
		noun = "argument"
	}
	return fmt.Sprintf("function %s expected %s %d %s, got %d", e.Function, e.Relation, e.Expected, noun, e.Actual)
}

// CheckArgCount compares actual with expected under rel.
func CheckArgCount(name string, rel CountRelation, expected, actual int) error {
	var ok bool
	switch rel {
	case AtLeast:
		ok = actual >= expected
	case NoMoreThan:
		ok = actual <= expected
	default:
		ok = actual == expected
	}
	if ok {
		return nil
	}
	return &ExpectedCountError{Function: name, Relation: rel, Expected: expected, Actual: actual}
}
