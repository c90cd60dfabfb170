// Package diag writes the diagnostics that environment commands print for
// their users.
//
// Diagnostics carry no control flow: every function here also has an error
// counterpart that the caller returns. The printed form is the one rule
// language users see at the prompt:
//
//	[ARGACCES1] Function 'bload' expected exactly 1 argument.
package diag

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tildemin3/clips-core/function"
	"github.com/tildemin3/clips-core/image"
	"github.com/tildemin3/clips-core/symbol"
)

// ExpectedCountError reports a call with the wrong number of arguments.
type ExpectedCountError = function.ExpectedCountError

// ExpectedTypeError reports an argument of the wrong type.
type ExpectedTypeError struct {
	Function string
	Position int // 1-based
	Expected []symbol.Kind
	Actual   string
}

func (e *ExpectedTypeError) Error() string {
	return fmt.Sprintf("function %s expected argument #%d to be of type %s, got %s",
		e.Function, e.Position, kinds(e.Expected), e.Actual)
}

func kinds(ks []symbol.Kind) string {
	names := make([]string, len(ks))
	for i, k := range ks {
		names[i] = strings.ToLower(k.String())
	}
	switch len(names) {
	case 0:
		return "any"
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " or " + names[len(names)-1]
	}
}

// CheckType returns arg as a value of one of the given kinds. A plain Go
// string is accepted where a string or symbol is expected.
func CheckType(fn string, position int, arg any, want ...symbol.Kind) (*symbol.Value, string, error) {
	switch v := arg.(type) {
	case *symbol.Value:
		for _, k := range want {
			if v.Kind() == k {
				return v, v.Lexeme(), nil
			}
		}
		return nil, "", &ExpectedTypeError{Function: fn, Position: position, Expected: want, Actual: strings.ToLower(v.Kind().String())}
	case string:
		for _, k := range want {
			if k == symbol.KindString || k == symbol.KindSymbol {
				return nil, v, nil
			}
		}
	}
	return nil, "", &ExpectedTypeError{Function: fn, Position: position, Expected: want, Actual: fmt.Sprintf("%T", arg)}
}

// Printer writes diagnostics to w. It is safe for concurrent use.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrinter creates a Printer. A nil w discards everything.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = io.Discard
	}
	return &Printer{w: w}
}

func (p *Printer) printf(id, format string, args ...any) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[%s] "+format+"\n", append([]any{id}, args...)...)
}

// ExpectedCount prints an argument count diagnostic.
func (p *Printer) ExpectedCount(e *ExpectedCountError) {
	noun := "arguments"
	if e.Expected == 1 {
		noun = "argument"
	}
	p.printf("ARGACCES1", "Function '%s' expected %s %d %s.", e.Function, e.Relation, e.Expected, noun)
}

// ExpectedType prints an argument type diagnostic.
func (p *Printer) ExpectedType(e *ExpectedTypeError) {
	p.printf("ARGACCES2", "Function '%s' expected argument #%d to be of type %s.", e.Function, e.Position, kinds(e.Expected))
}

// OpenErrorMessage prints that fn could not open the image called name.
func (p *Printer) OpenErrorMessage(fn, name string) {
	p.printf("ARGACCES3", "Function '%s' was unable to open file '%s'.", fn, name)
}

// CannotLoadWithImageMessage prints that a construct of the given kind
// cannot be defined while a binary image is loaded.
func (p *Printer) CannotLoadWithImageMessage(kind string) {
	p.printf("BLOAD1", "Cannot load %s construct with binary load in effect.", kind)
}

// Error prints the diagnostic matching err. Errors without a dedicated
// diagnostic are printed as a failure of fn.
func (p *Printer) Error(fn string, err error) {
	var (
		ece *ExpectedCountError
		ete *ExpectedTypeError
		oe  *image.OpenError
	)
	switch {
	case err == nil:
	case errors.As(err, &ece):
		p.ExpectedCount(ece)
	case errors.As(err, &ete):
		p.ExpectedType(ete)
	case errors.As(err, &oe):
		p.OpenErrorMessage(fn, oe.Name)
	case errors.Is(err, image.ErrIncompatibleImage):
		p.printf("BLOAD2", "Function '%s' found an incompatible binary image: %v.", fn, err)
	default:
		p.printf("BLOAD3", "Function '%s' failed: %v.", fn, err)
	}
}
