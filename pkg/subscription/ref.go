package subscription

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidRef is wrapped by every RefError.
var ErrInvalidRef = errors.New("invalid item or field reference")

// Ref addresses an item or field either by name or by 1-based position.
type Ref struct {
	name  string
	pos   int
	byPos bool
}

// Name returns a reference by name.
func Name(name string) Ref { return Ref{name: name} }

// Pos returns a reference by 1-based position.
func Pos(pos int) Ref { return Ref{pos: pos, byPos: true} }

// IsName reports whether r addresses by name.
func (r Ref) IsName() bool { return !r.byPos }

func (r Ref) String() string {
	if r.IsName() {
		return strconv.Quote(r.name)
	}
	return "#" + strconv.Itoa(r.pos)
}

// RefError reports a reference that cannot be resolved.
type RefError struct {
	Ref    Ref
	Reason string
}

func (e *RefError) Error() string {
	return fmt.Sprintf("%v %s: %s", ErrInvalidRef, e.Ref, e.Reason)
}

func (e *RefError) Unwrap() error { return ErrInvalidRef }

// resolve maps r to a 1-based position. names may be nil when only the
// count is known, in which case name references fail.
func (r Ref) resolve(names []string, count int) (int, error) {
	if !r.IsName() {
		if r.pos < 1 || r.pos > count {
			return 0, &RefError{Ref: r, Reason: fmt.Sprintf("position out of range 1..%d", count)}
		}
		return r.pos, nil
	}
	if names == nil {
		return 0, &RefError{Ref: r, Reason: "names are not known for a group or schema"}
	}
	for i, n := range names {
		if n == r.name {
			return i + 1, nil
		}
	}
	return 0, &RefError{Ref: r, Reason: "unknown name"}
}
