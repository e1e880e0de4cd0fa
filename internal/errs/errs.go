package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how callers should react to it.
type Kind int

const (
	Other Kind = iota
	NotFound
	InvalidInput
	Persist
	Generation
	ClockRegression
	Corrupt
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case InvalidInput:
		return "invalid input"
	case Persist:
		return "persist"
	case Generation:
		return "generation"
	case ClockRegression:
		return "clock regression"
	case Corrupt:
		return "corrupt state"
	default:
		return "other"
	}
}

// ParseKind is the inverse of Kind.String. Unknown names map to Other.
func ParseKind(s string) Kind {
	for k := NotFound; k <= Corrupt; k++ {
		if k.String() == s {
			return k
		}
	}
	return Other
}

// Error is a classified error carrying the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// E builds a classified error for op.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// IsKind reports whether err's chain contains an error of the given kind.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// IsFatal reports whether err must stop the current tick and be surfaced to
// the operator rather than handled locally.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case Persist, ClockRegression, Corrupt:
		return true
	}
	return false
}
