package cvat

import (
	"errors"
	"fmt"
)

// Kind classifies failures coming out of the vision library boundary.
type Kind int

const (
	// KindInitialization covers library load and first-time setup failures.
	// They are surfaced to the caller and never retried automatically.
	KindInitialization Kind = iota + 1
	// KindTracking is a single failed poll. The poll loop recovers from it.
	KindTracking
	// KindLibrary is a symbol resolution or call-dispatch failure. It has
	// the same severity as KindInitialization.
	KindLibrary
)

func (k Kind) String() string {
	switch k {
	case KindInitialization:
		return "initialization error"
	case KindTracking:
		return "tracking error"
	case KindLibrary:
		return "library error"
	default:
		return "unknown error"
	}
}

var (
	// ErrClosed is returned by every Handle method once the handle has been closed.
	ErrClosed = errors.New("library handle is closed")
	// ErrUnsupported is returned by Load on platforms without the vision library.
	ErrUnsupported = errors.New("vision library is only available on windows")
)

// Error is the error type returned across the binding boundary.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Message returns the detail carried by a binding error, without the kind
// and operation prefixes. Other errors are returned verbatim.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}
