// Package errs provides sentinel-based error wrapping for the rest of
// Foundry, in the shape of the teacher's private crex.Wrap/crex.Wrapf
// helpers (crex itself is not part of the retrieved pack — see
// DESIGN.md).
//
// Call sites wrap a sentinel error (e.g. ErrParse) around a lower-level
// cause so that callers can still errors.Is against the sentinel while
// the message chain keeps the original detail.
package errs

import "fmt"

// Wrap attaches cause to sentinel so that errors.Is(result, sentinel) and
// errors.Is(result, cause) both hold.
func Wrap(sentinel, cause error) error {
	if cause == nil {
		return nil
	}
	return &wrapped{sentinel: sentinel, cause: cause}
}

// Wrapf is Wrap with the cause built from a formatted message; unlike
// Wrap it never returns nil.
func Wrapf(sentinel error, format string, args ...any) error {
	return &wrapped{sentinel: sentinel, cause: fmt.Errorf(format, args...)}
}

type wrapped struct {
	sentinel error
	cause    error
}

func (w *wrapped) Error() string {
	return w.sentinel.Error() + ": " + w.cause.Error()
}

func (w *wrapped) Unwrap() []error {
	return []error{w.sentinel, w.cause}
}
