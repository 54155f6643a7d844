package platform

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied = errors.New("permission_denied")
	ErrTransient        = errors.New("transient")
	ErrNotFound         = errors.New("not_found")
	// ErrRejected is a request the platform refused and will keep refusing.
	ErrRejected = errors.New("rejected")
)

// Error is a classified platform failure.
type Error struct {
	Op      string
	Kind    error
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("platform %s: %s (%d): %s", e.Op, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("platform %s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Kind }

func NewError(op string, kind error, code int, message string) *Error {
	return &Error{Op: op, Kind: kind, Code: code, Message: message}
}

// IsTransient reports whether retrying the call may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Kind returns a low-cardinality label for err.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrRejected):
		return "rejected"
	default:
		return "unknown"
	}
}
