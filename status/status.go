// Package status defines the error-kind vocabulary shared across Spitfire's
// storage and transaction layers (spec.md §7).
package status

import "github.com/pkg/errors"

// Code classifies the outcome of a core operation (spec.md §7). Core
// operations return an error wrapping one of the sentinel errors below;
// CodeOf maps such an error back to its Code.
type Code int

const (
	OK Code = iota
	NotFound
	IOError
	Conflict
	InvariantViolation
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case NotFound:
		return "NOT_FOUND"
	case IOError:
		return "IO_ERROR"
	case Conflict:
		return "CONFLICT"
	case InvariantViolation:
		return "INVARIANT_VIOLATION"
	default:
		return "UNKNOWN"
	}
}

// Sentinel errors. Compare with errors.Is; wrap with errors.Wrap to add
// context without losing the underlying sentinel.
var (
	ErrIOError            = errors.New("spitfire: io error")
	ErrConflict           = errors.New("spitfire: conflict")
	ErrNotFound           = errors.New("spitfire: not found")
	ErrInvariantViolation = errors.New("spitfire: invariant violation")
)

// CodeOf maps a sentinel (or wrapped sentinel) error back to its Code. It
// returns OK for a nil error.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ErrIOError):
		return IOError
	case errors.Is(err, ErrConflict):
		return Conflict
	case errors.Is(err, ErrNotFound):
		return NotFound
	case errors.Is(err, ErrInvariantViolation):
		return InvariantViolation
	default:
		return InvariantViolation
	}
}

// Fatal terminates the process for the INVARIANT_VIOLATION bug class
// (spec.md §7: "implementations assert and terminate").
func Fatal(msg string, args ...interface{}) {
	panic(errors.Wrapf(ErrInvariantViolation, msg, args...))
}
