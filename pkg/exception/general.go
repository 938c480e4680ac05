package exception

import "errors"

// General errors
var (
	ErrNilInstance     = errors.New("nil instance")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInternal        = errors.New("internal error")
)

// State errors
var (
	// ErrAlreadyStarted is returned when starting components that are running.
	ErrAlreadyStarted = errors.New("already started")

	// ErrNotStarted is returned when stopping components that are not running.
	ErrNotStarted = errors.New("not started")

	// ErrNotAllowed is returned when an operation is issued in a state that forbids it.
	ErrNotAllowed = errors.New("operation not allowed")
)
