package vouch

import (
	"errors"
)

var (
	// A second decision on a case which is already resolved (or being resolved).
	ErrDuplicateResolution = errors.New("case already resolved")
	ErrNotAuthorized       = errors.New("actor not authorized")
	ErrMemberNotFound      = errors.New("member not found")
	// No live case for the referenced review message, typically after a restart.
	ErrCaseNotFound = errors.New("review case not found")
)

// usageError is a malformed chat command; the message is shown to the caller.
type usageError struct {
	usage string
}

func (e *usageError) Error() string {
	return "Missing or invalid argument. Usage: `" + e.usage + "`"
}
