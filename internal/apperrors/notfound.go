package apperrors

import "errors"

// ErrNotFound reports that the backend does not know the requested
// conversation. Used by the lifecycle coordinator to distinguish a
// confirmed miss from a load still in flight.
var ErrNotFound = errors.New("conversation not found")

// IsNotFound reports whether err is a confirmed missing-conversation error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
