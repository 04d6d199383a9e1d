package apperrors

import "errors"

// TransientError wraps a connection or transport failure that is safe
// to retry: non-local disconnects, dial failures, dropped streams.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return "transient failure (" + e.Reason + "): " + e.Err.Error()
	}
	return "transient failure: " + e.Reason
}

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransient wraps err as a retryable failure.
func NewTransient(reason string, err error) *TransientError {
	return &TransientError{Reason: reason, Err: err}
}

// IsTransient reports whether err may be retried automatically.
func IsTransient(err error) bool {
	var tErr *TransientError
	return errors.As(err, &tErr)
}
