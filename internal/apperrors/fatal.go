package apperrors

import "errors"

// FatalError reports an unrecoverable session state signalled by the
// server. Once surfaced it suppresses further automatic reconnection;
// only an explicit new session clears it.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string {
	if e.Message == "" {
		return "fatal session error"
	}
	return "fatal session error: " + e.Message
}

// NewFatal creates a FatalError.
func NewFatal(message string) *FatalError {
	return &FatalError{Message: message}
}

// IsFatal reports whether err is unrecoverable without a new session.
// Auth rejections are fatal in this sense as well.
func IsFatal(err error) bool {
	var fErr *FatalError
	return errors.As(err, &fErr) || IsAuth(err)
}
