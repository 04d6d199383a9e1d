package apperrors

import "errors"

// AuthError reports that the backend rejected the credential. It is
// terminal for the current session: no automatic retry may follow it
// until a new credential is supplied.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "authentication rejected"
	}
	return "authentication rejected: " + e.Message
}

// NewAuthError creates an AuthError with the server-provided message.
func NewAuthError(message string) *AuthError {
	return &AuthError{Message: message}
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
