package apperrors

import "errors"

// ParseError reports a malformed wire frame. Parse failures are
// logged and surfaced in the stream but never abort it.
type ParseError struct {
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return "malformed frame: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// NewParse wraps a decode failure together with the offending payload.
func NewParse(payload string, err error) *ParseError {
	return &ParseError{Payload: payload, Err: err}
}

// IsParse reports whether err is a frame decode failure.
func IsParse(err error) bool {
	var pErr *ParseError
	return errors.As(err, &pErr)
}
