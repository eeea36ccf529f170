package mailer

import "errors"

var (
	// ErrValidation is returned for a malformed request body or an
	// unresolvable sender.
	ErrValidation = errors.New("invalid email request")
	// ErrDisabled is returned when no transport is selected.
	ErrDisabled = errors.New("email is not enabled")
)
