package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a required field was missing or malformed.
	ErrValidation = errors.New("validation failed")
	// ErrConfiguration indicates missing secrets or transport settings.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransport indicates the outbound mail transport failed.
	ErrTransport = errors.New("mail transport failed")
)
