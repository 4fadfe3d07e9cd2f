package types

import "errors"

// Validation error types shared across components.
var (
	ErrInvalidID       = errors.New("id must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidCapacity = errors.New("capacity must be between 1 and 16")
	ErrInvalidHost     = errors.New("host_id must be a valid member id")
	ErrInvalidMode     = errors.New("mode label must be 1-100 characters")
	ErrInvalidLimit    = errors.New("user limit must be between 0 and 99")
)
