package gateway

import "errors"

var (
	// ErrConnectionClosed indicates a write against a closed connection
	ErrConnectionClosed = errors.New("connection is closed")

	// ErrInvalidJSON indicates a payload that could not be encoded
	ErrInvalidJSON = errors.New("invalid JSON payload")

	// ErrWriteTimeout indicates the send buffer stayed full past the deadline
	ErrWriteTimeout = errors.New("write timeout")

	// ErrNilConnection indicates a nil connection passed to the registry
	ErrNilConnection = errors.New("connection cannot be nil")

	// ErrConnectionNotIdentified indicates registration before identity was set
	ErrConnectionNotIdentified = errors.New("connection has no identity")
)
