package session

import "errors"

var (
	// ErrAlreadyJoined indicates the member is already in the joined set
	ErrAlreadyJoined = errors.New("member has already joined this session")

	// ErrSessionFull indicates the joined set has reached capacity
	ErrSessionFull = errors.New("session is full")

	// ErrSessionClosed indicates the session no longer accepts mutations
	ErrSessionClosed = errors.New("session is closed")

	// ErrNotJoined indicates the member is not in the joined set
	ErrNotJoined = errors.New("member has not joined this session")

	// ErrHostSelfJoin indicates the host attempted to join their own session
	ErrHostSelfJoin = errors.New("host cannot join their own session")

	// ErrNotHost indicates a close attempt by someone other than the host
	ErrNotHost = errors.New("only the host can close this session")
)
