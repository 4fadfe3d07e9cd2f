package interfaces

import "errors"

// Not-found outcomes are distinguishable results, not generic errors. Every
// store and platform implementation must return these sentinels so callers
// can branch with errors.Is.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrResourceNotFound    = errors.New("resource record not found")
	ErrGuildConfigNotFound = errors.New("guild config not found")
	ErrChannelNotFound     = errors.New("channel not found on platform")
	ErrMessageNotFound     = errors.New("message not found on platform")
)

// ErrStoreUnavailable reports that the store has shut down and can accept
// no further writes.
var ErrStoreUnavailable = errors.New("store unavailable")
