package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrInvalidInput         = errors.New("invalid input")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrLockHeld             = errors.New("lock already held")
	ErrTransientSource      = errors.New("price source unavailable")
	ErrAllSourcesExhausted  = errors.New("all price sources exhausted")
	ErrUpstreamDisconnected = errors.New("upstream feed disconnected")
	ErrMalformedMessage     = errors.New("malformed upstream message")
	// ErrConflict is returned when a conditional write finds the row gone or
	// no longer in the expected state.
	ErrConflict = errors.New("persistence conflict")
)
