package session

import "errors"

var (
	// ErrCapacityExceeded is returned by Admit when a new key would push the
	// registry past its maximum. The request is rejected, not queued.
	ErrCapacityExceeded = errors.New("session: capacity exceeded")

	// ErrInvalidKey is returned by Admit for an empty device id.
	ErrInvalidKey = errors.New("session: device id is required")

	// ErrMirrorUnavailable is returned when the redis mirror cannot be reached.
	ErrMirrorUnavailable = errors.New("session: mirror unavailable")
)
