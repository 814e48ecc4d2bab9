package domain

import "errors"

var (
	// ErrNotFound is returned when a stop, route or bus does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks a malformed request payload or fleet record.
	ErrValidation = errors.New("validation failed")
	// ErrUpstreamUnavailable marks a failure of an external collaborator.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
