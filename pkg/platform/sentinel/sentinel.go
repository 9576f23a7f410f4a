package sentinel

import "errors"

// Sentinel dependency errors. Backends and adapters return these (optionally
// wrapped) so services can translate them into domain errors exactly once.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrMalformed    = errors.New("malformed")
	ErrUnavailable  = errors.New("unavailable")
	ErrClosed       = errors.New("closed")
)
