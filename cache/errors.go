package cache

import "errors"

var (
	// ErrNotFound is returned when no entry exists for a key.
	ErrNotFound = errors.New("cache: entry not found")

	// ErrInvalidResultType is returned when a cached payload cannot be
	// asserted to the requested type.
	ErrInvalidResultType = errors.New("cache: cached payload has unexpected type")
)
