package pool

import "errors"

var (
	// ErrUnavailable is returned when the pool is disabled, closed or failed to connect.
	ErrUnavailable = errors.New("pool: store unavailable")
	// ErrKeyNotFound is returned by reads of a missing key.
	ErrKeyNotFound = errors.New("pool: key not found")
)
