package kvgo

import "errors"

var (
	// ErrNotFound is returned when no record exists for a key. The store
	// never fabricates a record on read.
	ErrNotFound = errors.New("kvgo: key not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("kvgo: store is closed")
)
