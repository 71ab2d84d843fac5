package mmap

import (
	"errors"
	"sync/atomic"
)

// ErrInvalidSize is returned when a non-positive mapping size is requested.
var ErrInvalidSize = errors.New("mmap: invalid size")

// Mapping represents an anonymous memory mapping. It owns the underlying
// byte slice and is responsible for unmapping it.
type Mapping struct {
	data   []byte
	closed atomic.Bool
	// unmap is the platform-specific release function; nil for heap-backed
	// fallback mappings.
	unmap func([]byte) error
}

// MapAnon creates a zeroed, read-write anonymous mapping of the given size.
func MapAnon(size int) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	data, unmapFunc, err := osMapAnon(size)
	if err != nil {
		return nil, err
	}

	return &Mapping{
		data:  data,
		unmap: unmapFunc,
	}, nil
}

// Bytes returns the mapped memory. The slice is valid until Close.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int {
	return len(m.data)
}

// Close unmaps the memory. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	data := m.data
	m.data = nil
	if m.unmap == nil {
		return nil
	}
	return m.unmap(data)
}
