//go:build !unix

package mmap

// Heap-backed fallback for platforms without a wired mmap implementation.
// Loses the off-heap property but keeps the allocator portable.
func osMapAnon(size int) ([]byte, func([]byte) error, error) {
	return make([]byte, size), nil, nil
}
