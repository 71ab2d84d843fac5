// Package mmap provides anonymous memory mappings for off-heap allocation.
//
// The slot allocator backs its chunks with anonymous read-write mappings so
// large record logs do not inflate GC scan time. On unix-like systems the
// mapping comes from mmap(2) via golang.org/x/sys; elsewhere a plain heap
// allocation stands in behind the same interface.
//
// MapAnon returns a Mapping whose Bytes() slice stays valid until Close().
// Closing while the memory is still referenced is the caller's bug.
package mmap
