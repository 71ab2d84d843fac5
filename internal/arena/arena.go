// Package arena implements the slot allocator backing record storage.
//
// The allocator hands out zeroed byte regions that become record slot
// buffers. Regions are carved out of large off-heap chunks with a lock-free
// CAS bump; only chunk growth takes a mutex. Regions are never freed
// individually - a superseded record's region stays dead until the whole
// arena is closed, which matches the engine's contract that retired slots
// are never physically reused while a reader might still hold them.
//
// # Concurrency
//
// Alloc may be called from any number of goroutines. Close must not run
// concurrently with allocations or with reads of previously returned
// regions.
package arena

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/kvgo/internal/mmap"
)

var (
	// ErrMaxChunksExceeded is returned when the arena exceeds the maximum
	// number of chunks.
	ErrMaxChunksExceeded = errors.New("arena: max chunks exceeded")
	// ErrClosed is returned when allocating from a closed arena.
	ErrClosed = errors.New("arena: closed")
)

const (
	// DefaultChunkSize is the default size of a chunk (1MB).
	DefaultChunkSize = 1024 * 1024
	// DefaultAlignment is the allocation alignment (8 bytes).
	DefaultAlignment = 8
	// MaxChunks bounds the chunk directory. With 1MB chunks this caps the
	// arena at 64GB.
	MaxChunks = 65536
)

// MemoryAcquirer reserves memory against an external budget before the
// arena maps a new chunk.
type MemoryAcquirer interface {
	AcquireMemory(amount int64) error
	ReleaseMemory(amount int64)
}

// Stats tracks arena memory usage.
type Stats struct {
	ChunksAllocated uint64 // total chunks ever created
	BytesReserved   uint64 // memory currently mapped
	BytesUsed       uint64 // bytes requested by allocations
	BytesWasted     uint64 // alignment padding
	TotalAllocs     uint64 // cumulative allocation count
}

type atomicStats struct {
	ChunksAllocated atomic.Uint64
	BytesReserved   atomic.Uint64
	BytesUsed       atomic.Uint64
	BytesWasted     atomic.Uint64
	TotalAllocs     atomic.Uint64
}

type chunk struct {
	data    []byte
	mapping *mmap.Mapping
	offset  atomic.Int64 // bump pointer, accessed lock-free
	index   uint32
}

// Arena is the chunked slot allocator.
type Arena struct {
	chunkSize int
	chunkBits int    // power-of-2 exponent of chunkSize
	chunkMask uint64 // offset mask within a chunk
	alignment int

	chunks     [MaxChunks]atomic.Pointer[chunk]
	chunkCount atomic.Uint32
	current    atomic.Pointer[chunk]

	mu       sync.Mutex
	closed   bool
	stats    atomicStats
	acquirer MemoryAcquirer
}

// Option configures an Arena.
type Option func(*Arena)

// WithMemoryAcquirer charges chunk mappings against an external memory
// budget.
func WithMemoryAcquirer(acquirer MemoryAcquirer) Option {
	return func(a *Arena) {
		a.acquirer = acquirer
	}
}

// New creates an Arena with the given chunk size, rounded up to the next
// power of two.
func New(chunkSize int, opts ...Option) (*Arena, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	chunkBits := bits.Len(uint(chunkSize - 1))
	chunkSize = 1 << chunkBits

	a := &Arena{
		chunkSize: chunkSize,
		chunkBits: chunkBits,
		chunkMask: uint64(chunkSize - 1),
		alignment: DefaultAlignment,
	}

	for _, opt := range opts {
		opt(a)
	}

	if err := a.growLocked(); err != nil {
		return nil, err
	}
	// Reserve offset 0 so allocation ID 0 means "none".
	if _, _, err := a.Alloc(1); err != nil {
		return nil, err
	}
	return a, nil
}

// Alloc returns a zeroed region of exactly size bytes together with a
// stable allocation ID (chunk index and offset packed into a uint64). The
// ID identifies the region for the engine's retired-slot accounting.
func (a *Arena) Alloc(size int) (uint64, []byte, error) {
	if size <= 0 {
		return 0, nil, nil
	}

	mask := a.alignment - 1
	alignedSize := (size + mask) & ^mask

	if alignedSize > a.chunkSize {
		return a.allocOversize(size, alignedSize)
	}

	for {
		curr := a.current.Load()
		if curr == nil {
			return 0, nil, ErrClosed
		}

		oldOffset := curr.offset.Load()
		newOffset := oldOffset + int64(alignedSize)
		if newOffset <= int64(len(curr.data)) {
			if !curr.offset.CompareAndSwap(oldOffset, newOffset) {
				// Lost the bump race; the chunk may still have room.
				continue
			}
			a.stats.BytesUsed.Add(uint64(size))
			a.stats.BytesWasted.Add(uint64(alignedSize - size))
			a.stats.TotalAllocs.Add(1)

			id := uint64(curr.index)<<a.chunkBits | uint64(oldOffset)
			return id, curr.data[oldOffset : oldOffset+int64(size) : newOffset], nil
		}

		// Chunk is full. If another goroutine already grew the arena,
		// just retry against the new current chunk.
		if a.current.Load() != curr {
			continue
		}

		a.mu.Lock()
		if a.current.Load() != curr {
			a.mu.Unlock()
			continue
		}
		if err := a.growLocked(); err != nil {
			a.mu.Unlock()
			return 0, nil, err
		}
		a.mu.Unlock()
	}
}

// allocOversize maps a dedicated chunk for a region larger than the chunk
// size. The region starts at offset 0, so its ID packs like any other.
func (a *Arena) allocOversize(size, alignedSize int) (uint64, []byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.newChunkLocked(alignedSize)
	if err != nil {
		return 0, nil, err
	}
	// Mark the chunk exhausted; it never becomes the current bump chunk.
	c.offset.Store(int64(len(c.data)))

	a.stats.BytesUsed.Add(uint64(size))
	a.stats.BytesWasted.Add(uint64(alignedSize - size))
	a.stats.TotalAllocs.Add(1)

	return uint64(c.index) << a.chunkBits, c.data[:size:size], nil
}

// growLocked maps a fresh bump chunk and makes it current.
func (a *Arena) growLocked() error {
	c, err := a.newChunkLocked(a.chunkSize)
	if err != nil {
		return err
	}
	a.current.Store(c)
	return nil
}

func (a *Arena) newChunkLocked(size int) (*chunk, error) {
	if a.closed {
		return nil, ErrClosed
	}

	idx := a.chunkCount.Load()
	if idx >= MaxChunks {
		return nil, ErrMaxChunksExceeded
	}

	if a.acquirer != nil {
		if err := a.acquirer.AcquireMemory(int64(size)); err != nil {
			return nil, err
		}
	}

	mapping, err := mmap.MapAnon(size)
	if err != nil {
		if a.acquirer != nil {
			a.acquirer.ReleaseMemory(int64(size))
		}
		return nil, fmt.Errorf("arena: mapping chunk: %w", err)
	}

	c := &chunk{
		data:    mapping.Bytes(),
		mapping: mapping,
		index:   idx,
	}

	// Publish before bumping the count so lock-free readers of the
	// directory always see a non-nil pointer for any index < chunkCount.
	a.chunks[idx].Store(c)
	a.chunkCount.Add(1)

	a.stats.ChunksAllocated.Add(1)
	a.stats.BytesReserved.Add(uint64(size))

	return c, nil
}

// Stats returns a snapshot of the arena's usage counters.
func (a *Arena) Stats() Stats {
	return Stats{
		ChunksAllocated: a.stats.ChunksAllocated.Load(),
		BytesReserved:   a.stats.BytesReserved.Load(),
		BytesUsed:       a.stats.BytesUsed.Load(),
		BytesWasted:     a.stats.BytesWasted.Load(),
		TotalAllocs:     a.stats.TotalAllocs.Load(),
	}
}

// Close unmaps all chunks and releases any budgeted memory. No allocation
// or region access may run concurrently with, or after, Close.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	a.current.Store(nil)

	var firstErr error
	n := a.chunkCount.Load()
	for i := uint32(0); i < n; i++ {
		c := a.chunks[i].Load()
		if c == nil {
			continue
		}
		size := len(c.data)
		if err := c.mapping.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if a.acquirer != nil {
			a.acquirer.ReleaseMemory(int64(size))
		}
		a.stats.BytesReserved.Add(^uint64(size - 1)) // subtract
		a.chunks[i].Store(nil)
	}
	return firstErr
}
