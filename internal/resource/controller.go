// Package resource provides admission control for the store: a memory
// budget for the slot allocator, a cap on concurrent mutators, and a
// throughput limit on copy-based record reallocation.
//
// The generation-lock protocol itself never blocks and is not
// starvation-free by construction; bounding the number of writers admitted
// to it is the engine's job, and this controller is where that bound lives.
package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a memory reservation would exceed
// the configured limit.
var ErrMemoryLimitExceeded = errors.New("resource: memory limit exceeded")

// Config holds resource limits. The zero value disables all enforcement.
type Config struct {
	// MemoryLimitBytes is the hard limit for slot-allocator memory.
	// If 0, usage is tracked but not limited.
	MemoryLimitBytes int64

	// MaxConcurrentWriters caps the number of mutators admitted to the
	// record protocols at once. If 0, writers are not limited.
	MaxConcurrentWriters int64

	// CopyLimitBytesPerSec throttles copy-based reallocation (record
	// growth and copy-merge paths). If 0, unlimited.
	CopyLimitBytesPerSec int64
}

// Controller enforces the configured limits. A nil *Controller is valid
// and enforces nothing.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	writerSem *semaphore.Weighted // nil if unlimited

	copyLimiter *rate.Limiter // nil if unlimited
}

// NewController creates a controller for the given limits.
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.MaxConcurrentWriters > 0 {
		c.writerSem = semaphore.NewWeighted(cfg.MaxConcurrentWriters)
	}
	if cfg.CopyLimitBytesPerSec > 0 {
		c.copyLimiter = rate.NewLimiter(rate.Limit(cfg.CopyLimitBytesPerSec), int(cfg.CopyLimitBytesPerSec))
	}

	return c
}

// AcquireMemory reserves allocator memory. Non-blocking: callers control
// retry policy. Returns ErrMemoryLimitExceeded when the reservation does
// not fit.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return ErrMemoryLimitExceeded
	}
	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory returns reserved allocator memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the currently reserved allocator memory in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the configured memory limit (0 if unlimited).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// AcquireWriter admits one mutator, blocking until a slot frees up or the
// context is done.
func (c *Controller) AcquireWriter(ctx context.Context) error {
	if c == nil || c.writerSem == nil {
		return nil
	}
	return c.writerSem.Acquire(ctx, 1)
}

// ReleaseWriter returns a mutator slot.
func (c *Controller) ReleaseWriter() {
	if c == nil || c.writerSem == nil {
		return
	}
	c.writerSem.Release(1)
}

// ThrottleCopy waits until the copy throughput budget allows the given
// number of bytes.
func (c *Controller) ThrottleCopy(ctx context.Context, bytes int) error {
	if c == nil || c.copyLimiter == nil || bytes <= 0 {
		return nil
	}
	burst := c.copyLimiter.Burst()
	for bytes > 0 {
		n := bytes
		if n > burst {
			n = burst
		}
		if err := c.copyLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
