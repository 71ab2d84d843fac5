// Package record implements the in-place mutable record slot and the three
// mutation protocols that operate on it: initial write, optimistic in-place
// update and read-modify-write, together with the lock-free consistent read
// that consumes them.
//
// A Slot is a fixed header (generation lock, immutable capacity, current
// length) plus an owned byte buffer of exactly capacity bytes. The buffer is
// handed in at construction, typically carved out of the engine's slot
// allocator, and is never resized: when a payload outgrows it the slot is
// permanently retired and the engine installs a larger one.
//
// # Concurrency
//
// Any number of readers and at most one in-place writer may touch a slot at
// a time; writers serialize on the generation lock. Readers never block:
// GetAtomic is a sequence-lock read that detects concurrent mutation via
// the generation counter and retries. The buffer copy inside that loop
// intentionally races with an in-flight writer's copy - torn bytes are
// discarded by the generation check, never returned. The Go race detector
// flags this by construction; the stress tests exercising concurrent
// readers and writers are meant to run without -race.
package record

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/hupe1980/kvgo/internal/genlock"
)

// Outcome reports how a mutation protocol ended.
type Outcome uint8

const (
	// Ok means the mutation committed and is fully visible to readers.
	Ok Outcome = iota

	// Superseded means the slot cannot accept the in-place mutation: its
	// capacity is insufficient, or it had already been retired by another
	// writer. The caller must retry against a newly allocated slot; the
	// prior payload is left untouched.
	Superseded
)

func (o Outcome) String() string {
	switch o {
	case Ok:
		return "ok"
	case Superseded:
		return "superseded"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Merger merges an existing payload with a modification. It writes the
// merged payload into dst and returns its length. A nil dst requests a
// size-only dry run. When dst is non-nil the caller guarantees
// len(dst) >= the dry-run result for the same inputs; dst may alias old,
// so mergers must tolerate writing over their own input left to right.
// A Merger must produce identical results when invoked twice with
// identical inputs (dry run, then real run).
type Merger func(old, delta, dst []byte) int

// Spin policy for lock acquisition: yield the thread between attempts, and
// after a budget of failed yields back off with short sleeps so a stalled
// lock holder cannot pin a CPU. Contention never surfaces to the caller.
const (
	spinYieldBudget = 256
	spinSleep       = 10 * time.Microsecond
)

// Slot is one record version: header plus payload buffer. The zero length
// slot is valid. Slots must be created through NewSlot.
type Slot struct {
	lock   genlock.Atomic
	length atomic.Uint64
	buf    []byte // exactly capacity bytes, never reallocated
}

// NewSlot wraps a zeroed buffer as a fresh record slot. The buffer's length
// is the slot's capacity, fixed for the slot's lifetime. The slot starts at
// generation zero, unlocked, not replaced, with length zero.
func NewSlot(buf []byte) *Slot {
	return &Slot{buf: buf}
}

// Capacity returns the immutable byte capacity of the payload buffer.
func (s *Slot) Capacity() int { return len(s.buf) }

// Length returns the current payload length. Only stable when no writer is
// active; concurrent readers should use GetAtomic instead.
func (s *Slot) Length() int { return int(s.length.Load()) }

// Generation returns the current generation counter. It is non-decreasing
// and advances by exactly one per successful unlock.
func (s *Slot) Generation() uint64 { return s.lock.Load().Generation() }

// Replaced reports whether the slot has been permanently retired.
func (s *Slot) Replaced() bool { return s.lock.Load().Replaced() }

// Put performs the initial write into a slot that is not yet visible to
// any other goroutine. It always succeeds and takes no locks. Panics when
// the payload exceeds the slot's capacity: sizing the slot is the
// allocating caller's contract.
func (s *Slot) Put(payload []byte) {
	if len(payload) > len(s.buf) {
		panic(fmt.Sprintf("record: initial write of %d bytes into capacity %d", len(payload), len(s.buf)))
	}
	s.lock.Reset()
	s.length.Store(uint64(len(payload)))
	copy(s.buf, payload)
}

// PutAtomic overwrites the payload in place under the generation lock.
// It spins while another writer holds the lock and returns Superseded
// without side effects when the slot has been retired. When the payload
// does not fit, the slot is released as replaced - permanently retiring
// it - and Superseded is returned; the prior payload stays intact and
// readable. Capacity is never altered.
func (s *Slot) PutAtomic(payload []byte) Outcome {
	if !s.acquire() {
		return Superseded
	}
	if len(payload) > len(s.buf) {
		s.lock.Unlock(true)
		return Superseded
	}
	s.length.Store(uint64(len(payload)))
	copy(s.buf, payload)
	s.lock.Unlock(false)
	return Ok
}

// RmwInitial applies the modification to an implicit empty base value and
// writes the result as the initial payload. Structurally an initial write:
// the slot must not yet be visible to other goroutines. Using the same
// merge function as the in-place path gives callers one merge semantic
// regardless of which path the engine selects.
func (s *Slot) RmwInitial(delta []byte, merge Merger) {
	s.lock.Reset()
	n := merge(nil, delta, s.buf)
	if n > len(s.buf) {
		panic(fmt.Sprintf("record: initial merge produced %d bytes for capacity %d", n, len(s.buf)))
	}
	s.length.Store(uint64(n))
}

// RmwCopy merges the old slot's payload with the modification into this
// slot's buffer. The receiver must be a fresh, unpublished slot sized by a
// prior dry run; the old slot's lock state is not touched. The old slot
// must be stable for the duration of the call (retired, or otherwise
// shielded from writers by the engine).
func (s *Slot) RmwCopy(old *Slot, delta []byte, merge Merger) {
	s.lock.Reset()
	n := merge(old.buf[:old.length.Load()], delta, s.buf)
	if n > len(s.buf) {
		panic(fmt.Sprintf("record: copy merge produced %d bytes for capacity %d", n, len(s.buf)))
	}
	s.length.Store(uint64(n))
}

// RmwAtomic merges the modification into the payload in place under the
// generation lock. The merge is first invoked as a size-only dry run; when
// the result would not fit, the slot is released as replaced and
// Superseded is returned with the prior payload untouched. Otherwise the
// merge runs again writing directly into the buffer (the output aliases
// the old payload) and the slot is released normally.
func (s *Slot) RmwAtomic(delta []byte, merge Merger) Outcome {
	if !s.acquire() {
		return Superseded
	}
	old := s.buf[:s.length.Load()]
	n := merge(old, delta, nil)
	if n > len(s.buf) {
		s.lock.Unlock(true)
		return Superseded
	}
	merge(old, delta, s.buf)
	s.length.Store(uint64(n))
	s.lock.Unlock(false)
	return Ok
}

// Get reads the payload without any synchronization, appending it to dst
// and returning the result. Only valid when the engine can prove no
// concurrent writer exists (e.g. the slot is retired, or still private).
func (s *Slot) Get(dst []byte) []byte {
	return append(dst[:0], s.buf[:s.length.Load()]...)
}

// GetAtomic reads a torn-free snapshot of the payload without blocking,
// appending it to dst and returning the result. It loads the lock state,
// captures length and bytes, loads the state again, and retries until the
// two observations carry the same generation with no writer in between.
// Works against any number of concurrent in-place writers.
func (s *Slot) GetAtomic(dst []byte) []byte {
	for {
		before := s.lock.Load()
		if before.Locked() {
			runtime.Gosched()
			continue
		}
		dst = append(dst[:0], s.buf[:s.length.Load()]...)
		if s.lock.Load() == before {
			return dst
		}
	}
}

// acquire spins until the generation lock is held, yielding between
// attempts. Returns false the instant the slot is observed retired, in
// which case nothing has been mutated.
func (s *Slot) acquire() bool {
	for attempt := 0; ; attempt++ {
		ok, replaced := s.lock.TryLock()
		if ok {
			return true
		}
		if replaced {
			return false
		}
		if attempt < spinYieldBudget {
			runtime.Gosched()
		} else {
			time.Sleep(spinSleep)
		}
	}
}
