// Package genlock implements the generation lock that coordinates in-place
// record mutation with lock-free readers.
//
// The whole lock state lives in a single 64-bit word: a 62-bit generation
// counter, a locked bit and a replaced bit. Packing all three into one word
// is essential, not incidental: acquire-and-check is a single atomic read
// plus CAS, and release is a single atomic add, so a concurrent reader can
// never observe a torn intermediate state between the flag bits and the
// generation counter.
//
// State transitions:
//
//	unlocked ──TryLock──▶ locked ──Unlock(false)──▶ unlocked, generation+1
//	                             ──Unlock(true)───▶ replaced, generation+1
//
// The replaced bit is a terminal tombstone. Once set, the owning record has
// been superseded by a newer record and no TryLock ever succeeds on it
// again.
package genlock

import "sync/atomic"

const (
	genBits = 62

	genMask     = uint64(1)<<genBits - 1
	lockedBit   = uint64(1) << genBits
	replacedBit = uint64(1) << (genBits + 1)

	// Unlock is a single atomic add on the control word. Both deltas clear
	// the locked bit and bump the generation by one; the retire delta also
	// sets the replaced bit. Computed mod 2^64.
	releaseDelta uint64 = 1<<64 - 1<<genBits + 1          // -locked, +1 gen
	retireDelta  uint64 = 1<<(genBits+1) - 1<<genBits + 1 // -locked, +replaced, +1 gen
)

// GenLock is a snapshot of the lock state word.
type GenLock uint64

// Generation returns the 62-bit generation counter.
func (g GenLock) Generation() uint64 { return uint64(g) & genMask }

// Locked reports whether a writer currently holds the lock.
func (g GenLock) Locked() bool { return uint64(g)&lockedBit != 0 }

// Replaced reports whether the owning record has been permanently
// superseded.
func (g GenLock) Replaced() bool { return uint64(g)&replacedBit != 0 }

// Make builds a GenLock snapshot from its logical fields. Used by tests.
func Make(generation uint64, locked, replaced bool) GenLock {
	w := generation & genMask
	if locked {
		w |= lockedBit
	}
	if replaced {
		w |= replacedBit
	}
	return GenLock(w)
}

// Atomic is an atomically updated generation lock. The zero value is
// unlocked, not replaced, at generation zero.
type Atomic struct {
	control atomic.Uint64
}

// Load returns the current lock state.
func (a *Atomic) Load() GenLock { return GenLock(a.control.Load()) }

// Store overwrites the lock state. Only valid while the owning record is
// not visible to any other goroutine (initial writes).
func (a *Atomic) Store(g GenLock) { a.control.Store(uint64(g)) }

// Reset returns the lock to its zero state. Same visibility caveat as
// Store.
func (a *Atomic) Reset() { a.control.Store(0) }

// TryLock attempts to acquire the lock with a single CAS against the last
// observed state. It fails without side effects when the lock is held, and
// reports replaced=true without acquiring when the record has been retired.
// A lost CAS re-reads and re-checks rather than assuming contention.
func (a *Atomic) TryLock() (ok, replaced bool) {
	for {
		cur := a.control.Load()
		if cur&replacedBit != 0 {
			return false, true
		}
		if cur&lockedBit != 0 {
			return false, false
		}
		if a.control.CompareAndSwap(cur, cur|lockedBit) {
			return true, false
		}
	}
}

// Unlock releases the lock with a single atomic add. The caller must hold
// the lock. A normal release (wasReplaced=false) clears the locked bit and
// bumps the generation. Releasing with wasReplaced=true additionally sets
// the replaced bit, permanently retiring the record; no later TryLock will
// succeed.
func (a *Atomic) Unlock(wasReplaced bool) {
	if wasReplaced {
		a.control.Add(retireDelta)
	} else {
		a.control.Add(releaseDelta)
	}
}
