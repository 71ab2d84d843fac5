// Package kvgo provides an embedded, in-memory key-value store built around
// a record-level concurrency protocol: writers update variable-length values
// in place under a per-record generation lock, readers take torn-free
// snapshots without blocking, and records that can no longer be updated in
// place (outgrown, or already superseded) are transparently replaced by
// freshly allocated versions.
//
// # Quick start
//
//	store, err := kvgo.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	ctx := context.Background()
//	_ = store.Upsert(ctx, 1, []byte("hello"))
//
//	value, _ := store.Read(1) // "hello"
//
//	// Read-modify-write with a caller-supplied merge function:
//	appendBang := func(old, delta, dst []byte) int {
//	    n := len(old) + len(delta)
//	    if dst == nil {
//	        return n // size-only dry run
//	    }
//	    copy(dst, old)
//	    copy(dst[len(old):], delta)
//	    return n
//	}
//	_ = store.RMW(ctx, 1, []byte("!"), appendBang)
//
// # Concurrency model
//
// Any number of goroutines may call Read, Upsert and RMW concurrently.
// Reads never block: they use the record's generation counter as a sequence
// number and retry the snapshot if a writer committed in between. Writers
// on the same key serialize on the record's generation lock; writers on
// different keys do not interact. Close must not run concurrently with
// other operations.
//
// Record buffers live in an off-heap slot allocator. A record that outgrows
// its buffer is permanently retired and replaced; retired buffers are never
// reused, so a reader that still holds one simply observes the last value
// committed to it. The memory cost of retirement is visible through Stats.
package kvgo
