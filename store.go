package kvgo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/kvgo/internal/arena"
	"github.com/hupe1980/kvgo/internal/hash"
	"github.com/hupe1980/kvgo/internal/record"
	"github.com/hupe1980/kvgo/internal/resource"
)

// Merger merges an existing value with a modification during RMW. It
// writes the merged value into dst and returns its length. A nil dst
// requests a size-only dry run; when dst is non-nil it is guaranteed to be
// at least as large as the dry-run result for the same inputs. dst may
// alias old, so mergers must tolerate writing over their own input left to
// right. A Merger must produce identical results when invoked twice with
// identical inputs - the store dry-runs it before committing.
type Merger func(old, delta, dst []byte) int

const defaultShards = 16

// Store is an in-memory key-value store with in-place record updates and
// lock-free reads. Create one with New; the zero value is not usable.
type Store struct {
	shards []shard
	mask   uint64

	arena   *arena.Arena
	res     *resource.Controller
	logger  *Logger
	metrics MetricsObserver

	closed atomic.Bool

	retiredMu    sync.Mutex
	retired      *roaring64.Bitmap
	retiredBytes atomic.Int64
}

// shard is one stripe of the hash index mapping keys to their current
// record version.
type shard struct {
	mu      sync.RWMutex
	entries map[uint64]*entry
}

// entry is the publish point for a key: an atomic pointer to the current
// record version. Installing a new version here is what makes it the
// record for the key (readers load it lock-free).
type entry struct {
	current atomic.Pointer[version]
}

// version pairs a record slot with its allocation ID, which identifies the
// slot's buffer in the retired-slot ledger once superseded.
type version struct {
	slot    *record.Slot
	allocID uint64
}

// New creates a Store.
func New(opts ...Option) (*Store, error) {
	cfg := config{
		shards:  defaultShards,
		logger:  NoopLogger(),
		metrics: &NoopMetricsObserver{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	res := resource.NewController(resource.Config{
		MemoryLimitBytes:     cfg.memoryLimitBytes,
		MaxConcurrentWriters: cfg.maxConcurrentWriters,
		CopyLimitBytesPerSec: cfg.copyLimitBytesPerSec,
	})

	a, err := arena.New(cfg.chunkSize, arena.WithMemoryAcquirer(res))
	if err != nil {
		return nil, fmt.Errorf("kvgo: creating slot allocator: %w", err)
	}

	numShards := nextPowerOfTwo(cfg.shards)
	shards := make([]shard, numShards)
	for i := range shards {
		shards[i].entries = make(map[uint64]*entry)
	}

	s := &Store{
		shards:  shards,
		mask:    uint64(numShards - 1),
		arena:   a,
		res:     res,
		logger:  cfg.logger,
		metrics: cfg.metrics,
		retired: roaring64.NewBitmap(),
	}

	s.logger.Debug("store created",
		"shards", numShards,
		"memory_limit", cfg.memoryLimitBytes,
		"max_writers", cfg.maxConcurrentWriters,
	)

	return s, nil
}

// Upsert sets the value for key. The update happens in place when the
// current record has capacity for it; otherwise the record is retired and
// a larger one installed. Once Upsert returns, the value is fully visible
// to subsequent reads.
func (s *Store) Upsert(ctx context.Context, key uint64, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.res.AcquireWriter(ctx); err != nil {
		return err
	}
	defer s.res.ReleaseWriter()

	sh := s.shardFor(key)
	e := sh.lookup(key)
	if e == nil {
		v, err := s.allocVersion(len(value))
		if err != nil {
			return err
		}
		v.slot.Put(value)

		var inserted bool
		if e, inserted = sh.publish(key, v); inserted {
			s.metrics.OnInitialWrite(len(value))
			return nil
		}
		// Another writer created the key first; our slot was never
		// published and its buffer is dead.
		s.retire(v)
	}

	for {
		v := e.current.Load()
		if v.slot.PutAtomic(value) == record.Ok {
			s.metrics.OnInPlaceUpdate(len(value))
			return nil
		}

		// The record is retired (outgrown here or superseded elsewhere):
		// install a fresh one sized for this value.
		if err := s.res.ThrottleCopy(ctx, len(value)); err != nil {
			return err
		}
		nv, err := s.allocVersion(len(value))
		if err != nil {
			return err
		}
		nv.slot.Put(value)

		if e.current.CompareAndSwap(v, nv) {
			s.retire(v)
			return nil
		}
		// Lost the install race; discard ours and retry against the
		// version that won.
		s.retire(nv)
	}
}

// RMW applies merge(current value, delta) to the record for key, creating
// it from an empty base value when the key does not exist. The merge runs
// in place when the result fits the current record; otherwise it is merged
// into a freshly allocated record. See Merger for the dry-run contract.
func (s *Store) RMW(ctx context.Context, key uint64, delta []byte, merge Merger) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if merge == nil {
		return fmt.Errorf("kvgo: nil merge function")
	}
	if err := s.res.AcquireWriter(ctx); err != nil {
		return err
	}
	defer s.res.ReleaseWriter()

	rm := record.Merger(merge)

	sh := s.shardFor(key)
	e := sh.lookup(key)
	if e == nil {
		need := merge(nil, delta, nil)
		v, err := s.allocVersion(need)
		if err != nil {
			return err
		}
		v.slot.RmwInitial(delta, rm)

		var inserted bool
		if e, inserted = sh.publish(key, v); inserted {
			s.metrics.OnInitialWrite(need)
			return nil
		}
		s.retire(v)
	}

	for {
		v := e.current.Load()
		if v.slot.RmwAtomic(delta, rm) == record.Ok {
			s.metrics.OnInPlaceUpdate(v.slot.Length())
			return nil
		}

		// The record is retired, so its payload is stable: size the
		// result with a dry run and merge into a fresh record.
		old := v.slot
		need := rm(old.Get(nil), delta, nil)
		if err := s.res.ThrottleCopy(ctx, need); err != nil {
			return err
		}
		nv, err := s.allocVersion(need)
		if err != nil {
			return err
		}
		nv.slot.RmwCopy(old, delta, rm)

		if e.current.CompareAndSwap(v, nv) {
			s.retire(v)
			s.metrics.OnCopyMerge(need)
			return nil
		}
		s.retire(nv)
	}
}

// Read returns the current value for key. It never blocks: concurrent
// in-place writers are detected via the record's generation counter and
// the snapshot is retried. Returns ErrNotFound when the key has no record.
func (s *Store) Read(key uint64) ([]byte, error) {
	return s.ReadInto(key, nil)
}

// ReadInto is Read appending into dst to avoid allocation.
func (s *Store) ReadInto(key uint64, dst []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	e := s.shardFor(key).lookup(key)
	if e == nil {
		return nil, ErrNotFound
	}
	return e.current.Load().slot.GetAtomic(dst), nil
}

// Len returns the number of keys in the store.
func (s *Store) Len() int {
	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		total += len(sh.entries)
		sh.mu.RUnlock()
	}
	return total
}

// Close releases the slot allocator's memory. It must not run concurrently
// with other operations: buffers handed out by the allocator are unmapped.
// Close is idempotent.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.logger.Debug("store closing", "keys", s.Len())
	return s.arena.Close()
}

// allocVersion carves a zeroed buffer for a new record version out of the
// slot allocator.
func (s *Store) allocVersion(size int) (*version, error) {
	id, buf, err := s.arena.Alloc(size)
	if err != nil {
		s.logger.Error("slot allocation failed", "bytes", size, "error", err)
		return nil, fmt.Errorf("kvgo: allocating %d byte record: %w", size, err)
	}
	s.metrics.OnAllocation(size)
	return &version{slot: record.NewSlot(buf), allocID: id}, nil
}

// retire records that a version's buffer is dead: superseded, or never
// published. The buffer itself is never reused - readers may still hold
// it - so the ledger only feeds Stats until the store is closed.
func (s *Store) retire(v *version) {
	if v.allocID != 0 {
		s.retiredMu.Lock()
		s.retired.Add(v.allocID)
		s.retiredMu.Unlock()
	}
	s.retiredBytes.Add(int64(v.slot.Capacity()))
	s.metrics.OnSlotRetired(v.slot.Capacity())
	s.logger.Debug("record retired", "alloc_id", v.allocID, "capacity", v.slot.Capacity())
}

func (s *Store) shardFor(key uint64) *shard {
	return &s.shards[hash.Mix64(key)&s.mask]
}

func (sh *shard) lookup(key uint64) *entry {
	sh.mu.RLock()
	e := sh.entries[key]
	sh.mu.RUnlock()
	return e
}

// publish installs v as the record for key. When the key already exists,
// the existing entry is returned with inserted=false and v stays
// unpublished.
func (sh *shard) publish(key uint64, v *version) (_ *entry, inserted bool) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e, ok := sh.entries[key]; ok {
		return e, false
	}
	e := &entry{}
	e.current.Store(v)
	sh.entries[key] = e
	return e, true
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
