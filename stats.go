package kvgo

// Stats is a point-in-time snapshot of store resource usage.
type Stats struct {
	// Keys is the number of keys currently indexed.
	Keys int

	// RetiredSlots counts record buffers that have been permanently
	// superseded and are kept only for readers that may still hold them.
	RetiredSlots uint64

	// RetiredBytes is the capacity held by retired record buffers.
	RetiredBytes int64

	// MemoryUsed is the slot allocator's mapped memory in bytes.
	MemoryUsed int64

	// AllocatorChunks is the total number of allocator chunks ever
	// mapped.
	AllocatorChunks uint64

	// AllocatorUsed is the number of bytes handed out for record
	// buffers, live and retired.
	AllocatorUsed uint64

	// AllocatorAllocs is the cumulative record buffer allocation count.
	AllocatorAllocs uint64
}

// Stats returns a snapshot of resource usage. Counters taken from
// concurrent writers are individually consistent, not mutually.
func (s *Store) Stats() Stats {
	s.retiredMu.Lock()
	retired := s.retired.GetCardinality()
	s.retiredMu.Unlock()

	as := s.arena.Stats()

	return Stats{
		Keys:            s.Len(),
		RetiredSlots:    retired,
		RetiredBytes:    s.retiredBytes.Load(),
		MemoryUsed:      s.res.MemoryUsage(),
		AllocatorChunks: as.ChunksAllocated,
		AllocatorUsed:   as.BytesUsed,
		AllocatorAllocs: as.TotalAllocs,
	}
}
