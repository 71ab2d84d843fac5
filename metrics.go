package kvgo

// MetricsObserver defines the interface for observing store events.
type MetricsObserver interface {
	// OnInitialWrite is called when a fresh record is written for a key
	// with no prior value.
	OnInitialWrite(bytes int)

	// OnInPlaceUpdate is called when an upsert or RMW commits in place.
	OnInPlaceUpdate(bytes int)

	// OnCopyMerge is called when an RMW falls back to merging into a
	// newly allocated record.
	OnCopyMerge(bytes int)

	// OnSlotRetired is called when a record is permanently superseded,
	// reporting the capacity its buffer leaves behind.
	OnSlotRetired(capacity int)

	// OnAllocation is called when a new record buffer is carved out of
	// the slot allocator.
	OnAllocation(bytes int)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (o *NoopMetricsObserver) OnInitialWrite(bytes int)   {}
func (o *NoopMetricsObserver) OnInPlaceUpdate(bytes int)  {}
func (o *NoopMetricsObserver) OnCopyMerge(bytes int)      {}
func (o *NoopMetricsObserver) OnSlotRetired(capacity int) {}
func (o *NoopMetricsObserver) OnAllocation(bytes int)     {}
