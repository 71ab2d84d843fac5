package kvgo

// Option configures a Store at construction time.
type Option func(*config)

type config struct {
	shards               int
	chunkSize            int
	logger               *Logger
	metrics              MetricsObserver
	memoryLimitBytes     int64
	maxConcurrentWriters int64
	copyLimitBytesPerSec int64
}

// WithShards sets the number of index shards, rounded up to a power of two.
// More shards reduce index lock contention for key-disjoint workloads.
// Default: 16.
func WithShards(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.shards = n
		}
	}
}

// WithChunkSize sets the slot allocator's chunk size in bytes, rounded up
// to a power of two. Default: 1MB.
func WithChunkSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithLogger sets the logger. Default: NoopLogger().
func WithLogger(l *Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics observer. Default: NoopMetricsObserver.
func WithMetrics(m MetricsObserver) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithMemoryLimit caps the slot allocator's mapped memory. Writes that
// would grow past the limit fail. Default: unlimited (usage still tracked).
func WithMemoryLimit(bytes int64) Option {
	return func(c *config) {
		c.memoryLimitBytes = bytes
	}
}

// WithMaxConcurrentWriters bounds how many mutators are admitted to the
// record protocols at once, limiting generation-lock contention.
// Default: unlimited.
func WithMaxConcurrentWriters(n int64) Option {
	return func(c *config) {
		c.maxConcurrentWriters = n
	}
}

// WithCopyRateLimit throttles copy-based record reallocation (growth and
// copy-merge paths) to the given bytes per second. Default: unlimited.
func WithCopyRateLimit(bytesPerSec int64) Option {
	return func(c *config) {
		c.copyLimitBytesPerSec = bytesPerSec
	}
}
