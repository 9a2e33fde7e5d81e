package timedeque

// deques configured via New hold these settings; see Option.
type deqOptions struct {
	logger           Logger
	metricsEnabled   bool
	delayedTableSize int
	maxThreads       int
	nodePool         bool
}

// Option configures a Deque instance constructed by New.
type Option interface {
	apply(*deqOptions)
}

type optionFunc func(*deqOptions)

func (f optionFunc) apply(o *deqOptions) { f(o) }

// WithLogger attaches a structured Logger to the deque. The deque emits
// "push" entries (debug, one per insert) and "fault" entries (error, a
// detected cycle). The default is a NoOpLogger.
func WithLogger(l Logger) Option {
	return optionFunc(func(o *deqOptions) {
		if l != nil {
			o.logger = l
		}
	})
}

// WithMetrics enables collection of the Metrics snapshot returned by
// Deque.Metrics. Disabled by default, so the push/pop paths skip the
// counter updates and scan-latency recording.
func WithMetrics(enabled bool) Option {
	return optionFunc(func(o *deqOptions) {
		o.metricsEnabled = enabled
	})
}

// WithDelayedTableSize sets the per-buffer capacity of the delayed
// garbage-node table. The default is 20.
func WithDelayedTableSize(size int) Option {
	return optionFunc(func(o *deqOptions) {
		if size > 0 {
			o.delayedTableSize = size
		}
	})
}

// WithMaxThreads bounds how many goroutines may simultaneously hold a
// bound Handle (and therefore a hazard-pointer slot set). Bind returns
// ErrThreadSlotExhausted once this many goroutines are concurrently
// bound. The default is 256.
func WithMaxThreads(n int) Option {
	return optionFunc(func(o *deqOptions) {
		if n > 0 {
			o.maxThreads = n
		}
	})
}

// WithNodePool enables sync.Pool-backed recycling of internal buffer
// nodes once they clear hazard-pointer reclamation, reducing allocator
// pressure under high push/pop throughput. Disabled by default.
func WithNodePool(enabled bool) Option {
	return optionFunc(func(o *deqOptions) {
		o.nodePool = enabled
	})
}

// resolveOptions applies opts over the package defaults, skipping nils.
func resolveOptions(opts []Option) *deqOptions {
	cfg := &deqOptions{
		logger:           NewNoOpLogger(),
		delayedTableSize: 20,
		maxThreads:       256,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(cfg)
	}
	return cfg
}
