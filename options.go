package annidx

import (
	"log/slog"

	"github.com/knnlabs/annidx/distance"
	"github.com/knnlabs/annidx/persistence"
	"github.com/knnlabs/annidx/resource"
)

type options struct {
	metric      distance.Metric
	randomSeed  *int64
	logger      *Logger
	compression persistence.Compression
	resource    *resource.Controller

	// IVF / IVFPQ
	nlist   int
	maxIter int

	// IVFPQ
	pqM     int
	pqNBits int

	// HNSW
	graphM    int
	ef        int
	heuristic *bool
}

// Option configures the engine constructor and Load.
type Option func(*options)

// WithMetric sets the distance metric. Default: squared Euclidean.
// IVF and IVFPQ indexes support only the default; New returns
// ErrUnsupportedMetric for anything else.
func WithMetric(m distance.Metric) Option {
	return func(o *options) {
		o.metric = m
	}
}

// WithRandomSeed fixes the RNG seed used for centroid sampling and level
// draws, making Train and graph construction reproducible.
func WithRandomSeed(seed int64) Option {
	return func(o *options) {
		o.randomSeed = &seed
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithCompression sets the snapshot payload codec. Default: none.
func WithCompression(c persistence.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithResource attaches a resource controller bounding batched search
// concurrency and snapshot IO throughput.
func WithResource(c *resource.Controller) Option {
	return func(o *options) {
		o.resource = c
	}
}

// WithNList sets the number of coarse cells for IVF and IVFPQ indexes.
func WithNList(nlist int) Option {
	return func(o *options) {
		o.nlist = nlist
	}
}

// WithKMeansIterations caps the k-means iterations used during Train.
func WithKMeansIterations(maxIter int) Option {
	return func(o *options) {
		o.maxIter = maxIter
	}
}

// WithPQ sets the product quantization shape for IVFPQ indexes: m segments
// of nbits-wide codes each.
func WithPQ(m, nbits int) Option {
	return func(o *options) {
		o.pqM = m
		o.pqNBits = nbits
	}
}

// WithGraphM sets the connectivity of HNSW indexes.
func WithGraphM(m int) Option {
	return func(o *options) {
		o.graphM = m
	}
}

// WithEF sets the default candidate list size for HNSW searches.
// Per-call values take precedence.
func WithEF(ef int) Option {
	return func(o *options) {
		o.ef = ef
	}
}

// WithHeuristic toggles diversity-aware neighbor selection during HNSW
// construction. Enabled by default.
func WithHeuristic(enabled bool) Option {
	return func(o *options) {
		o.heuristic = &enabled
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metric: distance.MetricL2,
		logger: NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
