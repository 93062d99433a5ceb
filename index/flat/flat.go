// Package flat provides the exact, exhaustive-search index.
package flat

import (
	"context"

	"github.com/knnlabs/annidx/distance"
	"github.com/knnlabs/annidx/index"
	"github.com/knnlabs/annidx/internal/queue"
	"github.com/knnlabs/annidx/vectorstore"
)

// Compile-time check to ensure Flat satisfies the index interface.
var _ index.Index = (*Flat)(nil)

// Options contains configuration options for the flat index.
type Options struct {
	// Dimension is the fixed vector dimensionality for this index.
	Dimension int

	// Metric selects the distance function.
	Metric distance.Metric
}

// DefaultOptions contains the default configuration options for the flat index.
var DefaultOptions = Options{
	Metric: distance.MetricL2,
}

// Flat is an exhaustive-search index: every query is compared against every
// stored vector. O(n*d) per query, exact by construction.
type Flat struct {
	opts     Options
	distFunc distance.Func
	vectors  *vectorstore.Store
}

// New creates a new flat index. Dimension is required.
func New(optFns ...func(o *Options)) (*Flat, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := index.ValidateDimension(opts.Dimension); err != nil {
		return nil, err
	}
	distFunc, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	return &Flat{
		opts:     opts,
		distFunc: distFunc,
		vectors:  vectorstore.New(opts.Dimension),
	}, nil
}

// Train is a no-op: the flat index is stateless beyond its vectors.
func (f *Flat) Train(ctx context.Context, vectors [][]float32) error {
	return ctx.Err()
}

// Trained always reports true.
func (f *Flat) Trained() bool { return true }

// Add appends a vector and returns its assigned ID.
func (f *Flat) Add(ctx context.Context, v []float32) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return f.vectors.Add(v)
}

// Get returns the stored vector for id.
func (f *Flat) Get(id uint32) ([]float32, error) {
	return f.vectors.Get(id)
}

// Search performs an exhaustive k-nearest neighbor search.
// Results are ascending by distance; ties resolve by insertion order. The
// returned set is provably the true k nearest under the configured metric.
func (f *Flat) Search(ctx context.Context, q []float32, k int, _ *index.SearchParams) ([]index.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, index.ErrInvalidK
	}

	n := f.vectors.Len()
	if n == 0 {
		return nil, index.ErrEmptyIndex
	}
	if len(q) != f.opts.Dimension {
		return nil, &index.ErrDimensionMismatch{Expected: f.opts.Dimension, Actual: len(q)}
	}

	if k > n {
		k = n
	}

	top := queue.NewMax(k)
	for id := uint32(0); int(id) < n; id++ {
		d := f.distFunc(q, f.vectors.At(id))
		top.PushBounded(queue.Item{ID: id, Distance: d}, k)
	}

	return toResults(top.Drain()), nil
}

// Len returns the number of stored vectors.
func (f *Flat) Len() int { return f.vectors.Len() }

// Dimension returns the configured vector dimension.
func (f *Flat) Dimension() int { return f.opts.Dimension }

func toResults(items []queue.Item) []index.SearchResult {
	out := make([]index.SearchResult, len(items))
	for i, it := range items {
		out[i] = index.SearchResult{ID: it.ID, Distance: it.Distance}
	}
	return out
}
