// Package ivf provides the inverted-file index: a coarse k-means quantizer
// partitions the vector space into cells, and a search visits only the
// nprobe cells whose centroids are closest to the query.
package ivf

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/knnlabs/annidx/distance"
	"github.com/knnlabs/annidx/index"
	"github.com/knnlabs/annidx/internal/kmeans"
	"github.com/knnlabs/annidx/internal/queue"
	"github.com/knnlabs/annidx/vectorstore"
)

// Compile-time check to ensure IVF satisfies the index interface.
var _ index.Index = (*IVF)(nil)

const (
	// DefaultNList is the default number of cells.
	DefaultNList = 100

	// DefaultNProbe is the number of cells visited when the caller does not
	// set one. nprobe=1 is the fastest and least accurate setting; raising
	// it toward NList converges on exact flat-search results.
	DefaultNProbe = 1
)

// Options contains configuration options for the IVF index.
type Options struct {
	// Dimension is the fixed vector dimensionality for this index.
	Dimension int

	// NList is the number of inverted cells (coarse centroids).
	NList int

	// MaxIter caps the k-means iterations during Train.
	MaxIter int

	// Metric selects the distance function. Only MetricL2 is supported:
	// the cells are fitted with Lloyd's k-means, so assignment and probe
	// selection share the centroids' squared-L2 geometry.
	Metric distance.Metric

	// RandomSeed fixes the training RNG for reproducible runs.
	// Nil seeds from the clock.
	RandomSeed *int64
}

// DefaultOptions contains the default configuration options for the IVF index.
var DefaultOptions = Options{
	NList:  DefaultNList,
	Metric: distance.MetricL2,
}

// IVF is the inverted-file index. Each stored vector belongs to exactly one
// cell; cell membership is a roaring bitmap of vector IDs.
type IVF struct {
	opts     Options
	distFunc distance.Func
	rng      *rand.Rand

	// Trained state. Replaced atomically by Train; nil centroids means
	// untrained.
	centroids []float32
	cells     []*roaring.Bitmap

	vectors *vectorstore.Store
}

// New creates a new IVF index. Dimension is required.
func New(optFns ...func(o *Options)) (*IVF, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := index.ValidateDimension(opts.Dimension); err != nil {
		return nil, err
	}
	if opts.NList <= 0 {
		opts.NList = DefaultNList
	}
	if opts.Metric != distance.MetricL2 {
		return nil, fmt.Errorf("ivf: %w: %s", index.ErrUnsupportedMetric, opts.Metric)
	}
	distFunc, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	seed := time.Now().UnixNano()
	if opts.RandomSeed != nil {
		seed = *opts.RandomSeed
	}

	return &IVF{
		opts:     opts,
		distFunc: distFunc,
		rng:      rand.New(rand.NewSource(seed)),
		vectors:  vectorstore.New(opts.Dimension),
	}, nil
}

// Train fits the coarse quantizer from the given vectors. On success the new
// centroids atomically replace any prior ones and previously added vectors
// are reassigned to the new cells; on failure prior state is untouched.
func (ivf *IVF) Train(ctx context.Context, vectors [][]float32) error {
	flat, err := flatten(vectors, ivf.opts.Dimension)
	if err != nil {
		return err
	}

	centroids, err := kmeans.Train(ctx, flat, ivf.opts.Dimension, ivf.opts.NList, ivf.opts.MaxIter, ivf.rng)
	if err != nil {
		return err
	}

	cells := newCells(ivf.opts.NList)
	for id := uint32(0); int(id) < ivf.vectors.Len(); id++ {
		c := kmeans.Assign(ivf.vectors.At(id), centroids, ivf.opts.Dimension)
		cells[c].Add(id)
	}

	ivf.centroids = centroids
	ivf.cells = cells

	return nil
}

// Trained reports whether the coarse quantizer has been fitted.
func (ivf *IVF) Trained() bool { return ivf.centroids != nil }

// Add assigns v to its nearest cell and stores it.
func (ivf *IVF) Add(ctx context.Context, v []float32) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !ivf.Trained() {
		return 0, index.ErrNotTrained
	}

	id, err := ivf.vectors.Add(v)
	if err != nil {
		return 0, err
	}

	c := kmeans.Assign(v, ivf.centroids, ivf.opts.Dimension)
	ivf.cells[c].Add(id)

	return id, nil
}

// Search visits the params.NProbe cells nearest to q and ranks their members
// by exact distance. With NProbe >= NList the candidate set is the whole
// index and results match flat search exactly; with small NProbe true
// neighbors near cell boundaries may be missed, which is the intended
// accuracy/speed trade-off.
func (ivf *IVF) Search(ctx context.Context, q []float32, k int, params *index.SearchParams) ([]index.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if !ivf.Trained() {
		return nil, index.ErrNotTrained
	}
	if ivf.vectors.Len() == 0 {
		return nil, index.ErrEmptyIndex
	}
	if len(q) != ivf.opts.Dimension {
		return nil, &index.ErrDimensionMismatch{Expected: ivf.opts.Dimension, Actual: len(q)}
	}

	if params == nil {
		params = index.DefaultSearchParams()
	}
	nprobe := DefaultNProbe
	if params.NProbe > 0 {
		nprobe = params.NProbe
	}
	if nprobe > ivf.opts.NList {
		nprobe = ivf.opts.NList
	}

	probed := kmeans.NearestCentroids(q, ivf.centroids, ivf.opts.Dimension, nprobe)

	if k > ivf.vectors.Len() {
		k = ivf.vectors.Len()
	}

	top := queue.NewMax(k)
	for _, c := range probed {
		it := ivf.cells[c].Iterator()
		for it.HasNext() {
			id := it.Next()
			d := ivf.distFunc(q, ivf.vectors.At(id))
			top.PushBounded(queue.Item{ID: id, Distance: d}, k)
		}
	}

	items := top.Drain()
	out := make([]index.SearchResult, len(items))
	for i, item := range items {
		out[i] = index.SearchResult{ID: item.ID, Distance: item.Distance}
	}

	return out, nil
}

// Len returns the number of stored vectors.
func (ivf *IVF) Len() int { return ivf.vectors.Len() }

// Dimension returns the configured vector dimension.
func (ivf *IVF) Dimension() int { return ivf.opts.Dimension }

// NList returns the number of cells.
func (ivf *IVF) NList() int { return ivf.opts.NList }

// CellSize returns the number of vectors assigned to cell c.
func (ivf *IVF) CellSize(c int) int {
	if !ivf.Trained() || c < 0 || c >= len(ivf.cells) {
		return 0
	}
	return int(ivf.cells[c].GetCardinality())
}

func newCells(n int) []*roaring.Bitmap {
	cells := make([]*roaring.Bitmap, n)
	for i := range cells {
		cells[i] = roaring.New()
	}
	return cells
}

// flatten validates dimensions and concatenates vectors into one slice.
func flatten(vectors [][]float32, dim int) ([]float32, error) {
	out := make([]float32, 0, len(vectors)*dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, &index.ErrDimensionMismatch{Expected: dim, Actual: len(v)}
		}
		out = append(out, v...)
	}
	return out, nil
}
