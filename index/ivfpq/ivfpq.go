// Package ivfpq composes the inverted-file coarse quantizer with product
// quantization: cells prune candidates, codes replace raw vectors.
//
// Vectors are encoded as residuals (vector minus assigned centroid) rather
// than raw values; residuals have smaller magnitude, so the same codebook
// budget yields lower quantization error. Raw vectors are not retained —
// the footprint approaches n*m bytes plus per-cell overhead, versus n*d*4
// bytes uncompressed.
package ivfpq

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/knnlabs/annidx/distance"
	"github.com/knnlabs/annidx/index"
	"github.com/knnlabs/annidx/internal/kmeans"
	"github.com/knnlabs/annidx/internal/queue"
	"github.com/knnlabs/annidx/quantization"
)

// Compile-time check to ensure IVFPQ satisfies the index interface.
var _ index.Index = (*IVFPQ)(nil)

const (
	// DefaultNList is the default number of cells.
	DefaultNList = 100

	// DefaultM is the default number of PQ segments.
	DefaultM = 8

	// DefaultNBits is the default bits per PQ segment code.
	DefaultNBits = 8
)

// Options contains configuration options for the IVFPQ index.
type Options struct {
	// Dimension is the fixed vector dimensionality for this index.
	// It must be divisible by M.
	Dimension int

	// NList is the number of inverted cells (coarse centroids).
	NList int

	// M is the number of product-quantization segments.
	M int

	// NBits is the bits per segment code (codebook size 2^NBits).
	NBits int

	// MaxIter caps the k-means iterations during Train.
	MaxIter int

	// Metric selects the distance function. Only MetricL2 is supported:
	// cell selection and the ADC tables both assume the centroids'
	// squared-L2 geometry.
	Metric distance.Metric

	// RandomSeed fixes the training RNG for reproducible runs.
	// Nil seeds from the clock.
	RandomSeed *int64
}

// DefaultOptions contains the default configuration options for the IVFPQ index.
var DefaultOptions = Options{
	NList:  DefaultNList,
	M:      DefaultM,
	NBits:  DefaultNBits,
	Metric: distance.MetricL2,
}

// entry is one stored vector: its ID and its PQ code within a cell.
type entry struct {
	ID   uint32
	Code []byte
}

// IVFPQ is the compressed inverted-file index.
type IVFPQ struct {
	opts Options
	rng  *rand.Rand

	// Trained state, replaced atomically by Train.
	centroids []float32
	pq        *quantization.ProductQuantizer

	cells  [][]entry
	count  int
	nextID uint32
}

// New creates a new IVFPQ index. Dimension is required and must be divisible
// by M.
func New(optFns ...func(o *Options)) (*IVFPQ, error) {
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
	if opts.M <= 0 {
		opts.M = DefaultM
	}
	if opts.NBits <= 0 {
		opts.NBits = DefaultNBits
	}

	// Validates divisibility and nbits range up front.
	if _, err := quantization.NewProductQuantizer(opts.Dimension, opts.M, opts.NBits); err != nil {
		return nil, err
	}
	if opts.Metric != distance.MetricL2 {
		return nil, fmt.Errorf("ivfpq: %w: %s", index.ErrUnsupportedMetric, opts.Metric)
	}

	seed := time.Now().UnixNano()
	if opts.RandomSeed != nil {
		seed = *opts.RandomSeed
	}

	return &IVFPQ{
		opts: opts,
		rng:  rand.New(rand.NewSource(seed)),
	}, nil
}

// Train fits the coarse quantizer on the raw vectors, then the product
// quantizer on their residuals from the assigned centroids. Either both
// succeed and atomically replace prior trained state, or nothing is
// committed.
//
// Stored codes cannot be re-encoded against new codebooks, so retraining a
// non-empty index is rejected with ErrNotEmpty.
func (ix *IVFPQ) Train(ctx context.Context, vectors [][]float32) error {
	if ix.count > 0 {
		return index.ErrNotEmpty
	}

	dim := ix.opts.Dimension

	flat := make([]float32, 0, len(vectors)*dim)
	for _, v := range vectors {
		if len(v) != dim {
			return &index.ErrDimensionMismatch{Expected: dim, Actual: len(v)}
		}
		flat = append(flat, v...)
	}

	centroids, err := kmeans.Train(ctx, flat, dim, ix.opts.NList, ix.opts.MaxIter, ix.rng)
	if err != nil {
		return err
	}

	// Residuals against the just-fitted centroids become the PQ training set.
	residuals := make([][]float32, len(vectors))
	for i, v := range vectors {
		c := kmeans.Assign(v, centroids, dim)
		residuals[i] = residual(v, centroids[c*dim:(c+1)*dim])
	}

	pq, err := quantization.NewProductQuantizer(dim, ix.opts.M, ix.opts.NBits)
	if err != nil {
		return err
	}
	if err := pq.Train(ctx, residuals, ix.rng); err != nil {
		return err
	}

	ix.centroids = centroids
	ix.pq = pq
	ix.cells = make([][]entry, ix.opts.NList)

	return nil
}

// Trained reports whether both quantizers have been fitted.
func (ix *IVFPQ) Trained() bool { return ix.centroids != nil && ix.pq != nil }

// Add assigns v to its nearest cell and stores only its residual code.
func (ix *IVFPQ) Add(ctx context.Context, v []float32) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !ix.Trained() {
		return 0, index.ErrNotTrained
	}

	dim := ix.opts.Dimension
	if len(v) != dim {
		return 0, &index.ErrDimensionMismatch{Expected: dim, Actual: len(v)}
	}

	c := kmeans.Assign(v, ix.centroids, dim)
	code, err := ix.pq.Encode(residual(v, ix.centroids[c*dim:(c+1)*dim]))
	if err != nil {
		return 0, err
	}

	id := ix.nextID
	ix.nextID++
	ix.count++
	ix.cells[c] = append(ix.cells[c], entry{ID: id, Code: code})

	return id, nil
}

// Search visits the params.NProbe nearest cells. Within each cell the query
// residual against that cell's centroid is turned into a distance table and
// every stored code is ranked by asymmetric distance. Results never match
// flat search exactly, even at full probe: the compression loss is
// irreducible and is the accuracy ceiling of this index kind.
func (ix *IVFPQ) Search(ctx context.Context, q []float32, k int, params *index.SearchParams) ([]index.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if !ix.Trained() {
		return nil, index.ErrNotTrained
	}
	if ix.count == 0 {
		return nil, index.ErrEmptyIndex
	}

	dim := ix.opts.Dimension
	if len(q) != dim {
		return nil, &index.ErrDimensionMismatch{Expected: dim, Actual: len(q)}
	}

	if params == nil {
		params = index.DefaultSearchParams()
	}
	nprobe := 1
	if params.NProbe > 0 {
		nprobe = params.NProbe
	}
	if nprobe > ix.opts.NList {
		nprobe = ix.opts.NList
	}

	probed := kmeans.NearestCentroids(q, ix.centroids, dim, nprobe)

	if k > ix.count {
		k = ix.count
	}

	top := queue.NewMax(k)
	for _, c := range probed {
		if len(ix.cells[c]) == 0 {
			continue
		}

		table, err := ix.pq.BuildDistanceTable(residual(q, ix.centroids[c*dim:(c+1)*dim]))
		if err != nil {
			return nil, err
		}

		for _, e := range ix.cells[c] {
			d := ix.pq.ADCDistance(table, e.Code)
			top.PushBounded(queue.Item{ID: e.ID, Distance: d}, k)
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
func (ix *IVFPQ) Len() int { return ix.count }

// Dimension returns the configured vector dimension.
func (ix *IVFPQ) Dimension() int { return ix.opts.Dimension }

// CodeSize returns the compressed size of one stored vector in bytes.
func (ix *IVFPQ) CodeSize() int { return ix.opts.M }

// residual returns v - centroid.
func residual(v, centroid []float32) []float32 {
	out := make([]float32, len(v))
	for i := range v {
		out[i] = v[i] - centroid[i]
	}
	return out
}
