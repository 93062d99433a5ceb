// Package annidx provides an embedded approximate nearest neighbor (ANN)
// search engine for Go.
//
// It supports four index kinds behind one facade:
//
//   - Flat: exhaustive exact search, the correctness baseline
//   - IVF: inverted-file index over coarse k-means cells
//   - IVFPQ: inverted file with product-quantized residual codes
//   - HNSW: hierarchical small-world graph
//
// # Quick start
//
//	ctx := context.Background()
//	eng, err := annidx.New(annidx.KindIVF, 128,
//	    annidx.WithNList(256),
//	    annidx.WithRandomSeed(42),
//	)
//	if err != nil {
//	    panic(err)
//	}
//
//	if err := eng.Train(ctx, trainingVectors); err != nil {
//	    panic(err)
//	}
//	ids, err := eng.AddBatch(ctx, vectors)
//	results, err := eng.Search(ctx, query, 10, func(o *annidx.SearchOptions) {
//	    o.NProbe = 8
//	})
//
// Engines are safe for concurrent use: searches run in parallel with each
// other, while Train and Add take exclusive access.
package annidx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knnlabs/annidx/blobstore"
	"github.com/knnlabs/annidx/index"
	"github.com/knnlabs/annidx/index/flat"
	"github.com/knnlabs/annidx/index/hnsw"
	"github.com/knnlabs/annidx/index/ivf"
	"github.com/knnlabs/annidx/index/ivfpq"
	"github.com/knnlabs/annidx/persistence"
	"github.com/knnlabs/annidx/resource"
)

// Kind identifies the index structure behind an Engine. The value is stable
// and recorded in snapshot headers.
type Kind uint8

const (
	// KindFlat is exhaustive exact search.
	KindFlat Kind = 0
	// KindIVF is an inverted file over coarse k-means cells.
	KindIVF Kind = 1
	// KindIVFPQ is an inverted file with product-quantized residuals.
	KindIVFPQ Kind = 2
	// KindHNSW is a hierarchical navigable small-world graph.
	KindHNSW Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindFlat:
		return "flat"
	case KindIVF:
		return "ivf"
	case KindIVFPQ:
		return "ivfpq"
	case KindHNSW:
		return "hnsw"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// SearchResult represents a single search hit.
type SearchResult = index.SearchResult

// SearchOptions contains per-call search tuning.
type SearchOptions struct {
	// NProbe is the number of inverted cells to visit (IVF, IVFPQ).
	// Zero means the index default.
	NProbe int

	// EF is the size of the dynamic candidate list (HNSW).
	// Zero means the engine default; values below k are raised to k.
	EF int
}

// Engine is a thread-safe facade over a single index.
//
// Concurrency follows a reader/writer discipline: Search (and SearchBatch)
// hold a read lock, Train/Add/AddBatch hold the write lock. The inner index
// implementations themselves are not synchronized.
type Engine struct {
	mu     sync.RWMutex
	kind   Kind
	inner  index.Index
	logger *Logger

	compression persistence.Compression
	resource    *resource.Controller
	defaultEF   int
}

// New creates an empty engine of the given kind and dimension.
func New(kind Kind, dimension int, optFns ...Option) (*Engine, error) {
	opts := applyOptions(optFns)

	inner, err := newInner(kind, dimension, opts)
	if err != nil {
		return nil, translateError(err)
	}

	return &Engine{
		kind:        kind,
		inner:       inner,
		logger:      opts.logger,
		compression: opts.compression,
		resource:    opts.resource,
		defaultEF:   opts.ef,
	}, nil
}

func newInner(kind Kind, dimension int, opts options) (index.Index, error) {
	switch kind {
	case KindFlat:
		return flat.New(func(o *flat.Options) {
			o.Dimension = dimension
			o.Metric = opts.metric
		})

	case KindIVF:
		return ivf.New(func(o *ivf.Options) {
			o.Dimension = dimension
			o.Metric = opts.metric
			o.RandomSeed = opts.randomSeed
			if opts.nlist > 0 {
				o.NList = opts.nlist
			}
			if opts.maxIter > 0 {
				o.MaxIter = opts.maxIter
			}
		})

	case KindIVFPQ:
		return ivfpq.New(func(o *ivfpq.Options) {
			o.Dimension = dimension
			o.Metric = opts.metric
			o.RandomSeed = opts.randomSeed
			if opts.nlist > 0 {
				o.NList = opts.nlist
			}
			if opts.maxIter > 0 {
				o.MaxIter = opts.maxIter
			}
			if opts.pqM > 0 {
				o.M = opts.pqM
			}
			if opts.pqNBits > 0 {
				o.NBits = opts.pqNBits
			}
		})

	case KindHNSW:
		return hnsw.New(func(o *hnsw.Options) {
			o.Dimension = dimension
			o.Metric = opts.metric
			o.RandomSeed = opts.randomSeed
			if opts.graphM > 0 {
				o.M = opts.graphM
			}
			if opts.ef > 0 {
				o.EF = opts.ef
			}
			if opts.heuristic != nil {
				o.Heuristic = *opts.heuristic
			}
		})

	default:
		return nil, &ErrUnknownKind{Kind: kind}
	}
}

// Kind returns the index kind behind the engine.
func (e *Engine) Kind() Kind { return e.kind }

// Dimension returns the configured vector dimension.
func (e *Engine) Dimension() int { return e.inner.Dimension() }

// Len returns the number of stored vectors.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.inner.Len()
}

// Trained reports whether the engine is ready for Add and Search.
func (e *Engine) Trained() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.inner.Trained()
}

// Train fits the index structure (centroids, codebooks) from the given
// vectors. Training either fully succeeds or leaves the engine unchanged.
func (e *Engine) Train(ctx context.Context, vectors [][]float32) error {
	start := time.Now()

	e.mu.Lock()
	err := translateError(e.inner.Train(ctx, vectors))
	e.mu.Unlock()

	e.logger.LogTrain(ctx, e.kind, len(vectors), err)
	if err == nil {
		e.logger.DebugContext(ctx, "train timing", "duration", time.Since(start))
	}

	return err
}

// Add appends a single vector and returns its assigned ID.
// IDs are sequential in insertion order and never reused.
func (e *Engine) Add(ctx context.Context, v []float32) (uint32, error) {
	e.mu.Lock()
	id, err := e.inner.Add(ctx, v)
	e.mu.Unlock()

	err = translateError(err)
	e.logger.LogAdd(ctx, id, len(v), err)

	return id, err
}

// AddBatch appends vectors in order and returns their assigned IDs.
//
// All vectors are validated before any is added, so a dimension mismatch in
// the middle of the batch rejects the whole batch instead of leaving a
// partial insert behind.
func (e *Engine) AddBatch(ctx context.Context, vectors [][]float32) ([]uint32, error) {
	dim := e.inner.Dimension()
	for _, v := range vectors {
		if len(v) != dim {
			err := translateError(&index.ErrDimensionMismatch{Expected: dim, Actual: len(v)})
			e.logger.LogBatchAdd(ctx, len(vectors), err)
			return nil, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]uint32, 0, len(vectors))
	for _, v := range vectors {
		if err := ctx.Err(); err != nil {
			return ids, err
		}

		id, err := e.inner.Add(ctx, v)
		if err != nil {
			err = translateError(err)
			e.logger.LogBatchAdd(ctx, len(vectors), err)
			return ids, err
		}
		ids = append(ids, id)
	}

	e.logger.LogBatchAdd(ctx, len(vectors), nil)

	return ids, nil
}

// Search returns the k nearest stored vectors to q, ascending by distance.
// Ties resolve by lower ID (insertion order).
func (e *Engine) Search(ctx context.Context, q []float32, k int, optFns ...func(o *SearchOptions)) ([]SearchResult, error) {
	params := e.searchParams(optFns)

	if err := e.resource.AcquireSearch(ctx); err != nil {
		return nil, err
	}
	defer e.resource.ReleaseSearch()

	e.mu.RLock()
	results, err := e.inner.Search(ctx, q, k, params)
	e.mu.RUnlock()

	err = translateError(err)
	e.logger.LogSearch(ctx, k, len(results), err)

	return results, err
}

// SearchBatch evaluates queries in parallel and returns per-query results in
// input order. Parallelism is bounded by the resource controller, if one is
// configured, otherwise by GOMAXPROCS.
//
// The first query error cancels the remaining queries and is returned.
func (e *Engine) SearchBatch(ctx context.Context, queries [][]float32, k int, optFns ...func(o *SearchOptions)) ([][]SearchResult, error) {
	params := e.searchParams(optFns)

	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([][]SearchResult, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	if e.resource != nil {
		g.SetLimit(e.resource.SearchConcurrency())
	} else {
		g.SetLimit(runtime.GOMAXPROCS(0))
	}

	for i, q := range queries {
		g.Go(func() error {
			if err := e.resource.AcquireSearch(gctx); err != nil {
				return err
			}
			defer e.resource.ReleaseSearch()

			r, err := e.inner.Search(gctx, q, k, params)
			if err != nil {
				return fmt.Errorf("query %d: %w", i, translateError(err))
			}
			results[i] = r

			return nil
		})
	}

	err := g.Wait()
	e.logger.LogSearch(ctx, k, len(queries), err)
	if err != nil {
		return nil, err
	}

	return results, nil
}

func (e *Engine) searchParams(optFns []func(o *SearchOptions)) *index.SearchParams {
	opts := SearchOptions{EF: e.defaultEF}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &index.SearchParams{
		NProbe: opts.NProbe,
		EF:     opts.EF,
	}
}

// Save writes a framed snapshot of the engine to w. The snapshot records the
// index kind, so Load can reconstruct the engine without further hints.
func (e *Engine) Save(w io.Writer) error {
	e.mu.RLock()
	payload, err := e.inner.GobEncode()
	e.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("annidx: encode index: %w", err)
	}

	return persistence.Write(w, uint8(e.kind), payload, e.compression)
}

// SaveToFile saves a snapshot to a file, replacing any previous content.
func (e *Engine) SaveToFile(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := e.Save(f); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// Load reconstructs an engine from a snapshot written by Save.
//
// Structural parameters (kind, dimension, metric, index shape) come from the
// snapshot; options passed here configure runtime concerns such as logging,
// the resource controller, and the compression of future saves.
func Load(r io.Reader, optFns ...Option) (*Engine, error) {
	opts := applyOptions(optFns)

	kindByte, payload, err := persistence.Read(r)
	if err != nil {
		return nil, err
	}

	kind := Kind(kindByte)

	var inner index.Index
	switch kind {
	case KindFlat:
		inner = new(flat.Flat)
	case KindIVF:
		inner = new(ivf.IVF)
	case KindIVFPQ:
		inner = new(ivfpq.IVFPQ)
	case KindHNSW:
		inner = new(hnsw.HNSW)
	default:
		return nil, &ErrUnknownKind{Kind: kind}
	}

	if err := inner.GobDecode(payload); err != nil {
		return nil, fmt.Errorf("annidx: decode %s snapshot: %w", kind, err)
	}

	return &Engine{
		kind:        kind,
		inner:       inner,
		logger:      opts.logger,
		compression: opts.compression,
		resource:    opts.resource,
		defaultEF:   opts.ef,
	}, nil
}

// LoadFromFile reconstructs an engine from a snapshot file.
func LoadFromFile(filename string, optFns ...Option) (*Engine, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Load(f, optFns...)
}

// SaveToBlob writes a snapshot to a blob store under the given key.
// Uploads respect the resource controller's IO limit.
func (e *Engine) SaveToBlob(ctx context.Context, store blobstore.Store, key string) error {
	var buf bytes.Buffer
	if err := e.Save(&buf); err != nil {
		e.logger.LogSnapshot(ctx, key, 0, err)
		return err
	}

	size := buf.Len()
	if err := e.resource.AcquireIO(ctx, size); err != nil {
		return err
	}

	err := store.Put(ctx, key, &buf)
	e.logger.LogSnapshot(ctx, key, size, err)

	return err
}

// LoadFromBlob reconstructs an engine from a snapshot stored under key.
func LoadFromBlob(ctx context.Context, store blobstore.Store, key string, optFns ...Option) (*Engine, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	eng, err := Load(rc, optFns...)
	if err != nil {
		return nil, fmt.Errorf("annidx: load blob %s: %w", key, err)
	}

	return eng, nil
}
