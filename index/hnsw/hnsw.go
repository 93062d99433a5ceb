// Package hnsw implements a Hierarchical Navigable Small World graph for
// approximate nearest neighbor search.
//
// Nodes are assigned to layers with an exponentially decaying probability;
// search greedily descends from the sparse top layers and runs a bounded
// best-first expansion at layer 0. Lower M trades search quality for memory
// and build time; the trade-off is monotonic.
package hnsw

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/knnlabs/annidx/distance"
	"github.com/knnlabs/annidx/index"
	"github.com/knnlabs/annidx/internal/queue"
	"github.com/knnlabs/annidx/vectorstore"
)

// Compile-time check to ensure HNSW satisfies the index interface.
var _ index.Index = (*HNSW)(nil)

const (
	// DefaultM is the default number of bidirectional links per node.
	DefaultM = 16

	// DefaultEF is the default size of the dynamic candidate list.
	DefaultEF = 100

	// minimumM avoids a division by zero in the layer multiplier.
	minimumM = 2

	// mmax0Multiplier doubles the connection budget at layer 0.
	mmax0Multiplier = 2
)

// Options contains configuration options for the HNSW index.
type Options struct {
	// Dimension is the fixed vector dimensionality for this index.
	Dimension int

	// M is the number of established connections per node and layer.
	// 12-48 covers most use cases; higher M suits high intrinsic
	// dimensionality and high recall targets.
	M int

	// EF is the construction-time candidate list size, and the search
	// default when the caller does not set one per call.
	EF int

	// Heuristic selects diversity-aware neighbor selection instead of
	// plain nearest-M.
	Heuristic bool

	// Metric selects the distance function.
	Metric distance.Metric

	// RandomSeed fixes the layer RNG for reproducible graphs.
	// Nil seeds from the clock.
	RandomSeed *int64
}

// DefaultOptions contains the default configuration options for the HNSW index.
var DefaultOptions = Options{
	M:         DefaultM,
	EF:        DefaultEF,
	Heuristic: true,
	Metric:    distance.MetricL2,
}

// node is one graph vertex: per-layer bounded neighbor lists.
type node struct {
	ID    uint32
	Layer int
	Conns [][]uint32 // Conns[l] are the neighbors at layer l, l <= Layer
}

// HNSW is the multi-layer proximity graph index.
type HNSW struct {
	opts     Options
	distFunc distance.Func

	mmax  int     // max connections per node at layers > 0
	mmax0 int     // max connections per node at layer 0
	ml    float64 // layer assignment multiplier: 1/ln(M)

	entry    uint32 // entry point, valid when maxLayer >= 0
	maxLayer int    // -1 while the graph is empty

	nodes   []*node
	vectors *vectorstore.Store

	rng *rand.Rand
}

// New creates a new HNSW index. Dimension is required.
func New(optFns ...func(o *Options)) (*HNSW, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := index.ValidateDimension(opts.Dimension); err != nil {
		return nil, err
	}
	if opts.M < minimumM {
		opts.M = minimumM
	}
	if opts.EF <= 0 {
		opts.EF = DefaultEF
	}
	distFunc, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	seed := time.Now().UnixNano()
	if opts.RandomSeed != nil {
		seed = *opts.RandomSeed
	}

	return &HNSW{
		opts:     opts,
		distFunc: distFunc,
		mmax:     opts.M,
		mmax0:    mmax0Multiplier * opts.M,
		ml:       1 / math.Log(float64(opts.M)),
		maxLayer: -1,
		vectors:  vectorstore.New(opts.Dimension),
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// Train is a no-op: the graph is built incrementally by Add.
func (h *HNSW) Train(ctx context.Context, vectors [][]float32) error {
	return ctx.Err()
}

// Trained always reports true.
func (h *HNSW) Trained() bool { return true }

// randomLayer draws a layer with P(layer >= l) = exp(-l/ml).
func (h *HNSW) randomLayer() int {
	u := h.rng.Float64()
	for u == 0 {
		u = h.rng.Float64()
	}
	return int(math.Floor(-math.Log(u) * h.ml))
}

// Add inserts v as a new graph node, connecting it to its nearest reachable
// neighbors on every layer it participates in and pruning any neighbor that
// would exceed its degree bound.
func (h *HNSW) Add(ctx context.Context, v []float32) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	id, err := h.vectors.Add(v)
	if err != nil {
		return 0, err
	}
	vec := h.vectors.At(id)

	layer := h.randomLayer()
	n := &node{
		ID:    id,
		Layer: layer,
		Conns: make([][]uint32, layer+1),
	}

	if h.maxLayer < 0 {
		h.nodes = append(h.nodes, n)
		h.entry = id
		h.maxLayer = layer
		return id, nil
	}

	ep := h.entry
	epDist := h.distFunc(vec, h.vectors.At(ep))

	// Greedy descent through the layers above the new node.
	for level := h.maxLayer; level > layer; level-- {
		ep, epDist = h.greedyStep(vec, ep, epDist, level)
	}

	// On each shared layer, run a bounded best-first search and connect.
	for level := min(layer, h.maxLayer); level >= 0; level-- {
		candidates := h.searchLayer(vec, ep, epDist, h.opts.EF, level)

		n.Conns[level] = h.selectNeighbors(vec, candidates, h.opts.M)

		// Carry the closest candidate down as the next entry point.
		if len(candidates) > 0 {
			ep = candidates[0].ID
			epDist = candidates[0].Distance
		}
	}

	h.nodes = append(h.nodes, n)

	// Backlinks, with degree-bound enforcement on the neighbor side.
	for level := min(layer, h.maxLayer); level >= 0; level-- {
		for _, neighbor := range n.Conns[level] {
			h.link(neighbor, id, level)
		}
	}

	if layer > h.maxLayer {
		h.entry = id
		h.maxLayer = layer
	}

	return id, nil
}

// greedyStep walks level-local edges toward q until no neighbor improves.
func (h *HNSW) greedyStep(q []float32, ep uint32, epDist float32, level int) (uint32, float32) {
	for {
		improved := false

		cur := h.nodes[ep]
		if level < len(cur.Conns) {
			for _, nb := range cur.Conns[level] {
				d := h.distFunc(q, h.vectors.At(nb))
				if d < epDist {
					ep = nb
					epDist = d
					improved = true
				}
			}
		}

		if !improved {
			return ep, epDist
		}
	}
}

// searchLayer runs a best-first expansion bounded by ef at the given level
// and returns up to ef candidates ascending by (distance, id).
func (h *HNSW) searchLayer(q []float32, ep uint32, epDist float32, ef, level int) []queue.Item {
	visited := make([]bool, len(h.nodes)+1)
	visited[ep] = true

	candidates := queue.NewMin(ef)
	results := queue.NewMax(ef)

	start := queue.Item{ID: ep, Distance: epDist}
	candidates.PushItem(start)
	results.PushItem(start)

	for candidates.Len() > 0 {
		cur := candidates.PopItem()
		if worst, ok := results.Top(); ok && results.Len() >= ef && cur.Distance > worst.Distance {
			break
		}

		curNode := h.nodes[cur.ID]
		if level >= len(curNode.Conns) {
			continue
		}

		for _, nb := range curNode.Conns[level] {
			if visited[nb] {
				continue
			}
			visited[nb] = true

			d := h.distFunc(q, h.vectors.At(nb))
			item := queue.Item{ID: nb, Distance: d}

			if results.Len() < ef {
				candidates.PushItem(item)
				results.PushItem(item)
			} else if worst, ok := results.Top(); ok && d < worst.Distance {
				candidates.PushItem(item)
				results.PopItem()
				results.PushItem(item)
			}
		}
	}

	return results.Drain()
}

// selectNeighbors picks at most m connection targets from candidates
// (ascending by distance to q).
//
// The heuristic variant keeps a candidate only if it is closer to q than to
// every already kept neighbor, which spreads edges across directions instead
// of clustering them; discarded candidates backfill if fewer than m survive.
func (h *HNSW) selectNeighbors(q []float32, candidates []queue.Item, m int) []uint32 {
	if len(candidates) <= m {
		out := make([]uint32, len(candidates))
		for i, c := range candidates {
			out[i] = c.ID
		}
		return out
	}

	if !h.opts.Heuristic {
		out := make([]uint32, m)
		for i := 0; i < m; i++ {
			out[i] = candidates[i].ID
		}
		return out
	}

	kept := make([]uint32, 0, m)
	discarded := make([]queue.Item, 0, len(candidates))

	for _, c := range candidates {
		if len(kept) >= m {
			break
		}

		cv := h.vectors.At(c.ID)
		diverse := true
		for _, s := range kept {
			if h.distFunc(cv, h.vectors.At(s)) < c.Distance {
				diverse = false
				break
			}
		}

		if diverse {
			kept = append(kept, c.ID)
		} else {
			discarded = append(discarded, c)
		}
	}

	for _, c := range discarded {
		if len(kept) >= m {
			break
		}
		kept = append(kept, c.ID)
	}

	return kept
}

// link adds target to from's neighbor list at level, re-selecting the list
// when it would exceed the degree bound. Without pruning, node degree grows
// unbounded and the memory and search-time guarantees collapse.
func (h *HNSW) link(from, target uint32, level int) {
	maxConns := h.mmax
	if level == 0 {
		maxConns = h.mmax0
	}

	n := h.nodes[from]
	n.Conns[level] = append(n.Conns[level], target)
	if len(n.Conns[level]) <= maxConns {
		return
	}

	nv := h.vectors.At(from)
	candidates := make([]queue.Item, len(n.Conns[level]))
	for i, nb := range n.Conns[level] {
		candidates[i] = queue.Item{ID: nb, Distance: h.distFunc(nv, h.vectors.At(nb))}
	}
	sortItems(candidates)

	n.Conns[level] = h.selectNeighbors(nv, candidates, maxConns)
}

// Search returns the k approximate nearest neighbors of q.
// The per-call EF (params.EF, raised to at least k) bounds the layer-0
// expansion; the default is the construction EF.
func (h *HNSW) Search(ctx context.Context, q []float32, k int, params *index.SearchParams) ([]index.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if h.maxLayer < 0 {
		return nil, index.ErrEmptyIndex
	}
	if len(q) != h.opts.Dimension {
		return nil, &index.ErrDimensionMismatch{Expected: h.opts.Dimension, Actual: len(q)}
	}

	if params == nil {
		params = index.DefaultSearchParams()
	}
	ef := h.opts.EF
	if params.EF > 0 {
		ef = params.EF
	}
	if ef < k {
		ef = k
	}

	ep := h.entry
	epDist := h.distFunc(q, h.vectors.At(ep))
	for level := h.maxLayer; level > 0; level-- {
		ep, epDist = h.greedyStep(q, ep, epDist, level)
	}

	found := h.searchLayer(q, ep, epDist, ef, 0)
	if len(found) > k {
		found = found[:k]
	}

	out := make([]index.SearchResult, len(found))
	for i, item := range found {
		out[i] = index.SearchResult{ID: item.ID, Distance: item.Distance}
	}

	return out, nil
}

// Len returns the number of stored vectors.
func (h *HNSW) Len() int { return h.vectors.Len() }

// Dimension returns the configured vector dimension.
func (h *HNSW) Dimension() int { return h.opts.Dimension }

// MaxLayer returns the current top layer, -1 while empty.
func (h *HNSW) MaxLayer() int { return h.maxLayer }

func sortItems(items []queue.Item) {
	// Insertion sort: candidate lists are small (degree-bound + 1).
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && less(items[j], items[j-1]); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

func less(a, b queue.Item) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.ID < b.ID
}
