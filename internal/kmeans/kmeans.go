package kmeans

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/knnlabs/annidx/index"
	"github.com/knnlabs/annidx/internal/math32"
)

// DefaultMaxIter is the default iteration cap for Train.
const DefaultMaxIter = 25

// Train fits k centroids from the given flattened vectors (n * dim) using
// Lloyd's algorithm and returns the flattened centroids (k * dim).
//
// Centroids are initialized by sampling k distinct input vectors from rng,
// so results are reproducible for a fixed seed. The assignment step runs in
// parallel across vectors; ctx is checked between iterations, which lets a
// caller-supplied deadline stop a long training run.
//
// Clusters that run empty during an iteration are reseeded from the vector
// currently farthest from its assigned centroid. With few clusters and
// skewed data an empty cluster is common, and leaving it empty would yield a
// degenerate centroid at the origin of the sums.
func Train(ctx context.Context, data []float32, dim, k, maxIter int, rng *rand.Rand) ([]float32, error) {
	if dim <= 0 {
		return nil, &index.ErrInvalidDimension{Dimension: dim}
	}
	if k <= 0 {
		return nil, fmt.Errorf("kmeans: cluster count must be positive, got %d", k)
	}
	if maxIter <= 0 {
		maxIter = DefaultMaxIter
	}

	n := len(data) / dim
	if n < k {
		return nil, &index.ErrInsufficientData{Need: k, Got: n}
	}

	// Sample without replacement from the input.
	centroids := make([]float32, k*dim)
	perm := rng.Perm(n)
	for i := 0; i < k; i++ {
		copy(centroids[i*dim:(i+1)*dim], data[perm[i]*dim:(perm[i]+1)*dim])
	}

	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}
	dists := make([]float32, n)

	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed, err := assignAll(ctx, data, centroids, dim, assignments, dists)
		if err != nil {
			return nil, err
		}
		if !changed {
			break
		}

		// Update step: recompute each centroid as the mean of its members.
		for i := range sums {
			sums[i] = 0
		}
		for j := range counts {
			counts[j] = 0
		}
		for i := 0; i < n; i++ {
			c := assignments[i]
			vec := data[i*dim : (i+1)*dim]
			row := sums[c*dim : (c+1)*dim]
			for d, val := range vec {
				row[d] += val
			}
			counts[c]++
		}

		for j := 0; j < k; j++ {
			if counts[j] == 0 {
				reseedEmpty(centroids, j, data, dim, dists)
				continue
			}
			scale := 1 / float32(counts[j])
			for d := 0; d < dim; d++ {
				centroids[j*dim+d] = sums[j*dim+d] * scale
			}
		}
	}

	return centroids, nil
}

// assignAll assigns every vector to its nearest centroid, filling
// assignments and dists. It reports whether any assignment changed.
func assignAll(ctx context.Context, data, centroids []float32, dim int, assignments []int, dists []float32) (bool, error) {
	n := len(data) / dim

	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}

	var changed atomic.Bool

	g, _ := errgroup.WithContext(ctx)
	chunk := (n + workers - 1) / workers

	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}

		g.Go(func() error {
			chunkChanged := false
			for i := start; i < end; i++ {
				vec := data[i*dim : (i+1)*dim]
				best, d := math32.ArgMinL2(vec, centroids, dim)
				dists[i] = d
				if assignments[i] != best {
					assignments[i] = best
					chunkChanged = true
				}
			}
			if chunkChanged {
				changed.Store(true)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return false, err
	}

	return changed.Load(), nil
}

// reseedEmpty replaces centroid j with the vector farthest from its assigned
// centroid, then zeroes that vector's distance so a second empty cluster in
// the same iteration picks a different seed.
func reseedEmpty(centroids []float32, j int, data []float32, dim int, dists []float32) {
	farthest := 0
	for i := 1; i < len(dists); i++ {
		if dists[i] > dists[farthest] {
			farthest = i
		}
	}

	copy(centroids[j*dim:(j+1)*dim], data[farthest*dim:(farthest+1)*dim])
	dists[farthest] = 0
}

// Assign returns the index of the centroid nearest to v.
// Ties resolve to the lowest index.
func Assign(v, centroids []float32, dim int) int {
	best, _ := math32.ArgMinL2(v, centroids, dim)
	return best
}

type centroidDist struct {
	id   int
	dist float32
}

// NearestCentroids returns the indices of the n centroids closest to query,
// ordered ascending by distance with ties broken by lowest index.
func NearestCentroids(query, centroids []float32, dim, n int) []int {
	k := len(centroids) / dim
	if n > k {
		n = k
	}

	dists := make([]centroidDist, k)
	for j := 0; j < k; j++ {
		dists[j] = centroidDist{id: j, dist: math32.SquaredL2(query, centroids[j*dim:(j+1)*dim])}
	}

	sort.SliceStable(dists, func(i, j int) bool {
		return dists[i].dist < dists[j].dist
	})

	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = dists[i].id
	}

	return out
}
