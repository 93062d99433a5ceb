package annidx

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/knnlabs/annidx/persistence"
	"github.com/knnlabs/annidx/resource"
	"github.com/knnlabs/annidx/testutil"
)

// TestEndToEnd exercises the full lifecycle on a realistic dataset: train,
// bulk load, batched search, snapshot, reload, and re-query.
func TestEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping end-to-end test in short mode")
	}

	const (
		n       = 20000
		dim     = 64
		nlist   = 64
		k       = 10
		queries = 50
	)

	ctx := context.Background()
	rng := testutil.NewRNG(2024)
	vectors := rng.ClusteredVectors(n, dim, nlist, 0.2)

	eng, err := New(KindIVF, dim,
		WithNList(nlist),
		WithRandomSeed(42),
		WithCompression(persistence.CompressionLZ4),
		WithResource(resource.NewController(resource.Config{MaxSearchConcurrency: 4})),
	)
	require.NoError(t, err)

	// Train on a sample, then load everything.
	require.NoError(t, eng.Train(ctx, vectors[:5000]))
	ids, err := eng.AddBatch(ctx, vectors)
	require.NoError(t, err)
	require.Len(t, ids, n)
	require.Equal(t, n, eng.Len())

	// Batched search at a moderate probe count has usable recall on
	// clustered data.
	qs := make([][]float32, queries)
	truth := make([][]testutil.SearchResult, queries)
	for i := range qs {
		qs[i] = vectors[i*401%n]
		truth[i] = testutil.BruteForceSearch(vectors, qs[i], k)
	}

	batched, err := eng.SearchBatch(ctx, qs, k, func(o *SearchOptions) { o.NProbe = 8 })
	require.NoError(t, err)

	var total float64
	for i, results := range batched {
		approx := make([]testutil.SearchResult, len(results))
		for j, r := range results {
			approx[j] = testutil.SearchResult{ID: r.ID, Distance: r.Distance}
		}
		total += testutil.ComputeRecall(truth[i], approx)
	}
	recall := total / queries
	t.Logf("IVF recall@%d with nprobe=8: %.3f", k, recall)
	require.GreaterOrEqual(t, recall, 0.5)

	// Snapshot and reload; the restored engine answers identically.
	var buf bytes.Buffer
	require.NoError(t, eng.Save(&buf))
	t.Logf("snapshot size: %d bytes for %d vectors", buf.Len(), n)

	restored, err := Load(&buf)
	require.NoError(t, err)
	require.Equal(t, n, restored.Len())

	for i := 0; i < 5; i++ {
		want, err := eng.Search(ctx, qs[i], k, func(o *SearchOptions) { o.NProbe = 8 })
		require.NoError(t, err)
		got, err := restored.Search(ctx, qs[i], k, func(o *SearchOptions) { o.NProbe = 8 })
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

// TestEndToEndHNSW builds a graph incrementally and checks recall stays
// high while snapshots survive a roundtrip.
func TestEndToEndHNSW(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping end-to-end test in short mode")
	}

	const (
		n   = 5000
		dim = 32
		k   = 10
	)

	ctx := context.Background()
	rng := testutil.NewRNG(2025)
	vectors := rng.UniformVectors(n, dim)

	eng, err := New(KindHNSW, dim, WithRandomSeed(7), WithGraphM(16), WithEF(100))
	require.NoError(t, err)

	_, err = eng.AddBatch(ctx, vectors)
	require.NoError(t, err)

	queries := rng.UniformVectors(20, dim)

	var total float64
	for _, q := range queries {
		truth := testutil.BruteForceSearch(vectors, q, k)
		results, err := eng.Search(ctx, q, k, func(o *SearchOptions) { o.EF = 150 })
		require.NoError(t, err)

		approx := make([]testutil.SearchResult, len(results))
		for j, r := range results {
			approx[j] = testutil.SearchResult{ID: r.ID, Distance: r.Distance}
		}
		total += testutil.ComputeRecall(truth, approx)
	}
	recall := total / float64(len(queries))
	t.Logf("HNSW recall@%d: %.3f", k, recall)
	require.GreaterOrEqual(t, recall, 0.8)

	var buf bytes.Buffer
	require.NoError(t, eng.Save(&buf))

	restored, err := Load(&buf)
	require.NoError(t, err)

	q := queries[0]
	want, err := eng.Search(ctx, q, k)
	require.NoError(t, err)
	got, err := restored.Search(ctx, q, k)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
