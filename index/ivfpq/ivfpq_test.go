package ivfpq

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"sort"
	"testing"

	"github.com/knnlabs/annidx/distance"
	"github.com/knnlabs/annidx/index"
	"github.com/knnlabs/annidx/testutil"
)

func newTrained(t *testing.T, dim, nlist, m, nbits int, vectors [][]float32, seed int64) *IVFPQ {
	t.Helper()

	ix, err := New(func(o *Options) {
		o.Dimension = dim
		o.NList = nlist
		o.M = m
		o.NBits = nbits
		o.RandomSeed = &seed
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := ix.Train(ctx, vectors); err != nil {
		t.Fatalf("Train: %v", err)
	}
	for _, v := range vectors {
		if _, err := ix.Add(ctx, v); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	return ix
}

func TestNewValidation(t *testing.T) {
	// Dimension must be divisible by M.
	_, err := New(func(o *Options) {
		o.Dimension = 10
		o.M = 4
	})
	if err == nil {
		t.Error("expected error for dim not divisible by M")
	}

	if _, err := New(); err == nil {
		t.Error("expected error for missing dimension")
	}

	// Cell selection and ADC tables assume squared-L2 geometry.
	_, err = New(func(o *Options) {
		o.Dimension = 16
		o.Metric = distance.MetricDot
	})
	if !errors.Is(err, index.ErrUnsupportedMetric) {
		t.Errorf("dot metric err = %v, want ErrUnsupportedMetric", err)
	}
}

func TestAddBeforeTrain(t *testing.T) {
	ix, err := New(func(o *Options) { o.Dimension = 16 })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := ix.Add(context.Background(), make([]float32, 16)); !errors.Is(err, index.ErrNotTrained) {
		t.Errorf("err = %v, want ErrNotTrained", err)
	}
}

func TestRetrainNonEmptyRejected(t *testing.T) {
	const (
		n   = 400
		dim = 16
	)

	vectors := testutil.NewRNG(1).UniformVectors(n, dim)
	ix := newTrained(t, dim, 8, 4, 4, vectors, 7)

	// Stored codes cannot be re-encoded against new codebooks.
	err := ix.Train(context.Background(), vectors)
	if !errors.Is(err, index.ErrNotEmpty) {
		t.Fatalf("err = %v, want ErrNotEmpty", err)
	}
}

func TestCodeSize(t *testing.T) {
	const m = 8

	vectors := testutil.NewRNG(2).UniformVectors(500, 32)
	ix := newTrained(t, 32, 8, m, 4, vectors, 9)

	// One stored vector costs m bytes instead of dim*4.
	if ix.CodeSize() != m {
		t.Errorf("CodeSize = %d, want %d", ix.CodeSize(), m)
	}
}

func TestSearchApproximatesExact(t *testing.T) {
	const (
		n     = 1000
		dim   = 16
		nlist = 8
		k     = 10
	)

	rng := testutil.NewRNG(3)
	vectors := rng.ClusteredVectors(n, dim, nlist, 0.15)
	ix := newTrained(t, dim, nlist, 4, 6, vectors, 13)

	var total float64
	const queries = 20
	for i := 0; i < queries; i++ {
		q := vectors[i*53%n]
		truth := testutil.BruteForceSearch(vectors, q, k)

		results, err := ix.Search(context.Background(), q, k, &index.SearchParams{NProbe: nlist})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(results) != k {
			t.Fatalf("got %d results, want %d", len(results), k)
		}
		if !sort.SliceIsSorted(results, func(a, b int) bool {
			return results[a].Distance < results[b].Distance
		}) {
			t.Fatal("results not sorted ascending by distance")
		}

		approx := make([]testutil.SearchResult, len(results))
		for j, r := range results {
			approx[j] = testutil.SearchResult{ID: r.ID, Distance: r.Distance}
		}
		total += testutil.ComputeRecall(truth, approx)
	}

	recall := total / queries
	t.Logf("IVFPQ recall@%d at full probe: %.3f", k, recall)

	// Compression makes results approximate even at full probe, but recall
	// collapsing this far would mean the codes carry no signal.
	if recall < 0.3 {
		t.Errorf("recall = %f, want >= 0.3", recall)
	}
}

func TestSelfDistancePositive(t *testing.T) {
	const (
		n   = 500
		dim = 16
	)

	rng := testutil.NewRNG(4)
	vectors := rng.UniformVectors(n, dim)
	ix := newTrained(t, dim, 8, 4, 4, vectors, 17)

	// Even a stored vector queried against itself is ranked by its lossy
	// code; the reported distance is an estimate, not zero.
	results, err := ix.Search(context.Background(), vectors[0], 1, &index.SearchParams{NProbe: 8})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].Distance <= 0 {
		t.Errorf("self distance = %f, want > 0", results[0].Distance)
	}
}

func TestSearchErrors(t *testing.T) {
	ctx := context.Background()

	vectors := testutil.NewRNG(5).UniformVectors(300, 16)
	ix := newTrained(t, 16, 4, 4, 4, vectors, 19)

	if _, err := ix.Search(ctx, make([]float32, 16), 0, nil); !errors.Is(err, index.ErrInvalidK) {
		t.Errorf("k=0 err = %v, want ErrInvalidK", err)
	}

	var dm *index.ErrDimensionMismatch
	if _, err := ix.Search(ctx, make([]float32, 4), 1, nil); !errors.As(err, &dm) {
		t.Errorf("dim err = %v, want ErrDimensionMismatch", err)
	}
	if _, err := ix.Add(ctx, make([]float32, 4)); !errors.As(err, &dm) {
		t.Errorf("Add dim err = %v, want ErrDimensionMismatch", err)
	}
}

func TestEmptyTrainedIndex(t *testing.T) {
	seed := int64(23)
	ix, err := New(func(o *Options) {
		o.Dimension = 16
		o.NList = 4
		o.M = 4
		o.NBits = 4
		o.RandomSeed = &seed
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	vectors := testutil.NewRNG(6).UniformVectors(200, 16)
	if err := ix.Train(context.Background(), vectors); err != nil {
		t.Fatalf("Train: %v", err)
	}

	_, err = ix.Search(context.Background(), vectors[0], 1, nil)
	if !errors.Is(err, index.ErrEmptyIndex) {
		t.Errorf("err = %v, want ErrEmptyIndex", err)
	}
}

func TestGobRoundtrip(t *testing.T) {
	const (
		n   = 400
		dim = 16
	)

	rng := testutil.NewRNG(7)
	vectors := rng.UniformVectors(n, dim)
	ix := newTrained(t, dim, 8, 4, 5, vectors, 29)

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ix); err != nil {
		t.Fatalf("encode: %v", err)
	}

	restored := new(IVFPQ)
	if err := gob.NewDecoder(&buf).Decode(restored); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !restored.Trained() || restored.Len() != n {
		t.Fatal("restored index incomplete")
	}

	ctx := context.Background()
	q := rng.UniformVectors(1, dim)[0]
	params := &index.SearchParams{NProbe: 8}

	orig, err := ix.Search(ctx, q, 10, params)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	rest, err := restored.Search(ctx, q, 10, params)
	if err != nil {
		t.Fatalf("restored Search: %v", err)
	}

	for i := range orig {
		if orig[i] != rest[i] {
			t.Fatalf("results differ after roundtrip: %+v vs %+v", orig[i], rest[i])
		}
	}
}
