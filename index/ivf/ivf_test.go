package ivf

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"testing"

	"github.com/knnlabs/annidx/distance"
	"github.com/knnlabs/annidx/index"
	"github.com/knnlabs/annidx/testutil"
)

func newTrained(t *testing.T, dim, nlist int, vectors [][]float32, seed int64) *IVF {
	t.Helper()

	ivf, err := New(func(o *Options) {
		o.Dimension = dim
		o.NList = nlist
		o.RandomSeed = &seed
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := ivf.Train(ctx, vectors); err != nil {
		t.Fatalf("Train: %v", err)
	}
	for _, v := range vectors {
		if _, err := ivf.Add(ctx, v); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	return ivf
}

func TestDotMetricRejected(t *testing.T) {
	// Cells are fitted with squared-L2 k-means; a dot-product index would
	// probe cells selected under the wrong geometry, silently skipping the
	// cluster with the dominant inner products.
	_, err := New(func(o *Options) {
		o.Dimension = 2
		o.Metric = distance.MetricDot
	})
	if !errors.Is(err, index.ErrUnsupportedMetric) {
		t.Errorf("err = %v, want ErrUnsupportedMetric", err)
	}
}

func TestNilParamsUseDefaultProbe(t *testing.T) {
	const (
		n   = 200
		dim = 4
		k   = 5
	)

	rng := testutil.NewRNG(50)
	vectors := rng.UniformVectors(n, dim)
	ivf := newTrained(t, dim, 8, vectors, 3)

	q := rng.UniformVectors(1, dim)[0]
	ctx := context.Background()

	got, err := ivf.Search(ctx, q, k, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want, err := ivf.Search(ctx, q, k, &index.SearchParams{NProbe: DefaultNProbe})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("nil params diverge from defaults: %+v vs %+v", got[i], want[i])
		}
	}
}

func TestAddBeforeTrain(t *testing.T) {
	ivf, err := New(func(o *Options) { o.Dimension = 4 })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := ivf.Add(context.Background(), make([]float32, 4)); !errors.Is(err, index.ErrNotTrained) {
		t.Errorf("err = %v, want ErrNotTrained", err)
	}
	if _, err := ivf.Search(context.Background(), make([]float32, 4), 1, nil); !errors.Is(err, index.ErrNotTrained) {
		t.Errorf("err = %v, want ErrNotTrained", err)
	}
}

func TestTrainInsufficientData(t *testing.T) {
	ivf, err := New(func(o *Options) {
		o.Dimension = 4
		o.NList = 50
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rng := testutil.NewRNG(1)
	err = ivf.Train(context.Background(), rng.UniformVectors(10, 4))

	var ins *index.ErrInsufficientData
	if !errors.As(err, &ins) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
	if ivf.Trained() {
		t.Error("failed training must not leave the index trained")
	}
}

func TestEveryVectorAssignedToOneCell(t *testing.T) {
	const (
		n     = 400
		dim   = 8
		nlist = 16
	)

	vectors := testutil.NewRNG(2).UniformVectors(n, dim)
	ivf := newTrained(t, dim, nlist, vectors, 7)

	total := 0
	for c := 0; c < nlist; c++ {
		total += ivf.CellSize(c)
	}
	if total != n {
		t.Errorf("cell cardinalities sum to %d, want %d", total, n)
	}
}

func TestFullProbeMatchesBruteForce(t *testing.T) {
	const (
		n     = 500
		dim   = 16
		nlist = 20
		k     = 10
	)

	rng := testutil.NewRNG(3)
	vectors := rng.UniformVectors(n, dim)
	ivf := newTrained(t, dim, nlist, vectors, 11)

	// Probing every cell makes the candidate set the whole index: results
	// must equal exact search, including distances and tie order.
	for i := 0; i < 10; i++ {
		q := rng.UniformVectors(1, dim)[0]
		truth := testutil.BruteForceSearch(vectors, q, k)

		results, err := ivf.Search(context.Background(), q, k, &index.SearchParams{NProbe: nlist})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}

		for j, r := range results {
			if r.ID != truth[j].ID || r.Distance != truth[j].Distance {
				t.Fatalf("result %d = %+v, want %+v", j, r, truth[j])
			}
		}
	}
}

func TestRecallImprovesWithNProbe(t *testing.T) {
	const (
		n     = 1000
		dim   = 16
		nlist = 32
		k     = 10
	)

	rng := testutil.NewRNG(4)
	vectors := rng.ClusteredVectors(n, dim, nlist, 0.2)
	ivf := newTrained(t, dim, nlist, vectors, 21)

	recallAt := func(nprobe int) float64 {
		var total float64
		const queries = 20
		for i := 0; i < queries; i++ {
			q := vectors[i*37%n]
			truth := testutil.BruteForceSearch(vectors, q, k)

			results, err := ivf.Search(context.Background(), q, k, &index.SearchParams{NProbe: nprobe})
			if err != nil {
				t.Fatalf("Search: %v", err)
			}

			approx := make([]testutil.SearchResult, len(results))
			for j, r := range results {
				approx[j] = testutil.SearchResult{ID: r.ID, Distance: r.Distance}
			}
			total += testutil.ComputeRecall(truth, approx)
		}
		return total / queries
	}

	// Probed cells for nprobe=a are a prefix of those for nprobe=b (a < b),
	// so recall is non-decreasing in nprobe and exact at full probe.
	r1 := recallAt(1)
	r8 := recallAt(8)
	rFull := recallAt(nlist)

	if r8 < r1 {
		t.Errorf("recall@nprobe=8 (%f) < recall@nprobe=1 (%f)", r8, r1)
	}
	if rFull != 1.0 {
		t.Errorf("recall at full probe = %f, want 1.0", rFull)
	}
}

func TestRetrainReassignsExistingVectors(t *testing.T) {
	const (
		n     = 300
		dim   = 8
		nlist = 8
	)

	rng := testutil.NewRNG(5)
	vectors := rng.UniformVectors(n, dim)
	ivf := newTrained(t, dim, nlist, vectors, 31)

	// Retrain on different data; previously added vectors stay searchable.
	if err := ivf.Train(context.Background(), rng.UniformVectors(n, dim)); err != nil {
		t.Fatalf("retrain: %v", err)
	}

	if ivf.Len() != n {
		t.Fatalf("Len after retrain = %d, want %d", ivf.Len(), n)
	}

	total := 0
	for c := 0; c < nlist; c++ {
		total += ivf.CellSize(c)
	}
	if total != n {
		t.Errorf("cells hold %d vectors after retrain, want %d", total, n)
	}

	q := vectors[0]
	results, err := ivf.Search(context.Background(), q, 1, &index.SearchParams{NProbe: nlist})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].ID != 0 || results[0].Distance != 0 {
		t.Errorf("self match after retrain = %+v, want ID 0 at distance 0", results[0])
	}
}

func TestTrainDeterministicWithSeed(t *testing.T) {
	const (
		n     = 400
		dim   = 8
		nlist = 10
	)

	vectors := testutil.NewRNG(6).UniformVectors(n, dim)

	a := newTrained(t, dim, nlist, vectors, 123)
	b := newTrained(t, dim, nlist, vectors, 123)

	for c := 0; c < nlist; c++ {
		if a.CellSize(c) != b.CellSize(c) {
			t.Fatalf("cell %d sizes differ for identical seeds: %d vs %d", c, a.CellSize(c), b.CellSize(c))
		}
	}
}

func TestSearchErrors(t *testing.T) {
	vectors := testutil.NewRNG(7).UniformVectors(100, 4)
	ivf := newTrained(t, 4, 4, vectors, 41)

	ctx := context.Background()
	if _, err := ivf.Search(ctx, make([]float32, 4), 0, nil); !errors.Is(err, index.ErrInvalidK) {
		t.Errorf("k=0 err = %v, want ErrInvalidK", err)
	}

	var dm *index.ErrDimensionMismatch
	if _, err := ivf.Search(ctx, make([]float32, 2), 1, nil); !errors.As(err, &dm) {
		t.Errorf("dim err = %v, want ErrDimensionMismatch", err)
	}
}

func TestGobRoundtrip(t *testing.T) {
	const (
		n     = 200
		dim   = 8
		nlist = 8
	)

	rng := testutil.NewRNG(8)
	vectors := rng.UniformVectors(n, dim)
	ivf := newTrained(t, dim, nlist, vectors, 51)

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ivf); err != nil {
		t.Fatalf("encode: %v", err)
	}

	restored := new(IVF)
	if err := gob.NewDecoder(&buf).Decode(restored); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !restored.Trained() || restored.Len() != n {
		t.Fatal("restored index incomplete")
	}

	ctx := context.Background()
	q := rng.UniformVectors(1, dim)[0]
	params := &index.SearchParams{NProbe: nlist}

	orig, err := ivf.Search(ctx, q, 10, params)
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

	// The restored index keeps accepting writes.
	if _, err := restored.Add(ctx, q); err != nil {
		t.Fatalf("Add after restore: %v", err)
	}
}
