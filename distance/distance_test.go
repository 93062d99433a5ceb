package distance

import (
	"testing"
)

func TestSquaredL2(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 6, 3}

	got := SquaredL2(a, b)
	if got != 25 {
		t.Errorf("SquaredL2 = %f, want 25", got)
	}

	if d := SquaredL2(a, a); d != 0 {
		t.Errorf("self distance = %f, want 0", d)
	}
}

func TestSquaredL2Symmetry(t *testing.T) {
	a := []float32{0.5, -1.5, 2.25, 0}
	b := []float32{-0.25, 3, 1, 7}

	if SquaredL2(a, b) != SquaredL2(b, a) {
		t.Error("squared L2 should be symmetric")
	}
}

func TestDot(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}

	if got := Dot(a, b); got != 32 {
		t.Errorf("Dot = %f, want 32", got)
	}
}

func TestProvider(t *testing.T) {
	fn, err := Provider(MetricL2)
	if err != nil {
		t.Fatalf("Provider(MetricL2): %v", err)
	}
	if got := fn([]float32{0, 0}, []float32{3, 4}); got != 25 {
		t.Errorf("L2 func = %f, want 25", got)
	}

	fn, err = Provider(MetricDot)
	if err != nil {
		t.Fatalf("Provider(MetricDot): %v", err)
	}
	// Negated dot: larger alignment means smaller value.
	closer := fn([]float32{1, 0}, []float32{1, 0})
	farther := fn([]float32{1, 0}, []float32{0, 1})
	if closer >= farther {
		t.Errorf("aligned vectors should rank closer: %f >= %f", closer, farther)
	}
}

func TestProviderUnsupported(t *testing.T) {
	if _, err := Provider(Metric(99)); err == nil {
		t.Error("expected error for unsupported metric")
	}
}

func TestMetricString(t *testing.T) {
	if MetricL2.String() != "L2" || MetricDot.String() != "Dot" {
		t.Errorf("unexpected metric names: %s, %s", MetricL2, MetricDot)
	}
}
