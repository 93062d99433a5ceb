// Package math32 provides float32 vector kernels shared by the distance
// providers, the clustering code and the product quantizer.
package math32

import "math"

// Dot returns the dot product of a and b.
// Assumes len(a) == len(b) (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32

	// 4-way unroll; the tail is handled below.
	n := len(a) &^ 3
	for i := 0; i < n; i += 4 {
		sum += a[i]*b[i] + a[i+1]*b[i+1] + a[i+2]*b[i+2] + a[i+3]*b[i+3]
	}
	for i := n; i < len(a); i++ {
		sum += a[i] * b[i]
	}

	return sum
}

// SquaredL2 returns the squared Euclidean distance between a and b.
// Assumes len(a) == len(b) (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var sum float32

	n := len(a) &^ 3
	for i := 0; i < n; i += 4 {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		sum += d0*d0 + d1*d1 + d2*d2 + d3*d3
	}
	for i := n; i < len(a); i++ {
		d := a[i] - b[i]
		sum += d * d
	}

	return sum
}

// Sqrt returns the square root of x.
func Sqrt(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

// ArgMinL2 returns the index of the row in centroids (flattened k x dim)
// closest to v by squared L2, together with that distance.
// Ties resolve to the lowest index.
func ArgMinL2(v, centroids []float32, dim int) (int, float32) {
	k := len(centroids) / dim

	best := -1
	bestDist := float32(math.MaxFloat32)

	for j := 0; j < k; j++ {
		d := SquaredL2(v, centroids[j*dim:(j+1)*dim])
		if d < bestDist {
			bestDist = d
			best = j
		}
	}

	return best, bestDist
}
