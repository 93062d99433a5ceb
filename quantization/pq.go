// Package quantization provides product quantization for compressed vector
// storage and approximate distance computation.
package quantization

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math/rand"

	"github.com/knnlabs/annidx/index"
	"github.com/knnlabs/annidx/internal/kmeans"
	"github.com/knnlabs/annidx/internal/math32"
)

// maxBits caps codes at one byte per segment.
const maxBits = 8

// ProductQuantizer compresses vectors by splitting them into m segments and
// quantizing each segment independently against its own codebook.
//
// A 128-dim float32 vector with m=8 becomes 8 bytes, a 64x reduction.
// Distances against codes are computed asymmetrically: the query stays
// uncoded and only the stored side is quantized, which is materially more
// accurate than comparing two codes.
type ProductQuantizer struct {
	dim     int // D: original vector dimension
	m       int // number of segments
	nbits   int // bits per segment code
	ksub    int // 1<<nbits: codebook size per segment
	dsub    int // D/m: dimensions per segment
	trained bool

	// codebooks[s] holds ksub centroid-segments of dsub dims, flattened.
	codebooks [][]float32
}

// NewProductQuantizer creates a quantizer for dim-dimensional vectors with m
// segments and nbits bits per segment code. dim must be divisible by m and
// nbits must be in [1, 8].
func NewProductQuantizer(dim, m, nbits int) (*ProductQuantizer, error) {
	if err := index.ValidateDimension(dim); err != nil {
		return nil, err
	}
	if m <= 0 || dim%m != 0 {
		return nil, fmt.Errorf("quantization: dimension %d not divisible by segment count %d", dim, m)
	}
	if nbits < 1 || nbits > maxBits {
		return nil, fmt.Errorf("quantization: nbits must be in [1, %d], got %d", maxBits, nbits)
	}

	return &ProductQuantizer{
		dim:   dim,
		m:     m,
		nbits: nbits,
		ksub:  1 << nbits,
		dsub:  dim / m,
	}, nil
}

// Train fits the m codebooks by running k-means per segment over the
// training vectors. Training either fully succeeds, atomically replacing any
// prior codebooks, or fails with nothing committed.
func (pq *ProductQuantizer) Train(ctx context.Context, vectors [][]float32, rng *rand.Rand) error {
	if len(vectors) < pq.ksub {
		return &index.ErrInsufficientData{Need: pq.ksub, Got: len(vectors)}
	}

	books := make([][]float32, pq.m)

	sub := make([]float32, len(vectors)*pq.dsub)
	for s := 0; s < pq.m; s++ {
		start := s * pq.dsub

		for i, vec := range vectors {
			if len(vec) != pq.dim {
				return &index.ErrDimensionMismatch{Expected: pq.dim, Actual: len(vec)}
			}
			copy(sub[i*pq.dsub:(i+1)*pq.dsub], vec[start:start+pq.dsub])
		}

		centroids, err := kmeans.Train(ctx, sub, pq.dsub, pq.ksub, 0, rng)
		if err != nil {
			return fmt.Errorf("segment %d: %w", s, err)
		}
		books[s] = centroids
	}

	pq.codebooks = books
	pq.trained = true

	return nil
}

// Trained reports whether codebooks are available.
func (pq *ProductQuantizer) Trained() bool { return pq.trained }

// M returns the segment count.
func (pq *ProductQuantizer) M() int { return pq.m }

// Bits returns the bits per segment code.
func (pq *ProductQuantizer) Bits() int { return pq.nbits }

// KSub returns the per-segment codebook size (2^nbits).
func (pq *ProductQuantizer) KSub() int { return pq.ksub }

// Dimension returns the original vector dimension.
func (pq *ProductQuantizer) Dimension() int { return pq.dim }

// CodeSize returns the compressed size of one vector in bytes.
func (pq *ProductQuantizer) CodeSize() int { return pq.m }

// Encode quantizes v into an m-byte code.
func (pq *ProductQuantizer) Encode(v []float32) ([]byte, error) {
	if !pq.trained {
		return nil, index.ErrNotTrained
	}
	if len(v) != pq.dim {
		return nil, &index.ErrDimensionMismatch{Expected: pq.dim, Actual: len(v)}
	}

	code := make([]byte, pq.m)
	for s := 0; s < pq.m; s++ {
		sub := v[s*pq.dsub : (s+1)*pq.dsub]
		best, _ := math32.ArgMinL2(sub, pq.codebooks[s], pq.dsub)
		code[s] = byte(best)
	}

	return code, nil
}

// Decode reconstructs the approximation of the vector encoded by code.
// Reconstruction is lossy: even a vector compared to its own code has a
// strictly positive distance unless it coincides with codebook centroids.
func (pq *ProductQuantizer) Decode(code []byte) ([]float32, error) {
	if !pq.trained {
		return nil, index.ErrNotTrained
	}
	if len(code) != pq.m {
		return nil, fmt.Errorf("quantization: code length %d, want %d", len(code), pq.m)
	}

	out := make([]float32, pq.dim)
	for s := 0; s < pq.m; s++ {
		c := int(code[s])
		copy(out[s*pq.dsub:(s+1)*pq.dsub], pq.codebooks[s][c*pq.dsub:(c+1)*pq.dsub])
	}

	return out, nil
}

// ComputeAsymmetricDistance returns the squared L2 distance between an
// uncoded query and the vector represented by code: per segment, the
// distance from the query's sub-vector to the centroid the code names,
// summed across segments.
//
// Hot path; the caller guarantees a trained quantizer and an m-byte code.
func (pq *ProductQuantizer) ComputeAsymmetricDistance(q []float32, code []byte) float32 {
	var sum float32
	for s := 0; s < pq.m; s++ {
		c := int(code[s])
		sum += math32.SquaredL2(
			q[s*pq.dsub:(s+1)*pq.dsub],
			pq.codebooks[s][c*pq.dsub:(c+1)*pq.dsub],
		)
	}
	return sum
}

// BuildDistanceTable precomputes the distances from q to every codebook
// centroid. The table has m*ksub entries; table[s*ksub+c] is the squared
// distance from q's segment s to centroid c. Amortizes segment distance work
// across the many codes of a cell.
func (pq *ProductQuantizer) BuildDistanceTable(q []float32) ([]float32, error) {
	if !pq.trained {
		return nil, index.ErrNotTrained
	}
	if len(q) != pq.dim {
		return nil, &index.ErrDimensionMismatch{Expected: pq.dim, Actual: len(q)}
	}

	table := make([]float32, pq.m*pq.ksub)
	for s := 0; s < pq.m; s++ {
		sub := q[s*pq.dsub : (s+1)*pq.dsub]
		book := pq.codebooks[s]
		row := table[s*pq.ksub : (s+1)*pq.ksub]
		for c := 0; c < pq.ksub; c++ {
			row[c] = math32.SquaredL2(sub, book[c*pq.dsub:(c+1)*pq.dsub])
		}
	}

	return table, nil
}

// ADCDistance sums the table entries selected by code.
// Hot path; the caller guarantees table and code shapes.
func (pq *ProductQuantizer) ADCDistance(table []float32, code []byte) float32 {
	var sum float32
	for s := 0; s < pq.m; s++ {
		sum += table[s*pq.ksub+int(code[s])]
	}
	return sum
}

// GobEncode implements gob.GobEncoder.
func (pq *ProductQuantizer) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	for _, v := range []any{pq.dim, pq.m, pq.nbits, pq.trained, pq.codebooks} {
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (pq *ProductQuantizer) GobDecode(data []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(data))

	for _, v := range []any{&pq.dim, &pq.m, &pq.nbits, &pq.trained, &pq.codebooks} {
		if err := dec.Decode(v); err != nil {
			return err
		}
	}

	pq.ksub = 1 << pq.nbits
	if pq.m > 0 {
		pq.dsub = pq.dim / pq.m
	}

	return nil
}
