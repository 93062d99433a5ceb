// Package vectorstore provides the canonical append-only vector storage used
// by all indexes that retain raw vectors.
//
// Vectors live in a single flat backing slice (columnar layout), which keeps
// scans cache-friendly and makes serialization trivial.
package vectorstore

import (
	"bytes"
	"encoding/gob"

	"github.com/knnlabs/annidx/index"
)

// Store is an append-only collection of fixed-dimension float32 vectors.
// IDs are assigned sequentially in insertion order and never reused.
//
// Store is not safe for concurrent mutation; the owning index serializes
// writes.
type Store struct {
	dim  int
	data []float32
}

// New creates a store for vectors of the given dimension.
func New(dim int) *Store {
	return &Store{dim: dim}
}

// Add appends a copy of v and returns its assigned ID.
func (s *Store) Add(v []float32) (uint32, error) {
	if len(v) != s.dim {
		return 0, &index.ErrDimensionMismatch{Expected: s.dim, Actual: len(v)}
	}

	id := uint32(len(s.data) / s.dim)
	s.data = append(s.data, v...)

	return id, nil
}

// Get returns the vector stored for the given ID.
// The returned slice aliases internal memory; callers must treat it as
// read-only.
func (s *Store) Get(id uint32) ([]float32, error) {
	if int(id) >= s.Len() {
		return nil, &index.ErrOutOfRange{ID: id, Len: s.Len()}
	}
	return s.At(id), nil
}

// At returns the vector at id without bounds checking.
// Hot-path variant of Get for internal scan loops.
func (s *Store) At(id uint32) []float32 {
	off := int(id) * s.dim
	return s.data[off : off+s.dim : off+s.dim]
}

// Len returns the number of stored vectors.
func (s *Store) Len() int {
	return len(s.data) / s.dim
}

// Dimension returns the configured vector dimension.
func (s *Store) Dimension() int {
	return s.dim
}

// GobEncode implements gob.GobEncoder.
func (s *Store) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(s.dim); err != nil {
		return nil, err
	}
	if err := enc.Encode(s.data); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (s *Store) GobDecode(data []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(data))

	if err := dec.Decode(&s.dim); err != nil {
		return err
	}
	return dec.Decode(&s.data)
}
