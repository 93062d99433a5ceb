// Package index provides the common interface and error taxonomy for the
// vector search indexes.
package index

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/knnlabs/annidx/distance"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrNotTrained is returned when Add or Search is attempted on an index
	// that requires training and has not been trained yet.
	ErrNotTrained = errors.New("index not trained")

	// ErrEmptyIndex is returned when Search is attempted before any Add.
	ErrEmptyIndex = errors.New("index is empty")

	// ErrNotEmpty is returned when an operation requires an empty index,
	// e.g. retraining an index that cannot re-encode its stored codes.
	ErrNotEmpty = errors.New("index is not empty")

	// ErrUnsupportedMetric is returned by constructors of index kinds that
	// cannot honor the configured metric throughout the whole query path.
	ErrUnsupportedMetric = errors.New("metric not supported by this index kind")
)

// ErrDimensionMismatch is a named error type for dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrInvalidDimension indicates an invalid configured dimension.
type ErrInvalidDimension struct {
	Dimension int
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

// ErrInsufficientData is returned when a training set is smaller than the
// requested cluster count. Training aborts with no partial state committed.
type ErrInsufficientData struct {
	Need int // Minimum number of training vectors
	Got  int // Actual number of training vectors
}

func (e *ErrInsufficientData) Error() string {
	return fmt.Sprintf("insufficient training data: need at least %d vectors, got %d", e.Need, e.Got)
}

// ErrOutOfRange is returned on lookup of an unknown vector ID.
type ErrOutOfRange struct {
	ID  uint32
	Len int
}

func (e *ErrOutOfRange) Error() string {
	return fmt.Sprintf("id %d out of range [0, %d)", e.ID, e.Len)
}

// ValidateDimension validates a configured index dimension.
func ValidateDimension(dim int) error {
	if dim <= 0 {
		return &ErrInvalidDimension{Dimension: dim}
	}
	return nil
}

// SearchResult represents a single search hit.
type SearchResult struct {
	// ID is the identifier of the matched vector.
	ID uint32

	// Distance is the distance between the query and the matched vector.
	// For approximate indexes this may be an estimate.
	Distance float32
}

// SearchParams carries per-call search tuning.
//
// Parameters are passed explicitly on every call rather than stored as
// mutable index state, so concurrent readers can use different settings.
type SearchParams struct {
	// NProbe is the number of inverted-file cells to visit (IVF, IVFPQ).
	// Zero means the index default.
	NProbe int

	// EF is the size of the dynamic candidate list (HNSW).
	// Zero means the index default; values below k are raised to k.
	EF int
}

// DefaultSearchParams returns the parameters used when the caller passes nil.
func DefaultSearchParams() *SearchParams {
	return &SearchParams{}
}

// Index is the capability interface shared by all index kinds.
//
// Train and Add mutate the index and require exclusive access; Search is
// read-only and safe for concurrent use with other Searches. The facade in
// the root package enforces this with a reader/writer lock.
type Index interface {
	gob.GobEncoder
	gob.GobDecoder

	// Train fits the index's quantizers/centroids from the given vectors.
	// Either it fully succeeds and atomically replaces prior trained state,
	// or it fails and leaves prior state untouched.
	Train(ctx context.Context, vectors [][]float32) error

	// Trained reports whether the index is ready for Add/Search.
	// Indexes without a training phase always report true.
	Trained() bool

	// Add appends a vector and returns its assigned ID.
	// IDs are sequential in insertion order and never reused.
	Add(ctx context.Context, v []float32) (uint32, error)

	// Search returns the k nearest vectors to q, ascending by distance.
	// Ties resolve by lower ID (insertion order).
	Search(ctx context.Context, q []float32, k int, params *SearchParams) ([]SearchResult, error)

	// Len returns the number of stored vectors.
	Len() int

	// Dimension returns the configured vector dimension.
	Dimension() int
}

// NewDistanceFunc returns the distance function for the given metric,
// panicking on metrics that cannot occur through the public constructors.
func NewDistanceFunc(m distance.Metric) distance.Func {
	fn, err := distance.Provider(m)
	if err != nil {
		panic(err)
	}
	return fn
}
