package annidx

import (
	"errors"
	"fmt"

	"github.com/knnlabs/annidx/index"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrNotTrained is returned when Add or Search is attempted on an index
	// that requires training and has not been trained yet.
	ErrNotTrained = errors.New("index not trained")

	// ErrEmptyIndex is returned when Search is attempted before any Add.
	ErrEmptyIndex = errors.New("index is empty")

	// ErrNotEmpty is returned when retraining an index that cannot re-encode
	// its stored vectors.
	ErrNotEmpty = errors.New("index is not empty")

	// ErrUnsupportedMetric is returned by New when the index kind cannot
	// honor the configured metric. IVF and IVFPQ cells are fitted with
	// squared-L2 k-means, so those kinds accept only the default metric.
	ErrUnsupportedMetric = errors.New("metric not supported by this index kind")
)

// ErrUnknownKind indicates an index kind this build does not recognize,
// either at construction or in a snapshot header.
type ErrUnknownKind struct {
	Kind Kind
}

func (e *ErrUnknownKind) Error() string {
	return fmt.Sprintf("unknown index kind: %d", uint8(e.Kind))
}

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrInvalidDimension indicates an invalid configured dimension.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidDimension struct {
	Dimension int
	cause     error
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

func (e *ErrInvalidDimension) Unwrap() error { return e.cause }

// ErrInsufficientData indicates a training set smaller than the requested
// cluster count.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInsufficientData struct {
	Need  int
	Got   int
	cause error
}

func (e *ErrInsufficientData) Error() string {
	return fmt.Sprintf("insufficient training data: need at least %d vectors, got %d", e.Need, e.Got)
}

func (e *ErrInsufficientData) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Sentinel normalization.
	if errors.Is(err, index.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}
	if errors.Is(err, index.ErrNotTrained) {
		return fmt.Errorf("%w: %w", ErrNotTrained, err)
	}
	if errors.Is(err, index.ErrEmptyIndex) {
		return fmt.Errorf("%w: %w", ErrEmptyIndex, err)
	}
	if errors.Is(err, index.ErrNotEmpty) {
		return fmt.Errorf("%w: %w", ErrNotEmpty, err)
	}
	if errors.Is(err, index.ErrUnsupportedMetric) {
		return fmt.Errorf("%w: %w", ErrUnsupportedMetric, err)
	}

	// Dimension and argument normalization.
	var dm *index.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	var id *index.ErrInvalidDimension
	if errors.As(err, &id) {
		return &ErrInvalidDimension{Dimension: id.Dimension, cause: err}
	}
	var ins *index.ErrInsufficientData
	if errors.As(err, &ins) {
		return &ErrInsufficientData{Need: ins.Need, Got: ins.Got, cause: err}
	}

	return err
}
