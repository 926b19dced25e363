// Package distance provides the vector math kernel used by retrieval:
// norms, cosine similarity, dot product and distance metrics.
package distance

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/hupe1980/localdocs/internal/math32"
)

var (
	// ErrEmptyVector is returned when a vector has no components.
	ErrEmptyVector = errors.New("vector is empty")

	// ErrInvalidVector is returned when a vector contains NaN or Inf components.
	ErrInvalidVector = errors.New("vector contains NaN or Inf")

	// ErrZeroVector is returned when a vector has all components equal to zero.
	ErrZeroVector = errors.New("vector is all zero")
)

// ErrDimensionMismatch indicates that two vectors, or a vector and a stored
// dimension, disagree in length.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	return math32.Dot(a, b)
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	return math32.SquaredL2(a, b)
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	return math32.Sqrt(math32.Dot(v, v))
}

// Cosine returns the cosine similarity of a and b.
//
// A zero vector on either side yields 0.
func Cosine(a, b []float32) (float32, error) {
	return CosineWithNorms(a, b, 0, 0)
}

// CosineWithNorms returns the cosine similarity of a and b using precomputed
// norms. A norm that is not a positive finite number is recomputed.
func CosineWithNorms(a, b []float32, normA, normB float32) (float32, error) {
	if len(a) != len(b) {
		return 0, &ErrDimensionMismatch{Expected: len(a), Actual: len(b)}
	}

	if !usableNorm(normA) {
		normA = Norm(a)
	}
	if !usableNorm(normB) {
		normB = Norm(b)
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := math32.Dot(a, b) / (normA * normB)
	if math.IsNaN(float64(sim)) {
		return 0, nil
	}
	return sim, nil
}

// Euclidean returns the L2 distance between a and b.
func Euclidean(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, &ErrDimensionMismatch{Expected: len(a), Actual: len(b)}
	}
	return math32.Sqrt(math32.SquaredL2(a, b)), nil
}

// Manhattan returns the L1 distance between a and b.
func Manhattan(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, &ErrDimensionMismatch{Expected: len(a), Actual: len(b)}
	}
	return math32.L1(a, b), nil
}

// Validate checks that v is usable as an embedding: non-empty, finite, not
// all zero, and of length expectedDim when expectedDim > 0.
func Validate(v []float32, expectedDim int) error {
	if len(v) == 0 {
		return ErrEmptyVector
	}
	if expectedDim > 0 && len(v) != expectedDim {
		return &ErrDimensionMismatch{Expected: expectedDim, Actual: len(v)}
	}

	nonZero := false
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrInvalidVector
		}
		if x != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		return ErrZeroVector
	}
	return nil
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := math32.Dot(v, v)
	if norm2 == 0 {
		return false
	}
	math32.ScaleInPlace(v, 1/math32.Sqrt(norm2))
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

func usableNorm(n float32) bool {
	f := float64(n)
	return n > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// Metric represents the distance metric an index was built for.
type Metric int

const (
	MetricCosine Metric = iota
	MetricL2
	MetricDot
	MetricL1
)

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricL2:
		return "l2"
	case MetricDot:
		return "dot"
	case MetricL1:
		return "l1"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// ParseMetric parses the lower-case metric name used in document packages.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "cosine", "":
		return MetricCosine, nil
	case "l2", "euclidean":
		return MetricL2, nil
	case "dot", "ip":
		return MetricDot, nil
	case "l1", "manhattan":
		return MetricL1, nil
	default:
		return 0, fmt.Errorf("unsupported metric %q", s)
	}
}
