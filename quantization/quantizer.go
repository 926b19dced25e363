// Package quantization provides symmetric scalar quantization of float32
// vectors into signed integers plus a single scale factor.
package quantization

import (
	"errors"
	"math"

	"github.com/hupe1980/localdocs/internal/math32"
)

// MinScale is the smallest scale ever produced; it keeps all-zero vectors
// decodable.
const MinScale = 1e-8

// Int8Max is the largest magnitude of an int8 code. -128 is never produced so
// the code range is symmetric.
const Int8Max = 127

// ErrInvalidPrecision is returned for bit widths outside [2, 16].
var ErrInvalidPrecision = errors.New("quantization: precision must be between 2 and 16 bits")

// Vector is a quantized vector: v[i] ≈ Values[i] * Scale.
type Vector struct {
	Values []int32
	Scale  float32
}

// Quantize maps v onto signed integers of the given bit width using a single
// symmetric scale derived from the largest absolute component.
func Quantize(v []float32, bits int) (Vector, error) {
	if bits < 2 || bits > 16 {
		return Vector{}, ErrInvalidPrecision
	}
	levels := float32(int32(1)<<(bits-1) - 1)
	scale := ScaleFor(v, levels)

	out := make([]int32, len(v))
	for i, x := range v {
		out[i] = int32(clamp(roundHalfEven(x/scale), -levels, levels))
	}
	return Vector{Values: out, Scale: scale}, nil
}

// Dequantize reconstructs a float vector from integer codes and their scale.
func Dequantize(q []int32, scale float32) []float32 {
	out := make([]float32, len(q))
	for i, x := range q {
		out[i] = float32(x) * scale
	}
	return out
}

// ScaleFor returns max(maxAbs(v)/levels, MinScale).
func ScaleFor(v []float32, levels float32) float32 {
	return max(math32.MaxAbs(v)/levels, MinScale)
}

// QuantizeInt8 quantizes v with a caller-supplied scale into dst, which must
// have len(v) capacity. It returns dst.
func QuantizeInt8(dst []int8, v []float32, scale float32) []int8 {
	dst = dst[:len(v)]
	for i, x := range v {
		dst[i] = int8(clamp(roundHalfEven(x/scale), -Int8Max, Int8Max))
	}
	return dst
}

// DequantizeInt8 reconstructs a float vector from int8 codes.
func DequantizeInt8(q []int8, scale float32) []float32 {
	out := make([]float32, len(q))
	for i, x := range q {
		out[i] = float32(x) * scale
	}
	return out
}

// Int8Norm returns the L2 norm of the dequantized vector q*scale.
func Int8Norm(q []int8, scale float32) float32 {
	var s float32
	for _, x := range q {
		f := float32(x)
		s += f * f
	}
	return math32.Sqrt(s) * scale
}

// Int8Quantizer quantizes vectors into int8 codes with one scale shared by
// every vector it was trained on.
type Int8Quantizer struct {
	scale float32
}

// NewInt8Quantizer creates a quantizer with the given shared scale.
// A non-positive scale is replaced with MinScale.
func NewInt8Quantizer(scale float32) *Int8Quantizer {
	if !(scale > 0) {
		scale = MinScale
	}
	return &Int8Quantizer{scale: scale}
}

// Train derives the shared scale from the largest absolute component of all vectors.
func (q *Int8Quantizer) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return errors.New("quantization: no vectors to train on")
	}
	var m float32
	for _, v := range vectors {
		m = max(m, math32.MaxAbs(v))
	}
	q.scale = max(m/Int8Max, MinScale)
	return nil
}

// Scale returns the shared scale.
func (q *Int8Quantizer) Scale() float32 { return q.scale }

// Encode quantizes v into dst with the shared scale. A dst shorter than v
// is replaced by a fresh slice.
func (q *Int8Quantizer) Encode(dst []int8, v []float32) []int8 {
	if cap(dst) < len(v) {
		dst = make([]int8, len(v))
	}
	return QuantizeInt8(dst, v, q.scale)
}

func roundHalfEven(x float32) float32 {
	return float32(math.RoundToEven(float64(x)))
}

func clamp(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
