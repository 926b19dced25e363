package math32

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDot(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Positive values", []float32{1, 2, 3}, []float32{4, 5, 6}, 32.0},
		{"Negative values", []float32{-1, -2, -3}, []float32{-4, -5, -6}, 32.0},
		{"More than 4", []float32{1, 2, 3, 1, 2, 3}, []float32{4, 5, 6, 4, 5, 6}, 64.0},
		{"Mixed values", []float32{1, -2, 3}, []float32{-4, 5, -6}, -32.0},
		{"Zero values", []float32{0, 0, 0}, []float32{0, 0, 0}, 0.0},
		{"Empty", nil, nil, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Dot(tc.a, tc.b))
		})
	}
}

func TestDotInt8(t *testing.T) {
	a := []float32{0.5, -1, 2, 0, 1}
	b := []int8{2, 3, -1, 127, -127}
	assert.InDelta(t, float32(1-3-2+0-127), DotInt8(a, b), 1e-6)
}

func TestSquaredL2(t *testing.T) {
	assert.Equal(t, float32(27), SquaredL2([]float32{1, 2, 3}, []float32{4, 5, 6}))
	assert.Equal(t, float32(0), SquaredL2([]float32{1, 2, 3}, []float32{1, 2, 3}))
}

func TestL1(t *testing.T) {
	assert.Equal(t, float32(9), L1([]float32{1, 2, 3}, []float32{4, 5, 6}))
	assert.Equal(t, float32(4), L1([]float32{1, -1}, []float32{-1, 1}))
}

func TestMaxAbs(t *testing.T) {
	assert.Equal(t, float32(3), MaxAbs([]float32{1, -3, 2}))
	assert.Equal(t, float32(0), MaxAbs(nil))
}

func TestDotMatchesGeneric(t *testing.T) {
	r := rand.New(rand.NewSource(4711)) // nolint gosec
	a := make([]float32, 1031)
	b := make([]float32, 1031)
	var want float64
	for i := range a {
		a[i] = r.Float32()*2 - 1
		b[i] = r.Float32()*2 - 1
		want += float64(a[i]) * float64(b[i])
	}
	assert.InDelta(t, want, float64(Dot(a, b)), 1e-3)
}

func BenchmarkDot(b *testing.B) {
	const size = 1024
	va := make([]float32, size)
	vb := make([]float32, size)
	for i := range va {
		va[i] = rand.Float32() // nolint gosec
		vb[i] = rand.Float32() // nolint gosec
	}

	b.ResetTimer()
	for b.Loop() {
		_ = Dot(va, vb)
	}
}
