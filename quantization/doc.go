// Package quantization implements the symmetric scalar quantization used by
// the ANN graph artifacts and by compressed chunk embeddings.
//
// A vector v is stored as integer codes q and one scale s with v[i] ≈ q[i]*s,
// where s = max(maxAbs(v)/levels, 1e-8) and levels = 2^(bits-1)-1. For int8
// artifacts levels is 127 and codes are clipped to [-127, 127].
//
//	qv, _ := quantization.Quantize(vec, 8)
//	approx := quantization.Dequantize(qv.Values, qv.Scale)
package quantization
