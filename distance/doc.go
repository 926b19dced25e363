// Package distance is the vector math kernel.
//
// Cosine similarity is safe against zero vectors: it returns 0 instead of
// dividing by zero. Length disagreements between two vectors are reported as
// *ErrDimensionMismatch.
//
// # Usage
//
//	sim, err := distance.CosineWithNorms(query, chunk.Embedding, qnorm, chunk.EmbeddingNorm)
//	if err := distance.Validate(query, 768); err != nil { ... }
package distance
