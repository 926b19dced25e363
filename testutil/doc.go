// Package testutil provides testing utilities for localdocs.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating deterministic random vectors, computing
// exact cosine top-k ground truth, and verifying search recall.
//
//	rng := testutil.NewRNG(seed)
//	vecs := rng.UnitVectors(100, 64)
//	truth := testutil.ExactTopK(query, ids, vecs, 10)
//	recall := testutil.ComputeRecall(truth, approx)
package testutil
