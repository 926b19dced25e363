// Package retrieval ranks document chunks against a query embedding.
//
// Two modes share one ranking policy:
//
//   - ModeLegacyHybrid scans every chunk of the target documents and scores
//     it with exact cosine similarity.
//   - ModeANNRerank asks each document's ANN graph for a bounded candidate
//     list, re-scores the candidates with full-precision vectors and scans
//     every document whose index is missing, corrupt or produced nothing.
//     If the ANN path fails as a whole, the request is answered by a full
//     scan instead.
//
// Both modes drop chunks below the similarity threshold, sort the rest by
// descending similarity (stable), keep only results within Tuning.CutoffRatio
// of the best score, and hydrate chunk and document records up to
// MaxResults.
//
// # Errors
//
// A missing or unreachable store yields ErrStoreUnavailable, a malformed
// query or options ErrInvalidQuery, and a query whose dimension differs from
// the stored vectors a *distance.ErrDimensionMismatch. Context cancellation
// is returned as is and never triggers a fallback.
package retrieval
