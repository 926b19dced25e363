// Package annindex implements the HNSWANN1 graph artifact: a single-layer
// small-world graph over int8-quantized vectors with a fixed out-degree.
//
// Decode validates the header and the exact artifact length before slicing
// views over the payload; nothing is copied. NewIndex pairs a graph with the
// chunk IDs of its nodes, and Index.Search runs a best-first beam search
// scored with approximate cosine similarity:
//
//	scale * dot(query, code) / (|query| * storedNorm)
//
// Build produces artifacts byte-compatible with the ingestion tooling.
package annindex
