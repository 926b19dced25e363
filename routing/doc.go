// Package routing builds and queries routing indexes: one centroid vector per
// document plus one per page-range section, derived from the chunk
// embeddings already stored in document packages.
//
// A routing index lets a caller narrow a search to the documents, and the
// sections inside them, that are closest to a query before any chunk is
// scored. Files are gzip JSON with format_version "route-1.0".
package routing
