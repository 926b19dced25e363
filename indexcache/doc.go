// Package indexcache loads and memoizes per-document ANN indexes.
//
// For each document the cache picks the newest index record in state ready,
// opens its artifact from a blobstore.BlobStore, verifies the recorded
// checksum and size, decodes it with annindex.Decode and pairs it with the
// record's ID map. Entries are keyed by the record, not the document, so a
// rebuilt index is picked up on the next Load while the old generation
// stays cached until Close.
//
// Concurrent loads of the same generation are collapsed with singleflight.
// When a resource.Controller is configured, memoized indexes count against
// its memory budget; an index that does not fit is returned uncached.
package indexcache
