// Package shard reads, verifies, writes and imports document packages.
//
// A package is the JSON export produced by the ingestion tooling, usually
// stored gzip-compressed as a "shard" file. Format 1.1 packages may carry a
// prebuilt ANN artifact inline (base64) together with the id map that ties
// graph nodes to chunk IDs:
//
//	pkg, err := shard.ReadFile("shard_4a8.bin")
//	if err != nil { ... }
//	if err := shard.Verify(pkg); err != nil { ... }
//	res, err := shard.Import(ctx, pkg, st, blobs)
//
// Import stores the artifact under ArtifactKey(documentID, checksum) and
// records a ready index generation. An artifact that fails verification is
// skipped and the document stays searchable by exact scan.
package shard
