// Package blobstore stores ANN graph artifacts.
//
// Import writes each document's HNSWANN1 artifact under
// ann/<documentId>/<checksum>.bin and the index cache opens it again on the
// first query. Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process maps, used by tests and the embedded facade
//   - LocalStore: local file system with mmap-backed zero-copy reads
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - minio.Store: MinIO and other S3-compatible services
//
// Blobs that also implement Mappable are decoded in place; all others are
// read fully with ReadAll.
package blobstore
