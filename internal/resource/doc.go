// Package resource bounds what the retrieval engine may consume.
//
//   - Memory: bytes pinned by cached ANN indexes (non-blocking, fail-fast)
//   - Background: concurrent index builds during import
//   - IO: artifact reads from remote blob stores (token bucket)
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 1 << 30,
//	})
//	if err := rc.AcquireMemory(idx.SizeBytes()); err != nil {
//	    // serve the index but do not cache it
//	}
//
// All methods are safe for concurrent use and no-ops on a nil Controller.
package resource
