// Package s3 provides an S3 implementation of blobstore.BlobStore.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("localdocs/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//
// Artifacts are fetched with ranged GETs and uploaded through the multipart
// upload manager.
package s3
