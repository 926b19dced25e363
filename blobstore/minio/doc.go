// Package minio provides a blobstore.BlobStore backed by the MinIO client.
//
// It works against MinIO and other S3-compatible services such as Ceph or
// Garage, which makes it the usual choice for air-gapped deployments.
//
//	store, err := minio.New(minio.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Bucket:    "localdocs",
//	    Prefix:    "artifacts/",
//	})
package minio
