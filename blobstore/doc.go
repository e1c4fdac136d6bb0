// Package blobstore provides the sinks that memory dumps are written to.
//
// Store is the interface for writing and reading blobs. Implementations must
// be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local directory, atomic publish via rename
//   - MemoryStore: in-process map, for tests
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - minio.Store: any S3-compatible endpoint through minio-go
//
// # Custom Implementations
//
//	type Store interface {
//	    Create(ctx, name) (WritableBlob, error)
//	    Put(ctx, name, data) error
//	    Open(ctx, name) (Blob, error)
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
