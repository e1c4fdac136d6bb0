// Package s3 provides an S3 implementation of blobstore.Store.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("dumps/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	stats, err := dump.WriteBlob(ctx, engine, store, "core-1.mmd")
//
// # Features
//
//   - Range reads for partial fetches of large dumps
//   - Streaming multipart uploads with CRC32C checksums
//   - Optional no-clobber puts backed by conditional writes
package s3
