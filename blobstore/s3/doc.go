// Package s3 provides an Amazon S3 implementation of the blobstore.Store interface.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	client := s3.NewFromConfig(cfg)
//	spill := s3blob.NewStore(client, "my-bucket", "bulkstore/")
//
//	store, err := bulkstore.New(bulkstore.WithSpillStore(spill))
//
// # Features
//
//   - Range reads for partial fetches
//   - Multipart uploads for large frames
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
