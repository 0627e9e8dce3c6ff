// Package minio stores spilled frames in MinIO or another S3-compatible
// service through the MinIO Go client.
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	spill := minioblob.NewStore(minioblob.Wrap(client), "my-bucket", "bulkstore")
//	if err := spill.EnsureBucket(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	store, err := bulkstore.New(bulkstore.WithSpillStore(spill))
//
// The same store is built from configuration with
//
//	BULKSTORE_SPILL_URL=minio://localhost:9000/my-bucket/bulkstore?secure=false
//
// Reads fetch only the requested byte range. Client is narrow enough to be
// mocked in tests.
package minio
