package minio

import (
	"context"
	"testing"

	"github.com/hupe1980/bulkstore/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	endpoint := "localhost:9000"
	accessKey := "minioadmin"
	secretKey := "minioadmin"
	bucket := "test-bulkstore"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()

	// Check if MinIO is reachable
	_, err = client.ListBuckets(ctx)
	if err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	store := NewStore(Wrap(client), bucket, "test-prefix/")
	require.NoError(t, store.EnsureBucket(ctx))

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "spill/test.frame", data))

	blob, err := store.Open(ctx, "spill/test.frame")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), blob.Size())

	part := make([]byte, 5)
	n, err := blob.ReadAt(part, 6)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	assert.Equal(t, "minio", string(part))
	require.NoError(t, blob.Close())

	got, err := blobstore.ReadAll(ctx, store, "spill/test.frame")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	names, err := store.List(ctx, "spill/")
	require.NoError(t, err)
	assert.Contains(t, names, "spill/test.frame")

	require.NoError(t, store.Delete(ctx, "spill/test.frame"))
	_, err = store.Open(ctx, "spill/test.frame")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
