// Package blobstore implements overflow storage for raw-extraction
// payloads too large to store inline in Postgres (spec §3 [DOMAIN
// STACK]), grounded on the teacher's S3Storage adapter.
package blobstore

import "context"

// BlobStore is the narrow capability the extract stage needs: store an
// oversized payload once, fetch it back once, during transform.
type BlobStore interface {
	Put(ctx context.Context, key string, content []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
