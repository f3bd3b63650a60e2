// Package storage provides the object storage client used to stage sync
// batches on the server.
//
// It wraps the MinIO Go client behind the Client interface so that staging
// can be tested with the mock in core/storage/mocks. Both AWS S3 and
// self-hosted MinIO instances are supported.
//
// # Operations
//
//   - BucketExists / MakeBucket: used by EnsureBucket at startup.
//   - PutObject / GetObject: store and read one staged batch.
//   - ListObjects / RemoveObjects: enumerate and drop the batches of a session.
//
// # Usage
//
//	client, err := storage.NewClient(cfg.Storage)
//	err = storage.EnsureBucket(ctx, client, cfg.Storage.Bucket, cfg.Storage.Region)
package storage
