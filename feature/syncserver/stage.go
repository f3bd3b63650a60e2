package syncserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"table-sync/core/storage"
	"table-sync/core/sync"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

// ObjectStage stages uploaded batches as JSON objects in a bucket, one
// object per upload under <prefix>/<session>/.
type ObjectStage struct {
	client storage.Client
	bucket string
	prefix string
}

// NewObjectStage creates a stage writing to bucket under prefix.
func NewObjectStage(client storage.Client, bucket, prefix string) *ObjectStage {
	return &ObjectStage{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *ObjectStage) sessionPrefix(sessionID string) string {
	return path.Join(s.prefix, sessionID) + "/"
}

// Put implements sync.BatchStage. Duplicate uploads of one index get
// distinct object names.
func (s *ObjectStage) Put(ctx context.Context, sessionID string, batch sync.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode batch %d: %w", batch.Index, err)
	}

	name := fmt.Sprintf("%s%08d-%s.json", s.sessionPrefix(sessionID), batch.Index, uuid.NewString())
	_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to stage batch %d of session %s: %w", batch.Index, sessionID, err)
	}
	return nil
}

// List implements sync.BatchStage.
func (s *ObjectStage) List(ctx context.Context, sessionID string) ([]sync.Batch, error) {
	names, err := s.objects(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	batches := make([]sync.Batch, 0, len(names))
	for _, name := range names {
		batch, err := s.read(ctx, name)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func (s *ObjectStage) read(ctx context.Context, name string) (sync.Batch, error) {
	var batch sync.Batch

	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return batch, fmt.Errorf("failed to read staged batch %s: %w", name, err)
	}
	defer obj.Close()

	if err := json.NewDecoder(obj).Decode(&batch); err != nil {
		return batch, fmt.Errorf("%w: staged batch %s is unreadable: %v", sync.ErrIncompleteBatch, name, err)
	}
	return batch, nil
}

func (s *ObjectStage) objects(ctx context.Context, sessionID string) ([]string, error) {
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.sessionPrefix(sessionID),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list staged batches of session %s: %w", sessionID, obj.Err)
		}
		names = append(names, obj.Key)
	}
	sort.Strings(names)
	return names, nil
}

// Drop implements sync.BatchStage.
func (s *ObjectStage) Drop(ctx context.Context, sessionID string) error {
	names, err := s.objects(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}

	objectsCh := make(chan minio.ObjectInfo, len(names))
	for _, name := range names {
		objectsCh <- minio.ObjectInfo{Key: name}
	}
	close(objectsCh)

	var firstErr error
	for rErr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to drop staged batch %s: %w", rErr.ObjectName, rErr.Err)
		}
	}
	return firstErr
}
